package billing

import (
	"context"
)

// CheckLimit reports whether the user may perform one more action of usageType.
// It does not consume quota: callers increment after the action succeeds, so
// two concurrent checks may both pass at the ceiling.
func (s *Service) CheckLimit(ctx context.Context, userID string, usageType UsageType) (*LimitCheck, error) {
	if err := validateUsageType(usageType); err != nil {
		return nil, err
	}
	plan, err := s.GetPlan(ctx, userID)
	if err != nil {
		return nil, err
	}
	used, err := s.GetUsage(ctx, userID, usageType)
	if err != nil {
		return nil, err
	}
	return evaluate(usageType, plan.Limit(usageType), used), nil
}

func evaluate(usageType UsageType, limit Limit, used int) *LimitCheck {
	n, limited := limit.Value()
	if !limited {
		return &LimitCheck{
			UsageType: usageType,
			Allowed:   true,
			Used:      used,
			Limit:     UnlimitedSentinel,
			Remaining: UnlimitedSentinel,
			Unlimited: true,
		}
	}
	return &LimitCheck{
		UsageType: usageType,
		Allowed:   used < n,
		Used:      used,
		Limit:     n,
		Remaining: max(0, n-used),
	}
}

// Consume checks and increments in one step, serialized per user within this
// process. When the ceiling is reached it returns the check together with a
// *QuotaExceededError and records nothing.
func (s *Service) Consume(ctx context.Context, userID string, usageType UsageType) (*LimitCheck, error) {
	if err := validateUsageType(usageType); err != nil {
		return nil, err
	}

	unlock := s.lockUser(userID)
	defer unlock()

	check, err := s.CheckLimit(ctx, userID, usageType)
	if err != nil {
		return nil, err
	}
	if !check.Allowed {
		return check, &QuotaExceededError{UsageType: usageType, Used: check.Used, Limit: check.Limit}
	}

	count, err := s.Increment(ctx, userID, usageType)
	if err != nil {
		return nil, err
	}
	plan, err := s.GetPlan(ctx, userID)
	if err != nil {
		return nil, err
	}
	return evaluate(usageType, plan.Limit(usageType), count), nil
}
