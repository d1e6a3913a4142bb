package billing

import (
	"context"
	"fmt"
)

func validateUsageType(t UsageType) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownUsageType, t)
	}
	return nil
}

// GetUsage returns how many times the user consumed usageType in the current period
func (s *Service) GetUsage(ctx context.Context, userID string, usageType UsageType) (int, error) {
	if err := validateUsageType(usageType); err != nil {
		return 0, err
	}
	start, err := s.GetBillingPeriodStart(ctx, userID)
	if err != nil {
		return 0, err
	}
	count, err := s.usage.GetUsage(ctx, userID, usageType, start)
	if err != nil {
		return 0, fmt.Errorf("failed to get usage: %w", err)
	}
	return count, nil
}

// Increment records one use of usageType and returns the new count
func (s *Service) Increment(ctx context.Context, userID string, usageType UsageType) (int, error) {
	if err := validateUsageType(usageType); err != nil {
		return 0, err
	}
	start, err := s.GetBillingPeriodStart(ctx, userID)
	if err != nil {
		return 0, err
	}
	count, err := s.usage.IncrementUsage(ctx, userID, usageType, start)
	if err != nil {
		return 0, fmt.Errorf("failed to increment usage: %w", err)
	}
	return count, nil
}

// GetAllUsage returns the current period's count for every usage type
func (s *Service) GetAllUsage(ctx context.Context, userID string) (map[UsageType]int, error) {
	start, err := s.GetBillingPeriodStart(ctx, userID)
	if err != nil {
		return nil, err
	}
	stored, err := s.usage.ListUsage(ctx, userID, start)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}

	out := make(map[UsageType]int, len(UsageTypes))
	for _, t := range UsageTypes {
		out[t] = stored[t]
	}
	return out, nil
}

// ResetPeriod clears the user's counters for the current period
func (s *Service) ResetPeriod(ctx context.Context, userID string) error {
	start, err := s.GetBillingPeriodStart(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.usage.ResetUsage(ctx, userID, start); err != nil {
		return fmt.Errorf("failed to reset usage: %w", err)
	}
	return nil
}
