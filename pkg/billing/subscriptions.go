package billing

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// GetOrCreate returns the user's subscription, creating a free one on first contact
func (s *Service) GetOrCreate(ctx context.Context, userID string) (*Subscription, error) {
	sub, err := s.subs.GetSubscription(ctx, userID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	now := s.Now()
	sub, err = s.subs.CreateSubscription(ctx, &Subscription{
		UserID:    userID,
		PlanID:    s.catalog.Default().ID,
		StartedAt: now,
		AutoRenew: true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	return sub, nil
}

// GetPlan returns the plan of the user's subscription
func (s *Service) GetPlan(ctx context.Context, userID string) (*Plan, error) {
	sub, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.planFor(sub)
}

func (s *Service) planFor(sub *Subscription) (*Plan, error) {
	plan, ok := s.catalog.Get(sub.PlanID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlan, sub.PlanID)
	}
	return plan, nil
}

// GetBillingPeriodStart returns the start of the user's current billing period
func (s *Service) GetBillingPeriodStart(ctx context.Context, userID string) (time.Time, error) {
	sub, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	return PeriodStart(sub.StartedAt, s.Now()), nil
}

// UpgradePlan moves the user to planID and restarts the billing period now.
// Unused days of the previous period are forfeited.
func (s *Service) UpgradePlan(ctx context.Context, userID, planID string) (*Subscription, error) {
	plan, ok := s.catalog.Get(planID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlan, planID)
	}

	unlock := s.lockUser(userID)
	defer unlock()

	sub, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.Now()
	sub.PlanID = plan.ID
	sub.StartedAt = now
	sub.AutoRenew = true
	sub.CancelledAt = nil
	sub.NextBillingAt = nil
	if !plan.IsFree() {
		next := now.Add(BillingPeriod)
		sub.NextBillingAt = &next
	}
	sub.UpdatedAt = now

	if err := s.subs.UpdateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}
	return sub, nil
}

// CancelAutoRenew stops future renewals. The plan stays in force until the
// paid period ends.
func (s *Service) CancelAutoRenew(ctx context.Context, userID string) (*Subscription, error) {
	unlock := s.lockUser(userID)
	defer unlock()

	sub, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	plan, err := s.planFor(sub)
	if err != nil {
		return nil, err
	}
	if plan.IsFree() {
		return nil, ErrFreePlan
	}
	if !sub.AutoRenew || sub.CancelledAt != nil {
		return nil, ErrAlreadyCancelled
	}

	now := s.Now()
	sub.AutoRenew = false
	sub.CancelledAt = &now
	sub.UpdatedAt = now
	if err := s.subs.UpdateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}

	src, err := s.sources.GetPaymentSource(ctx, userID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to get payment source: %w", err)
	case src.IsActive():
		if err := s.sources.UpdatePaymentSourceStatus(ctx, userID, PaymentSourceCancelled); err != nil {
			return nil, fmt.Errorf("failed to cancel payment source: %w", err)
		}
	}
	return sub, nil
}

// ReactivateAutoRenew re-enables renewals on a cancelled paid subscription.
// A payment source must be on file.
func (s *Service) ReactivateAutoRenew(ctx context.Context, userID string) (*Subscription, error) {
	unlock := s.lockUser(userID)
	defer unlock()

	sub, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	plan, err := s.planFor(sub)
	if err != nil {
		return nil, err
	}
	if plan.IsFree() {
		return nil, ErrFreePlan
	}
	if sub.AutoRenew && sub.CancelledAt == nil {
		return nil, ErrAlreadyActive
	}

	src, err := s.sources.GetPaymentSource(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNoPaymentSource
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment source: %w", err)
	}
	if !src.IsActive() {
		if err := s.sources.UpdatePaymentSourceStatus(ctx, userID, PaymentSourceActive); err != nil {
			return nil, fmt.Errorf("failed to reactivate payment source: %w", err)
		}
	}

	now := s.Now()
	sub.AutoRenew = true
	sub.CancelledAt = nil
	sub.UpdatedAt = now
	if err := s.subs.UpdateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}
	return sub, nil
}

// Status summarizes the user's subscription for display
func (s *Service) Status(ctx context.Context, userID string) (*SubscriptionStatus, error) {
	sub, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	plan, err := s.planFor(sub)
	if err != nil {
		return nil, err
	}

	status := &SubscriptionStatus{
		Plan:         plan,
		Subscription: sub,
		State:        StateOf(sub, plan),
		PeriodStart:  PeriodStart(sub.StartedAt, s.Now()),
	}

	src, err := s.sources.GetPaymentSource(ctx, userID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to get payment source: %w", err)
	default:
		status.HasPaymentMethod = true
		status.CardBrand = src.CardBrand
		status.CardLastFour = src.CardLastFour
	}
	return status, nil
}

// StateOf derives the lifecycle state of a subscription
func StateOf(sub *Subscription, plan *Plan) SubscriptionState {
	switch {
	case plan.IsFree():
		return StateFree
	case sub.CancelledAt != nil || !sub.AutoRenew:
		return StatePaidCancelled
	default:
		return StatePaidActive
	}
}

// ExpireCancelled downgrades cancelled subscriptions whose paid period has
// ended to the default plan. The new free period starts where the paid one
// ended. It returns how many subscriptions were downgraded.
func (s *Service) ExpireCancelled(ctx context.Context, now time.Time) (int, error) {
	due, err := s.subs.ListExpiringCancelled(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list expiring subscriptions: %w", err)
	}

	var (
		expired int
		errs    []error
	)
	for _, candidate := range due {
		ok, err := s.expire(ctx, candidate.UserID, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("user %s: %w", candidate.UserID, err))
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, errors.Join(errs...)
}

func (s *Service) expire(ctx context.Context, userID string, now time.Time) (bool, error) {
	unlock := s.lockUser(userID)
	defer unlock()

	// re-read under the lock; the user may have reactivated meanwhile
	sub, err := s.subs.GetSubscription(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to get subscription: %w", err)
	}
	if sub.CancelledAt == nil || sub.NextBillingAt == nil || sub.NextBillingAt.After(now) {
		return false, nil
	}

	sub.PlanID = s.catalog.Default().ID
	sub.StartedAt = *sub.NextBillingAt
	sub.NextBillingAt = nil
	sub.CancelledAt = nil
	sub.AutoRenew = true
	sub.UpdatedAt = s.Now()
	if err := s.subs.UpdateSubscription(ctx, sub); err != nil {
		return false, fmt.Errorf("failed to update subscription: %w", err)
	}
	return true, nil
}

// RecordRenewal advances the next billing date after a successful charge.
// The date moves in whole periods from its previous value until it lies in
// the future, so missed periods are not charged twice.
func (s *Service) RecordRenewal(ctx context.Context, userID string) (*Subscription, error) {
	unlock := s.lockUser(userID)
	defer unlock()

	sub, err := s.subs.GetSubscription(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	now := s.Now()
	next := now.Add(BillingPeriod)
	if sub.NextBillingAt != nil {
		next = sub.NextBillingAt.Add(BillingPeriod)
		for !next.After(now) {
			next = next.Add(BillingPeriod)
		}
	}
	sub.NextBillingAt = &next
	sub.UpdatedAt = now
	if err := s.subs.UpdateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}
	return sub, nil
}
