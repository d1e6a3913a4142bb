package budgets

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/platinummonkey/monedita/pkg/billing"
)

// Service manages monthly category budgets. Months follow the calendar of
// the configured location.
type Service struct {
	store Store
	clock func() time.Time
	loc   *time.Location
}

// Option configures a Service
type Option func(*Service)

// WithClock overrides the time source
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// WithLocation sets the time zone whose calendar months budgets cover
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// NewService creates a new Service
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		clock: time.Now,
		loc:   time.UTC,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NormalizeCategory lowercases and trims a category name
func NormalizeCategory(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}

func (s *Service) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

// Month returns the bounds of the calendar month containing t
func (s *Service) Month(t time.Time) (start, end time.Time) {
	local := t.In(s.loc)
	start = time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, s.loc)
	return start, start.AddDate(0, 1, 0)
}

// CurrentMonth returns the bounds of the month budgets are counted in now
func (s *Service) CurrentMonth() (start, end time.Time) {
	return s.Month(s.now())
}

// Get returns the user's budget for category, or billing.ErrNotFound
func (s *Service) Get(ctx context.Context, userID, category string) (*Budget, error) {
	return s.store.GetBudget(ctx, userID, NormalizeCategory(category))
}

// Set creates the budget of category or replaces its amount. created reports
// whether the budget is new.
func (s *Service) Set(ctx context.Context, userID, category string, amount int64) (budget *Budget, created bool, err error) {
	category = NormalizeCategory(category)
	if category == "" || amount <= 0 {
		return nil, false, ErrInvalidBudget
	}

	now := s.now()
	budget, err = s.store.GetBudget(ctx, userID, category)
	switch {
	case errors.Is(err, billing.ErrNotFound):
		created = true
		budget = &Budget{UserID: userID, Category: category, CreatedAt: now}
	case err != nil:
		return nil, false, fmt.Errorf("failed to get budget: %w", err)
	}
	budget.Amount = amount
	budget.UpdatedAt = now

	if err := s.store.SaveBudget(ctx, budget); err != nil {
		return nil, false, fmt.Errorf("failed to save budget: %w", err)
	}
	return budget, created, nil
}

// Statuses returns every budget of the user with this month's spending,
// ordered by category
func (s *Service) Statuses(ctx context.Context, userID string) ([]Status, error) {
	list, err := s.store.ListBudgets(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list budgets: %w", err)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Category < list[j].Category })

	from, to := s.CurrentMonth()
	out := make([]Status, 0, len(list))
	for _, b := range list {
		spent, err := s.store.SpentInCategory(ctx, userID, b.Category, from, to)
		if err != nil {
			return nil, fmt.Errorf("failed to sum %s expenses: %w", b.Category, err)
		}
		out = append(out, Status{Budget: b, Spent: spent})
	}
	return out, nil
}

// RecordExpense stores an expense and returns the status of its category's
// budget when this month's spending reached WarnPercent. It returns nil when
// the category has no budget or is still below the warning threshold.
func (s *Service) RecordExpense(ctx context.Context, userID, category string, amount int64, description string) (*Status, error) {
	category = NormalizeCategory(category)
	if category == "" || amount <= 0 {
		return nil, ErrInvalidBudget
	}

	now := s.now()
	expense := &Expense{
		UserID:      userID,
		Category:    category,
		Amount:      amount,
		Description: strings.TrimSpace(description),
		SpentAt:     now,
	}
	if err := s.store.AddExpense(ctx, expense); err != nil {
		return nil, fmt.Errorf("failed to record expense: %w", err)
	}

	budget, err := s.store.GetBudget(ctx, userID, category)
	if errors.Is(err, billing.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get budget: %w", err)
	}

	from, to := s.Month(now)
	spent, err := s.store.SpentInCategory(ctx, userID, category, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to sum %s expenses: %w", category, err)
	}
	status := Status{Budget: budget, Spent: spent}
	if status.Level() == AlertNone {
		return nil, nil
	}
	return &status, nil
}
