package memory

import (
	"context"
	"time"

	"github.com/platinummonkey/monedita/pkg/billing"
	"github.com/platinummonkey/monedita/pkg/budgets"
)

type budgetKey struct {
	userID   string
	category string
}

// GetBudget returns the user's budget for category
func (s *Store) GetBudget(ctx context.Context, userID, category string) (*budgets.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.budgets[budgetKey{userID, category}]
	if !ok {
		return nil, billing.ErrNotFound
	}
	c := *b
	return &c, nil
}

// SaveBudget inserts or replaces the budget, keeping its ID and creation time
func (s *Store) SaveBudget(ctx context.Context, budget *budgets.Budget) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := budgetKey{budget.UserID, budget.Category}
	if existing, ok := s.budgets[key]; ok {
		budget.ID = existing.ID
		budget.CreatedAt = existing.CreatedAt
	} else {
		budget.ID = s.id()
	}
	c := *budget
	s.budgets[key] = &c
	return nil
}

// ListBudgets returns the user's budgets in no particular order
func (s *Store) ListBudgets(ctx context.Context, userID string) ([]*budgets.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*budgets.Budget
	for key, b := range s.budgets {
		if key.userID == userID {
			c := *b
			out = append(out, &c)
		}
	}
	return out, nil
}

// AddExpense stores an expense
func (s *Store) AddExpense(ctx context.Context, expense *budgets.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	expense.ID = s.id()
	c := *expense
	s.expenses = append(s.expenses, &c)
	return nil
}

// SpentInCategory sums expenses of category with from <= SpentAt < to
func (s *Store) SpentInCategory(ctx context.Context, userID, category string, from, to time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, e := range s.expenses {
		if e.UserID == userID && e.Category == category && !e.SpentAt.Before(from) && e.SpentAt.Before(to) {
			total += e.Amount
		}
	}
	return total, nil
}
