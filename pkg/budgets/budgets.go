package budgets

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidBudget is returned for a blank category or a non-positive amount
var ErrInvalidBudget = errors.New("budget needs a category and a positive amount")

// Alert thresholds, in percent of the budget spent this month
const (
	WarnPercent     = 80
	ExceededPercent = 100
)

// Budget is a monthly spending cap for one expense category
type Budget struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Category  string    `json:"category"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Expense is one spending entry counted against the budget of its category
type Expense struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	Category    string    `json:"category"`
	Amount      int64     `json:"amount"`
	Description string    `json:"description,omitempty"`
	SpentAt     time.Time `json:"spent_at"`
}

// Status is a budget with what was spent against it in one month
type Status struct {
	Budget *Budget
	Spent  int64
}

// Remaining is negative once the budget is exceeded
func (s Status) Remaining() int64 {
	return s.Budget.Amount - s.Spent
}

// Percent is the share of the budget spent, rounded down
func (s Status) Percent() int {
	if s.Budget.Amount <= 0 {
		return 0
	}
	return int(s.Spent * 100 / s.Budget.Amount)
}

// AlertLevel says how close a category is to its budget
type AlertLevel int

const (
	AlertNone AlertLevel = iota
	AlertWarning
	AlertExceeded
)

// Level maps the status to its alert level
func (s Status) Level() AlertLevel {
	switch p := s.Percent(); {
	case p >= ExceededPercent:
		return AlertExceeded
	case p >= WarnPercent:
		return AlertWarning
	default:
		return AlertNone
	}
}

// Store persists budgets and the expenses counted against them
type Store interface {
	// GetBudget returns billing.ErrNotFound when the user has no budget for category
	GetBudget(ctx context.Context, userID, category string) (*Budget, error)
	// SaveBudget inserts or replaces the budget of (UserID, Category)
	SaveBudget(ctx context.Context, budget *Budget) error
	ListBudgets(ctx context.Context, userID string) ([]*Budget, error)
	AddExpense(ctx context.Context, expense *Expense) error
	// SpentInCategory sums the user's expenses of category with from <= SpentAt < to
	SpentInCategory(ctx context.Context, userID, category string, from, to time.Time) (int64, error)
}
