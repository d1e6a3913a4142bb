package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/monedita/pkg/billing"
	"github.com/platinummonkey/monedita/pkg/budgets"
)

var _ budgets.Store = (*Store)(nil)

const budgetColumns = `id, user_id, category, amount, created_at, updated_at`

func scanBudget(row rowScanner) (*budgets.Budget, error) {
	var b budgets.Budget
	if err := row.Scan(&b.ID, &b.UserID, &b.Category, &b.Amount, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

// GetBudget returns the user's budget for category
func (s *Store) GetBudget(ctx context.Context, userID, category string) (*budgets.Budget, error) {
	query := `SELECT ` + budgetColumns + ` FROM budgets WHERE user_id = $1 AND category = $2`
	b, err := scanBudget(s.db.QueryRowContext(ctx, query, userID, category))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, billing.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get budget: %w", err)
	}
	return b, nil
}

// SaveBudget upserts on (user_id, category) and sets the stored ID and creation time
func (s *Store) SaveBudget(ctx context.Context, budget *budgets.Budget) error {
	query := `
		INSERT INTO budgets (user_id, category, amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, category) DO UPDATE SET amount = EXCLUDED.amount, updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`
	err := s.db.QueryRowContext(ctx, query,
		budget.UserID, budget.Category, budget.Amount, budget.CreatedAt, budget.UpdatedAt,
	).Scan(&budget.ID, &budget.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save budget: %w", err)
	}
	budget.CreatedAt = budget.CreatedAt.UTC()
	return nil
}

// ListBudgets returns the user's budgets ordered by category
func (s *Store) ListBudgets(ctx context.Context, userID string) ([]*budgets.Budget, error) {
	query := `SELECT ` + budgetColumns + ` FROM budgets WHERE user_id = $1 ORDER BY category`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list budgets: %w", err)
	}
	defer rows.Close()

	var out []*budgets.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan budget: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// AddExpense inserts an expense and sets its ID
func (s *Store) AddExpense(ctx context.Context, expense *budgets.Expense) error {
	query := `
		INSERT INTO expenses (user_id, category, amount, description, spent_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		expense.UserID, expense.Category, expense.Amount, nullString(expense.Description), expense.SpentAt,
	).Scan(&expense.ID)
	if err != nil {
		return fmt.Errorf("failed to add expense: %w", err)
	}
	return nil
}

// SpentInCategory sums expenses of category with from <= spent_at < to.
// It reads from the primary because the sum feeds a budget alert.
func (s *Store) SpentInCategory(ctx context.Context, userID, category string, from, to time.Time) (int64, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0) FROM expenses
		WHERE user_id = $1 AND category = $2 AND spent_at >= $3 AND spent_at < $4
	`
	var total int64
	if err := s.db.QueryRowContext(ctx, query, userID, category, from, to).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum expenses: %w", err)
	}
	return total, nil
}
