package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/monedita/pkg/billing"
	"github.com/platinummonkey/monedita/pkg/storage"
)

// Store implements billing.Store using PostgreSQL
type Store struct {
	db      *sql.DB
	cluster *Cluster
}

var _ billing.Store = (*Store)(nil)

// NewStore wraps an open database handle
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL and, when configured, applies migrations and seeds the catalog
func Open(ctx context.Context, cfg storage.Config, catalog *billing.Catalog, logger *logrus.Logger) (*Store, error) {
	cluster, err := Dial(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := RunMigrations(ctx, cluster.Primary(), logger); err != nil {
			cluster.Close()
			return nil, err
		}
		if catalog != nil {
			if err := SeedPlans(ctx, cluster.Primary(), catalog); err != nil {
				cluster.Close()
				return nil, err
			}
		}
	}

	return &Store{db: cluster.Primary(), cluster: cluster}, nil
}

func (s *Store) reader() *sql.DB {
	if s.cluster == nil {
		return s.db
	}
	return s.cluster.Reader()
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	if s.cluster != nil {
		return s.cluster.Ping(ctx)
	}
	return s.db.PingContext(ctx)
}

// DB returns the primary handle
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes all connections
func (s *Store) Close() error {
	if s.cluster != nil {
		return s.cluster.Close()
	}
	return s.db.Close()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

const subscriptionColumns = `id, user_id, plan_id, started_at, auto_renew, cancelled_at, next_billing_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row rowScanner) (*billing.Subscription, error) {
	var (
		sub                   billing.Subscription
		cancelledAt, nextBill sql.NullTime
	)
	err := row.Scan(&sub.ID, &sub.UserID, &sub.PlanID, &sub.StartedAt, &sub.AutoRenew,
		&cancelledAt, &nextBill, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sub.StartedAt = sub.StartedAt.UTC()
	sub.CreatedAt = sub.CreatedAt.UTC()
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	sub.CancelledAt = timePtr(cancelledAt)
	sub.NextBillingAt = timePtr(nextBill)
	return &sub, nil
}

// GetSubscription returns the user's subscription
func (s *Store) GetSubscription(ctx context.Context, userID string) (*billing.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM user_subscriptions WHERE user_id = $1`
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, billing.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// CreateSubscription inserts sub unless the user already has one and returns the stored row
func (s *Store) CreateSubscription(ctx context.Context, sub *billing.Subscription) (*billing.Subscription, error) {
	query := `
		INSERT INTO user_subscriptions (user_id, plan_id, started_at, auto_renew, cancelled_at, next_billing_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query, sub.UserID, sub.PlanID, sub.StartedAt, sub.AutoRenew,
		nullTime(sub.CancelledAt), nullTime(sub.NextBillingAt), sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	return s.GetSubscription(ctx, sub.UserID)
}

// UpdateSubscription overwrites the mutable columns of the user's subscription
func (s *Store) UpdateSubscription(ctx context.Context, sub *billing.Subscription) error {
	query := `
		UPDATE user_subscriptions
		SET plan_id = $2, started_at = $3, auto_renew = $4, cancelled_at = $5, next_billing_at = $6, updated_at = $7
		WHERE user_id = $1
	`
	result, err := s.db.ExecContext(ctx, query, sub.UserID, sub.PlanID, sub.StartedAt, sub.AutoRenew,
		nullTime(sub.CancelledAt), nullTime(sub.NextBillingAt), sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return billing.ErrNotFound
	}
	return nil
}

// ListExpiringCancelled returns cancelled subscriptions whose paid period has ended
func (s *Store) ListExpiringCancelled(ctx context.Context, now time.Time) ([]*billing.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM user_subscriptions
		WHERE cancelled_at IS NOT NULL AND next_billing_at IS NOT NULL AND next_billing_at <= $1
		ORDER BY user_id`
	rows, err := s.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*billing.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// ListUserIDs returns every user with a subscription
func (s *Store) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.reader().QueryContext(ctx, `SELECT user_id FROM user_subscriptions ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetUsage returns the counter, or zero when none was recorded
func (s *Store) GetUsage(ctx context.Context, userID string, usageType billing.UsageType, periodStart time.Time) (int, error) {
	query := `SELECT count FROM usage_tracking WHERE user_id = $1 AND usage_type = $2 AND period_start = $3`

	var count int
	err := s.db.QueryRowContext(ctx, query, userID, string(usageType), periodStart).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get usage: %w", err)
	}
	return count, nil
}

// IncrementUsage atomically adds one to the counter and returns the new value
func (s *Store) IncrementUsage(ctx context.Context, userID string, usageType billing.UsageType, periodStart time.Time) (int, error) {
	query := `
		INSERT INTO usage_tracking (user_id, usage_type, period_start, count, updated_at)
		VALUES ($1, $2, $3, 1, NOW())
		ON CONFLICT (user_id, usage_type, period_start)
		DO UPDATE SET count = usage_tracking.count + 1, updated_at = NOW()
		RETURNING count
	`

	var count int
	if err := s.db.QueryRowContext(ctx, query, userID, string(usageType), periodStart).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to increment usage: %w", err)
	}
	return count, nil
}

// ListUsage returns all counters recorded for the period
func (s *Store) ListUsage(ctx context.Context, userID string, periodStart time.Time) (map[billing.UsageType]int, error) {
	query := `SELECT usage_type, count FROM usage_tracking WHERE user_id = $1 AND period_start = $2`
	rows, err := s.db.QueryContext(ctx, query, userID, periodStart)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}
	defer rows.Close()

	usage := make(map[billing.UsageType]int)
	for rows.Next() {
		var (
			usageType string
			count     int
		)
		if err := rows.Scan(&usageType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		usage[billing.UsageType(usageType)] = count
	}
	return usage, rows.Err()
}

// ResetUsage removes all counters of the period
func (s *Store) ResetUsage(ctx context.Context, userID string, periodStart time.Time) error {
	query := `DELETE FROM usage_tracking WHERE user_id = $1 AND period_start = $2`
	if _, err := s.db.ExecContext(ctx, query, userID, periodStart); err != nil {
		return fmt.Errorf("failed to reset usage: %w", err)
	}
	return nil
}

const billingColumns = `id, user_id, plan_id, amount_cents, currency, reference, transaction_id, status,
	retry_count, next_retry_at, error_message, created_at, updated_at`

func scanBillingRecord(row rowScanner) (*billing.BillingRecord, error) {
	var (
		r             billing.BillingRecord
		status        string
		transactionID sql.NullString
		errorMessage  sql.NullString
		nextRetryAt   sql.NullTime
	)
	err := row.Scan(&r.ID, &r.UserID, &r.PlanID, &r.AmountCents, &r.Currency, &r.Reference,
		&transactionID, &status, &r.RetryCount, &nextRetryAt, &errorMessage, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = billing.BillingStatus(status)
	r.TransactionID = transactionID.String
	r.ErrorMessage = errorMessage.String
	r.NextRetryAt = timePtr(nextRetryAt)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// CreateBillingRecord inserts a charge attempt and sets its ID
func (s *Store) CreateBillingRecord(ctx context.Context, record *billing.BillingRecord) error {
	query := `
		INSERT INTO billing_history (user_id, plan_id, amount_cents, currency, reference, transaction_id, status,
			retry_count, next_retry_at, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		record.UserID, record.PlanID, record.AmountCents, record.Currency, record.Reference,
		nullString(record.TransactionID), string(record.Status), record.RetryCount,
		nullTime(record.NextRetryAt), nullString(record.ErrorMessage), record.CreatedAt, record.UpdatedAt,
	).Scan(&record.ID)
	if err != nil {
		return fmt.Errorf("failed to create billing record: %w", err)
	}
	return nil
}

// UpdateBillingRecord overwrites the outcome columns of a charge attempt
func (s *Store) UpdateBillingRecord(ctx context.Context, record *billing.BillingRecord) error {
	query := `
		UPDATE billing_history
		SET transaction_id = $2, status = $3, retry_count = $4, next_retry_at = $5, error_message = $6, updated_at = $7
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query, record.ID, nullString(record.TransactionID), string(record.Status),
		record.RetryCount, nullTime(record.NextRetryAt), nullString(record.ErrorMessage), record.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update billing record: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return billing.ErrNotFound
	}
	return nil
}

// GetBillingRecord returns a charge attempt by ID
func (s *Store) GetBillingRecord(ctx context.Context, id int64) (*billing.BillingRecord, error) {
	query := `SELECT ` + billingColumns + ` FROM billing_history WHERE id = $1`
	r, err := scanBillingRecord(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, billing.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get billing record: %w", err)
	}
	return r, nil
}

func (s *Store) queryBillingRecords(ctx context.Context, db *sql.DB, query string, args ...interface{}) ([]*billing.BillingRecord, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*billing.BillingRecord
	for rows.Next() {
		r, err := scanBillingRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan billing record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// ListBillingRecords returns the user's charge attempts, newest first
func (s *Store) ListBillingRecords(ctx context.Context, userID string) ([]*billing.BillingRecord, error) {
	query := `SELECT ` + billingColumns + ` FROM billing_history WHERE user_id = $1 ORDER BY id DESC`
	records, err := s.queryBillingRecords(ctx, s.reader(), query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list billing records: %w", err)
	}
	return records, nil
}

// PendingRetries returns declined records with retries left whose retry time has come
func (s *Store) PendingRetries(ctx context.Context, now time.Time) ([]*billing.BillingRecord, error) {
	query := `SELECT ` + billingColumns + ` FROM billing_history
		WHERE status = $1 AND retry_count < $2 AND next_retry_at IS NOT NULL AND next_retry_at <= $3
		ORDER BY id`
	records, err := s.queryBillingRecords(ctx, s.db, query, string(billing.BillingStatusDeclined), billing.MaxRetries, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending retries: %w", err)
	}
	return records, nil
}

const sourceColumns = `id, user_id, token, customer_ref, card_brand, card_last_four, status, created_at, updated_at`

func scanPaymentSource(row rowScanner) (*billing.PaymentSource, error) {
	var (
		p                                billing.PaymentSource
		status                           string
		customerRef, cardBrand, lastFour sql.NullString
	)
	err := row.Scan(&p.ID, &p.UserID, &p.Token, &customerRef, &cardBrand, &lastFour, &status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.CustomerRef = customerRef.String
	p.CardBrand = cardBrand.String
	p.CardLastFour = lastFour.String
	p.Status = billing.PaymentSourceStatus(status)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// GetPaymentSource returns the user's payment source
func (s *Store) GetPaymentSource(ctx context.Context, userID string) (*billing.PaymentSource, error) {
	query := `SELECT ` + sourceColumns + ` FROM payment_sources WHERE user_id = $1`
	p, err := scanPaymentSource(s.db.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, billing.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment source: %w", err)
	}
	return p, nil
}

// SavePaymentSource creates or replaces the user's payment source
func (s *Store) SavePaymentSource(ctx context.Context, source *billing.PaymentSource) error {
	query := `
		INSERT INTO payment_sources (user_id, token, customer_ref, card_brand, card_last_four, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			token = EXCLUDED.token,
			customer_ref = EXCLUDED.customer_ref,
			card_brand = EXCLUDED.card_brand,
			card_last_four = EXCLUDED.card_last_four,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`
	err := s.db.QueryRowContext(ctx, query, source.UserID, source.Token, nullString(source.CustomerRef),
		nullString(source.CardBrand), nullString(source.CardLastFour), string(source.Status),
		source.CreatedAt, source.UpdatedAt,
	).Scan(&source.ID, &source.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save payment source: %w", err)
	}
	source.CreatedAt = source.CreatedAt.UTC()
	return nil
}

// UpdatePaymentSourceStatus changes the status of the user's payment source
func (s *Store) UpdatePaymentSourceStatus(ctx context.Context, userID string, status billing.PaymentSourceStatus) error {
	query := `UPDATE payment_sources SET status = $2, updated_at = NOW() WHERE user_id = $1`
	result, err := s.db.ExecContext(ctx, query, userID, string(status))
	if err != nil {
		return fmt.Errorf("failed to update payment source: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return billing.ErrNotFound
	}
	return nil
}

// ListActivePaymentSources returns every active source ordered by user
func (s *Store) ListActivePaymentSources(ctx context.Context) ([]*billing.PaymentSource, error) {
	query := `SELECT ` + sourceColumns + ` FROM payment_sources WHERE status = $1 ORDER BY user_id`
	rows, err := s.db.QueryContext(ctx, query, string(billing.PaymentSourceActive))
	if err != nil {
		return nil, fmt.Errorf("failed to list payment sources: %w", err)
	}
	defer rows.Close()

	var sources []*billing.PaymentSource
	for rows.Next() {
		p, err := scanPaymentSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment source: %w", err)
		}
		sources = append(sources, p)
	}
	return sources, rows.Err()
}
