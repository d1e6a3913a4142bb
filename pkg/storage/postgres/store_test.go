package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/monedita/pkg/billing"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

var subscriptionRowColumns = []string{
	"id", "user_id", "plan_id", "started_at", "auto_renew", "cancelled_at", "next_billing_at", "created_at", "updated_at",
}

func TestStore_GetSubscription(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	started := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	next := started.Add(billing.BillingPeriod)

	mock.ExpectQuery(regexp.QuoteMeta("FROM user_subscriptions WHERE user_id = $1")).
		WithArgs("573001112233").
		WillReturnRows(sqlmock.NewRows(subscriptionRowColumns).
			AddRow(1, "573001112233", "basic", started, true, nil, next, started, started))

	sub, err := store.GetSubscription(ctx, "573001112233")
	require.NoError(t, err)
	assert.Equal(t, "basic", sub.PlanID)
	assert.Equal(t, started, sub.StartedAt)
	assert.Nil(t, sub.CancelledAt)
	require.NotNil(t, sub.NextBillingAt)
	assert.Equal(t, next, *sub.NextBillingAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetSubscriptionNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM user_subscriptions WHERE user_id = $1")).
		WithArgs("nobody").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetSubscription(context.Background(), "nobody")
	assert.ErrorIs(t, err, billing.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateSubscriptionReturnsStoredRow(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	earlier := now.Add(-time.Hour)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (user_id) DO NOTHING")).
		WithArgs("u1", "free", now, true, sqlmock.AnyArg(), sqlmock.AnyArg(), now, now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM user_subscriptions WHERE user_id = $1")).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(subscriptionRowColumns).
			AddRow(7, "u1", "free", earlier, true, nil, nil, earlier, earlier))

	sub, err := store.CreateSubscription(context.Background(), &billing.Subscription{
		UserID: "u1", PlanID: "free", StartedAt: now, AutoRenew: true, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), sub.ID)
	assert.Equal(t, earlier, sub.StartedAt, "a concurrent insert wins")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateSubscriptionMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE user_subscriptions")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateSubscription(context.Background(), &billing.Subscription{UserID: "u1", PlanID: "basic"})
	assert.ErrorIs(t, err, billing.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_IncrementUsage(t *testing.T) {
	store, mock := newMockStore(t)
	period := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (user_id, usage_type, period_start)")).
		WithArgs("u1", "text", period).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	count, err := store.IncrementUsage(context.Background(), "u1", billing.UsageText, period)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetUsageMissingRowIsZero(t *testing.T) {
	store, mock := newMockStore(t)
	period := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT count FROM usage_tracking")).
		WithArgs("u1", "voice", period).
		WillReturnError(sql.ErrNoRows)

	count, err := store.GetUsage(context.Background(), "u1", billing.UsageVoice, period)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListUsage(t *testing.T) {
	store, mock := newMockStore(t)
	period := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT usage_type, count FROM usage_tracking")).
		WithArgs("u1", period).
		WillReturnRows(sqlmock.NewRows([]string{"usage_type", "count"}).
			AddRow("text", 12).
			AddRow("image", 2))

	usage, err := store.ListUsage(context.Background(), "u1", period)
	require.NoError(t, err)
	assert.Equal(t, map[billing.UsageType]int{billing.UsageText: 12, billing.UsageImage: 2}, usage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ResetUsageError(t *testing.T) {
	store, mock := newMockStore(t)
	period := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM usage_tracking")).
		WithArgs("u1", period).
		WillReturnError(errors.New("connection reset"))

	err := store.ResetUsage(context.Background(), "u1", period)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to reset usage")
}

var billingRowColumns = []string{
	"id", "user_id", "plan_id", "amount_cents", "currency", "reference", "transaction_id", "status",
	"retry_count", "next_retry_at", "error_message", "created_at", "updated_at",
}

func TestStore_PendingRetries(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2024, 6, 2, 14, 0, 0, 0, time.UTC)
	due := now.Add(-time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = $1 AND retry_count < $2")).
		WithArgs("declined", billing.MaxRetries, now).
		WillReturnRows(sqlmock.NewRows(billingRowColumns).
			AddRow(3, "u1", "basic", 1190000, "COP", "ref-3", nil, "declined", 2, due, "card declined", due, due))

	records, err := store.PendingRetries(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, records, 1)
	r := records[0]
	assert.Equal(t, billing.BillingStatusDeclined, r.Status)
	assert.Equal(t, 2, r.RetryCount)
	assert.Equal(t, "card declined", r.ErrorMessage)
	assert.Empty(t, r.TransactionID)
	require.NotNil(t, r.NextRetryAt)
	assert.Equal(t, due, *r.NextRetryAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateBillingRecord(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO billing_history")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	record := &billing.BillingRecord{
		UserID: "u1", PlanID: "basic", AmountCents: 1190000, Currency: "COP",
		Reference: "ref", Status: billing.BillingStatusPending, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.CreateBillingRecord(context.Background(), record))
	assert.Equal(t, int64(42), record.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListActivePaymentSources(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM payment_sources WHERE status = $1")).
		WithArgs("active").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "token", "customer_ref", "card_brand", "card_last_four", "status", "created_at", "updated_at",
		}).
			AddRow(1, "u1", "pm_1", "cus_1", "VISA", "4242", "active", now, now).
			AddRow(2, "u2", "pm_2", nil, nil, nil, "active", now, now))

	sources, err := store.ListActivePaymentSources(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "cus_1", sources[0].CustomerRef)
	assert.Equal(t, "4242", sources[0].CardLastFour)
	assert.Empty(t, sources[1].CardBrand)
	assert.True(t, sources[1].IsActive())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdatePaymentSourceStatus(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE payment_sources SET status = $2")).
		WithArgs("u1", "cancelled").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.UpdatePaymentSourceStatus(context.Background(), "u1", billing.PaymentSourceCancelled))
	assert.NoError(t, mock.ExpectationsWereMet())
}
