//go:build integration

package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/monedita/pkg/billing"
	"github.com/platinummonkey/monedita/pkg/storage"
)

// pgURL is shared by every test in the package; one container serves them all
var pgURL string

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("monedita_test"),
		postgres.WithUsername("monedita"),
		postgres.WithPassword("monedita"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres container: %v\n", err)
		os.Exit(1)
	}
	pgURL, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "postgres connection string: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()
	_ = container.Terminate(context.Background())
	os.Exit(code)
}

// setupPostgresStore opens a migrated Store on the shared container with
// every table emptied. The primary doubles as a replica so reporting reads
// go through Cluster.Reader.
func setupPostgresStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	cfg := storage.DefaultConfig()
	cfg.Driver = storage.DriverPostgres
	cfg.PostgresURL = pgURL
	cfg.PostgresReplicaURLs = []string{pgURL}

	store, err := Open(ctx, cfg, billing.DefaultCatalog(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, err = store.DB().ExecContext(ctx,
		`TRUNCATE user_subscriptions, usage_tracking, billing_history, payment_sources, budgets, expenses RESTART IDENTITY`)
	require.NoError(t, err)
	return store
}

func TestIntegration_ReplicaInRotation(t *testing.T) {
	store := setupPostgresStore(t)
	require.NoError(t, store.Ping(context.Background()))
	assert.Equal(t, 1, store.cluster.HealthyReplicas())
	assert.NotSame(t, store.DB(), store.cluster.Reader())
}

func TestIntegration_ConcurrentIncrementsAreAtomic(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()
	period := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.IncrementUsage(ctx, "u1", billing.UsageText, period)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	count, err := store.GetUsage(ctx, "u1", billing.UsageText, period)
	require.NoError(t, err)
	assert.Equal(t, 25, count)
}

func TestIntegration_BillingServiceLifecycle(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()

	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	svc := billing.NewService(billing.DefaultCatalog(), store, billing.WithClock(func() time.Time { return now }))

	sub, err := svc.UpgradePlan(ctx, "573001112233", billing.PlanBasic)
	require.NoError(t, err)
	assert.Equal(t, billing.PlanBasic, sub.PlanID)

	for i := 0; i < 3; i++ {
		_, err := svc.Increment(ctx, "573001112233", billing.UsageImage)
		require.NoError(t, err)
	}
	usage, err := svc.GetAllUsage(ctx, "573001112233")
	require.NoError(t, err)
	assert.Equal(t, 3, usage[billing.UsageImage])

	retryAt := now.Add(-time.Minute)
	record := &billing.BillingRecord{
		UserID: "573001112233", PlanID: billing.PlanBasic, AmountCents: 1190000, Currency: billing.ChargeCurrency,
		Reference: "ref-1", Status: billing.BillingStatusDeclined, RetryCount: 1, NextRetryAt: &retryAt,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.CreateBillingRecord(ctx, record))

	pending, err := store.PendingRetries(ctx, now)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, record.ID, pending[0].ID)

	record.RetryCount = billing.MaxRetries
	record.NextRetryAt = nil
	require.NoError(t, store.UpdateBillingRecord(ctx, record))

	pending, err = store.PendingRetries(ctx, now.Add(365*24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, pending)
}
