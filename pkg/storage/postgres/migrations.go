package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/monedita/pkg/billing"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create subscription_plans table",
			SQL: `
				CREATE TABLE IF NOT EXISTS subscription_plans (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					price_monthly NUMERIC(10, 2) NOT NULL DEFAULT 0,
					price_cop_cents BIGINT NOT NULL DEFAULT 0,
					limits JSONB NOT NULL DEFAULT '{}',
					can_export_csv BOOLEAN NOT NULL DEFAULT FALSE,
					can_export_pdf BOOLEAN NOT NULL DEFAULT FALSE,
					is_default BOOLEAN NOT NULL DEFAULT FALSE,
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create user_subscriptions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_subscriptions (
					id BIGSERIAL PRIMARY KEY,
					user_id TEXT NOT NULL UNIQUE,
					plan_id TEXT NOT NULL,
					started_at TIMESTAMPTZ NOT NULL,
					auto_renew BOOLEAN NOT NULL DEFAULT TRUE,
					cancelled_at TIMESTAMPTZ,
					next_billing_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_user_subscriptions_expiring
					ON user_subscriptions(next_billing_at) WHERE cancelled_at IS NOT NULL;
			`,
		},
		{
			Version:     3,
			Description: "Create usage_tracking table",
			SQL: `
				CREATE TABLE IF NOT EXISTS usage_tracking (
					user_id TEXT NOT NULL,
					usage_type TEXT NOT NULL,
					period_start TIMESTAMPTZ NOT NULL,
					count INT NOT NULL DEFAULT 0 CHECK (count >= 0),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (user_id, usage_type, period_start)
				);
			`,
		},
		{
			Version:     4,
			Description: "Create billing_history table",
			SQL: `
				CREATE TABLE IF NOT EXISTS billing_history (
					id BIGSERIAL PRIMARY KEY,
					user_id TEXT NOT NULL,
					plan_id TEXT NOT NULL,
					amount_cents BIGINT NOT NULL,
					currency VARCHAR(3) NOT NULL,
					reference TEXT NOT NULL UNIQUE,
					transaction_id TEXT,
					status VARCHAR(20) NOT NULL,
					retry_count INT NOT NULL DEFAULT 0,
					next_retry_at TIMESTAMPTZ,
					error_message TEXT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_billing_history_user_id ON billing_history(user_id);
				CREATE INDEX IF NOT EXISTS idx_billing_history_pending_retries
					ON billing_history(next_retry_at) WHERE status = 'declined';
			`,
		},
		{
			Version:     5,
			Description: "Create payment_sources table",
			SQL: `
				CREATE TABLE IF NOT EXISTS payment_sources (
					id BIGSERIAL PRIMARY KEY,
					user_id TEXT NOT NULL UNIQUE,
					token TEXT NOT NULL,
					customer_ref TEXT,
					card_brand TEXT,
					card_last_four VARCHAR(4),
					status VARCHAR(20) NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_payment_sources_status ON payment_sources(status);
			`,
		},
		{
			Version:     6,
			Description: "Create budgets and expenses tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS budgets (
					id BIGSERIAL PRIMARY KEY,
					user_id TEXT NOT NULL,
					category TEXT NOT NULL,
					amount BIGINT NOT NULL CHECK (amount > 0),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (user_id, category)
				);

				CREATE TABLE IF NOT EXISTS expenses (
					id BIGSERIAL PRIMARY KEY,
					user_id TEXT NOT NULL,
					category TEXT NOT NULL,
					amount BIGINT NOT NULL,
					description TEXT,
					spent_at TIMESTAMPTZ NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_expenses_user_category
					ON expenses(user_id, category, spent_at);
			`,
		},
	}
}

// RunMigrations applies every migration not yet recorded in schema_migrations
func RunMigrations(ctx context.Context, db *sql.DB, logger *logrus.Logger) error {
	if logger == nil {
		logger = logrus.New()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, m := range GetMigrations() {
		if applied[m.Version] {
			continue
		}

		logger.WithFields(logrus.Fields{
			"version":     m.Version,
			"description": m.Description,
		}).Info("running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to run migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SeedPlans upserts the catalog into subscription_plans so reporting queries can join on it
func SeedPlans(ctx context.Context, db *sql.DB, catalog *billing.Catalog) error {
	for _, p := range catalog.All() {
		limits, err := json.Marshal(p.Limits)
		if err != nil {
			return fmt.Errorf("failed to marshal limits for plan %s: %w", p.ID, err)
		}
		_, err = db.ExecContext(ctx, `
			INSERT INTO subscription_plans
				(id, name, price_monthly, price_cop_cents, limits, can_export_csv, can_export_pdf, is_default, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				price_monthly = EXCLUDED.price_monthly,
				price_cop_cents = EXCLUDED.price_cop_cents,
				limits = EXCLUDED.limits,
				can_export_csv = EXCLUDED.can_export_csv,
				can_export_pdf = EXCLUDED.can_export_pdf,
				is_default = EXCLUDED.is_default,
				updated_at = NOW()
		`, p.ID, p.Name, p.PriceMonthly, p.PriceCOPCents, string(limits), p.CanExportCSV, p.CanExportPDF, p.IsDefault)
		if err != nil {
			return fmt.Errorf("failed to seed plan %s: %w", p.ID, err)
		}
	}
	return nil
}
