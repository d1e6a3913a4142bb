package billing

import (
	"context"
	"time"
)

// SubscriptionStore persists one subscription per user
type SubscriptionStore interface {
	// GetSubscription returns ErrNotFound when the user has no subscription
	GetSubscription(ctx context.Context, userID string) (*Subscription, error)
	// CreateSubscription inserts sub unless the user already has one, and
	// returns whichever record is stored afterwards.
	CreateSubscription(ctx context.Context, sub *Subscription) (*Subscription, error)
	UpdateSubscription(ctx context.Context, sub *Subscription) error
	// ListExpiringCancelled returns cancelled subscriptions whose paid period ended at or before now
	ListExpiringCancelled(ctx context.Context, now time.Time) ([]*Subscription, error)
	ListUserIDs(ctx context.Context) ([]string, error)
}

// UsageStore persists per-period usage counters
type UsageStore interface {
	GetUsage(ctx context.Context, userID string, usageType UsageType, periodStart time.Time) (int, error)
	// IncrementUsage atomically adds one to the counter, creating it if needed, and returns the new count
	IncrementUsage(ctx context.Context, userID string, usageType UsageType, periodStart time.Time) (int, error)
	ListUsage(ctx context.Context, userID string, periodStart time.Time) (map[UsageType]int, error)
	ResetUsage(ctx context.Context, userID string, periodStart time.Time) error
}

// BillingStore persists charge attempts
type BillingStore interface {
	CreateBillingRecord(ctx context.Context, record *BillingRecord) error
	UpdateBillingRecord(ctx context.Context, record *BillingRecord) error
	GetBillingRecord(ctx context.Context, id int64) (*BillingRecord, error)
	ListBillingRecords(ctx context.Context, userID string) ([]*BillingRecord, error)
	// PendingRetries returns declined records with retries remaining whose next retry is due
	PendingRetries(ctx context.Context, now time.Time) ([]*BillingRecord, error)
}

// PaymentSourceStore persists the tokenized card of each user
type PaymentSourceStore interface {
	// GetPaymentSource returns the user's source regardless of status, or ErrNotFound
	GetPaymentSource(ctx context.Context, userID string) (*PaymentSource, error)
	SavePaymentSource(ctx context.Context, source *PaymentSource) error
	UpdatePaymentSourceStatus(ctx context.Context, userID string, status PaymentSourceStatus) error
	ListActivePaymentSources(ctx context.Context) ([]*PaymentSource, error)
}

// Store combines every persistence concern behind one driver
type Store interface {
	SubscriptionStore
	UsageStore
	BillingStore
	PaymentSourceStore
	Ping(ctx context.Context) error
	Close() error
}
