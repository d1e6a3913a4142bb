// Package memory implements billing.Store and budgets.Store with in-process maps.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/monedita/pkg/billing"
	"github.com/platinummonkey/monedita/pkg/budgets"
)

type usageKey struct {
	userID      string
	usageType   billing.UsageType
	periodStart int64
}

// Store is a billing.Store backed by maps guarded by one mutex.
// Records are copied on the way in and out so callers never share memory with the store.
type Store struct {
	mu            sync.RWMutex
	subscriptions map[string]*billing.Subscription
	usage         map[usageKey]int
	records       map[int64]*billing.BillingRecord
	sources       map[string]*billing.PaymentSource
	budgets       map[budgetKey]*budgets.Budget
	expenses      []*budgets.Expense
	nextID        int64
}

// New creates an empty Store
func New() *Store {
	return &Store{
		subscriptions: make(map[string]*billing.Subscription),
		usage:         make(map[usageKey]int),
		records:       make(map[int64]*billing.BillingRecord),
		sources:       make(map[string]*billing.PaymentSource),
		budgets:       make(map[budgetKey]*budgets.Budget),
	}
}

var (
	_ billing.Store = (*Store)(nil)
	_ budgets.Store = (*Store)(nil)
)

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copySubscription(sub *billing.Subscription) *billing.Subscription {
	c := *sub
	c.CancelledAt = copyTime(sub.CancelledAt)
	c.NextBillingAt = copyTime(sub.NextBillingAt)
	return &c
}

func copyRecord(r *billing.BillingRecord) *billing.BillingRecord {
	c := *r
	c.NextRetryAt = copyTime(r.NextRetryAt)
	return &c
}

func copySource(p *billing.PaymentSource) *billing.PaymentSource {
	c := *p
	return &c
}

// GetSubscription returns the user's subscription
func (s *Store) GetSubscription(ctx context.Context, userID string) (*billing.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[userID]
	if !ok {
		return nil, billing.ErrNotFound
	}
	return copySubscription(sub), nil
}

// CreateSubscription stores sub unless the user already has a subscription
func (s *Store) CreateSubscription(ctx context.Context, sub *billing.Subscription) (*billing.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.subscriptions[sub.UserID]; ok {
		return copySubscription(existing), nil
	}
	stored := copySubscription(sub)
	stored.ID = s.id()
	s.subscriptions[sub.UserID] = stored
	return copySubscription(stored), nil
}

// UpdateSubscription replaces the user's subscription
func (s *Store) UpdateSubscription(ctx context.Context, sub *billing.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.subscriptions[sub.UserID]
	if !ok {
		return billing.ErrNotFound
	}
	stored := copySubscription(sub)
	stored.ID = existing.ID
	stored.CreatedAt = existing.CreatedAt
	s.subscriptions[sub.UserID] = stored
	return nil
}

// ListExpiringCancelled returns cancelled subscriptions whose paid period has ended
func (s *Store) ListExpiringCancelled(ctx context.Context, now time.Time) ([]*billing.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*billing.Subscription
	for _, sub := range s.subscriptions {
		if sub.CancelledAt != nil && sub.NextBillingAt != nil && !sub.NextBillingAt.After(now) {
			out = append(out, copySubscription(sub))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// ListUserIDs returns every user with a subscription
func (s *Store) ListUserIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.subscriptions))
	for id := range s.subscriptions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// GetUsage returns the counter, or zero when none was recorded
func (s *Store) GetUsage(ctx context.Context, userID string, usageType billing.UsageType, periodStart time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.usage[usageKey{userID, usageType, periodStart.UnixNano()}], nil
}

// IncrementUsage adds one to the counter and returns the new value
func (s *Store) IncrementUsage(ctx context.Context, userID string, usageType billing.UsageType, periodStart time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := usageKey{userID, usageType, periodStart.UnixNano()}
	s.usage[key]++
	return s.usage[key], nil
}

// ListUsage returns all counters recorded for the period
func (s *Store) ListUsage(ctx context.Context, userID string, periodStart time.Time) (map[billing.UsageType]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[billing.UsageType]int)
	for key, count := range s.usage {
		if key.userID == userID && key.periodStart == periodStart.UnixNano() {
			out[key.usageType] = count
		}
	}
	return out, nil
}

// ResetUsage removes all counters of the period
func (s *Store) ResetUsage(ctx context.Context, userID string, periodStart time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.usage {
		if key.userID == userID && key.periodStart == periodStart.UnixNano() {
			delete(s.usage, key)
		}
	}
	return nil
}

// CreateBillingRecord stores a new record and assigns its ID
func (s *Store) CreateBillingRecord(ctx context.Context, record *billing.BillingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record.ID = s.id()
	s.records[record.ID] = copyRecord(record)
	return nil
}

// UpdateBillingRecord replaces a stored record
func (s *Store) UpdateBillingRecord(ctx context.Context, record *billing.BillingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[record.ID]; !ok {
		return billing.ErrNotFound
	}
	s.records[record.ID] = copyRecord(record)
	return nil
}

// GetBillingRecord returns a record by ID
func (s *Store) GetBillingRecord(ctx context.Context, id int64) (*billing.BillingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, billing.ErrNotFound
	}
	return copyRecord(r), nil
}

// ListBillingRecords returns the user's records, newest first
func (s *Store) ListBillingRecords(ctx context.Context, userID string) ([]*billing.BillingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*billing.BillingRecord
	for _, r := range s.records {
		if r.UserID == userID {
			out = append(out, copyRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// PendingRetries returns declined records with retries left whose retry time has come
func (s *Store) PendingRetries(ctx context.Context, now time.Time) ([]*billing.BillingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*billing.BillingRecord
	for _, r := range s.records {
		if r.DueForRetry(now) {
			out = append(out, copyRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetPaymentSource returns the user's payment source
func (s *Store) GetPaymentSource(ctx context.Context, userID string) (*billing.PaymentSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src, ok := s.sources[userID]
	if !ok {
		return nil, billing.ErrNotFound
	}
	return copySource(src), nil
}

// SavePaymentSource creates or replaces the user's payment source
func (s *Store) SavePaymentSource(ctx context.Context, source *billing.PaymentSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sources[source.UserID]; ok {
		source.ID = existing.ID
		source.CreatedAt = existing.CreatedAt
	} else {
		source.ID = s.id()
	}
	s.sources[source.UserID] = copySource(source)
	return nil
}

// UpdatePaymentSourceStatus changes the status of the user's payment source
func (s *Store) UpdatePaymentSourceStatus(ctx context.Context, userID string, status billing.PaymentSourceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.sources[userID]
	if !ok {
		return billing.ErrNotFound
	}
	src.Status = status
	src.UpdatedAt = time.Now().UTC()
	return nil
}

// ListActivePaymentSources returns every active source ordered by user
func (s *Store) ListActivePaymentSources(ctx context.Context) ([]*billing.PaymentSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*billing.PaymentSource
	for _, src := range s.sources {
		if src.IsActive() {
			out = append(out, copySource(src))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Ping always succeeds
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (s *Store) Close() error {
	return nil
}
