package billing

import (
	"hash/fnv"
	"sync"
	"time"
)

const lockStripes = 64

// ServiceStore is the persistence the Service needs
type ServiceStore interface {
	SubscriptionStore
	UsageStore
	PaymentSourceStore
}

// Service implements the plan catalog, usage counter, limit gate and
// subscription record over a ServiceStore
type Service struct {
	catalog *Catalog
	subs    SubscriptionStore
	usage   UsageStore
	sources PaymentSourceStore
	clock   func() time.Time
	locks   [lockStripes]sync.Mutex
}

// Option configures a Service
type Option func(*Service)

// WithClock overrides the time source
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// WithUsageStore routes usage counters through a different store, such as a cache
func WithUsageStore(usage UsageStore) Option {
	return func(s *Service) {
		s.usage = usage
	}
}

// NewService creates a new Service
func NewService(catalog *Catalog, store ServiceStore, opts ...Option) *Service {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	s := &Service{
		catalog: catalog,
		subs:    store,
		usage:   store,
		sources: store,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog returns the plan catalog
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// Now returns the current time in the precision stores keep
func (s *Service) Now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

// lockUser serializes read-modify-write sequences for one user within this process
func (s *Service) lockUser(userID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	mu := &s.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// PeriodStart returns the start of the rolling billing period containing now.
// The anchor advances in whole BillingPeriod steps while anchor+period <= now.
func PeriodStart(anchor, now time.Time) time.Time {
	if now.Before(anchor) {
		return anchor
	}
	elapsed := now.Sub(anchor) / BillingPeriod
	return anchor.Add(elapsed * BillingPeriod)
}
