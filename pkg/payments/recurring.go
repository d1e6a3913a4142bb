package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/monedita/pkg/billing"
)

// ErrRetriesExhausted is returned when a record is no longer eligible for retry
var ErrRetriesExhausted = errors.New("billing record is not eligible for retry")

// ErrRetrySuperseded is returned when a declined charge was voided instead of
// retried because its period was paid, cancelled or replaced by a plan change.
var ErrRetrySuperseded = errors.New("billing record no longer covers the due period")

// Store is the persistence the recurring service needs
type Store interface {
	billing.BillingStore
	billing.PaymentSourceStore
	GetSubscription(ctx context.Context, userID string) (*billing.Subscription, error)
}

// ChargeRecorder counts charge attempts; kind is "renewal" or "retry"
type ChargeRecorder interface {
	RecordCharge(kind string, success bool)
}

// Renewer advances a subscription's next billing date after a successful charge
type Renewer interface {
	RecordRenewal(ctx context.Context, userID string) (*billing.Subscription, error)
}

// RecurringService charges stored payment sources for subscription renewals
// and retries declined charges.
type RecurringService struct {
	catalog *billing.Catalog
	store   Store
	renewer Renewer
	gateway Gateway
	policy  *RetryPolicy
	clock   func() time.Time
	logger  *logrus.Logger
	metrics ChargeRecorder
}

// Option configures a RecurringService
type Option func(*RecurringService)

// WithClock overrides the time source
func WithClock(clock func() time.Time) Option {
	return func(s *RecurringService) {
		s.clock = clock
	}
}

// WithRetryPolicy overrides the retry policy
func WithRetryPolicy(policy *RetryPolicy) Option {
	return func(s *RecurringService) {
		s.policy = policy
	}
}

// WithLogger sets the logger
func WithLogger(logger *logrus.Logger) Option {
	return func(s *RecurringService) {
		s.logger = logger
	}
}

// WithRecorder reports every settled charge attempt to r
func WithRecorder(r ChargeRecorder) Option {
	return func(s *RecurringService) {
		s.metrics = r
	}
}

// NewRecurringService creates a new RecurringService
func NewRecurringService(catalog *billing.Catalog, store Store, renewer Renewer, gateway Gateway, opts ...Option) *RecurringService {
	if gateway == nil {
		gateway = DeclineGateway{}
	}
	s := &RecurringService{
		catalog: catalog,
		store:   store,
		renewer: renewer,
		gateway: gateway,
		policy:  NewRetryPolicy(DefaultRetryConfig()),
		clock:   time.Now,
		logger:  logrus.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RecurringService) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

// ChargeRecurringPayment charges the user's payment source for one period of planID.
// A decline is reported in the result and scheduled for retry; errors are
// returned only when no charge could be attempted.
func (s *RecurringService) ChargeRecurringPayment(ctx context.Context, userID, planID string) (*billing.ChargeResult, error) {
	plan, ok := s.catalog.Get(planID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", billing.ErrUnknownPlan, planID)
	}
	if plan.IsFree() {
		return nil, fmt.Errorf("plan %s is free: %w", planID, billing.ErrFreePlan)
	}

	source, err := s.activeSource(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	record := &billing.BillingRecord{
		UserID:      userID,
		PlanID:      plan.ID,
		AmountCents: plan.PriceCOPCents,
		Currency:    billing.ChargeCurrency,
		Reference:   uuid.NewString(),
		Status:      billing.BillingStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateBillingRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to create billing record: %w", err)
	}

	resp, chargeErr := s.gateway.Charge(ctx, s.chargeRequest(record, source, record.Reference))
	return s.settle(ctx, record, resp, chargeErr, false)
}

// RetryFailedPayment attempts a declined charge again. On failure the retry
// count grows and the next attempt is scheduled until retries run out. A
// record whose period was since paid, cancelled or upgraded is voided without
// a charge and ErrRetrySuperseded is returned.
func (s *RecurringService) RetryFailedPayment(ctx context.Context, record *billing.BillingRecord) (*billing.ChargeResult, error) {
	if record.Status != billing.BillingStatusDeclined || record.RetryCount >= billing.MaxRetries {
		return nil, ErrRetriesExhausted
	}

	owed, err := s.stillOwed(ctx, record)
	if err != nil {
		return nil, err
	}
	if !owed {
		if err := s.void(ctx, record); err != nil {
			return nil, err
		}
		return nil, ErrRetrySuperseded
	}

	key := fmt.Sprintf("%s-retry-%d", record.Reference, record.RetryCount+1)

	source, err := s.activeSource(ctx, record.UserID)
	if err != nil {
		return s.settle(ctx, record, nil, err, true)
	}
	resp, chargeErr := s.gateway.Charge(ctx, s.chargeRequest(record, source, key))
	return s.settle(ctx, record, resp, chargeErr, true)
}

// stillOwed reports whether the subscription still owes the period record was
// charged for
func (s *RecurringService) stillOwed(ctx context.Context, record *billing.BillingRecord) (bool, error) {
	sub, err := s.store.GetSubscription(ctx, record.UserID)
	if errors.Is(err, billing.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get subscription: %w", err)
	}
	return record.CoversDuePeriod(sub), nil
}

func (s *RecurringService) void(ctx context.Context, record *billing.BillingRecord) error {
	record.Status = billing.BillingStatusVoided
	record.NextRetryAt = nil
	record.ErrorMessage = ErrRetrySuperseded.Error()
	record.UpdatedAt = s.now()
	if err := s.store.UpdateBillingRecord(ctx, record); err != nil {
		return fmt.Errorf("failed to update billing record: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"user_id":   record.UserID,
		"record_id": record.ID,
		"reference": record.Reference,
	}).Info("declined charge voided, period no longer owed")
	return nil
}

func (s *RecurringService) activeSource(ctx context.Context, userID string) (*billing.PaymentSource, error) {
	source, err := s.store.GetPaymentSource(ctx, userID)
	if errors.Is(err, billing.ErrNotFound) {
		return nil, billing.ErrNoPaymentSource
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment source: %w", err)
	}
	if !source.IsActive() {
		return nil, billing.ErrNoPaymentSource
	}
	return source, nil
}

func (s *RecurringService) chargeRequest(record *billing.BillingRecord, source *billing.PaymentSource, key string) ChargeRequest {
	return ChargeRequest{
		UserID:         record.UserID,
		Reference:      record.Reference,
		IdempotencyKey: key,
		AmountCents:    record.AmountCents,
		Currency:       record.Currency,
		CustomerRef:    source.CustomerRef,
		SourceToken:    source.Token,
		Description:    fmt.Sprintf("Monedita %s plan renewal", record.PlanID),
	}
}

// settle records the outcome of a charge attempt on the record
func (s *RecurringService) settle(ctx context.Context, record *billing.BillingRecord, resp *ChargeResponse, chargeErr error, retry bool) (*billing.ChargeResult, error) {
	now := s.now()
	record.UpdatedAt = now

	log := s.logger.WithFields(logrus.Fields{
		"user_id":     record.UserID,
		"record_id":   record.ID,
		"reference":   record.Reference,
		"retry_count": record.RetryCount,
	})

	if chargeErr == nil && resp != nil && resp.Approved {
		record.Status = billing.BillingStatusSucceeded
		record.TransactionID = resp.TransactionID
		record.NextRetryAt = nil
		record.ErrorMessage = ""
		if err := s.store.UpdateBillingRecord(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to update billing record: %w", err)
		}
		if _, err := s.renewer.RecordRenewal(ctx, record.UserID); err != nil {
			return nil, fmt.Errorf("failed to advance billing date: %w", err)
		}
		s.record(retry, true)
		log.WithField("transaction_id", record.TransactionID).Info("charge succeeded")
		return &billing.ChargeResult{Success: true, Record: record}, nil
	}

	message := "charge declined"
	switch {
	case chargeErr != nil:
		message = chargeErr.Error()
	case resp != nil && resp.DeclineReason != "":
		message = resp.DeclineReason
	}
	if resp != nil && resp.TransactionID != "" {
		record.TransactionID = resp.TransactionID
	}

	if retry {
		record.RetryCount++
	}
	record.Status = billing.BillingStatusDeclined
	record.ErrorMessage = message
	record.NextRetryAt = s.policy.NextRetryAt(now, record.RetryCount)

	if err := s.store.UpdateBillingRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to update billing record: %w", err)
	}

	s.record(retry, false)
	entry := log.WithField("retry_count", record.RetryCount).WithField("reason", message)
	if record.NextRetryAt != nil {
		entry.WithField("next_retry_at", record.NextRetryAt).Warn("charge declined, retry scheduled")
	} else {
		entry.Warn("charge declined, retries exhausted")
	}
	return &billing.ChargeResult{Success: false, Error: message, Record: record}, nil
}

func (s *RecurringService) record(retry, success bool) {
	if s.metrics == nil {
		return
	}
	kind := "renewal"
	if retry {
		kind = "retry"
	}
	s.metrics.RecordCharge(kind, success)
}
