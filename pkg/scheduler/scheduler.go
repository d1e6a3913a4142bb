package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/platinummonkey/monedita/pkg/billing"
	"github.com/platinummonkey/monedita/pkg/payments"
)

// Cron schedules for the daily jobs
const (
	RenewalSchedule         = "0 8 * * *"
	RetrySchedule           = "0 14 * * *"
	ExpirySchedule          = "30 8 * * *"
	MiddayReminderSchedule  = "0 12 * * *"
	EveningReminderSchedule = "0 21 * * *"
)

// DefaultPacing is the minimum gap between two calls to the payment collaborator
const DefaultPacing = 500 * time.Millisecond

// Job names used in logs and metrics
const (
	JobRenewals  = "renewals"
	JobRetries   = "retries"
	JobExpiry    = "expiry"
	JobReminders = "reminders"
)

// Charger is the payment collaborator
type Charger interface {
	ChargeRecurringPayment(ctx context.Context, userID, planID string) (*billing.ChargeResult, error)
	RetryFailedPayment(ctx context.Context, record *billing.BillingRecord) (*billing.ChargeResult, error)
}

// Store is what the sweeps read
type Store interface {
	ListActivePaymentSources(ctx context.Context) ([]*billing.PaymentSource, error)
	GetSubscription(ctx context.Context, userID string) (*billing.Subscription, error)
	PendingRetries(ctx context.Context, now time.Time) ([]*billing.BillingRecord, error)
	ListBillingRecords(ctx context.Context, userID string) ([]*billing.BillingRecord, error)
}

// Expirer downgrades cancelled subscriptions whose paid period ended
type Expirer interface {
	ExpireCancelled(ctx context.Context, now time.Time) (int, error)
}

// ReminderSender sends the daily expense reminder to every user
type ReminderSender interface {
	SendAll(ctx context.Context) (sent int, err error)
}

// Observer receives sweep outcomes, typically for metrics
type Observer interface {
	ObserveSweep(job string, processed, succeeded, failed int, duration time.Duration)
}

// Result summarizes one sweep. Error is set when the sweep was aborted; in
// that case the counts are zero even if some items were already charged.
type Result struct {
	Processed int    `json:"processed"`
	Succeeded int    `json:"success"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

// Config configures the scheduler
type Config struct {
	// Workers bounds how many users are charged concurrently. Values <= 1 run sequentially.
	Workers int
	// Pacing is the minimum gap between external calls. Zero means DefaultPacing; negative disables pacing.
	Pacing   time.Duration
	Location *time.Location
}

// Scheduler runs the billing sweeps on cron triggers or on demand
type Scheduler struct {
	store     Store
	charger   Charger
	expirer   Expirer
	reminders ReminderSender
	observer  Observer

	limiter *rate.Limiter
	workers int
	clock   func() time.Time
	logger  *logrus.Logger

	// userLocks keeps two sweeps from charging the same user at once
	userLocks sync.Map

	cron *cron.Cron
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock overrides the time source
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

// WithLogger sets the logger
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithExpirer enables the expiry job
func WithExpirer(expirer Expirer) Option {
	return func(s *Scheduler) {
		s.expirer = expirer
	}
}

// WithReminders enables the reminder jobs
func WithReminders(reminders ReminderSender) Option {
	return func(s *Scheduler) {
		s.reminders = reminders
	}
}

// WithObserver reports sweep outcomes to observer
func WithObserver(observer Observer) Option {
	return func(s *Scheduler) {
		s.observer = observer
	}
}

// New creates a new Scheduler
func New(cfg Config, store Store, charger Charger, opts ...Option) *Scheduler {
	pacing := cfg.Pacing
	if pacing == 0 {
		pacing = DefaultPacing
	}
	limit := rate.Inf
	if pacing > 0 {
		limit = rate.Every(pacing)
	}

	s := &Scheduler{
		store:   store,
		charger: charger,
		limiter: rate.NewLimiter(limit, 1),
		workers: max(1, cfg.Workers),
		clock:   time.Now,
		logger:  logrus.New(),
	}
	for _, opt := range opts {
		opt(s)
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cron.PrintfLogger(s.logger))),
	)
	return s
}

type cronJob struct {
	spec string
	name string
	run  func(context.Context) Result
}

// Start registers the cron jobs and starts the cron runner
func (s *Scheduler) Start(ctx context.Context) error {
	jobs := []cronJob{
		{RenewalSchedule, JobRenewals, s.ProcessDueRenewals},
		{RetrySchedule, JobRetries, s.ProcessFailedRetries},
	}
	if s.expirer != nil {
		jobs = append(jobs, cronJob{ExpirySchedule, JobExpiry, s.ProcessExpirations})
	}
	if s.reminders != nil {
		jobs = append(jobs,
			cronJob{MiddayReminderSchedule, JobReminders, s.SendReminders},
			cronJob{EveningReminderSchedule, JobReminders, s.SendReminders},
		)
	}

	for _, job := range jobs {
		job := job
		if _, err := s.cron.AddFunc(job.spec, func() { job.run(ctx) }); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", job.name, err)
		}
		s.logger.WithFields(logrus.Fields{"job": job.name, "schedule": job.spec}).Info("scheduled job")
	}

	s.cron.Start()
	return nil
}

// Stop stops the cron runner and waits for running jobs up to timeout
func (s *Scheduler) Stop(timeout time.Duration) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-time.After(timeout):
		s.logger.Warn("timed out waiting for running jobs")
	}
}

// TriggerRenewals runs the renewal sweep now
func (s *Scheduler) TriggerRenewals(ctx context.Context) Result {
	return s.ProcessDueRenewals(ctx)
}

// TriggerRetries runs the retry sweep now
func (s *Scheduler) TriggerRetries(ctx context.Context) Result {
	return s.ProcessFailedRetries(ctx)
}

// item is one external call made by a sweep
type item struct {
	userID string
	run    func(ctx context.Context) (*billing.ChargeResult, error)
}

// ProcessDueRenewals charges every active payment source whose subscription
// is due. A user whose charge for the due period was declined is left to the
// retry sweep, also once its retries are exhausted.
func (s *Scheduler) ProcessDueRenewals(ctx context.Context) Result {
	return s.sweep(ctx, JobRenewals, func(ctx context.Context, now time.Time) ([]item, error) {
		sources, err := s.store.ListActivePaymentSources(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list payment sources: %w", err)
		}

		var items []item
		for _, src := range sources {
			sub, err := s.store.GetSubscription(ctx, src.UserID)
			if errors.Is(err, billing.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to get subscription for %s: %w", src.UserID, err)
			}
			if !sub.DueForRenewal(now) {
				continue
			}
			open, err := s.hasUnpaidCharge(ctx, sub)
			if err != nil {
				return nil, err
			}
			if open {
				s.logger.WithField("user_id", sub.UserID).Debug("renewal skipped, due period has an unpaid charge")
				continue
			}
			userID, planID := sub.UserID, sub.PlanID
			items = append(items, item{
				userID: userID,
				run: func(ctx context.Context) (*billing.ChargeResult, error) {
					return s.charger.ChargeRecurringPayment(ctx, userID, planID)
				},
			})
		}
		return items, nil
	})
}

func (s *Scheduler) hasUnpaidCharge(ctx context.Context, sub *billing.Subscription) (bool, error) {
	records, err := s.store.ListBillingRecords(ctx, sub.UserID)
	if err != nil {
		return false, fmt.Errorf("failed to list billing records for %s: %w", sub.UserID, err)
	}
	for _, r := range records {
		if r.Unpaid() && r.CoversDuePeriod(sub) {
			return true, nil
		}
	}
	return false, nil
}

// ProcessFailedRetries retries every declined charge that is due
func (s *Scheduler) ProcessFailedRetries(ctx context.Context) Result {
	return s.sweep(ctx, JobRetries, func(ctx context.Context, now time.Time) ([]item, error) {
		records, err := s.store.PendingRetries(ctx, now)
		if err != nil {
			return nil, fmt.Errorf("failed to list pending retries: %w", err)
		}

		items := make([]item, 0, len(records))
		for _, record := range records {
			if !record.DueForRetry(now) {
				continue
			}
			record := record
			items = append(items, item{
				userID: record.UserID,
				run: func(ctx context.Context) (*billing.ChargeResult, error) {
					return s.charger.RetryFailedPayment(ctx, record)
				},
			})
		}
		return items, nil
	})
}

// ProcessExpirations downgrades cancelled subscriptions whose paid period ended
func (s *Scheduler) ProcessExpirations(ctx context.Context) (result Result) {
	start := time.Now()
	log := s.logger.WithField("job", JobExpiry)
	defer s.recoverSweep(log, &result)
	defer func() { s.observe(JobExpiry, result, time.Since(start)) }()

	if s.expirer == nil {
		return Result{}
	}
	n, err := s.expirer.ExpireCancelled(ctx, s.clock())
	result = Result{Processed: n, Succeeded: n}
	if err != nil {
		log.WithError(err).Error("expiry sweep finished with errors")
		result.Error = err.Error()
		return result
	}
	log.WithField("expired", n).Info("expiry sweep finished")
	return result
}

// SendReminders sends the daily expense reminder
func (s *Scheduler) SendReminders(ctx context.Context) (result Result) {
	start := time.Now()
	log := s.logger.WithField("job", JobReminders)
	defer s.recoverSweep(log, &result)
	defer func() { s.observe(JobReminders, result, time.Since(start)) }()

	if s.reminders == nil {
		return Result{}
	}
	sent, err := s.reminders.SendAll(ctx)
	result = Result{Processed: sent, Succeeded: sent}
	if err != nil {
		log.WithError(err).Error("reminder run failed")
		return Result{Error: err.Error()}
	}
	log.WithField("sent", sent).Info("reminders sent")
	return result
}

type enumerator func(ctx context.Context, now time.Time) ([]item, error)

// sweep enumerates the work, then runs it. Enumeration failures and panics
// produce a zero-progress result carrying the error message.
func (s *Scheduler) sweep(ctx context.Context, job string, enumerate enumerator) (result Result) {
	start := time.Now()
	log := s.logger.WithField("job", job)
	defer s.recoverSweep(log, &result)
	defer func() { s.observe(job, result, time.Since(start)) }()

	items, err := enumerate(ctx, s.clock())
	if err != nil {
		log.WithError(err).Error("sweep aborted")
		return Result{Error: err.Error()}
	}
	log.WithField("due", len(items)).Info("sweep started")

	if s.workers <= 1 {
		result, err = s.runSequential(ctx, log, items)
	} else {
		result, err = s.runParallel(ctx, log, items)
	}
	if err != nil {
		log.WithError(err).Error("sweep aborted")
		return Result{Error: err.Error()}
	}

	log.WithFields(logrus.Fields{
		"processed": result.Processed,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	}).Info("sweep finished")
	return result
}

func (s *Scheduler) recoverSweep(log *logrus.Entry, result *Result) {
	if r := recover(); r != nil {
		log.WithField("stack", string(debug.Stack())).Errorf("sweep panicked: %v", r)
		*result = Result{Error: fmt.Sprintf("panic: %v", r)}
	}
}

func (s *Scheduler) observe(job string, result Result, d time.Duration) {
	if s.observer != nil {
		s.observer.ObserveSweep(job, result.Processed, result.Succeeded, result.Failed, d)
	}
}

func (s *Scheduler) runSequential(ctx context.Context, log *logrus.Entry, items []item) (Result, error) {
	var result Result
	for _, it := range items {
		if err := s.limiter.Wait(ctx); err != nil {
			return result, err
		}
		s.runItem(ctx, log, it, &result, nil)
	}
	return result, nil
}

// runParallel groups items by user so each user's items run in order inside one worker
func (s *Scheduler) runParallel(ctx context.Context, log *logrus.Entry, items []item) (Result, error) {
	var (
		order  []string
		groups = make(map[string][]item)
	)
	for _, it := range items {
		if _, seen := groups[it.userID]; !seen {
			order = append(order, it.userID)
		}
		groups[it.userID] = append(groups[it.userID], it)
	}

	var (
		result Result
		mu     sync.Mutex
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, userID := range order {
		group := groups[userID]
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			for _, it := range group {
				if err := s.limiter.Wait(gctx); err != nil {
					return err
				}
				s.runItem(gctx, log, it, &result, &mu)
			}
			return nil
		})
	}
	err := g.Wait()
	return result, err
}

func (s *Scheduler) lockUser(userID string) func() {
	v, _ := s.userLocks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *Scheduler) runItem(ctx context.Context, log *logrus.Entry, it item, result *Result, mu *sync.Mutex) {
	res, err := func() (*billing.ChargeResult, error) {
		defer s.lockUser(it.userID)()
		return it.run(ctx)
	}()

	if errors.Is(err, payments.ErrRetrySuperseded) {
		log.WithField("user_id", it.userID).Info("retry skipped, period no longer owed")
		return
	}

	succeeded := err == nil && res != nil && res.Success
	switch {
	case err != nil:
		log.WithError(err).WithField("user_id", it.userID).Warn("charge could not be attempted")
	case res == nil:
		log.WithField("user_id", it.userID).Warn("charge returned no result")
	case !succeeded:
		log.WithField("user_id", it.userID).WithField("reason", res.Error).Info("charge failed")
	}

	if mu != nil {
		mu.Lock()
		defer mu.Unlock()
	}
	result.Processed++
	if succeeded {
		result.Succeeded++
	} else {
		result.Failed++
	}
}
