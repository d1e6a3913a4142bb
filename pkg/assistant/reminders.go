package assistant

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/platinummonkey/monedita/pkg/observability"
	"github.com/platinummonkey/monedita/pkg/whatsapp"
)

const (
	// ReminderPacing is the gap between two reminder sends
	ReminderPacing = 100 * time.Millisecond
	// PendingReminderTTL is how long a sent reminder waits for an answer
	PendingReminderTTL = time.Hour

	maxPendingReminders = 100000
)

// UserLister enumerates every known user
type UserLister interface {
	ListUserIDs(ctx context.Context) ([]string, error)
}

// ReminderService sends the daily "did you spend anything today?" prompt
type ReminderService struct {
	users     UserLister
	messenger Messenger
	pending   *lru.LRU[string, time.Time]
	limiter   *rate.Limiter
	clock     func() time.Time
	logger    *observability.Logger
}

// ReminderOption configures a ReminderService
type ReminderOption func(*ReminderService)

// WithReminderClock overrides the time source used for greetings
func WithReminderClock(clock func() time.Time) ReminderOption {
	return func(s *ReminderService) {
		s.clock = clock
	}
}

// WithReminderPacing overrides the gap between sends; zero or less disables pacing
func WithReminderPacing(d time.Duration) ReminderOption {
	return func(s *ReminderService) {
		if d <= 0 {
			s.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		s.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithReminderLogger sets the logger
func WithReminderLogger(logger *observability.Logger) ReminderOption {
	return func(s *ReminderService) {
		s.logger = logger
	}
}

// NewReminderService creates a new ReminderService
func NewReminderService(users UserLister, messenger Messenger, opts ...ReminderOption) *ReminderService {
	s := &ReminderService{
		users:     users,
		messenger: messenger,
		pending:   lru.NewLRU[string, time.Time](maxPendingReminders, nil, PendingReminderTTL),
		limiter:   rate.NewLimiter(rate.Every(ReminderPacing), 1),
		clock:     time.Now,
		logger:    observability.NewLogger(observability.InfoLevel, nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send sends the reminder to one user and marks it pending
func (s *ReminderService) Send(ctx context.Context, userID string) error {
	now := s.clock()
	body := fmt.Sprintf("%s! Have you made any purchases today that you'd like to track?", reminderGreeting(now.Hour()))
	err := s.messenger.SendButtons(ctx, userID, body, []whatsapp.Button{
		{ID: ReminderButtonYes, Title: "Yes, log expense"},
		{ID: ReminderButtonNo, Title: "No, all good"},
	})
	if err != nil {
		return fmt.Errorf("failed to send reminder: %w", err)
	}
	s.pending.Add(userID, now)
	return nil
}

// SendAll sends the reminder to every user. Failures for single users are
// logged and skipped; an error is returned only when users cannot be listed
// or ctx ends.
func (s *ReminderService) SendAll(ctx context.Context) (int, error) {
	users, err := s.users.ListUserIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list users: %w", err)
	}

	sent, failed := 0, 0
	for _, userID := range users {
		if err := s.limiter.Wait(ctx); err != nil {
			return sent, err
		}
		if err := s.Send(ctx, userID); err != nil {
			failed++
			s.logger.WithError(err).WithField("user_id", userID).Warn("reminder not delivered")
			continue
		}
		sent++
	}

	s.logger.WithFields(map[string]interface{}{"sent": sent, "failed": failed}).Info("reminders sent")
	return sent, nil
}

// HasPending reports whether the user has an unanswered reminder younger than an hour
func (s *ReminderService) HasPending(userID string) bool {
	_, ok := s.pending.Get(userID)
	return ok
}

// Clear forgets the user's pending reminder
func (s *ReminderService) Clear(userID string) {
	s.pending.Remove(userID)
}
