// Package scheduler runs the daily billing jobs.
//
// # Jobs
//
//   - renewals (08:00): charge every active payment source whose subscription is due
//   - expiry (08:30): downgrade cancelled subscriptions whose paid period ended
//   - retries (14:00): retry declined charges whose retry time has come
//   - reminders (12:00 and 21:00): send the daily expense reminder
//
// Each job can also be triggered on demand; the result reports how many items
// were processed, charged successfully and failed. External calls are paced so
// the payment provider is not flooded.
//
// # Usage Example
//
//	s := scheduler.New(scheduler.Config{Workers: 4}, store, recurring,
//		scheduler.WithExpirer(billingSvc),
//		scheduler.WithLogger(logger),
//	)
//	if err := s.Start(ctx); err != nil {
//		return err
//	}
//	defer s.Stop(30 * time.Second)
package scheduler
