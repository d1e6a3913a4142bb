// Package async runs background tasks for the webhook handler.
//
// WhatsApp expects the webhook to be acknowledged quickly, so inbound events
// are handed to a Runner and processed after the response is written:
//
//	runner := async.NewRunner(logger, 30*time.Second)
//	for _, ev := range events {
//		ev := ev
//		runner.Go(r.Context(), "webhook event", func(ctx context.Context) error {
//			return dispatcher.Handle(ctx, ev)
//		})
//	}
//	w.WriteHeader(http.StatusOK)
//
// Panics are recovered and logged with their stack trace. On shutdown the
// runner stops accepting tasks and drains the ones already running:
//
//	shutdown.Register("webhook tasks", runner.Shutdown)
package async
