package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/platinummonkey/monedita/pkg/observability"
)

// ErrClosed is returned by Go after Shutdown has started
var ErrClosed = errors.New("async runner is shut down")

// Runner executes background tasks with panic recovery and a per-task
// timeout, and tracks them so shutdown can wait for in-flight work.
//
// Example:
//
//	runner := async.NewRunner(logger, 30*time.Second)
//	runner.Go(r.Context(), "webhook event", func(ctx context.Context) error {
//	    return dispatcher.Handle(ctx, ev)
//	})
type Runner struct {
	logger  *observability.Logger
	timeout time.Duration

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool

	running atomic.Int64
}

// NewRunner creates a Runner. A non-positive timeout means tasks only stop
// when they return.
func NewRunner(logger *observability.Logger, timeout time.Duration) *Runner {
	return &Runner{logger: logger, timeout: timeout}
}

// Go runs fn in a goroutine. The task keeps the values of parent but not its
// cancellation, so it outlives the HTTP request that started it.
func (r *Runner) Go(parent context.Context, name string, fn func(context.Context) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}

	r.wg.Add(1)
	r.running.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.running.Add(-1)
		defer observability.RecoverPanic(r.logger, name)

		ctx := context.WithoutCancel(parent)
		if r.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}

		if err := fn(ctx); err != nil {
			r.logger.WithError(err).WithField("task", name).Error("background task failed")
		}
	}()
	return nil
}

// Running returns the number of tasks still in flight
func (r *Runner) Running() int {
	return int(r.running.Load())
}

// Shutdown stops accepting tasks and waits for in-flight ones until ctx is done
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
