package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrRunnerClosed is returned by Runner.Go after Shutdown started.
var ErrRunnerClosed = errors.New("notification: task runner closed")

// Runner executes detached tasks: work a caller starts and does not wait for.
// Tasks outlive the caller's context, run with bounded concurrency and have their
// failures and panics logged instead of dropped.
type Runner struct {
	logger  *slog.Logger
	sem     chan struct{}
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewRunner creates a runner with at most maxInFlight tasks executing at once.
// Every task gets its own timeout.
func NewRunner(logger *slog.Logger, maxInFlight int, timeout time.Duration) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if maxInFlight <= 0 {
		maxInFlight = 64
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Runner{
		logger:  logger,
		sem:     make(chan struct{}, maxInFlight),
		timeout: timeout,
	}
}

// Go schedules fn and returns immediately. ctx only contributes its values (trace ids);
// its cancellation does not reach fn.
func (r *Runner) Go(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		TasksTotal.WithLabelValues(name, "rejected").Inc()
		r.logger.Warn("detached task rejected, runner closed", "task", name)
		return ErrRunnerClosed
	}
	r.wg.Add(1)
	r.mu.Unlock()

	TasksInFlight.Inc()
	detached := context.WithoutCancel(ctx)
	go func() {
		defer r.wg.Done()
		defer TasksInFlight.Dec()

		r.sem <- struct{}{}
		defer func() { <-r.sem }()

		taskCtx, cancel := context.WithTimeout(detached, r.timeout)
		defer cancel()

		if err := r.run(taskCtx, fn); err != nil {
			TasksTotal.WithLabelValues(name, "failed").Inc()
			r.logger.Error("detached task failed", "task", name, "error", err)
			return
		}
		TasksTotal.WithLabelValues(name, "ok").Inc()
	}()
	return nil
}

func (r *Runner) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx)
}

// Shutdown stops accepting tasks and waits for running ones until ctx is done.
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
		return fmt.Errorf("waiting for detached tasks: %w", ctx.Err())
	}
}
