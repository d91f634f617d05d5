package notification

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunner_DetachesAndRecovers(t *testing.T) {
	r := NewRunner(testLogger(), 1, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran, sawCancel atomic.Bool
	if err := r.Go(ctx, "ok", func(ctx context.Context) error {
		ran.Store(true)
		sawCancel.Store(ctx.Err() != nil)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := r.Go(ctx, "boom", func(ctx context.Context) error { panic("boom") }); err != nil {
		t.Fatal(err)
	}
	if err := r.Go(ctx, "fail", func(ctx context.Context) error { return errors.New("fail") }); err != nil {
		t.Fatal(err)
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	if err := r.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !ran.Load() {
		t.Error("task did not run")
	}
	if sawCancel.Load() {
		t.Error("task saw the caller's cancellation")
	}
}

func TestRunner_BoundsConcurrency(t *testing.T) {
	r := NewRunner(testLogger(), 2, time.Second)
	var current, peak atomic.Int32
	release := make(chan struct{})

	for i := 0; i < 6; i++ {
		r.Go(context.Background(), "slow", func(ctx context.Context) error {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			current.Add(-1)
			return nil
		})
	}
	time.Sleep(50 * time.Millisecond)
	close(release)

	ctx, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", got)
	}
}

func TestRunner_ShutdownTimeout(t *testing.T) {
	r := NewRunner(testLogger(), 1, time.Minute)
	block := make(chan struct{})
	defer close(block)
	r.Go(context.Background(), "stuck", func(ctx context.Context) error {
		<-block
		return nil
	})

	ctx, done := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer done()
	if err := r.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown = %v, want deadline exceeded", err)
	}
	if err := r.Go(context.Background(), "late", func(context.Context) error { return nil }); !errors.Is(err, ErrRunnerClosed) {
		t.Errorf("Go after Shutdown = %v, want ErrRunnerClosed", err)
	}
}
