package worker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/taskrun"
	"github.com/xraph/taskrun/worker"
)

func newPool(t *testing.T, concurrency int) *worker.Pool {
	t.Helper()
	p := worker.NewPool(
		worker.WithPoolConcurrency(concurrency),
		worker.WithPoolLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = p.Stop(context.Background()) })
	return p
}

func TestPool_StartStop(t *testing.T) {
	p := worker.NewPool(worker.WithPoolConcurrency(2))

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	// Double start should be no-op.
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	// Double stop should be no-op.
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}

	if err := p.Do(context.Background(), func(context.Context) {}); !errors.Is(err, taskrun.ErrPoolStopped) {
		t.Errorf("Do after Stop: expected ErrPoolStopped, got %v", err)
	}
}

func TestPool_DoWaitsForCompletion(t *testing.T) {
	p := newPool(t, 1)

	var ran atomic.Bool
	err := p.Do(context.Background(), func(context.Context) {
		time.Sleep(10 * time.Millisecond)
		ran.Store(true)
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !ran.Load() {
		t.Fatal("Do returned before the task finished")
	}
}

func TestPool_DoReturnsWhenContextEnds(t *testing.T) {
	p := newPool(t, 1)
	release := make(chan struct{})
	finished := make(chan struct{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := p.Do(ctx, func(context.Context) {
		<-release
		close(finished)
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Do waited %s for a task that ignores its context", elapsed)
	}
	if got := p.Active(); got != 1 {
		t.Errorf("Active = %d, the task should still hold its worker", got)
	}

	close(release)
	<-finished
}

func TestPool_BoundsConcurrency(t *testing.T) {
	const size = 3
	p := newPool(t, size)

	var (
		current atomic.Int64
		peak    atomic.Int64
		wg      sync.WaitGroup
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Do(context.Background(), func(context.Context) {
				n := current.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				current.Add(-1)
			})
		}()
	}
	wg.Wait()

	if got := peak.Load(); got > size {
		t.Fatalf("peak concurrency = %d, want <= %d", got, size)
	}
}

func TestPool_DoHonoursContextWhileQueued(t *testing.T) {
	p := newPool(t, 1)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), func(context.Context) {
			close(started)
			<-release
		})
	}()
	<-started
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Do(ctx, func(context.Context) { t.Error("queued task should not run") })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestPool_SurvivesPanic(t *testing.T) {
	p := newPool(t, 1)

	if err := p.Do(context.Background(), func(context.Context) { panic("boom") }); err != nil {
		t.Fatalf("Do: %v", err)
	}
	var ran atomic.Bool
	if err := p.Do(context.Background(), func(context.Context) { ran.Store(true) }); err != nil {
		t.Fatalf("Do after panic: %v", err)
	}
	if !ran.Load() {
		t.Fatal("worker did not survive panic")
	}
}

func TestPool_StopCancelsActiveTasksOnDeadline(t *testing.T) {
	p := worker.NewPool(worker.WithPoolConcurrency(1),
		worker.WithPoolLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	started := make(chan struct{})
	cancelled := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), func(ctx context.Context) {
			close(started)
			<-ctx.Done()
			close(cancelled)
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("active task was not cancelled")
	}
}
