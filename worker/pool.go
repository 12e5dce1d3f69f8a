package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/xraph/taskrun"
	"github.com/xraph/taskrun/id"
)

// Func is a unit of work run on a pool worker.
type Func func(ctx context.Context)

type task struct {
	ctx  context.Context
	fn   Func
	done chan struct{}
}

// Pool manages a set of concurrent worker goroutines that execute
// submitted work.
type Pool struct {
	concurrency int
	workerID    id.WorkerID
	logger      *slog.Logger

	tasks   chan *task
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	active  atomic.Int64

	activeTasks map[*task]context.CancelFunc
	activeMu    sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithPoolLogger sets the pool logger.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// NewPool creates a worker pool. The default size is GOMAXPROCS.
func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{
		concurrency: runtime.GOMAXPROCS(0),
		workerID:    id.NewWorkerID(),
		logger:      slog.Default(),
		tasks:       make(chan *task),
		stopCh:      make(chan struct{}),
		activeTasks: make(map[*task]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Concurrency returns the number of worker goroutines.
func (p *Pool) Concurrency() int { return p.concurrency }

// Active returns the number of tasks currently executing.
func (p *Pool) Active() int { return int(p.active.Load()) }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.loop()
	}
	return nil
}

// Stop signals all workers to stop and waits for them to finish.
// If the context has a deadline, active tasks are cancelled when time runs out.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active tasks")
		p.cancelActiveTasks()
		<-done
	}
	return nil
}

// Do runs fn on a worker and waits for it to return or for ctx to end,
// whichever comes first. It fails without running fn when ctx ends before a
// worker is free or the pool is stopped.
//
// When ctx ends while fn is running, Do returns ctx.Err() at once and fn
// keeps its worker until it returns. fn must hand results back through
// something it owns, such as a buffered channel, not through variables the
// caller reads after Do.
func (p *Pool) Do(ctx context.Context, fn Func) error {
	p.mu.Lock()
	running := p.running
	stopCh := p.stopCh
	p.mu.Unlock()
	if !running {
		return taskrun.ErrPoolStopped
	}

	t := &task{ctx: ctx, fn: fn, done: make(chan struct{})}
	select {
	case p.tasks <- t:
	case <-ctx.Done():
		return ctx.Err()
	case <-stopCh:
		return taskrun.ErrPoolStopped
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		select {
		case <-t.done:
			return nil
		default:
		}
		p.logger.Warn("worker task outlived its context",
			slog.String("worker_id", p.workerID.String()),
			slog.String("reason", context.Cause(ctx).Error()),
		)
		return ctx.Err()
	}
}

func (p *Pool) loop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case t := <-p.tasks:
			p.run(t)
		}
	}
}

func (p *Pool) run(t *task) {
	ctx, cancel := context.WithCancel(t.ctx)
	p.track(t, cancel)
	p.active.Add(1)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker task panicked",
				slog.String("worker_id", p.workerID.String()),
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
		}
		p.active.Add(-1)
		p.untrack(t)
		cancel()
		close(t.done)
	}()
	t.fn(ctx)
}

func (p *Pool) track(t *task, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeTasks[t] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrack(t *task) {
	p.activeMu.Lock()
	delete(p.activeTasks, t)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveTasks() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for _, cancel := range p.activeTasks {
		cancel()
	}
}
