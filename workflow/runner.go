package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/taskrun"
	"github.com/xraph/taskrun/engine"
	"github.com/xraph/taskrun/id"
	"github.com/xraph/taskrun/unit"
)

// Dispatcher is the subset of *engine.Dispatcher the runner needs.
type Dispatcher interface {
	DispatchWorkflow(ctx context.Context, name string, p *unit.Payload) (*engine.Outcome, error)
	Registry() *unit.Registry
}

var _ Dispatcher = (*engine.Dispatcher)(nil)

// Option configures a Runner.
type Option func(*Runner)

// WithRateLimit admits at most limit runs per second with the given burst.
// Run rejects over-limit calls with taskrun.ErrRateLimited; RunSync waits
// for a token until its context ends.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(r *Runner) { r.limiter = rate.NewLimiter(limit, burst) }
}

// WithRunTimeout caps each run, queueing included. A run that hits the cap
// is cancelled and recorded as CANCELLED.
func WithRunTimeout(d time.Duration) Option {
	return func(r *Runner) { r.runTimeout = d }
}

// WithLogger sets the runner logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// Runner starts on-demand workflow runs through a Dispatcher.
type Runner struct {
	dispatcher Dispatcher
	limiter    *rate.Limiter
	runTimeout time.Duration
	logger     *slog.Logger

	wg sync.WaitGroup
}

// NewRunner creates a workflow runner.
func NewRunner(d Dispatcher, opts ...Option) *Runner {
	r := &Runner{
		dispatcher: d,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts name asynchronously and returns its handle. The run keeps the
// values of ctx but not its cancellation.
func (r *Runner) Run(ctx context.Context, name string, p *unit.Payload) (*Handle, error) {
	if _, err := r.dispatcher.Registry().ResolveKind(name, unit.KindWorkflow); err != nil {
		return nil, err
	}
	if r.limiter != nil && !r.limiter.Allow() {
		r.logger.Warn("workflow run rejected by rate limiter", slog.String("unit", name))
		return nil, fmt.Errorf("%w: %s", taskrun.ErrRateLimited, name)
	}

	runCtx, cancel := r.runContext(context.WithoutCancel(ctx))
	h := newHandle(id.NewRunID(), name, cancel)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		out, err := r.dispatcher.DispatchWorkflow(runCtx, name, p)
		h.complete(out, err)
	}()

	r.logger.Debug("workflow run started",
		slog.String("run_id", h.ID().String()),
		slog.String("unit", name),
	)
	return h, nil
}

// RunSync runs name on the caller's goroutine and returns its outcome. The
// error is the unit failure, classified, or a lookup or admission error.
func (r *Runner) RunSync(ctx context.Context, name string, p *unit.Payload) (*engine.Outcome, error) {
	if _, err := r.dispatcher.Registry().ResolveKind(name, unit.KindWorkflow); err != nil {
		return nil, err
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", taskrun.ErrRateLimited, name, err)
		}
	}
	runCtx, cancel := r.runContext(ctx)
	defer cancel()
	return r.dispatcher.DispatchWorkflow(runCtx, name, p)
}

// Start marshals input to a payload and runs name asynchronously.
func Start[T any](ctx context.Context, r *Runner, name string, input T) (*Handle, error) {
	p, err := payloadFrom(input)
	if err != nil {
		return nil, fmt.Errorf("marshal input for workflow %q: %w", name, err)
	}
	return r.Run(ctx, name, p)
}

// Drain waits for every async run started by r to finish, or for ctx.
func (r *Runner) Drain(ctx context.Context) error {
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

func (r *Runner) runContext(parent context.Context) (context.Context, context.CancelFunc) {
	if r.runTimeout > 0 {
		return context.WithTimeout(parent, r.runTimeout)
	}
	return context.WithCancel(parent)
}

func payloadFrom(input any) (*unit.Payload, error) {
	if p, ok := input.(*unit.Payload); ok {
		return p, nil
	}
	data, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	p := unit.NewPayload()
	if err := json.Unmarshal(data, p); err != nil {
		return nil, err
	}
	return p, nil
}
