package enrollment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/taskrun/unit"
)

// TaskName is the registry name of the expiry task.
const TaskName = "expire-enrollments"

// Decision is a renewal policy's verdict for one enrollment.
type Decision struct {
	// Renew keeps the enrollment active until NewExpiry.
	Renew bool
	// NewExpiry must be after the evaluation time when Renew is set.
	NewExpiry time.Time
}

// RenewalPolicy decides whether an expired enrollment renews. The rule lives
// outside this package (billing, entitlements).
type RenewalPolicy interface {
	Decide(ctx context.Context, e Enrollment, now time.Time) (Decision, error)
}

// RenewalFunc adapts a function to RenewalPolicy.
type RenewalFunc func(ctx context.Context, e Enrollment, now time.Time) (Decision, error)

// Decide calls f.
func (f RenewalFunc) Decide(ctx context.Context, e Enrollment, now time.Time) (Decision, error) {
	return f(ctx, e, now)
}

// NeverRenew cancels every expired enrollment.
var NeverRenew RenewalPolicy = RenewalFunc(func(context.Context, Enrollment, time.Time) (Decision, error) {
	return Decision{}, nil
})

// ErrInvalidDecision is returned for a renewal whose new expiry is not in
// the future.
var ErrInvalidDecision = errors.New("enrollment: renewal must extend expiry")

// ExpiryOption configures the expiry task.
type ExpiryOption func(*expiry)

// WithConcurrency bounds how many enrollments are processed at once.
func WithConcurrency(n int) ExpiryOption {
	return func(x *expiry) {
		if n > 0 {
			x.concurrency = n
		}
	}
}

// WithClock overrides the time the task treats as "now".
func WithClock(now func() time.Time) ExpiryOption {
	return func(x *expiry) {
		if now != nil {
			x.now = now
		}
	}
}

// WithLogger sets the task logger.
func WithLogger(l *slog.Logger) ExpiryOption {
	return func(x *expiry) {
		if l != nil {
			x.logger = l
		}
	}
}

// WithUnitOptions passes options such as a timeout to the registered unit.
func WithUnitOptions(opts ...unit.Option) ExpiryOption {
	return func(x *expiry) { x.unitOpts = append(x.unitOpts, opts...) }
}

type expiry struct {
	repo        Repository
	policy      RenewalPolicy
	concurrency int
	now         func() time.Time
	logger      *slog.Logger
	unitOpts    []unit.Option
}

// ExpiryTask returns the expire-enrollments task.
func ExpiryTask(repo Repository, policy RenewalPolicy, opts ...ExpiryOption) unit.Unit {
	x := &expiry{
		repo:        repo,
		policy:      policy,
		concurrency: runtime.GOMAXPROCS(0),
		now:         time.Now,
		logger:      slog.Default(),
	}
	if x.policy == nil {
		x.policy = NeverRenew
	}
	for _, opt := range opts {
		opt(x)
	}
	unitOpts := append([]unit.Option{
		unit.WithDescription("cancel or renew package-session enrollments past their expiry"),
	}, x.unitOpts...)
	return unit.NewTask(TaskName, x.run, unitOpts...)
}

func (x *expiry) run(ctx context.Context) (unit.Result, error) {
	now := x.now().UTC()
	items, err := x.repo.ListExpired(ctx, now)
	if err != nil {
		return unit.Result{}, fmt.Errorf("list expired enrollments: %w", err)
	}

	var (
		processed, succeeded, failed, renewed, stale atomic.Int64
	)
	g := new(errgroup.Group)
	g.SetLimit(x.concurrency)
	for _, e := range items {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			processed.Add(1)
			renew, err := x.process(ctx, e, now)
			switch {
			case errors.Is(err, ErrStale):
				stale.Add(1)
				succeeded.Add(1)
			case err != nil:
				failed.Add(1)
				x.logger.Error("enrollment expiry failed",
					slog.String("enrollment_id", e.ID.String()),
					slog.String("error", err.Error()),
				)
			default:
				succeeded.Add(1)
				if renew {
					renewed.Add(1)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	res := unit.Result{
		Summary: fmt.Sprintf("renewed=%d cancelled=%d stale=%d",
			renewed.Load(), succeeded.Load()-renewed.Load()-stale.Load(), stale.Load()),
		Processed: int(processed.Load()),
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if res.Failed > 0 {
		return res, fmt.Errorf("%w: %d of %d", ErrPartialFailure, res.Failed, res.Processed)
	}
	return res, nil
}

// process handles one enrollment. A panic in the policy or repository is
// returned as an error so the rest of the batch continues.
func (x *expiry) process(ctx context.Context, e *Enrollment, now time.Time) (renew bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing enrollment %s: %v", e.ID, r)
		}
	}()

	d, err := x.policy.Decide(ctx, *e, now)
	if err != nil {
		return false, fmt.Errorf("renewal decision: %w", err)
	}

	if d.Renew {
		if !d.NewExpiry.After(now) {
			return false, fmt.Errorf("%w: %s", ErrInvalidDecision, d.NewExpiry.Format(time.RFC3339))
		}
		return true, x.repo.Apply(ctx, e.ID, e.Status, RenewMigration(e.PlanKind), d.NewExpiry)
	}

	next := *e
	if err := next.Transition(StatusCancelled); err != nil {
		return false, err
	}
	return false, x.repo.Apply(ctx, e.ID, next.Status, CancelMigration(e.PlanKind), e.ExpiresAt)
}
