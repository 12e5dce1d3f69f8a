package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/taskrun"
	"github.com/xraph/taskrun/backoff"
	"github.com/xraph/taskrun/ext"
	"github.com/xraph/taskrun/ledger"
	mw "github.com/xraph/taskrun/middleware"
	"github.com/xraph/taskrun/observability"
	"github.com/xraph/taskrun/unit"
	"github.com/xraph/taskrun/worker"
)

// ErrNoRegistry is returned by New when no unit registry is supplied.
var ErrNoRegistry = errors.New("taskrun: no unit registry configured")

const defaultRecordAttempts = 3

// Dispatcher resolves, gates, executes and audits units.
// It is safe for concurrent use once constructed.
type Dispatcher struct {
	registry   *unit.Registry
	store      ledger.Store
	extensions *ext.Registry
	pool       *worker.Pool
	ownsPool   bool
	chain      mw.Middleware
	mws        []mw.Middleware
	logger     *slog.Logger
	config     taskrun.Config
	now        func() time.Time

	recordAttempts int
	recordBackoff  backoff.Strategy

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// Extensions are registered after the logger option has been applied.
	pendingExts []ext.Extension
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithConfig replaces the dispatcher's settings. Options applied after it
// still override individual fields.
func WithConfig(cfg taskrun.Config) Option {
	return func(d *Dispatcher) { d.config = cfg }
}

// WithLogger sets the logger used by the dispatcher and its default stack.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(d *Dispatcher) { d.pendingExts = append(d.pendingExts, e) }
}

// WithMiddleware appends middleware after the default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(d *Dispatcher) { d.mws = append(d.mws, m) }
}

// WithDefaultTimeout sets the deadline for units that do not declare one.
// Zero disables the default deadline.
func WithDefaultTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.config.DefaultTimeout = t }
}

// WithRecordTimeout bounds each audit write.
func WithRecordTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.config.RecordTimeout = t
		}
	}
}

// WithRecordRetry sets how many times an audit write is attempted and the
// delay between attempts. All attempts share the RecordTimeout budget.
func WithRecordRetry(attempts int, s backoff.Strategy) Option {
	return func(d *Dispatcher) {
		if attempts > 0 {
			d.recordAttempts = attempts
		}
		if s != nil {
			d.recordBackoff = s
		}
	}
}

// WithSummaryLimit caps the byte length of persisted error summaries.
func WithSummaryLimit(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.config.SummaryLimit = n
		}
	}
}

// WithConcurrency sizes the pool the dispatcher creates for itself. It has
// no effect together with WithPool.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.config.Concurrency = n
		}
	}
}

// WithClock overrides the time source used for claims and record timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithPool runs units on an existing pool. The caller owns its lifecycle and
// must have started it.
func WithPool(p *worker.Pool) Option {
	return func(d *Dispatcher) {
		if p != nil {
			d.pool = p
		}
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Dispatcher) { d.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider. Both the metrics
// middleware and the observability extension use it.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(d *Dispatcher) { d.meterProvider = mp }
}

// New creates a Dispatcher over an immutable registry and a ledger store.
// Unless WithPool is given, it starts a pool of its own, stopped by Close.
func New(registry *unit.Registry, store ledger.Store, opts ...Option) (*Dispatcher, error) {
	if registry == nil {
		return nil, ErrNoRegistry
	}
	if store == nil {
		return nil, taskrun.ErrNoStore
	}

	d := &Dispatcher{
		registry: registry,
		store:    store,
		logger:   slog.Default(),
		config:   taskrun.DefaultConfig(),
		now:      time.Now,

		recordAttempts: defaultRecordAttempts,
		recordBackoff:  backoff.DefaultStrategy(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.config.SummaryLimit <= 0 {
		d.config.SummaryLimit = ledger.DefaultSummaryLimit
	}
	if d.config.RecordTimeout <= 0 {
		d.config.RecordTimeout = taskrun.DefaultConfig().RecordTimeout
	}

	d.extensions = ext.NewRegistry(d.logger)

	// Register the observability metrics extension first so user
	// extensions observe events after the counters are bumped.
	var obsExt *observability.MetricsExtension
	if d.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(d.meterProvider.Meter("github.com/xraph/taskrun/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	d.extensions.Register(obsExt)
	for _, e := range d.pendingExts {
		d.extensions.Register(e)
	}
	d.pendingExts = nil

	var tracingMw mw.Middleware
	if d.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(d.tracerProvider.Tracer("github.com/xraph/taskrun"))
	} else {
		tracingMw = mw.Tracing()
	}

	var metricsMw mw.Middleware
	if d.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(d.meterProvider.Meter("github.com/xraph/taskrun"))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default stack: recover → tracing → metrics → logging → user middleware.
	all := make([]mw.Middleware, 0, 4+len(d.mws))
	all = append(all, mw.Recover(d.logger), tracingMw, metricsMw, mw.Logging(d.logger))
	all = append(all, d.mws...)
	d.chain = mw.Chain(all...)

	if d.pool == nil {
		d.pool = worker.NewPool(
			worker.WithPoolConcurrency(d.config.Concurrency),
			worker.WithPoolLogger(d.logger),
		)
		d.ownsPool = true
		if err := d.pool.Start(context.Background()); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// Close stops the dispatcher's own pool, waiting up to ShutdownTimeout or
// ctx's deadline for in-flight units, and notifies Shutdown extensions.
func (d *Dispatcher) Close(ctx context.Context) error {
	var err error
	if d.ownsPool {
		stopCtx := ctx
		if d.config.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			stopCtx, cancel = context.WithTimeout(ctx, d.config.ShutdownTimeout)
			defer cancel()
		}
		err = d.pool.Stop(stopCtx)
	}
	d.extensions.EmitShutdown(ctx)
	return err
}

// Registry returns the unit registry.
func (d *Dispatcher) Registry() *unit.Registry { return d.registry }

// Store returns the audit ledger.
func (d *Dispatcher) Store() ledger.Store { return d.store }

// Extensions returns the extension registry.
func (d *Dispatcher) Extensions() *ext.Registry { return d.extensions }

// Pool returns the worker pool units run on.
func (d *Dispatcher) Pool() *worker.Pool { return d.pool }

// Logger returns the dispatcher's logger.
func (d *Dispatcher) Logger() *slog.Logger { return d.logger }

// Config returns the effective settings.
func (d *Dispatcher) Config() taskrun.Config { return d.config }

// Now returns the current time from the dispatcher's clock.
func (d *Dispatcher) Now() time.Time { return d.now() }
