package middleware

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for taskrun metrics.
const meterName = "github.com/xraph/taskrun"

// Metrics returns middleware that records per-unit execution metrics using
// the global OTel MeterProvider. If no MeterProvider is configured, noop
// instruments are used and this middleware becomes a pass-through.
//
// Instruments:
//   - taskrun.unit.duration (Float64Histogram): execution time in seconds,
//     with attributes: unit, kind, status
//   - taskrun.unit.executions (Int64Counter): total executions,
//     with attributes: unit, kind, status
//
// status is "ok", "error", "timeout" or "cancelled".
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// OTel instruments are safe for concurrent use. On error, the API
	// returns noop instruments so the middleware degrades gracefully.
	duration, dErr := meter.Float64Histogram(
		"taskrun.unit.duration",
		metric.WithDescription("Duration of unit execution in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract

	executions, eErr := meter.Int64Counter(
		"taskrun.unit.executions",
		metric.WithDescription("Total number of unit executions"),
		metric.WithUnit("{execution}"),
	)
	_ = eErr // noop fallback guaranteed by OTel API contract

	return func(ctx context.Context, inv *Invocation, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		attrs := metric.WithAttributes(
			attribute.String("unit", inv.Unit),
			attribute.String("kind", string(inv.Kind)),
			attribute.String("status", status(ctx, err)),
		)

		// The invocation context may already be done; record against a
		// live one so exporters that honour cancellation still see it.
		rctx := context.WithoutCancel(ctx)
		duration.Record(rctx, elapsed, attrs)
		executions.Add(rctx, 1, attrs)

		return err
	}
}

func status(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}
