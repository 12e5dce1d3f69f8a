package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for taskrun tracing.
const tracerName = "github.com/xraph/taskrun"

// Tracing returns middleware that wraps unit execution in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is used
// and this middleware becomes a pass-through with zero overhead.
//
// Span attributes include: taskrun.unit.name, taskrun.unit.kind,
// taskrun.record.id and, for recurring runs, taskrun.trigger.task_name,
// taskrun.trigger.cron_profile_id and taskrun.trigger.cron_profile_type.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, inv *Invocation, next Handler) error {
		attrs := []attribute.KeyValue{
			attribute.String("taskrun.unit.name", inv.Unit),
			attribute.String("taskrun.unit.kind", string(inv.Kind)),
			attribute.String("taskrun.record.id", inv.RecordID.String()),
		}
		if inv.Trigger != nil {
			attrs = append(attrs,
				attribute.String("taskrun.trigger.task_name", inv.Trigger.TaskName),
				attribute.String("taskrun.trigger.cron_profile_id", inv.Trigger.ProfileID),
				attribute.String("taskrun.trigger.cron_profile_type", inv.Trigger.ProfileType),
			)
		}
		ctx, span := tracer.Start(ctx, "taskrun.unit.execute",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
