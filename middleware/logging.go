package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logging returns middleware that logs unit start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, inv *Invocation, next Handler) error {
		attrs := invocationAttrs(inv)
		logger.Info("unit started", attrs...)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("unit failed", append(attrs,
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)...)
		} else {
			logger.Info("unit completed", append(attrs,
				slog.Duration("elapsed", elapsed),
			)...)
		}

		return err
	}
}

func invocationAttrs(inv *Invocation) []any {
	attrs := []any{
		slog.String("unit", inv.Unit),
		slog.String("kind", string(inv.Kind)),
		slog.String("record_id", inv.RecordID.String()),
	}
	if inv.Trigger != nil {
		attrs = append(attrs, slog.String("trigger", inv.Trigger.String()))
	}
	return attrs
}
