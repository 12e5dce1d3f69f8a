package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// PanicError is returned by Recover when a unit panics. The stack is kept
// for logging only; it is never written to the audit ledger.
type PanicError struct {
	Unit  string
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in unit %s: %v", e.Unit, e.Value)
}

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to *PanicError and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, inv *Invocation, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("unit panicked",
					slog.String("unit", inv.Unit),
					slog.String("record_id", inv.RecordID.String()),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = &PanicError{Unit: inv.Unit, Value: r, Stack: stack}
			}
		}()
		return next(ctx)
	}
}
