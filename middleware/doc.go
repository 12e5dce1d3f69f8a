// Package middleware provides composable middleware for unit execution.
//
// A [Middleware] is a function that wraps a unit invocation. Middleware are
// composed into a chain using [Chain] and applied around every dispatch.
// They are applied right-to-left: the first middleware in the slice is the
// outermost wrapper.
//
//	// recover → logging → handler
//	chain := middleware.Chain(middleware.Recover(logger), middleware.Logging(logger))
//
// # Built-in Middleware
//
//   - [Recover]: catches panics and converts them to *PanicError
//   - [Logging]: logs unit name, record id, trigger, duration, and outcome
//   - [Tracing]: wraps execution in an OpenTelemetry span
//   - [Metrics]: records per-unit duration and outcome counters
//
// The per-invocation deadline is not a middleware: the dispatcher applies it
// so it can tell a timeout apart from caller cancellation.
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, inv *middleware.Invocation, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
