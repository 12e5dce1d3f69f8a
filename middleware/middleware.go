// Package middleware provides composable middleware for unit execution.
// Middleware wraps unit invocations synchronously and can observe or modify
// execution (recover from panics, log, add tracing, record metrics).
package middleware

import (
	"context"

	"github.com/xraph/taskrun/id"
	"github.com/xraph/taskrun/ledger"
	"github.com/xraph/taskrun/unit"
)

// Invocation describes one execution attempt flowing through the chain.
type Invocation struct {
	// RecordID is the audit record this attempt will be written under.
	RecordID id.RecordID
	Unit     string
	Kind     unit.Kind
	// Trigger is nil for on-demand workflow runs.
	Trigger *ledger.TriggerIdentity
	Payload *unit.Payload
}

// Handler is the terminal function that invokes the unit.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the invocation being executed, and the
// next handler to call. Middleware MUST call next to continue the chain
// (unless short-circuiting on error).
type Middleware func(ctx context.Context, inv *Invocation, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(recover, tracing, logging) executes as:
//
//	recover → tracing → logging → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, inv *Invocation, next Handler) error {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, inv, prev)
			}
		}
		return h(ctx)
	}
}
