// Package workflow is the on-demand front-end. Callers start a named
// workflow with a payload and get back a [Handle] to wait on or cancel.
//
// There is no idempotency gate: every call is a fresh run with its own
// audit record. An unknown workflow name is reported synchronously, before
// any goroutine starts, and leaves nothing in the ledger.
//
//	r := workflow.NewRunner(dispatcher, workflow.WithRateLimit(20, 5))
//	h, err := r.Run(ctx, "wf_send_creds_v1", unit.PayloadOf("user_id", id))
//	if err != nil {
//	    return err // unknown name or rate limited
//	}
//	out, err := h.Wait(ctx)
//
// Async runs are detached from the caller's cancellation; use
// [Handle.Cancel] to stop one. A cancelled run is recorded as CANCELLED.
package workflow
