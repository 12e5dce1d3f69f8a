package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/taskrun"
	"github.com/xraph/taskrun/backoff"
	"github.com/xraph/taskrun/id"
	"github.com/xraph/taskrun/ledger"
	mw "github.com/xraph/taskrun/middleware"
	"github.com/xraph/taskrun/unit"
)

// errUnitDeadline is the cancellation cause attached to the per-invocation
// deadline so it can be told apart from a caller's own deadline.
var errUnitDeadline = errors.New("taskrun: unit deadline reached")

// errNoResult stands in for a unit that unwound without returning, which
// only happens when a panic gets past the middleware chain.
var errNoResult = errors.New("taskrun: unit exited without a result")

// invocation is what a unit hands back to execute.
type invocation struct {
	res unit.Result
	err error
}

// Outcome is the result of one dispatch.
type Outcome struct {
	// Skipped is true when the trigger window had already been claimed.
	// Nothing ran and nothing was recorded.
	Skipped bool

	// Record is the audit row written for the attempt. Nil when Skipped.
	Record *ledger.Record

	// Result is what the unit reported.
	Result unit.Result

	// Err is the classified unit error: *taskrun.ExecutionError,
	// *taskrun.TimeoutError, *taskrun.CancelledError or
	// *taskrun.ValidationError. Nil on success.
	Err error
}

// Succeeded reports whether the unit ran and finished without error.
func (o *Outcome) Succeeded() bool {
	return o != nil && !o.Skipped && o.Err == nil
}

// ──────────────────────────────────────────────────
// Front-end entry points
// ──────────────────────────────────────────────────

// DispatchTask runs a recurring task for one trigger window. At most one
// dispatch per (identity, window) gets past the claim, whatever the
// dispatcher's clock says relative to w.
//
// The returned error is non-nil only for problems outside the unit: an
// unknown name, a claim that was lost (wrapping *taskrun.ClaimConflictError,
// with a Skipped outcome), a ledger failure. Unit failures are recorded and
// reported through Outcome.Err so that a trigger loop never sees them.
func (d *Dispatcher) DispatchTask(ctx context.Context, t ledger.TriggerIdentity, w ledger.Window) (*Outcome, error) {
	u, err := d.registry.ResolveKind(t.TaskName, unit.KindTask)
	if err != nil {
		d.logger.Error("cannot dispatch task",
			slog.String("trigger", t.String()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	claim, err := d.store.TryClaim(ctx, t, w, claimStamp(w, d.now()))
	if err != nil {
		d.logger.Error("trigger claim failed",
			slog.String("trigger", t.String()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	if claim == ledger.AlreadyClaimed {
		d.logger.Info("trigger window already claimed, skipping",
			slog.String("trigger", t.String()),
			slog.Time("window_start", w.Start),
		)
		d.extensions.EmitClaimSkipped(ctx, t, w)
		return &Outcome{Skipped: true}, &taskrun.ClaimConflictError{
			Trigger:     t.String(),
			WindowStart: w.Start,
		}
	}
	d.extensions.EmitTriggerClaimed(ctx, t, w)

	trigger := t
	return d.execute(ctx, u, &trigger, unit.NewPayload())
}

// claimStamp is the attempt time written by a claim. It always lies inside
// w: a fire that reaches the dispatcher after its window closed (a late or
// manual fire for a past activation) or before it opened is stamped at
// w.Start, so the marker remembers the window that was claimed and never
// the one next to it.
func claimStamp(w ledger.Window, now time.Time) time.Time {
	if w.Contains(now) {
		return now
	}
	return w.Start
}

// DispatchWorkflow runs a workflow once with the given payload. There is no
// idempotency gate: every call produces its own audit record.
//
// A unit failure is returned as the error (classified the same way as
// Outcome.Err) alongside the outcome. An unknown name returns
// *taskrun.NotFoundError and records nothing.
func (d *Dispatcher) DispatchWorkflow(ctx context.Context, name string, p *unit.Payload) (*Outcome, error) {
	u, err := d.registry.ResolveKind(name, unit.KindWorkflow)
	if err != nil {
		d.logger.Error("cannot dispatch workflow",
			slog.String("unit", name),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	if p == nil {
		p = unit.NewPayload()
	}

	out, err := d.execute(ctx, u, nil, p)
	if err != nil {
		return out, err
	}
	return out, out.Err
}

// ──────────────────────────────────────────────────
// Execution core
// ──────────────────────────────────────────────────

func (d *Dispatcher) execute(ctx context.Context, u unit.Unit, trigger *ledger.TriggerIdentity, p *unit.Payload) (*Outcome, error) {
	rec := &ledger.Record{
		ID:        id.NewRecordID(),
		UnitName:  u.Name(),
		Trigger:   trigger,
		StartedAt: d.now().UTC(),
	}
	d.extensions.EmitUnitStarted(ctx, rec)

	out := &Outcome{Record: rec}

	if verr := u.Options().Schema.Validate(u.Name(), p); verr != nil {
		out.Err = verr
		d.finish(rec, ledger.OutcomeFailure, ledger.KindValidation, verr, unit.Result{})
		return d.record(ctx, out)
	}

	timeout := u.Options().Timeout
	if timeout <= 0 {
		timeout = d.config.DefaultTimeout
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		runCtx, cancel = context.WithTimeoutCause(ctx, timeout, errUnitDeadline)
	}

	inv := &mw.Invocation{
		RecordID: rec.ID,
		Unit:     u.Name(),
		Kind:     u.Kind(),
		Trigger:  trigger,
		Payload:  p,
	}

	// The unit owns done; this goroutine only reads it. A unit that ignores
	// its context past the deadline keeps its worker, and its late result is
	// dropped into the buffer unread.
	done := make(chan invocation, 1)
	doErr := d.pool.Do(runCtx, func(wctx context.Context) {
		got := invocation{err: errNoResult}
		defer func() { done <- got }()
		got.err = d.chain(wctx, inv, func(hctx context.Context) error {
			r, err := u.Invoke(hctx, p)
			got.res = r
			return err
		})
	})

	var (
		res    unit.Result
		runErr = doErr
	)
	select {
	case got := <-done:
		res, runErr = got.res, got.err
	default:
	}

	deadlineHit := errors.Is(context.Cause(runCtx), errUnitDeadline)
	callerDone := ctx.Err() != nil
	cancel()

	out.Result = res
	isCtxErr := errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded)
	switch {
	case runErr == nil:
		d.finish(rec, ledger.OutcomeSuccess, ledger.KindNone, nil, res)
	case errors.Is(runErr, taskrun.ErrPoolStopped):
		out.Err = &taskrun.CancelledError{Unit: u.Name()}
		d.finish(rec, ledger.OutcomeCancelled, ledger.KindCancelled, runErr, res)
	case deadlineHit:
		out.Err = &taskrun.TimeoutError{Unit: u.Name(), Deadline: timeout.String()}
		d.finish(rec, ledger.OutcomeFailure, ledger.KindTimeout, out.Err, res)
	case isCtxErr && (callerDone || errors.Is(runErr, context.Canceled)):
		out.Err = &taskrun.CancelledError{Unit: u.Name()}
		d.finish(rec, ledger.OutcomeCancelled, ledger.KindCancelled, out.Err, res)
	default:
		out.Err = &taskrun.ExecutionError{Unit: u.Name(), Cause: runErr}
		kind := ledger.KindExecution
		var pe *mw.PanicError
		switch {
		case errors.As(runErr, &pe):
			kind = ledger.KindPanic
		case errors.Is(runErr, taskrun.ErrValidation):
			kind = ledger.KindValidation
		}
		d.finish(rec, ledger.OutcomeFailure, kind, runErr, res)
	}

	return d.record(ctx, out)
}

// finish fills in the terminal fields of rec.
func (d *Dispatcher) finish(rec *ledger.Record, o ledger.Outcome, kind ledger.ErrorKind, cause error, res unit.Result) {
	rec.EndedAt = d.now().UTC()
	if rec.EndedAt.Before(rec.StartedAt) {
		rec.EndedAt = rec.StartedAt
	}
	rec.Outcome = o
	rec.ErrorKind = kind
	rec.ErrorSummary = ledger.Summarize(cause, d.config.SummaryLimit)
	rec.Summary = ledger.Truncate(res.String(), d.config.SummaryLimit)
}

// record persists the audit row on a context detached from the caller, then
// notifies extensions of the outcome.
func (d *Dispatcher) record(ctx context.Context, out *Outcome) (*Outcome, error) {
	rec := out.Record

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.config.RecordTimeout)
	defer cancel()

	if err := d.writeRecord(wctx, rec); err != nil {
		d.logger.Error("failed to write audit record",
			slog.String("record_id", rec.ID.String()),
			slog.String("unit", rec.UnitName),
			slog.String("outcome", string(rec.Outcome)),
			slog.String("error", err.Error()),
		)
		d.extensions.EmitRecordFailed(wctx, rec, err)
		return out, err
	}

	attrs := []any{
		slog.String("record_id", rec.ID.String()),
		slog.String("unit", rec.UnitName),
		slog.String("outcome", string(rec.Outcome)),
		slog.Duration("elapsed", rec.Duration().Round(time.Millisecond)),
	}
	if rec.Trigger != nil {
		attrs = append(attrs, slog.String("trigger", rec.Trigger.String()))
	}

	switch rec.Outcome {
	case ledger.OutcomeSuccess:
		d.logger.Info("unit succeeded", attrs...)
		d.extensions.EmitUnitSucceeded(wctx, rec)
	case ledger.OutcomeCancelled:
		d.logger.Warn("unit cancelled", attrs...)
		d.extensions.EmitUnitCancelled(wctx, rec)
	default:
		attrs = append(attrs,
			slog.String("error_kind", string(rec.ErrorKind)),
			slog.String("error", rec.ErrorSummary),
		)
		d.logger.Error("unit failed", attrs...)
		d.extensions.EmitUnitFailed(wctx, rec, out.Err)
	}
	return out, nil
}

// writeRecord retries transient ledger failures. A retry that finds the
// record already present means an earlier attempt committed before its
// error surfaced, so it counts as written.
func (d *Dispatcher) writeRecord(ctx context.Context, rec *ledger.Record) error {
	return backoff.Retry(ctx, d.recordAttempts, d.recordBackoff, retryableWrite, func(attempt int) error {
		err := d.store.RecordOutcome(ctx, rec)
		if attempt > 1 && errors.Is(err, taskrun.ErrRecordExists) {
			return nil
		}
		if err != nil && attempt < d.recordAttempts && retryableWrite(err) {
			d.logger.Warn("audit write failed, retrying",
				slog.String("record_id", rec.ID.String()),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		}
		return err
	})
}

func retryableWrite(err error) bool {
	switch {
	case errors.Is(err, taskrun.ErrRecordExists),
		errors.Is(err, taskrun.ErrStoreClosed),
		errors.Is(err, taskrun.ErrInvalidTrigger),
		errors.Is(err, taskrun.ErrInvalidRecord),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
