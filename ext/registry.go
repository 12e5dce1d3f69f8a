package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/taskrun/ledger"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type triggerClaimedEntry struct {
	name string
	hook TriggerClaimed
}

type claimSkippedEntry struct {
	name string
	hook ClaimSkipped
}

type unitStartedEntry struct {
	name string
	hook UnitStarted
}

type unitSucceededEntry struct {
	name string
	hook UnitSucceeded
}

type unitFailedEntry struct {
	name string
	hook UnitFailed
}

type unitCancelledEntry struct {
	name string
	hook UnitCancelled
}

type recordFailedEntry struct {
	name string
	hook RecordFailed
}

type cronFiredEntry struct {
	name string
	hook CronFired
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Register is not safe for concurrent use; register everything during
// start-up before the first dispatch.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	triggerClaimed []triggerClaimedEntry
	claimSkipped   []claimSkippedEntry
	unitStarted    []unitStartedEntry
	unitSucceeded  []unitSucceededEntry
	unitFailed     []unitFailedEntry
	unitCancelled  []unitCancelledEntry
	recordFailed   []recordFailedEntry
	cronFired      []cronFiredEntry
	shutdown       []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(TriggerClaimed); ok {
		r.triggerClaimed = append(r.triggerClaimed, triggerClaimedEntry{name, h})
	}
	if h, ok := e.(ClaimSkipped); ok {
		r.claimSkipped = append(r.claimSkipped, claimSkippedEntry{name, h})
	}
	if h, ok := e.(UnitStarted); ok {
		r.unitStarted = append(r.unitStarted, unitStartedEntry{name, h})
	}
	if h, ok := e.(UnitSucceeded); ok {
		r.unitSucceeded = append(r.unitSucceeded, unitSucceededEntry{name, h})
	}
	if h, ok := e.(UnitFailed); ok {
		r.unitFailed = append(r.unitFailed, unitFailedEntry{name, h})
	}
	if h, ok := e.(UnitCancelled); ok {
		r.unitCancelled = append(r.unitCancelled, unitCancelledEntry{name, h})
	}
	if h, ok := e.(RecordFailed); ok {
		r.recordFailed = append(r.recordFailed, recordFailedEntry{name, h})
	}
	if h, ok := e.(CronFired); ok {
		r.cronFired = append(r.cronFired, cronFiredEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Claim event emitters
// ──────────────────────────────────────────────────

// EmitTriggerClaimed notifies all extensions that implement TriggerClaimed.
func (r *Registry) EmitTriggerClaimed(ctx context.Context, t ledger.TriggerIdentity, w ledger.Window) {
	for _, e := range r.triggerClaimed {
		if err := e.hook.OnTriggerClaimed(ctx, t, w); err != nil {
			r.logHookError("OnTriggerClaimed", e.name, err)
		}
	}
}

// EmitClaimSkipped notifies all extensions that implement ClaimSkipped.
func (r *Registry) EmitClaimSkipped(ctx context.Context, t ledger.TriggerIdentity, w ledger.Window) {
	for _, e := range r.claimSkipped {
		if err := e.hook.OnClaimSkipped(ctx, t, w); err != nil {
			r.logHookError("OnClaimSkipped", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Unit event emitters
// ──────────────────────────────────────────────────

// EmitUnitStarted notifies all extensions that implement UnitStarted.
func (r *Registry) EmitUnitStarted(ctx context.Context, rec *ledger.Record) {
	for _, e := range r.unitStarted {
		if err := e.hook.OnUnitStarted(ctx, rec); err != nil {
			r.logHookError("OnUnitStarted", e.name, err)
		}
	}
}

// EmitUnitSucceeded notifies all extensions that implement UnitSucceeded.
func (r *Registry) EmitUnitSucceeded(ctx context.Context, rec *ledger.Record) {
	for _, e := range r.unitSucceeded {
		if err := e.hook.OnUnitSucceeded(ctx, rec); err != nil {
			r.logHookError("OnUnitSucceeded", e.name, err)
		}
	}
}

// EmitUnitFailed notifies all extensions that implement UnitFailed.
func (r *Registry) EmitUnitFailed(ctx context.Context, rec *ledger.Record, unitErr error) {
	for _, e := range r.unitFailed {
		if err := e.hook.OnUnitFailed(ctx, rec, unitErr); err != nil {
			r.logHookError("OnUnitFailed", e.name, err)
		}
	}
}

// EmitUnitCancelled notifies all extensions that implement UnitCancelled.
func (r *Registry) EmitUnitCancelled(ctx context.Context, rec *ledger.Record) {
	for _, e := range r.unitCancelled {
		if err := e.hook.OnUnitCancelled(ctx, rec); err != nil {
			r.logHookError("OnUnitCancelled", e.name, err)
		}
	}
}

// EmitRecordFailed notifies all extensions that implement RecordFailed.
func (r *Registry) EmitRecordFailed(ctx context.Context, rec *ledger.Record, writeErr error) {
	for _, e := range r.recordFailed {
		if err := e.hook.OnRecordFailed(ctx, rec, writeErr); err != nil {
			r.logHookError("OnRecordFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitCronFired notifies all extensions that implement CronFired.
func (r *Registry) EmitCronFired(ctx context.Context, profile string, t ledger.TriggerIdentity, at time.Time) {
	for _, e := range r.cronFired {
		if err := e.hook.OnCronFired(ctx, profile, t, at); err != nil {
			r.logHookError("OnCronFired", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated; they must not block dispatch.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
