package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/taskrun/ext"
	"github.com/xraph/taskrun/ledger"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*Extension)(nil)
	_ ext.TriggerClaimed = (*Extension)(nil)
	_ ext.ClaimSkipped   = (*Extension)(nil)
	_ ext.UnitStarted    = (*Extension)(nil)
	_ ext.UnitSucceeded  = (*Extension)(nil)
	_ ext.UnitFailed     = (*Extension)(nil)
	_ ext.UnitCancelled  = (*Extension)(nil)
	_ ext.RecordFailed   = (*Extension)(nil)
	_ ext.CronFired      = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a backend-neutral audit event.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeSkipped   = "skipped"
	OutcomeCancelled = "cancelled"
)

// Extension bridges taskrun lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Claim hooks ─────────────────────────────────────

// OnTriggerClaimed implements ext.TriggerClaimed.
func (e *Extension) OnTriggerClaimed(ctx context.Context, t ledger.TriggerIdentity, w ledger.Window) error {
	return e.record(ctx, ActionTriggerClaimed, SeverityInfo, OutcomeSuccess,
		ResourceTrigger, t.String(), CategoryTrigger, nil,
		"window_start", w.Start.Format(time.RFC3339),
		"window_end", w.End.Format(time.RFC3339),
	)
}

// OnClaimSkipped implements ext.ClaimSkipped.
func (e *Extension) OnClaimSkipped(ctx context.Context, t ledger.TriggerIdentity, w ledger.Window) error {
	return e.record(ctx, ActionTriggerSkipped, SeverityWarning, OutcomeSkipped,
		ResourceTrigger, t.String(), CategoryTrigger, nil,
		"window_start", w.Start.Format(time.RFC3339),
		"window_end", w.End.Format(time.RFC3339),
	)
}

// ── Unit lifecycle hooks ────────────────────────────

// OnUnitStarted implements ext.UnitStarted.
func (e *Extension) OnUnitStarted(ctx context.Context, r *ledger.Record) error {
	return e.recordUnit(ctx, ActionUnitStarted, SeverityInfo, OutcomeSuccess, r, nil)
}

// OnUnitSucceeded implements ext.UnitSucceeded.
func (e *Extension) OnUnitSucceeded(ctx context.Context, r *ledger.Record) error {
	return e.recordUnit(ctx, ActionUnitSucceeded, SeverityInfo, OutcomeSuccess, r, nil,
		"elapsed_ms", r.Duration().Milliseconds(),
		"summary", r.Summary,
	)
}

// OnUnitFailed implements ext.UnitFailed.
func (e *Extension) OnUnitFailed(ctx context.Context, r *ledger.Record, unitErr error) error {
	return e.recordUnit(ctx, ActionUnitFailed, SeverityCritical, OutcomeFailure, r, unitErr,
		"elapsed_ms", r.Duration().Milliseconds(),
		"error_kind", string(r.ErrorKind),
	)
}

// OnUnitCancelled implements ext.UnitCancelled.
func (e *Extension) OnUnitCancelled(ctx context.Context, r *ledger.Record) error {
	return e.recordUnit(ctx, ActionUnitCancelled, SeverityWarning, OutcomeCancelled, r, nil,
		"elapsed_ms", r.Duration().Milliseconds(),
	)
}

// OnRecordFailed implements ext.RecordFailed.
func (e *Extension) OnRecordFailed(ctx context.Context, r *ledger.Record, writeErr error) error {
	return e.record(ctx, ActionLedgerWriteFailed, SeverityCritical, OutcomeFailure,
		ResourceRecord, r.ID.String(), CategoryLedger, writeErr,
		"unit", r.UnitName,
		"outcome", string(r.Outcome),
	)
}

// ── Cron hooks ──────────────────────────────────────

// OnCronFired implements ext.CronFired.
func (e *Extension) OnCronFired(ctx context.Context, profile string, t ledger.TriggerIdentity, at time.Time) error {
	return e.record(ctx, ActionCronFired, SeverityInfo, OutcomeSuccess,
		ResourceProfile, profile, CategoryCron, nil,
		"trigger", t.String(),
		"fired_at", at.Format(time.RFC3339),
	)
}

// ── Internal helpers ────────────────────────────────

func (e *Extension) recordUnit(
	ctx context.Context,
	action, severity, outcome string,
	r *ledger.Record,
	err error,
	kvPairs ...any,
) error {
	kvPairs = append(kvPairs, "unit", r.UnitName)
	if r.Trigger != nil {
		kvPairs = append(kvPairs, "trigger", r.Trigger.String())
	}
	return e.record(ctx, action, severity, outcome,
		ResourceRecord, r.ID.String(), CategoryUnit, err, kvPairs...)
}

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = ledger.Summarize(err, ledger.DefaultSummaryLimit)
		meta["error"] = reason
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Debug("audit_hook: recorder rejected event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
		)
		return fmt.Errorf("audithook: record %s: %w", action, recErr)
	}
	return nil
}
