package audithook_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	ah "github.com/xraph/taskrun/audit_hook"
	"github.com/xraph/taskrun/ext"
	"github.com/xraph/taskrun/id"
	"github.com/xraph/taskrun/ledger"
)

// ── Mock recorder ────────────────────────────────────

// mockRecorder captures audit events for verification.
type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// ── Test helpers ─────────────────────────────────────

var base = time.Date(2026, 1, 10, 1, 0, 0, 0, time.UTC)

func testTrigger() (ledger.TriggerIdentity, ledger.Window) {
	return ledger.TriggerIdentity{TaskName: "expire-enrollments", ProfileID: "daily", ProfileType: "cron"},
		ledger.Window{Start: base, End: base.Add(24 * time.Hour)}
}

func newRecord(outcome ledger.Outcome) *ledger.Record {
	ti, _ := testTrigger()
	return &ledger.Record{
		ID:        id.NewRecordID(),
		UnitName:  ti.TaskName,
		Trigger:   &ti,
		StartedAt: base,
		EndedAt:   base.Add(150 * time.Millisecond),
		Outcome:   outcome,
	}
}

// ── Tests ────────────────────────────────────────────

func TestExtension_Name(t *testing.T) {
	e := ah.New(&mockRecorder{})
	if e.Name() != "audit-hook" {
		t.Errorf("expected name %q, got %q", "audit-hook", e.Name())
	}
}

func TestExtension_TriggerClaimed(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	ti, w := testTrigger()

	if err := e.OnTriggerClaimed(context.Background(), ti, w); err != nil {
		t.Fatalf("OnTriggerClaimed: %v", err)
	}

	evt := rec.last()
	if evt == nil {
		t.Fatal("no event recorded")
	}
	if evt.Action != ah.ActionTriggerClaimed {
		t.Errorf("Action: want %q, got %q", ah.ActionTriggerClaimed, evt.Action)
	}
	if evt.Resource != ah.ResourceTrigger {
		t.Errorf("Resource: want %q, got %q", ah.ResourceTrigger, evt.Resource)
	}
	if evt.Category != ah.CategoryTrigger {
		t.Errorf("Category: want %q, got %q", ah.CategoryTrigger, evt.Category)
	}
	if evt.ResourceID != ti.String() {
		t.Errorf("ResourceID: want %q, got %q", ti.String(), evt.ResourceID)
	}
	if evt.Metadata["window_start"] != w.Start.Format(time.RFC3339) {
		t.Errorf("Metadata[window_start] = %v", evt.Metadata["window_start"])
	}
}

func TestExtension_ClaimSkipped(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	ti, w := testTrigger()

	if err := e.OnClaimSkipped(context.Background(), ti, w); err != nil {
		t.Fatalf("OnClaimSkipped: %v", err)
	}
	evt := rec.last()
	if evt.Severity != ah.SeverityWarning || evt.Outcome != ah.OutcomeSkipped {
		t.Errorf("severity/outcome = %q/%q", evt.Severity, evt.Outcome)
	}
}

func TestExtension_UnitSucceeded(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	r := newRecord(ledger.OutcomeSuccess)
	r.Summary = "expired 3"

	if err := e.OnUnitSucceeded(context.Background(), r); err != nil {
		t.Fatalf("OnUnitSucceeded: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionUnitSucceeded {
		t.Errorf("Action: want %q, got %q", ah.ActionUnitSucceeded, evt.Action)
	}
	if evt.ResourceID != r.ID.String() {
		t.Errorf("ResourceID: want %q, got %q", r.ID.String(), evt.ResourceID)
	}
	if evt.Metadata["elapsed_ms"] != int64(150) {
		t.Errorf("Metadata[elapsed_ms]: want 150, got %v", evt.Metadata["elapsed_ms"])
	}
	if evt.Metadata["trigger"] != r.Trigger.String() {
		t.Errorf("Metadata[trigger]: got %v", evt.Metadata["trigger"])
	}
	if evt.Metadata["summary"] != "expired 3" {
		t.Errorf("Metadata[summary]: got %v", evt.Metadata["summary"])
	}
}

func TestExtension_UnitFailed(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	r := newRecord(ledger.OutcomeFailure)
	r.ErrorKind = ledger.KindTimeout

	if err := e.OnUnitFailed(context.Background(), r, errors.New("deadline exceeded")); err != nil {
		t.Fatalf("OnUnitFailed: %v", err)
	}

	evt := rec.last()
	if evt.Severity != ah.SeverityCritical {
		t.Errorf("Severity: want %q, got %q", ah.SeverityCritical, evt.Severity)
	}
	if evt.Outcome != ah.OutcomeFailure {
		t.Errorf("Outcome: want %q, got %q", ah.OutcomeFailure, evt.Outcome)
	}
	if evt.Reason != "deadline exceeded" {
		t.Errorf("Reason: want %q, got %q", "deadline exceeded", evt.Reason)
	}
	if evt.Metadata["error_kind"] != "timeout" {
		t.Errorf("Metadata[error_kind]: got %v", evt.Metadata["error_kind"])
	}
}

func TestExtension_UnitCancelledOnDemand(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	r := newRecord(ledger.OutcomeCancelled)
	r.Trigger = nil
	r.UnitName = "wf_send_creds_v1"

	if err := e.OnUnitCancelled(context.Background(), r); err != nil {
		t.Fatalf("OnUnitCancelled: %v", err)
	}
	evt := rec.last()
	if evt.Outcome != ah.OutcomeCancelled {
		t.Errorf("Outcome: want %q, got %q", ah.OutcomeCancelled, evt.Outcome)
	}
	if _, ok := evt.Metadata["trigger"]; ok {
		t.Error("on-demand record should not carry trigger metadata")
	}
}

func TestExtension_RecordFailed(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	r := newRecord(ledger.OutcomeSuccess)

	if err := e.OnRecordFailed(context.Background(), r, errors.New("connection refused")); err != nil {
		t.Fatalf("OnRecordFailed: %v", err)
	}
	evt := rec.last()
	if evt.Action != ah.ActionLedgerWriteFailed || evt.Category != ah.CategoryLedger {
		t.Errorf("action/category = %q/%q", evt.Action, evt.Category)
	}
}

func TestExtension_CronFired(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	ti, w := testTrigger()

	if err := e.OnCronFired(context.Background(), "daily", ti, w.Start); err != nil {
		t.Fatalf("OnCronFired: %v", err)
	}
	evt := rec.last()
	if evt.Resource != ah.ResourceProfile || evt.ResourceID != "daily" {
		t.Errorf("resource = %q/%q", evt.Resource, evt.ResourceID)
	}
}

func TestExtension_WithActions_FiltersDisabled(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithActions(ah.ActionUnitFailed))
	ctx := context.Background()

	_ = e.OnUnitStarted(ctx, newRecord(ledger.OutcomeSuccess))
	_ = e.OnUnitSucceeded(ctx, newRecord(ledger.OutcomeSuccess))
	if rec.count() != 0 {
		t.Fatalf("expected filtered actions to be dropped, got %d events", rec.count())
	}

	_ = e.OnUnitFailed(ctx, newRecord(ledger.OutcomeFailure), errors.New("x"))
	if rec.count() != 1 {
		t.Fatalf("expected 1 event, got %d", rec.count())
	}
}

func TestRecorderFunc(t *testing.T) {
	var got *ah.AuditEvent
	e := ah.New(ah.RecorderFunc(func(_ context.Context, evt *ah.AuditEvent) error {
		got = evt
		return nil
	}))

	_ = e.OnUnitStarted(context.Background(), newRecord(ledger.OutcomeSuccess))
	if got == nil || got.Action != ah.ActionUnitStarted {
		t.Fatalf("expected unit.started event, got %+v", got)
	}
}

func TestExtension_RecorderErrorIsReturned(t *testing.T) {
	sinkErr := errors.New("sink down")
	e := ah.New(ah.RecorderFunc(func(_ context.Context, _ *ah.AuditEvent) error {
		return sinkErr
	}), ah.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	err := e.OnUnitStarted(context.Background(), newRecord(ledger.OutcomeSuccess))
	if !errors.Is(err, sinkErr) {
		t.Fatalf("expected wrapped recorder error, got %v", err)
	}
}

func TestExtension_ViaRegistry(t *testing.T) {
	rec := &mockRecorder{}
	r := ext.NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.Register(ah.New(rec))

	ctx := context.Background()
	ti, w := testTrigger()
	r.EmitCronFired(ctx, "daily", ti, w.Start)
	r.EmitTriggerClaimed(ctx, ti, w)
	r.EmitUnitStarted(ctx, newRecord(ledger.OutcomeSuccess))
	r.EmitUnitSucceeded(ctx, newRecord(ledger.OutcomeSuccess))

	if rec.count() != 4 {
		t.Fatalf("expected 4 events through registry, got %d", rec.count())
	}
}

func TestAllActions(t *testing.T) {
	actions := ah.AllActions()
	if len(actions) != 8 {
		t.Fatalf("expected 8 actions, got %d", len(actions))
	}
	seen := make(map[string]bool, len(actions))
	for _, a := range actions {
		if seen[a] {
			t.Errorf("duplicate action %q", a)
		}
		seen[a] = true
	}
}
