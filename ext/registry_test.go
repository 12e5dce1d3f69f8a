package ext_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/taskrun/ext"
	"github.com/xraph/taskrun/ledger"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnTriggerClaimed(_ context.Context, _ ledger.TriggerIdentity, _ ledger.Window) error {
	e.calls = append(e.calls, "OnTriggerClaimed")
	return nil
}

func (e *allHooksExt) OnClaimSkipped(_ context.Context, _ ledger.TriggerIdentity, _ ledger.Window) error {
	e.calls = append(e.calls, "OnClaimSkipped")
	return nil
}

func (e *allHooksExt) OnUnitStarted(_ context.Context, _ *ledger.Record) error {
	e.calls = append(e.calls, "OnUnitStarted")
	return nil
}

func (e *allHooksExt) OnUnitSucceeded(_ context.Context, _ *ledger.Record) error {
	e.calls = append(e.calls, "OnUnitSucceeded")
	return nil
}

func (e *allHooksExt) OnUnitFailed(_ context.Context, _ *ledger.Record, _ error) error {
	e.calls = append(e.calls, "OnUnitFailed")
	return nil
}

func (e *allHooksExt) OnUnitCancelled(_ context.Context, _ *ledger.Record) error {
	e.calls = append(e.calls, "OnUnitCancelled")
	return nil
}

func (e *allHooksExt) OnRecordFailed(_ context.Context, _ *ledger.Record, _ error) error {
	e.calls = append(e.calls, "OnRecordFailed")
	return nil
}

func (e *allHooksExt) OnCronFired(_ context.Context, _ string, _ ledger.TriggerIdentity, _ time.Time) error {
	e.calls = append(e.calls, "OnCronFired")
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// unitOnlyExt only implements unit outcome hooks.
type unitOnlyExt struct {
	calls []string
}

func (e *unitOnlyExt) Name() string { return "unit-only" }

func (e *unitOnlyExt) OnUnitStarted(_ context.Context, _ *ledger.Record) error {
	e.calls = append(e.calls, "OnUnitStarted")
	return nil
}

func (e *unitOnlyExt) OnUnitSucceeded(_ context.Context, _ *ledger.Record) error {
	e.calls = append(e.calls, "OnUnitSucceeded")
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnUnitStarted(_ context.Context, _ *ledger.Record) error {
	return errors.New("boom")
}

func (e *failingExt) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTrigger() (ledger.TriggerIdentity, ledger.Window) {
	start := time.Date(2026, 1, 10, 1, 0, 0, 0, time.UTC)
	return ledger.TriggerIdentity{TaskName: "expire-enrollments", ProfileID: "daily", ProfileType: "cron"},
		ledger.Window{Start: start, End: start.Add(24 * time.Hour)}
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := ext.NewRegistry(quietLogger())
	r.Register(&allHooksExt{})

	if got := len(r.Extensions()); got != 1 {
		t.Fatalf("expected 1 extension, got %d", got)
	}
	if got := r.Extensions()[0].Name(); got != "all-hooks" {
		t.Fatalf("expected name 'all-hooks', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(quietLogger())
	all := &allHooksExt{}
	uo := &unitOnlyExt{}
	r.Register(all)
	r.Register(uo)

	ctx := context.Background()
	rec := &ledger.Record{UnitName: "expire-enrollments"}

	// Both implement OnUnitStarted → both called.
	r.EmitUnitStarted(ctx, rec)
	if len(all.calls) != 1 || all.calls[0] != "OnUnitStarted" {
		t.Fatalf("all: expected [OnUnitStarted], got %v", all.calls)
	}
	if len(uo.calls) != 1 || uo.calls[0] != "OnUnitStarted" {
		t.Fatalf("uo: expected [OnUnitStarted], got %v", uo.calls)
	}

	// Only all implements OnUnitFailed → uo not called.
	r.EmitUnitFailed(ctx, rec, errors.New("x"))
	if len(all.calls) != 2 || all.calls[1] != "OnUnitFailed" {
		t.Fatalf("all: expected OnUnitFailed as 2nd, got %v", all.calls)
	}
	if len(uo.calls) != 1 {
		t.Fatalf("uo: should still have 1 call, got %v", uo.calls)
	}
}

func TestRegistry_AllHooksFire(t *testing.T) {
	r := ext.NewRegistry(quietLogger())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	ti, w := testTrigger()
	rec := &ledger.Record{UnitName: ti.TaskName, Trigger: &ti}

	r.EmitCronFired(ctx, "daily", ti, w.Start)
	r.EmitTriggerClaimed(ctx, ti, w)
	r.EmitClaimSkipped(ctx, ti, w)
	r.EmitUnitStarted(ctx, rec)
	r.EmitUnitSucceeded(ctx, rec)
	r.EmitUnitFailed(ctx, rec, errors.New("fail"))
	r.EmitUnitCancelled(ctx, rec)
	r.EmitRecordFailed(ctx, rec, errors.New("db down"))
	r.EmitShutdown(ctx)

	expected := []string{
		"OnCronFired", "OnTriggerClaimed", "OnClaimSkipped",
		"OnUnitStarted", "OnUnitSucceeded", "OnUnitFailed",
		"OnUnitCancelled", "OnRecordFailed", "OnShutdown",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := ext.NewRegistry(quietLogger())
	all := &allHooksExt{}

	// Register failing first, then all-hooks. Both should be called.
	r.Register(&failingExt{})
	r.Register(all)

	r.EmitUnitStarted(context.Background(), &ledger.Record{})

	if len(all.calls) != 1 || all.calls[0] != "OnUnitStarted" {
		t.Fatalf("all: expected [OnUnitStarted] despite failing ext, got %v", all.calls)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := ext.NewRegistry(quietLogger())
	ctx := context.Background()
	ti, w := testTrigger()

	// None of these should panic or error.
	r.EmitTriggerClaimed(ctx, ti, w)
	r.EmitClaimSkipped(ctx, ti, w)
	r.EmitUnitStarted(ctx, &ledger.Record{})
	r.EmitUnitSucceeded(ctx, &ledger.Record{})
	r.EmitUnitFailed(ctx, &ledger.Record{}, errors.New("x"))
	r.EmitUnitCancelled(ctx, &ledger.Record{})
	r.EmitRecordFailed(ctx, &ledger.Record{}, errors.New("x"))
	r.EmitCronFired(ctx, "test", ti, time.Now())
	r.EmitShutdown(ctx)
}

func TestRegistry_MultipleExtensionsOrderPreserved(t *testing.T) {
	r := ext.NewRegistry(quietLogger())
	var order []string
	r.Register(&orderExt{name: "first", order: &order})
	r.Register(&orderExt{name: "second", order: &order})

	r.EmitUnitSucceeded(context.Background(), &ledger.Record{})

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("expected [first second], got %v", order)
	}
}

type orderExt struct {
	name  string
	order *[]string
}

func (e *orderExt) Name() string { return e.name }

func (e *orderExt) OnUnitSucceeded(_ context.Context, _ *ledger.Record) error {
	*e.order = append(*e.order, e.name)
	return nil
}
