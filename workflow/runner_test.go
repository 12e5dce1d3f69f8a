package workflow_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/taskrun"
	"github.com/xraph/taskrun/engine"
	"github.com/xraph/taskrun/ledger"
	"github.com/xraph/taskrun/store/memory"
	"github.com/xraph/taskrun/unit"
	"github.com/xraph/taskrun/workflow"
)

// testLogger returns a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type credsInput struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

func newTestRunner(t *testing.T, units []unit.Unit, opts ...workflow.Option) (*workflow.Runner, *memory.Store) {
	t.Helper()
	s := memory.New()
	reg := unit.NewBuilder().MustRegister(units...).Build()
	d, err := engine.New(reg, s, engine.WithLogger(testLogger()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = d.Close(context.Background()) })
	opts = append([]workflow.Option{workflow.WithLogger(testLogger())}, opts...)
	return workflow.NewRunner(d, opts...), s
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func blockingWorkflow(started chan<- struct{}) unit.Unit {
	return unit.NewWorkflow("wf_long_export", func(ctx context.Context, _ *unit.Payload) (unit.Result, error) {
		close(started)
		<-ctx.Done()
		return unit.Result{}, ctx.Err()
	})
}

func TestRunner_RunAndWait(t *testing.T) {
	var got atomic.Value
	wf := unit.WorkflowOf("wf_send_creds_v1", func(_ context.Context, in credsInput) (unit.Result, error) {
		got.Store(in)
		return unit.Result{Summary: "sent"}, nil
	})
	r, s := newTestRunner(t, []unit.Unit{wf})

	h, err := workflow.Start(context.Background(), r, "wf_send_creds_v1", credsInput{UserID: "u-7", Email: "a@b.test"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h.ID().IsNil() || h.Name() != "wf_send_creds_v1" {
		t.Fatalf("unexpected handle %s %q", h.ID(), h.Name())
	}

	out, err := h.Wait(waitCtx(t))
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !out.Succeeded() || out.Record.Summary != "sent" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if in, _ := got.Load().(credsInput); in.UserID != "u-7" || in.Email != "a@b.test" {
		t.Fatalf("input not decoded: %+v", in)
	}

	recs, err := s.ListRecords(context.Background(), ledger.ListOpts{OnDemand: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Trigger != nil {
		t.Fatalf("expected one on-demand record, got %+v", recs)
	}

	if o, ok := h.Outcome(); !ok || o != out {
		t.Fatal("Outcome should return the finished outcome")
	}
}

func TestRunner_UnknownNameIsSynchronous(t *testing.T) {
	r, s := newTestRunner(t, nil)

	h, err := r.Run(context.Background(), "wf_missing", nil)
	var nf *taskrun.NotFoundError
	if !errors.As(err, &nf) || h != nil {
		t.Fatalf("expected NotFoundError and nil handle, got %v, %v", h, err)
	}
	if _, err := r.RunSync(context.Background(), "wf_missing", nil); !errors.Is(err, taskrun.ErrNotFound) {
		t.Fatalf("RunSync: expected ErrNotFound, got %v", err)
	}
	recs, _ := s.ListRecords(context.Background(), ledger.ListOpts{})
	if len(recs) != 0 {
		t.Fatalf("expected no records, got %d", len(recs))
	}
}

func TestRunner_RunSyncReturnsClassifiedError(t *testing.T) {
	wf := unit.NewWorkflow("wf_send_creds_v1", func(context.Context, *unit.Payload) (unit.Result, error) {
		return unit.Result{}, errors.New("mailbox full")
	})
	r, _ := newTestRunner(t, []unit.Unit{wf})

	out, err := r.RunSync(context.Background(), "wf_send_creds_v1", unit.PayloadOf("user_id", "u-1"))
	var ee *taskrun.ExecutionError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if out.Record.Outcome != ledger.OutcomeFailure {
		t.Fatalf("expected FAILURE record, got %s", out.Record.Outcome)
	}
}

func TestRunner_CancelRecordsCancelled(t *testing.T) {
	started := make(chan struct{})
	r, s := newTestRunner(t, []unit.Unit{blockingWorkflow(started)})

	h, err := r.Run(context.Background(), "wf_long_export", nil)
	if err != nil {
		t.Fatal(err)
	}
	<-started
	if _, ok := h.Outcome(); ok {
		t.Fatal("run should still be in flight")
	}
	h.Cancel()

	out, err := h.Wait(waitCtx(t))
	if !errors.Is(err, taskrun.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if out.Record.Outcome != ledger.OutcomeCancelled {
		t.Fatalf("expected CANCELLED, got %s", out.Record.Outcome)
	}
	if !errors.Is(h.Err(), taskrun.ErrCancelled) {
		t.Fatalf("Err() = %v", h.Err())
	}
	recs, _ := s.ListRecords(context.Background(), ledger.ListOpts{})
	if len(recs) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(recs))
	}
}

func TestRunner_RunOutlivesCallerContext(t *testing.T) {
	release := make(chan struct{})
	wf := unit.NewWorkflow("wf_send_creds_v1", func(ctx context.Context, _ *unit.Payload) (unit.Result, error) {
		select {
		case <-release:
			return unit.Result{}, nil
		case <-ctx.Done():
			return unit.Result{}, ctx.Err()
		}
	})
	r, _ := newTestRunner(t, []unit.Unit{wf})

	ctx, cancel := context.WithCancel(context.Background())
	h, err := r.Run(ctx, "wf_send_creds_v1", nil)
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	close(release)

	out, err := h.Wait(waitCtx(t))
	if err != nil || !out.Succeeded() {
		t.Fatalf("expected success after caller cancel, got %+v, %v", out, err)
	}
}

func TestRunner_RunTimeoutCancels(t *testing.T) {
	started := make(chan struct{})
	r, _ := newTestRunner(t, []unit.Unit{blockingWorkflow(started)}, workflow.WithRunTimeout(30*time.Millisecond))

	h, err := r.Run(context.Background(), "wf_long_export", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.Wait(waitCtx(t)); !errors.Is(err, taskrun.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestRunner_RateLimitRejects(t *testing.T) {
	wf := unit.NewWorkflow("wf_send_creds_v1", func(context.Context, *unit.Payload) (unit.Result, error) {
		return unit.Result{}, nil
	})
	r, _ := newTestRunner(t, []unit.Unit{wf}, workflow.WithRateLimit(0.001, 1))

	h, err := r.Run(context.Background(), "wf_send_creds_v1", nil)
	if err != nil {
		t.Fatalf("first run should be admitted: %v", err)
	}
	if _, err := r.Run(context.Background(), "wf_send_creds_v1", nil); !errors.Is(err, taskrun.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := r.RunSync(ctx, "wf_send_creds_v1", nil); !errors.Is(err, taskrun.ErrRateLimited) {
		t.Fatalf("RunSync: expected ErrRateLimited, got %v", err)
	}
	if _, err := h.Wait(waitCtx(t)); err != nil {
		t.Fatal(err)
	}
}

func TestRunner_EveryRunRecorded(t *testing.T) {
	wf := unit.NewWorkflow("wf_send_creds_v1", func(context.Context, *unit.Payload) (unit.Result, error) {
		return unit.Result{}, nil
	})
	r, s := newTestRunner(t, []unit.Unit{wf})

	for range 5 {
		if _, err := r.Run(context.Background(), "wf_send_creds_v1", unit.PayloadOf("user_id", "same")); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Drain(waitCtx(t)); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	recs, _ := s.ListRecords(context.Background(), ledger.ListOpts{UnitName: "wf_send_creds_v1"})
	if len(recs) != 5 {
		t.Fatalf("expected 5 records, got %d", len(recs))
	}
}

func TestHandle_WaitContextEnds(t *testing.T) {
	started := make(chan struct{})
	r, _ := newTestRunner(t, []unit.Unit{blockingWorkflow(started)})

	h, err := r.Run(context.Background(), "wf_long_export", nil)
	if err != nil {
		t.Fatal(err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := h.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	select {
	case <-h.Done():
		t.Fatal("Wait timing out must not end the run")
	default:
	}
	h.Cancel()
	<-h.Done()
}
