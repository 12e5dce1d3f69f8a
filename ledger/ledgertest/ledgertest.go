// Package ledgertest is a conformance suite for ledger.Store backends.
package ledgertest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/taskrun"
	"github.com/xraph/taskrun/id"
	"github.com/xraph/taskrun/ledger"
)

// Factory returns a fresh, empty store. Cleanup is registered on t.
type Factory func(t *testing.T) ledger.Store

// Base is the reference fire time used by the suite. It has whole-second
// precision so millisecond-resolution backends round-trip it exactly.
var Base = time.Date(2026, 1, 10, 1, 0, 0, 0, time.UTC)

// DailyWindow returns the one-day window starting at Base.
func DailyWindow() ledger.Window {
	return ledger.Window{Start: Base, End: Base.Add(24 * time.Hour)}
}

// Identity returns the identity used throughout the suite.
func Identity() ledger.TriggerIdentity {
	return ledger.TriggerIdentity{TaskName: "expire-enrollments", ProfileID: "daily", ProfileType: "cron"}
}

// Run executes every conformance test against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(*testing.T, ledger.Store)
	}{
		{"ClaimThenAlreadyClaimed", testClaimThenAlreadyClaimed},
		{"NextWindowClaims", testNextWindowClaims},
		{"ProfilesAreIndependent", testProfilesAreIndependent},
		{"ConcurrentClaims", testConcurrentClaims},
		{"RejectsInvalidInput", testRejectsInvalidInput},
		{"RecordSuccessUpdatesMarker", testRecordSuccessUpdatesMarker},
		{"RecordFailureKeepsLastSuccess", testRecordFailureKeepsLastSuccess},
		{"OnDemandRecordHasNoMarker", testOnDemandRecordHasNoMarker},
		{"DuplicateRecordRejected", testDuplicateRecordRejected},
		{"ListRecordsFilters", testListRecordsFilters},
		{"MarkerNotFound", testMarkerNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func claim(t *testing.T, s ledger.Store, ti ledger.TriggerIdentity, w ledger.Window, now time.Time) ledger.ClaimResult {
	t.Helper()
	res, err := s.TryClaim(context.Background(), ti, w, now)
	if err != nil {
		t.Fatalf("TryClaim(%s, %s): %v", ti, now.Format(time.RFC3339), err)
	}
	return res
}

func newRecord(unitName string, trigger *ledger.TriggerIdentity, started time.Time, outcome ledger.Outcome) *ledger.Record {
	r := &ledger.Record{
		ID:        id.NewRecordID(),
		UnitName:  unitName,
		Trigger:   trigger,
		StartedAt: started,
		EndedAt:   started.Add(2 * time.Second),
		Outcome:   outcome,
	}
	if outcome != ledger.OutcomeSuccess {
		r.ErrorKind = ledger.KindExecution
		r.ErrorSummary = "boom"
	}
	return r
}

func testClaimThenAlreadyClaimed(t *testing.T, s ledger.Store) {
	ti, w := Identity(), DailyWindow()

	if got := claim(t, s, ti, w, Base); got != ledger.Claimed {
		t.Fatalf("first claim = %s, want claimed", got)
	}
	if got := claim(t, s, ti, w, Base.Add(time.Second)); got != ledger.AlreadyClaimed {
		t.Fatalf("second claim = %s, want already_claimed", got)
	}

	m, err := s.GetMarker(context.Background(), ti)
	if err != nil {
		t.Fatalf("GetMarker: %v", err)
	}
	if !m.LastAttemptedAt.Equal(Base) {
		t.Errorf("LastAttemptedAt = %v, want %v (rejected claim must not move it)", m.LastAttemptedAt, Base)
	}
	if m.Identity != ti {
		t.Errorf("Identity = %+v, want %+v", m.Identity, ti)
	}
}

func testNextWindowClaims(t *testing.T, s ledger.Store) {
	ti, w := Identity(), DailyWindow()
	claim(t, s, ti, w, Base)

	next := ledger.Window{Start: w.End, End: w.End.Add(24 * time.Hour)}
	if got := claim(t, s, ti, next, next.Start); got != ledger.Claimed {
		t.Fatalf("claim in next window = %s, want claimed", got)
	}
	m, err := s.GetMarker(context.Background(), ti)
	if err != nil {
		t.Fatalf("GetMarker: %v", err)
	}
	if !m.LastAttemptedAt.Equal(next.Start) {
		t.Errorf("LastAttemptedAt = %v, want %v", m.LastAttemptedAt, next.Start)
	}
}

func testProfilesAreIndependent(t *testing.T, s ledger.Store) {
	w := DailyWindow()
	a := Identity()
	b := a
	b.ProfileID = "institute-42"
	c := a
	c.ProfileType = "institute"

	for _, ti := range []ledger.TriggerIdentity{a, b, c} {
		if got := claim(t, s, ti, w, Base); got != ledger.Claimed {
			t.Errorf("claim %s = %s, want claimed", ti, got)
		}
	}
}

func testConcurrentClaims(t *testing.T, s ledger.Store) {
	const n = 16
	ti, w := Identity(), DailyWindow()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed int
		errs    []error
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			res, err := s.TryClaim(context.Background(), ti, w, Base.Add(time.Duration(i)*time.Millisecond))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if res == ledger.Claimed {
				claimed++
			}
		}(i)
	}
	close(start)
	wg.Wait()

	for _, err := range errs {
		t.Errorf("TryClaim: %v", err)
	}
	if claimed != 1 {
		t.Fatalf("claimed = %d, want exactly 1", claimed)
	}
}

func testRejectsInvalidInput(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	if _, err := s.TryClaim(ctx, ledger.TriggerIdentity{}, DailyWindow(), Base); !errors.Is(err, taskrun.ErrInvalidTrigger) {
		t.Errorf("empty identity: expected ErrInvalidTrigger, got %v", err)
	}
	if _, err := s.TryClaim(ctx, Identity(), ledger.Window{Start: Base, End: Base}, Base); !errors.Is(err, taskrun.ErrInvalidWindow) {
		t.Errorf("empty window: expected ErrInvalidWindow, got %v", err)
	}
}

func testRecordSuccessUpdatesMarker(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	ti := Identity()
	claim(t, s, ti, DailyWindow(), Base)

	r := newRecord(ti.TaskName, &ti, Base, ledger.OutcomeSuccess)
	r.Summary = "processed=3 succeeded=3 failed=0"
	if err := s.RecordOutcome(ctx, r); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	m, err := s.GetMarker(ctx, ti)
	if err != nil {
		t.Fatalf("GetMarker: %v", err)
	}
	if m.LastOutcome != ledger.OutcomeSuccess {
		t.Errorf("LastOutcome = %q, want SUCCESS", m.LastOutcome)
	}
	if m.LastSuccessfulAt == nil || !m.LastSuccessfulAt.Equal(r.EndedAt) {
		t.Errorf("LastSuccessfulAt = %v, want %v", m.LastSuccessfulAt, r.EndedAt)
	}

	recs, err := s.ListRecords(ctx, ledger.ListOpts{Trigger: &ti})
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	got := recs[0]
	if got.ID.String() != r.ID.String() || got.UnitName != r.UnitName || got.Summary != r.Summary {
		t.Errorf("record = %+v, want %+v", got, r)
	}
	if got.Trigger == nil || *got.Trigger != ti {
		t.Errorf("Trigger = %v, want %v", got.Trigger, ti)
	}
	if !got.StartedAt.Equal(r.StartedAt) || !got.EndedAt.Equal(r.EndedAt) {
		t.Errorf("times = [%v, %v], want [%v, %v]", got.StartedAt, got.EndedAt, r.StartedAt, r.EndedAt)
	}
}

func testRecordFailureKeepsLastSuccess(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	ti := Identity()
	claim(t, s, ti, DailyWindow(), Base)
	ok := newRecord(ti.TaskName, &ti, Base, ledger.OutcomeSuccess)
	if err := s.RecordOutcome(ctx, ok); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	next := Base.Add(24 * time.Hour)
	claim(t, s, ti, ledger.Window{Start: next, End: next.Add(24 * time.Hour)}, next)
	failed := newRecord(ti.TaskName, &ti, next, ledger.OutcomeFailure)
	failed.ErrorKind = ledger.KindTimeout
	if err := s.RecordOutcome(ctx, failed); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	m, err := s.GetMarker(ctx, ti)
	if err != nil {
		t.Fatalf("GetMarker: %v", err)
	}
	if m.LastOutcome != ledger.OutcomeFailure {
		t.Errorf("LastOutcome = %q, want FAILURE", m.LastOutcome)
	}
	if m.LastSuccessfulAt == nil || !m.LastSuccessfulAt.Equal(ok.EndedAt) {
		t.Errorf("LastSuccessfulAt = %v, want %v", m.LastSuccessfulAt, ok.EndedAt)
	}

	recs, err := s.ListRecords(ctx, ledger.ListOpts{UnitName: ti.TaskName})
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].ID.String() != failed.ID.String() {
		t.Errorf("newest record = %s, want %s", recs[0].ID, failed.ID)
	}
	if recs[0].ErrorKind != ledger.KindTimeout || recs[0].ErrorSummary != "boom" {
		t.Errorf("error fields = (%q, %q)", recs[0].ErrorKind, recs[0].ErrorSummary)
	}
}

func testOnDemandRecordHasNoMarker(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	r := newRecord("wf_send_creds_v1", nil, Base, ledger.OutcomeFailure)
	if err := s.RecordOutcome(ctx, r); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	recs, err := s.ListRecords(ctx, ledger.ListOpts{OnDemand: true})
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 on-demand record, got %d", len(recs))
	}
	if recs[0].Trigger != nil {
		t.Errorf("Trigger = %v, want nil", recs[0].Trigger)
	}
	if recs[0].Outcome != ledger.OutcomeFailure {
		t.Errorf("Outcome = %q, want FAILURE", recs[0].Outcome)
	}
}

func testDuplicateRecordRejected(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	r := newRecord("wf", nil, Base, ledger.OutcomeSuccess)
	if err := s.RecordOutcome(ctx, r); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if err := s.RecordOutcome(ctx, r); !errors.Is(err, taskrun.ErrRecordExists) {
		t.Fatalf("expected ErrRecordExists, got %v", err)
	}
}

func testListRecordsFilters(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	ti := Identity()
	other := ti
	other.ProfileID = "hourly"

	for i, r := range []*ledger.Record{
		newRecord(ti.TaskName, &ti, Base, ledger.OutcomeSuccess),
		newRecord(ti.TaskName, &other, Base.Add(time.Minute), ledger.OutcomeSuccess),
		newRecord("wf_a", nil, Base.Add(2*time.Minute), ledger.OutcomeCancelled),
		newRecord("wf_b", nil, Base.Add(3*time.Minute), ledger.OutcomeSuccess),
	} {
		if err := s.RecordOutcome(ctx, r); err != nil {
			t.Fatalf("RecordOutcome #%d: %v", i, err)
		}
	}

	check := func(name string, opts ledger.ListOpts, want int) []*ledger.Record {
		t.Helper()
		recs, err := s.ListRecords(ctx, opts)
		if err != nil {
			t.Fatalf("%s: ListRecords: %v", name, err)
		}
		if len(recs) != want {
			t.Fatalf("%s: got %d records, want %d", name, len(recs), want)
		}
		return recs
	}

	all := check("all", ledger.ListOpts{}, 4)
	if all[0].UnitName != "wf_b" || all[3].UnitName != ti.TaskName {
		t.Errorf("records not newest-first: %s ... %s", all[0].UnitName, all[3].UnitName)
	}
	check("by unit", ledger.ListOpts{UnitName: ti.TaskName}, 2)
	check("by trigger", ledger.ListOpts{Trigger: &other}, 1)
	check("on demand", ledger.ListOpts{OnDemand: true}, 2)
	limited := check("limit", ledger.ListOpts{Limit: 1}, 1)
	if limited[0].UnitName != "wf_b" {
		t.Errorf("limit kept %s, want newest wf_b", limited[0].UnitName)
	}
}

func testMarkerNotFound(t *testing.T, s ledger.Store) {
	_, err := s.GetMarker(context.Background(), Identity())
	if !errors.Is(err, taskrun.ErrMarkerNotFound) {
		t.Fatalf("expected ErrMarkerNotFound, got %v", err)
	}
}
