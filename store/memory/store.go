// Package memory provides a fully in-memory ledger store.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/taskrun"
	"github.com/xraph/taskrun/ledger"
	"github.com/xraph/taskrun/store"
)

// Ensure Store implements store.Store at compile time.
var _ store.Store = (*Store)(nil)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	markers map[ledger.TriggerIdentity]*ledger.RunMarker
	records map[string]*ledger.Record
	closed  bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		markers: make(map[ledger.TriggerIdentity]*ledger.RunMarker),
		records: make(map[string]*ledger.Record),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping succeeds until the store is closed.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return taskrun.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Later calls fail with taskrun.ErrStoreClosed.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Ledger Store
// ──────────────────────────────────────────────────

// TryClaim checks and claims the window under the write lock, which makes
// the read-modify-write atomic for every goroutine sharing this Store.
func (m *Store) TryClaim(_ context.Context, t ledger.TriggerIdentity, w ledger.Window, now time.Time) (ledger.ClaimResult, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	if err := w.Validate(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, taskrun.ErrStoreClosed
	}

	mk, ok := m.markers[t]
	if ok && w.Contains(mk.LastAttemptedAt) {
		return ledger.AlreadyClaimed, nil
	}
	if !ok {
		mk = &ledger.RunMarker{Identity: t}
		m.markers[t] = mk
	}
	mk.LastAttemptedAt = now.UTC()
	return ledger.Claimed, nil
}

// RecordOutcome appends the record and folds it into the trigger's marker.
func (m *Store) RecordOutcome(_ context.Context, r *ledger.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return taskrun.ErrStoreClosed
	}

	key := r.ID.String()
	if _, exists := m.records[key]; exists {
		return taskrun.ErrRecordExists
	}
	m.records[key] = copyRecord(r)

	if r.Trigger != nil {
		mk, ok := m.markers[*r.Trigger]
		if !ok {
			// Outcome without a prior claim; keep the invariant of one
			// marker per identity by creating it here.
			mk = &ledger.RunMarker{Identity: *r.Trigger, LastAttemptedAt: r.StartedAt.UTC()}
			m.markers[*r.Trigger] = mk
		}
		mk.Apply(r)
	}
	return nil
}

// GetMarker returns a copy of the marker for t.
func (m *Store) GetMarker(_ context.Context, t ledger.TriggerIdentity) (*ledger.RunMarker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mk, ok := m.markers[t]
	if !ok {
		return nil, taskrun.ErrMarkerNotFound
	}
	cp := *mk
	if mk.LastSuccessfulAt != nil {
		at := *mk.LastSuccessfulAt
		cp.LastSuccessfulAt = &at
	}
	return &cp, nil
}

// ListRecords returns copies of matching records, newest first.
func (m *Store) ListRecords(_ context.Context, opts ledger.ListOpts) ([]*ledger.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*ledger.Record, 0, len(m.records))
	for _, r := range m.records {
		if opts.Matches(r) {
			out = append(out, copyRecord(r))
		}
	}
	return ledger.SortNewestFirst(out, opts.Limit), nil
}

func copyRecord(r *ledger.Record) *ledger.Record {
	cp := *r
	if r.Trigger != nil {
		t := *r.Trigger
		cp.Trigger = &t
	}
	return &cp
}
