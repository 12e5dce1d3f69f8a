package ledger

import (
	"context"
	"time"
)

// Store is the persistence contract for the audit ledger.
type Store interface {
	// TryClaim atomically checks and claims w for t. It returns
	// AlreadyClaimed when the marker's LastAttemptedAt lies in w; otherwise
	// it upserts LastAttemptedAt = now and returns Claimed.
	TryClaim(ctx context.Context, t TriggerIdentity, w Window, now time.Time) (ClaimResult, error)

	// RecordOutcome appends r. When r.Trigger is set the trigger's marker is
	// updated in the same operation. A duplicate ID fails with
	// taskrun.ErrRecordExists.
	RecordOutcome(ctx context.Context, r *Record) error

	// GetMarker returns the marker for t or taskrun.ErrMarkerNotFound.
	GetMarker(ctx context.Context, t TriggerIdentity) (*RunMarker, error)

	// ListRecords returns records matching opts, newest first.
	ListRecords(ctx context.Context, opts ListOpts) ([]*Record, error)
}
