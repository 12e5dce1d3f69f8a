// Package ext defines the extension system for taskrun.
// Extensions are notified of lifecycle events (trigger claimed, unit
// started, succeeded, failed, etc.) and can react to them: logging,
// metrics, audit forwarding.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/taskrun/ledger"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Claim hooks
// ──────────────────────────────────────────────────

// TriggerClaimed is called when a recurring fire wins its window.
type TriggerClaimed interface {
	OnTriggerClaimed(ctx context.Context, t ledger.TriggerIdentity, w ledger.Window) error
}

// ClaimSkipped is called when a recurring fire finds its window already
// claimed. No audit record is written for skipped fires.
type ClaimSkipped interface {
	OnClaimSkipped(ctx context.Context, t ledger.TriggerIdentity, w ledger.Window) error
}

// ──────────────────────────────────────────────────
// Unit lifecycle hooks
// ──────────────────────────────────────────────────

// UnitStarted is called just before a unit is invoked. The record carries
// its ID, unit name, trigger and start time; the outcome is not yet set.
type UnitStarted interface {
	OnUnitStarted(ctx context.Context, r *ledger.Record) error
}

// UnitSucceeded is called after a SUCCESS record is written.
type UnitSucceeded interface {
	OnUnitSucceeded(ctx context.Context, r *ledger.Record) error
}

// UnitFailed is called after a FAILURE record is written. err is the
// classified error returned by the dispatcher.
type UnitFailed interface {
	OnUnitFailed(ctx context.Context, r *ledger.Record, err error) error
}

// UnitCancelled is called after a CANCELLED record is written.
type UnitCancelled interface {
	OnUnitCancelled(ctx context.Context, r *ledger.Record) error
}

// RecordFailed is called when the ledger rejects an outcome write.
type RecordFailed interface {
	OnRecordFailed(ctx context.Context, r *ledger.Record, err error) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// CronFired is called when a cron profile fires, before dispatch.
type CronFired interface {
	OnCronFired(ctx context.Context, profile string, t ledger.TriggerIdentity, at time.Time) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
