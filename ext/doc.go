// Package ext defines the extension system for taskrun.
//
// Extensions are notified of lifecycle events and can react to them:
// recording metrics, forwarding audit events, alerting.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnUnitFailed(ctx context.Context, r *ledger.Record, err error) error {
//	    log.Printf("unit %s failed: %v", r.UnitName, err)
//	    return nil
//	}
//
// # Claim Hooks
//
//   - [TriggerClaimed]: a recurring fire won its window
//   - [ClaimSkipped]: the window was already claimed; no record is written
//
// # Unit Lifecycle Hooks
//
//   - [UnitStarted]: the unit is about to be invoked
//   - [UnitSucceeded]: a SUCCESS record was written
//   - [UnitFailed]: a FAILURE record was written (errors, panics, timeouts)
//   - [UnitCancelled]: a CANCELLED record was written
//   - [RecordFailed]: the ledger rejected an outcome write
//
// # Other Hooks
//
//   - [CronFired]: a cron profile fired
//   - [Shutdown]: the process is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Hook errors are logged and
// never change a unit's outcome.
package ext
