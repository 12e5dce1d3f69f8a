// Package audithook is a taskrun extension that bridges lifecycle events
// to an external audit trail backend (a SIEM, a compliance log, an event
// bus).
//
// Every claim, unit outcome and cron fire emits a structured audit event
// through the [Recorder] interface. The extension assigns severity levels
// (info for normal operations, warning for skipped fires and cancellations,
// critical for failures and ledger write errors) and metadata such as the
// unit name, trigger identity, duration and error kind.
//
// The execution ledger remains the source of truth; this hook only mirrors
// events outward. A Recorder error is returned from the hook so the
// extension registry logs it with the hook and extension name.
//
// # Usage
//
//	audithook.New(audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    return sink.Publish(ctx, evt.Action, evt)
//	}))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionUnitFailed,
//	        audithook.ActionLedgerWriteFailed,
//	    ),
//	)
package audithook
