// Package engine implements the Dispatcher, the single execution path shared
// by the cron and workflow front-ends.
//
// A dispatch resolves the unit by name, gates recurring triggers on an atomic
// claim in the audit ledger, invokes the unit on a bounded worker pool under
// a deadline, classifies the result, and writes exactly one audit record.
// The record write uses a context detached from the caller, so a cancelled
// run still leaves its CANCELLED row behind.
//
// Every invocation flows through the default middleware stack:
//
//	recover → tracing → metrics → logging → user middleware → unit
//
// The engine package sits above unit, ledger, middleware, worker and ext and
// below the front-ends, which keeps those packages free of import cycles.
package engine
