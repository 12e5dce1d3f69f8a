// Package ledger defines the audit ledger: per-trigger run markers that gate
// duplicate execution of recurring tasks, and an append-only history of
// every execution attempt.
//
// The idempotency gate is [Store.TryClaim]. A backend must implement it as a
// single atomic read-modify-write on the marker row so that two scheduler
// instances firing the same trigger inside one window produce exactly one
// [Claimed] result. Every backend under store/ runs the shared conformance
// suite in package ledgertest.
package ledger
