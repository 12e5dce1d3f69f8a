// Package cron is the recurring front-end. It turns cron profiles into
// trigger identities and windows and hands each fire to the dispatcher.
//
// # Profile
//
// A [Profile] binds a schedule to a registered task:
//   - Schedule: six-field cron expression with seconds ("0 0 1 * * *") or a
//     descriptor such as "@daily" or "@every 30s"
//   - TaskName: the task to dispatch
//   - ProfileID / ProfileType: opaque keys that, with TaskName, form the
//     trigger identity the claim is keyed on
//   - Enabled: disabled profiles are validated but never scheduled
//
// # Windows
//
// Each fire covers the window from the latest activation at or before the
// fire time up to the next activation. Two instances firing the same profile
// compute the same window, so only one of them wins the ledger claim.
// "@every" schedules use windows aligned to whole multiples of the interval.
//
// # Scheduler
//
// The [Scheduler] validates every profile at construction, so a bad
// expression or an unknown task fails start-up rather than the first fire.
// Overlapping scheduled fires of one profile are dropped locally; fires on
// other instances are stopped by the claim. Dispatch errors are logged and
// never escape the scheduling loop.
package cron
