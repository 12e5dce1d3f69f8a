// Package enrollment is a representative consumer of the dispatch core: the
// daily expiry task for package-session enrollments and the status state
// machine it drives.
//
// The task selects enrollments whose expiry has passed and that are neither
// cancelled nor already classified as expired, asks a [RenewalPolicy]
// whether each one renews, and applies either an active-renew classification
// (status kept, expiry extended) or an active-cancelled one (status moves to
// CANCELLED). Items are processed independently with bounded concurrency; a
// failing item is counted and the others continue.
//
// Register it like any other task:
//
//	b.MustRegister(enrollment.ExpiryTask(repo, policy))
package enrollment
