// Package worker provides the bounded goroutine pool that executes units.
//
// A [Pool] runs a fixed number of worker goroutines. Callers hand work to
// the pool with [Pool.Do], which blocks until a worker has finished it, so
// a long-running unit occupies exactly one worker for its duration and the
// number of units executing at once never exceeds the pool size.
package worker
