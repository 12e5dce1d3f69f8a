package taskrun

import (
	"runtime"
	"time"
)

// Config holds process-wide dispatch settings.
type Config struct {
	// Concurrency bounds how many units execute at once in this process.
	Concurrency int

	// DefaultTimeout is the per-invocation deadline for units that do not
	// declare their own. Zero means no deadline.
	DefaultTimeout time.Duration

	// RecordTimeout bounds the audit write that follows every invocation.
	// The write runs on a context detached from the caller's cancellation.
	RecordTimeout time.Duration

	// SummaryLimit is the maximum byte length of a persisted error summary.
	SummaryLimit int

	// ShutdownTimeout is the maximum time to wait for in-flight units on stop.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     runtime.GOMAXPROCS(0),
		DefaultTimeout:  30 * time.Minute,
		RecordTimeout:   10 * time.Second,
		SummaryLimit:    1024,
		ShutdownTimeout: 30 * time.Second,
	}
}
