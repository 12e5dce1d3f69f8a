// Package backoff provides retry delay strategies and a small retry loop.
// The dispatcher uses it to retry audit writes that fail transiently, so a
// brief ledger outage does not lose the one record an attempt must leave.
// Strategies are stateless and safe for concurrent use.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry n (1-indexed): retry 1
	// follows the first failure.
	Delay(n int) time.Duration
}

// Constant always waits Interval.
type Constant struct {
	Interval time.Duration
}

// Delay returns the fixed interval.
func (c Constant) Delay(int) time.Duration { return c.Interval }

// Exponential doubles the delay on each retry, capped at Max. With Jitter
// set the delay is drawn uniformly from [0, capped delay] instead.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  bool
}

// Delay returns min(Initial * 2^(n-1), Max), jittered when requested.
func (e Exponential) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	base := float64(e.Initial) * math.Pow(2, float64(n-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	if e.Jitter {
		return time.Duration(rand.Float64() * base) //nolint:gosec // jitter does not need crypto rand
	}
	return time.Duration(base)
}

// DefaultStrategy is the audit-write retry delay: 50ms doubling to 1s with
// full jitter.
func DefaultStrategy() Strategy {
	return Exponential{Initial: 50 * time.Millisecond, Max: time.Second, Jitter: true}
}

// Retry calls fn until it succeeds, attempts calls have been made, retry
// reports an error as permanent, or ctx ends. fn receives the 1-indexed
// attempt number. The last error from fn is returned, also when ctx ends
// while waiting.
func Retry(ctx context.Context, attempts int, s Strategy, retry func(error) bool, fn func(attempt int) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for n := 1; ; n++ {
		if err = fn(n); err == nil {
			return nil
		}
		if n >= attempts || (retry != nil && !retry(err)) {
			return err
		}

		t := time.NewTimer(s.Delay(n))
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
}
