package cron

import (
	"errors"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/taskrun/ledger"
)

// cronParser supports six-field cron with a leading seconds field and
// descriptors like "@daily" or "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Second | cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// maxLookback bounds the search for a previous activation. robfig gives up
// on schedules with no activation in five years, so do we.
const maxLookback = 5 * 366 * 24 * time.Hour

// ErrNoActivation is returned by WindowAt for schedules that never fire.
var ErrNoActivation = errors.New("taskrun/cron: schedule has no activation")

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// WindowAt returns the trigger window containing at: from the latest
// activation at or before at up to the next activation after it.
func WindowAt(sched cronlib.Schedule, at time.Time) (ledger.Window, error) {
	if cd, ok := sched.(cronlib.ConstantDelaySchedule); ok {
		start := at.Truncate(cd.Delay)
		return ledger.Window{Start: start, End: start.Add(cd.Delay)}, nil
	}

	next := sched.Next(at)
	if next.IsZero() {
		return ledger.Window{}, ErrNoActivation
	}
	prev, ok := previousActivation(sched, at)
	if !ok {
		return ledger.Window{}, ErrNoActivation
	}
	return ledger.Window{Start: prev, End: next}, nil
}

// previousActivation finds the latest activation <= at by widening a
// look-back span until it contains one, then walking forward.
func previousActivation(sched cronlib.Schedule, at time.Time) (time.Time, bool) {
	// Next works at second granularity and is strictly after its argument.
	limit := at.Truncate(time.Second)
	for span := time.Second; span <= maxLookback; span *= 2 {
		first := sched.Next(limit.Add(-span))
		if first.IsZero() {
			return time.Time{}, false
		}
		if first.After(limit) {
			continue
		}
		last := first
		for {
			n := sched.Next(last)
			if n.IsZero() || n.After(limit) {
				return last, true
			}
			last = n
		}
	}
	return time.Time{}, false
}
