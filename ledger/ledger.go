package ledger

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xraph/taskrun"
	"github.com/xraph/taskrun/id"
)

// Outcome is the terminal result of one execution attempt.
type Outcome string

const (
	OutcomeSuccess   Outcome = "SUCCESS"
	OutcomeFailure   Outcome = "FAILURE"
	OutcomeCancelled Outcome = "CANCELLED"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomeCancelled:
		return true
	}
	return false
}

// ErrorKind classifies a non-successful outcome. Timeouts are recorded as
// FAILURE with KindTimeout.
type ErrorKind string

const (
	KindNone       ErrorKind = ""
	KindExecution  ErrorKind = "execution"
	KindTimeout    ErrorKind = "timeout"
	KindPanic      ErrorKind = "panic"
	KindCancelled  ErrorKind = "cancelled"
	KindValidation ErrorKind = "validation"
)

// TriggerIdentity names one recurring obligation. ProfileType is an opaque
// partition key; the ledger only compares it for equality.
type TriggerIdentity struct {
	TaskName    string `json:"task_name"`
	ProfileID   string `json:"cron_profile_id"`
	ProfileType string `json:"cron_profile_type"`
}

// String renders the identity as task/profile-id/profile-type.
func (t TriggerIdentity) String() string {
	return t.TaskName + "/" + t.ProfileID + "/" + t.ProfileType
}

// Validate rejects an identity without a task name.
func (t TriggerIdentity) Validate() error {
	if strings.TrimSpace(t.TaskName) == "" {
		return fmt.Errorf("%w: empty task name", taskrun.ErrInvalidTrigger)
	}
	return nil
}

// Window is the half-open interval [Start, End) a recurring fire belongs to.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t lies in [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Validate rejects empty or inverted windows.
func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() || !w.End.After(w.Start) {
		return fmt.Errorf("%w: [%s, %s)", taskrun.ErrInvalidWindow,
			w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
	}
	return nil
}

// ClaimResult is the answer of TryClaim.
type ClaimResult int

const (
	// Claimed means the caller owns this window and must run the task.
	Claimed ClaimResult = iota + 1
	// AlreadyClaimed means another fire already attempted this window.
	AlreadyClaimed
)

func (c ClaimResult) String() string {
	switch c {
	case Claimed:
		return "claimed"
	case AlreadyClaimed:
		return "already_claimed"
	default:
		return "unknown"
	}
}

// RunMarker is the single idempotency row kept per TriggerIdentity.
type RunMarker struct {
	Identity         TriggerIdentity `json:"identity"`
	LastAttemptedAt  time.Time       `json:"last_attempted_at"`
	LastSuccessfulAt *time.Time      `json:"last_successful_at,omitempty"`
	LastOutcome      Outcome         `json:"last_outcome,omitempty"`
}

// Record is one immutable execution audit row. Trigger is nil for
// on-demand workflow runs.
type Record struct {
	ID           id.RecordID      `json:"id"`
	UnitName     string           `json:"unit_name"`
	Trigger      *TriggerIdentity `json:"trigger,omitempty"`
	StartedAt    time.Time        `json:"started_at"`
	EndedAt      time.Time        `json:"ended_at"`
	Outcome      Outcome          `json:"outcome"`
	ErrorKind    ErrorKind        `json:"error_kind,omitempty"`
	ErrorSummary string           `json:"error_summary,omitempty"`
	Summary      string           `json:"summary,omitempty"`
}

// Duration returns how long the attempt ran.
func (r *Record) Duration() time.Duration { return r.EndedAt.Sub(r.StartedAt) }

// Validate checks the fields every backend relies on.
func (r *Record) Validate() error {
	if r.ID.IsNil() {
		return fmt.Errorf("%w: no id", taskrun.ErrInvalidRecord)
	}
	if r.UnitName == "" {
		return fmt.Errorf("%w: %s has no unit name", taskrun.ErrInvalidRecord, r.ID)
	}
	if !r.Outcome.Valid() {
		return fmt.Errorf("%w: %s has outcome %q", taskrun.ErrInvalidRecord, r.ID, r.Outcome)
	}
	if r.Trigger != nil {
		return r.Trigger.Validate()
	}
	return nil
}

// ListOpts filters ListRecords. Zero values match everything.
type ListOpts struct {
	UnitName string
	Trigger  *TriggerIdentity
	// OnDemand restricts results to records without a trigger.
	OnDemand bool
	Limit    int
}

// Matches reports whether r passes the filter. In-process backends use it.
func (o ListOpts) Matches(r *Record) bool {
	if o.UnitName != "" && r.UnitName != o.UnitName {
		return false
	}
	if o.OnDemand && r.Trigger != nil {
		return false
	}
	if o.Trigger != nil && (r.Trigger == nil || *r.Trigger != *o.Trigger) {
		return false
	}
	return true
}

// SortNewestFirst orders records by StartedAt descending, breaking ties by
// ID descending, and applies limit when positive.
func SortNewestFirst(records []*Record, limit int) []*Record {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].StartedAt.Equal(records[j].StartedAt) {
			return records[i].StartedAt.After(records[j].StartedAt)
		}
		return records[i].ID.String() > records[j].ID.String()
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records
}

// Apply folds a completed record into the marker: LastOutcome always,
// LastSuccessfulAt on success only.
func (m *RunMarker) Apply(r *Record) {
	m.LastOutcome = r.Outcome
	if r.Outcome == OutcomeSuccess {
		at := r.EndedAt
		m.LastSuccessfulAt = &at
	}
}
