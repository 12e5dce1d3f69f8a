package taskrun

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// Store errors.
	ErrNoStore         = errors.New("taskrun: no ledger store configured")
	ErrStoreClosed     = errors.New("taskrun: store closed")
	ErrMigrationFailed = errors.New("taskrun: migration failed")

	// Lookup errors.
	ErrNotFound       = errors.New("taskrun: unit not found")
	ErrMarkerNotFound = errors.New("taskrun: run marker not found")

	// Registration errors.
	ErrDuplicateName  = errors.New("taskrun: duplicate unit name")
	ErrInvalidUnit    = errors.New("taskrun: invalid unit definition")
	ErrRegistryFrozen = errors.New("taskrun: registry already built")
	ErrWrongKind      = errors.New("taskrun: unit kind does not match trigger")

	// Ledger errors.
	ErrClaimConflict  = errors.New("taskrun: trigger window already claimed")
	ErrRecordExists   = errors.New("taskrun: audit record already exists")
	ErrInvalidWindow  = errors.New("taskrun: invalid trigger window")
	ErrInvalidTrigger = errors.New("taskrun: invalid trigger identity")
	ErrInvalidRecord  = errors.New("taskrun: invalid audit record")

	// Invocation errors.
	ErrExecution   = errors.New("taskrun: execution failed")
	ErrTimeout     = errors.New("taskrun: execution timed out")
	ErrCancelled   = errors.New("taskrun: execution cancelled")
	ErrValidation  = errors.New("taskrun: invalid payload")
	ErrPoolStopped = errors.New("taskrun: worker pool not running")
	ErrRateLimited = errors.New("taskrun: run rejected by rate limiter")
)

// NotFoundError reports a lookup of a unit name that was never registered.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("taskrun: unit %q not found", e.Name)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// DuplicateNameError reports a second registration under an existing name.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("taskrun: unit %q already registered", e.Name)
}

// Is matches ErrDuplicateName.
func (e *DuplicateNameError) Is(target error) bool { return target == ErrDuplicateName }

// ClaimConflictError reports that another scheduler instance already claimed
// the trigger window. It is benign: the run is skipped and nothing is audited.
type ClaimConflictError struct {
	Trigger     string
	WindowStart time.Time
}

func (e *ClaimConflictError) Error() string {
	return fmt.Sprintf("taskrun: trigger %s already claimed for window starting %s",
		e.Trigger, e.WindowStart.UTC().Format(time.RFC3339))
}

// Is matches ErrClaimConflict.
func (e *ClaimConflictError) Is(target error) bool { return target == ErrClaimConflict }

// ExecutionError wraps a failure raised by a unit.
type ExecutionError struct {
	Unit  string
	Cause error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("taskrun: unit %q failed: %v", e.Unit, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// Is matches ErrExecution.
func (e *ExecutionError) Is(target error) bool { return target == ErrExecution }

// TimeoutError reports a unit that ran past its deadline.
type TimeoutError struct {
	Unit     string
	Deadline string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("taskrun: unit %q exceeded its %s deadline", e.Unit, e.Deadline)
}

// Is matches ErrTimeout.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// CancelledError reports a run stopped by its caller.
type CancelledError struct {
	Unit string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("taskrun: unit %q cancelled by caller", e.Unit)
}

// Is matches ErrCancelled.
func (e *CancelledError) Is(target error) bool { return target == ErrCancelled }

// FieldError describes one payload field that failed validation.
type FieldError struct {
	Key    string
	Reason string
}

// ValidationError lists every payload field a workflow rejected.
type ValidationError struct {
	Unit   string
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Key+": "+f.Reason)
	}
	return fmt.Sprintf("taskrun: invalid payload for %q: %s", e.Unit, strings.Join(parts, "; "))
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
