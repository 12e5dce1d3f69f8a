package enrollment

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = errors.New("enrollment: invalid status transition")

	// ErrNotFound is returned by repositories for an unknown enrollment.
	ErrNotFound = errors.New("enrollment: not found")

	// ErrStale is returned by Repository.Apply when the enrollment no longer
	// qualifies for expiry processing, e.g. another run got there first.
	ErrStale = errors.New("enrollment: no longer eligible for expiry")

	// ErrStatusChanged is returned by SetStatus when the stored status is no
	// longer the one the caller read.
	ErrStatusChanged = errors.New("enrollment: status changed concurrently")

	// ErrPartialFailure is returned by the expiry task when at least one
	// enrollment could not be processed.
	ErrPartialFailure = errors.New("enrollment: some enrollments failed to expire")
)

// Status is the review state of an enrollment.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusUnderReview Status = "UNDER_REVIEW"
	StatusApproved    Status = "APPROVED"
	StatusRejected    Status = "REJECTED"
	StatusWaitlisted  Status = "WAITLISTED"
	StatusCancelled   Status = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusUnderReview, StatusApproved, StatusRejected, StatusWaitlisted, StatusCancelled:
		return true
	}
	return false
}

// WorkflowType says which intake flow produced the enrollment.
type WorkflowType string

const (
	WorkflowApplication WorkflowType = "APPLICATION"
	WorkflowAdmission   WorkflowType = "ADMISSION"
)

// PlanKind distinguishes individual plans from practice (group) plans.
type PlanKind string

const (
	PlanIndividual PlanKind = "INDIVIDUAL"
	PlanPractice   PlanKind = "PRACTICE"
)

// MigrationRecord classifies what the expiry process did to an enrollment.
// Empty means it has never been processed.
type MigrationRecord string

const (
	MigrationNone                      MigrationRecord = ""
	MigrationIndividualActiveRenew     MigrationRecord = "INDIVIDUAL_ACTIVE_RENEW"
	MigrationIndividualActiveCancelled MigrationRecord = "INDIVIDUAL_ACTIVE_CANCELLED"
	MigrationExpiredIndividual         MigrationRecord = "EXPIRED_INDIVIDUAL"
	MigrationPracticeActiveRenew       MigrationRecord = "PRACTICE_ACTIVE_RENEW"
	MigrationPracticeActiveCancelled   MigrationRecord = "PRACTICE_ACTIVE_CANCELLED"
	MigrationExpiredPractice           MigrationRecord = "EXPIRED_PRACTICE"
)

// Final reports whether the expiry process must leave records with this
// classification alone.
func (m MigrationRecord) Final() bool {
	switch m {
	case MigrationExpiredIndividual, MigrationExpiredPractice,
		MigrationIndividualActiveCancelled, MigrationPracticeActiveCancelled:
		return true
	}
	return false
}

// finalMigrations lists every classification Final reports true for.
var finalMigrations = []MigrationRecord{
	MigrationExpiredIndividual,
	MigrationExpiredPractice,
	MigrationIndividualActiveCancelled,
	MigrationPracticeActiveCancelled,
}

// RenewMigration returns the active-renew classification for a plan kind.
func RenewMigration(k PlanKind) MigrationRecord {
	if k == PlanPractice {
		return MigrationPracticeActiveRenew
	}
	return MigrationIndividualActiveRenew
}

// CancelMigration returns the active-cancelled classification for a plan kind.
func CancelMigration(k PlanKind) MigrationRecord {
	if k == PlanPractice {
		return MigrationPracticeActiveCancelled
	}
	return MigrationIndividualActiveCancelled
}

// Enrollment is a user's enrollment in a package session.
type Enrollment struct {
	ID               uuid.UUID       `json:"id"`
	UserID           string          `json:"user_id"`
	PackageSessionID string          `json:"package_session_id"`
	Status           Status          `json:"status"`
	WorkflowType     WorkflowType    `json:"workflow_type"`
	PlanKind         PlanKind        `json:"plan_kind"`
	ExpiresAt        time.Time       `json:"expires_at"`
	Migration        MigrationRecord `json:"migration,omitempty"`
}

// Expirable reports whether the expiry task should pick e up at now.
func (e *Enrollment) Expirable(now time.Time) bool {
	return !e.ExpiresAt.IsZero() &&
		!e.ExpiresAt.After(now) &&
		e.Status != StatusCancelled &&
		!e.Migration.Final()
}

// Transition moves e to status to, or returns ErrInvalidTransition.
func (e *Enrollment) Transition(to Status) error {
	if !CanTransition(e.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, to)
	}
	e.Status = to
	return nil
}

// transitions lists the forward moves out of each status. Cancellation is
// handled separately since it is allowed from every non-terminal status.
var transitions = map[Status][]Status{
	StatusPending:     {StatusUnderReview, StatusApproved, StatusRejected, StatusWaitlisted},
	StatusUnderReview: {StatusApproved, StatusRejected, StatusWaitlisted},
	StatusWaitlisted:  {StatusApproved, StatusRejected},
}

// CanTransition reports whether an enrollment may move from one status to
// another. CANCELLED is terminal and reachable from every other status.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() || from == StatusCancelled {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
