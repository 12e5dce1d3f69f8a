package enrollment_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/taskrun/enrollment"
)

func TestCanTransition(t *testing.T) {
	all := []enrollment.Status{
		enrollment.StatusPending,
		enrollment.StatusUnderReview,
		enrollment.StatusApproved,
		enrollment.StatusRejected,
		enrollment.StatusWaitlisted,
		enrollment.StatusCancelled,
	}
	allowed := map[enrollment.Status][]enrollment.Status{
		enrollment.StatusPending: {
			enrollment.StatusUnderReview, enrollment.StatusApproved, enrollment.StatusRejected,
			enrollment.StatusWaitlisted, enrollment.StatusCancelled,
		},
		enrollment.StatusUnderReview: {
			enrollment.StatusApproved, enrollment.StatusRejected, enrollment.StatusWaitlisted, enrollment.StatusCancelled,
		},
		enrollment.StatusWaitlisted: {enrollment.StatusApproved, enrollment.StatusRejected, enrollment.StatusCancelled},
		enrollment.StatusApproved:   {enrollment.StatusCancelled},
		enrollment.StatusRejected:   {enrollment.StatusCancelled},
		enrollment.StatusCancelled:  nil,
	}

	for _, from := range all {
		for _, to := range all {
			want := contains(allowed[from], to)
			assert.Equal(t, want, enrollment.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func contains(list []enrollment.Status, s enrollment.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestCanTransition_UnknownStatus(t *testing.T) {
	assert.False(t, enrollment.CanTransition("ARCHIVED", enrollment.StatusCancelled))
	assert.False(t, enrollment.CanTransition(enrollment.StatusPending, "ARCHIVED"))
}

func TestTransition(t *testing.T) {
	e := &enrollment.Enrollment{Status: enrollment.StatusWaitlisted}
	require.NoError(t, e.Transition(enrollment.StatusApproved))
	assert.Equal(t, enrollment.StatusApproved, e.Status)

	err := e.Transition(enrollment.StatusWaitlisted)
	require.ErrorIs(t, err, enrollment.ErrInvalidTransition)
	assert.Equal(t, enrollment.StatusApproved, e.Status, "failed transition must not change status")

	require.NoError(t, e.Transition(enrollment.StatusCancelled))
	require.ErrorIs(t, e.Transition(enrollment.StatusPending), enrollment.ErrInvalidTransition)
}

func TestMigrationClassification(t *testing.T) {
	assert.Equal(t, enrollment.MigrationIndividualActiveRenew, enrollment.RenewMigration(enrollment.PlanIndividual))
	assert.Equal(t, enrollment.MigrationPracticeActiveRenew, enrollment.RenewMigration(enrollment.PlanPractice))
	assert.Equal(t, enrollment.MigrationIndividualActiveCancelled, enrollment.CancelMigration(enrollment.PlanIndividual))
	assert.Equal(t, enrollment.MigrationPracticeActiveCancelled, enrollment.CancelMigration(enrollment.PlanPractice))

	assert.True(t, enrollment.MigrationExpiredIndividual.Final())
	assert.True(t, enrollment.MigrationPracticeActiveCancelled.Final())
	assert.False(t, enrollment.MigrationIndividualActiveRenew.Final())
	assert.False(t, enrollment.MigrationNone.Final())
}

func TestExpirable(t *testing.T) {
	now := time.Date(2026, 1, 10, 1, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)

	tests := []struct {
		name string
		e    enrollment.Enrollment
		want bool
	}{
		{"past expiry", enrollment.Enrollment{Status: enrollment.StatusApproved, ExpiresAt: past}, true},
		{"expires exactly now", enrollment.Enrollment{Status: enrollment.StatusApproved, ExpiresAt: now}, true},
		{"future expiry", enrollment.Enrollment{Status: enrollment.StatusApproved, ExpiresAt: now.Add(time.Hour)}, false},
		{"no expiry", enrollment.Enrollment{Status: enrollment.StatusApproved}, false},
		{"cancelled", enrollment.Enrollment{Status: enrollment.StatusCancelled, ExpiresAt: past}, false},
		{"already expired", enrollment.Enrollment{
			Status: enrollment.StatusApproved, ExpiresAt: past, Migration: enrollment.MigrationExpiredPractice,
		}, false},
		{"previously renewed", enrollment.Enrollment{
			Status: enrollment.StatusApproved, ExpiresAt: past, Migration: enrollment.MigrationIndividualActiveRenew,
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.e.Expirable(now))
		})
	}
}
