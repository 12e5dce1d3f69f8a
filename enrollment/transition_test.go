package enrollment_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/taskrun"
	"github.com/xraph/taskrun/enrollment"
	"github.com/xraph/taskrun/unit"
)

func TestTransitionWorkflow(t *testing.T) {
	repo := enrollment.NewMemoryRepository()
	e := seed(t, repo, enrollment.StatusWaitlisted, enrollment.PlanIndividual, t0.Add(time.Hour), enrollment.MigrationNone)
	wf := enrollment.TransitionWorkflow(repo)
	assert.Equal(t, unit.KindWorkflow, wf.Kind())

	res, err := wf.Invoke(context.Background(), unit.PayloadOf(
		"enrollment_id", e.ID.String(),
		"status", string(enrollment.StatusApproved),
	))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Contains(t, res.Summary, "WAITLISTED -> APPROVED")

	got, err := repo.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusApproved, got.Status)
	assert.True(t, got.ExpiresAt.Equal(e.ExpiresAt))
}

func TestTransitionWorkflow_Rejections(t *testing.T) {
	repo := enrollment.NewMemoryRepository()
	approved := seed(t, repo, enrollment.StatusApproved, enrollment.PlanIndividual, t0.Add(time.Hour), enrollment.MigrationNone)
	wf := enrollment.TransitionWorkflow(repo)

	tests := []struct {
		name    string
		payload *unit.Payload
		target  error
	}{
		{"bad uuid", unit.PayloadOf("enrollment_id", "nope", "status", "CANCELLED"), taskrun.ErrValidation},
		{"unknown status", unit.PayloadOf("enrollment_id", approved.ID.String(), "status", "ARCHIVED"), taskrun.ErrValidation},
		{"not allowed", unit.PayloadOf("enrollment_id", approved.ID.String(), "status", "PENDING"), enrollment.ErrInvalidTransition},
		{"missing", unit.PayloadOf("enrollment_id", uuid.NewString(), "status", "CANCELLED"), enrollment.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := wf.Invoke(context.Background(), tt.payload)
			require.ErrorIs(t, err, tt.target)
		})
	}

	got, err := repo.Get(context.Background(), approved.ID)
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusApproved, got.Status)
}

func TestTransitionWorkflow_Schema(t *testing.T) {
	wf := enrollment.TransitionWorkflow(enrollment.NewMemoryRepository())
	err := wf.Options().Schema.Validate(wf.Name(), unit.PayloadOf("status", "CANCELLED"))
	require.ErrorIs(t, err, taskrun.ErrValidation)
}

// Two reviewers act on the same waitlisted enrollment at once. Only one
// decision may land, otherwise APPROVED -> REJECTED would happen by proxy.
func TestTransitionWorkflow_ConcurrentDecisionsOneWins(t *testing.T) {
	for name, newRepo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			r := newRepo(t)
			e := seed(t, r, enrollment.StatusWaitlisted, enrollment.PlanIndividual, t0.Add(time.Hour), enrollment.MigrationNone)
			wf := enrollment.TransitionWorkflow(r.(enrollment.ReadWriter))

			targets := []enrollment.Status{enrollment.StatusApproved, enrollment.StatusRejected}
			errs := make([]error, len(targets))
			var wg sync.WaitGroup
			for i, to := range targets {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, errs[i] = wf.Invoke(context.Background(), unit.PayloadOf(
						"enrollment_id", e.ID.String(),
						"status", string(to),
					))
				}()
			}
			wg.Wait()

			wins := 0
			for _, err := range errs {
				if err == nil {
					wins++
					continue
				}
				// The loser either lost the write or read the winner's status.
				assert.True(t,
					errors.Is(err, enrollment.ErrStatusChanged) || errors.Is(err, enrollment.ErrInvalidTransition),
					"unexpected error %v", err)
			}
			assert.Equal(t, 1, wins)
		})
	}
}

func TestSetStatus_ComparesOldStatus(t *testing.T) {
	for name, newRepo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			r := newRepo(t)
			w := r.(enrollment.StatusWriter)
			e := seed(t, r, enrollment.StatusPending, enrollment.PlanIndividual, t0.Add(time.Hour), enrollment.MigrationNone)
			ctx := context.Background()

			require.NoError(t, w.SetStatus(ctx, e.ID, enrollment.StatusPending, enrollment.StatusUnderReview))
			require.ErrorIs(t, w.SetStatus(ctx, e.ID, enrollment.StatusPending, enrollment.StatusApproved), enrollment.ErrStatusChanged)
			require.ErrorIs(t, w.SetStatus(ctx, uuid.New(), enrollment.StatusPending, enrollment.StatusApproved), enrollment.ErrNotFound)

			got, err := r.Get(ctx, e.ID)
			require.NoError(t, err)
			assert.Equal(t, enrollment.StatusUnderReview, got.Status)
		})
	}
}

func TestTransitionWorkflow_CancelAfterExpiryClassification(t *testing.T) {
	repo := enrollment.NewMemoryRepository()
	e := seed(t, repo, enrollment.StatusApproved, enrollment.PlanIndividual, t0.Add(-time.Hour), enrollment.MigrationExpiredIndividual)
	wf := enrollment.TransitionWorkflow(repo)

	_, err := wf.Invoke(context.Background(), unit.PayloadOf(
		"enrollment_id", e.ID.String(),
		"status", string(enrollment.StatusCancelled),
	))
	require.NoError(t, err)

	got, err := repo.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusCancelled, got.Status)
	assert.Equal(t, enrollment.MigrationExpiredIndividual, got.Migration)
}
