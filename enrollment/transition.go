package enrollment

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/xraph/taskrun"
	"github.com/xraph/taskrun/unit"
)

// TransitionWorkflowName is the registry name of the on-demand status change.
const TransitionWorkflowName = "enrollment-transition"

// ReadWriter loads a single enrollment and changes its status.
type ReadWriter interface {
	StatusWriter
	Get(ctx context.Context, id uuid.UUID) (*Enrollment, error)
}

// TransitionInput is the payload of the transition workflow.
type TransitionInput struct {
	EnrollmentID string `json:"enrollment_id"`
	Status       Status `json:"status"`
}

// TransitionWorkflow moves one enrollment to a new status, subject to the
// review state machine. The write only lands if the status is still the one
// that was checked, so two racing runs cannot chain moves the state machine
// forbids; the loser fails with ErrStatusChanged. Expiry bookkeeping
// (migration, expiry time) is left as stored, and an enrollment already
// classified by the expiry task can still be cancelled.
func TransitionWorkflow(repo ReadWriter, opts ...unit.Option) unit.Unit {
	opts = append([]unit.Option{
		unit.WithDescription("move an enrollment to a new review status"),
		unit.WithSchema(unit.NewSchema(
			unit.Required("enrollment_id", unit.FieldString),
			unit.Required("status", unit.FieldString),
		)),
	}, opts...)

	return unit.WorkflowOf(TransitionWorkflowName, func(ctx context.Context, in TransitionInput) (unit.Result, error) {
		eid, err := uuid.Parse(in.EnrollmentID)
		if err != nil {
			return unit.Result{}, fmt.Errorf("%w: enrollment_id: %v", taskrun.ErrValidation, err)
		}
		if !in.Status.Valid() {
			return unit.Result{}, fmt.Errorf("%w: unknown status %q", taskrun.ErrValidation, in.Status)
		}

		e, err := repo.Get(ctx, eid)
		if err != nil {
			return unit.Result{}, err
		}
		from := e.Status
		if err := e.Transition(in.Status); err != nil {
			return unit.Result{}, err
		}
		if err := repo.SetStatus(ctx, e.ID, from, e.Status); err != nil {
			return unit.Result{}, err
		}
		return unit.Result{
			Summary:   fmt.Sprintf("%s: %s -> %s", e.ID, from, e.Status),
			Processed: 1,
			Succeeded: 1,
		}, nil
	}, opts...)
}
