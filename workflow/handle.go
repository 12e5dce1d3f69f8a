package workflow

import (
	"context"
	"sync"

	"github.com/xraph/taskrun/engine"
	"github.com/xraph/taskrun/id"
)

// Handle tracks one asynchronous workflow run.
type Handle struct {
	id     id.RunID
	name   string
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	out *engine.Outcome
	err error
}

func newHandle(runID id.RunID, name string, cancel context.CancelFunc) *Handle {
	return &Handle{
		id:     runID,
		name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// ID returns the run identifier. The audit record ID is on the outcome.
func (h *Handle) ID() id.RunID { return h.id }

// Name returns the workflow name.
func (h *Handle) Name() string { return h.name }

// Done is closed once the run has finished and been recorded.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Cancel asks the run to stop. The unit sees its context cancelled and the
// run is recorded as CANCELLED. Cancelling a finished run does nothing.
func (h *Handle) Cancel() { h.cancel() }

// Wait blocks until the run finishes or ctx ends. Ending ctx does not
// cancel the run.
func (h *Handle) Wait(ctx context.Context) (*engine.Outcome, error) {
	select {
	case <-h.done:
		return h.result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Outcome returns the outcome if the run has finished. ok is false while it
// is still running.
func (h *Handle) Outcome() (out *engine.Outcome, ok bool) {
	select {
	case <-h.done:
		out, _ = h.result()
		return out, true
	default:
		return nil, false
	}
}

// Err returns the run's error once finished, nil before then.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		_, err := h.result()
		return err
	default:
		return nil
	}
}

func (h *Handle) complete(out *engine.Outcome, err error) {
	h.mu.Lock()
	h.out, h.err = out, err
	h.mu.Unlock()
	close(h.done)
}

func (h *Handle) result() (*engine.Outcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.out, h.err
}
