package unit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/taskrun"
)

// Kind distinguishes time-triggered tasks from on-demand workflows.
type Kind string

const (
	// KindTask is a recurring unit with no caller-supplied input.
	KindTask Kind = "task"
	// KindWorkflow is an on-demand unit invoked with a payload.
	KindWorkflow Kind = "workflow"
)

// Result is what a unit reports on return. Units that process a batch fill
// the counts; the dispatcher folds them into the audit summary.
type Result struct {
	Summary   string `json:"summary,omitempty"`
	Processed int    `json:"processed,omitempty"`
	Succeeded int    `json:"succeeded,omitempty"`
	Failed    int    `json:"failed,omitempty"`
}

// HasCounts reports whether the unit reported any batch counts.
func (r Result) HasCounts() bool {
	return r.Processed != 0 || r.Succeeded != 0 || r.Failed != 0
}

// String renders the summary and counts on one line.
func (r Result) String() string {
	var b strings.Builder
	b.WriteString(r.Summary)
	if r.HasCounts() {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "(processed=%d succeeded=%d failed=%d)", r.Processed, r.Succeeded, r.Failed)
	}
	return b.String()
}

// Unit is a named operation owned by the Registry.
type Unit interface {
	// Name returns the unique registry name.
	Name() string

	// Kind reports whether this is a task or a workflow.
	Kind() Kind

	// Options returns the unit's declared execution options.
	Options() Options

	// Invoke runs the unit. Tasks receive an empty payload.
	Invoke(ctx context.Context, p *Payload) (Result, error)
}

// TaskFunc is the body of a task.
type TaskFunc func(ctx context.Context) (Result, error)

// WorkflowFunc is the body of a workflow.
type WorkflowFunc func(ctx context.Context, p *Payload) (Result, error)

// Options configures per-unit behavior.
type Options struct {
	// Timeout overrides the dispatcher's default deadline. Zero means use
	// the default.
	Timeout time.Duration

	// Schema lists the payload keys a workflow requires.
	Schema Schema

	// Description is shown by operational tooling.
	Description string
}

// Option is a functional option for configuring a unit.
type Option func(*Options)

// WithTimeout sets the per-invocation deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithSchema declares the payload keys a workflow requires.
func WithSchema(s Schema) Option {
	return func(o *Options) { o.Schema = s }
}

// WithDescription attaches a human-readable description.
func WithDescription(desc string) Option {
	return func(o *Options) { o.Description = desc }
}

type definition struct {
	name string
	kind Kind
	opts Options
	fn   WorkflowFunc
}

func (d *definition) Name() string     { return d.name }
func (d *definition) Kind() Kind       { return d.kind }
func (d *definition) Options() Options { return d.opts }

func (d *definition) Invoke(ctx context.Context, p *Payload) (Result, error) {
	return d.fn(ctx, p)
}

func newDefinition(name string, kind Kind, fn WorkflowFunc, opts []Option) *definition {
	d := &definition{name: name, kind: kind, fn: fn}
	for _, opt := range opts {
		opt(&d.opts)
	}
	return d
}

// NewTask creates a recurring task unit.
func NewTask(name string, fn TaskFunc, opts ...Option) Unit {
	return newDefinition(name, KindTask, func(ctx context.Context, _ *Payload) (Result, error) {
		return fn(ctx)
	}, opts)
}

// NewWorkflow creates an on-demand workflow unit.
func NewWorkflow(name string, fn WorkflowFunc, opts ...Option) Unit {
	return newDefinition(name, KindWorkflow, fn, opts)
}

// WorkflowOf creates a workflow whose payload is decoded into T before the
// handler runs. Payload keys map to T's JSON field names.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func WorkflowOf[T any](name string, fn func(ctx context.Context, input T) (Result, error), opts ...Option) Unit {
	return newDefinition(name, KindWorkflow, func(ctx context.Context, p *Payload) (Result, error) {
		var input T
		if p.Len() > 0 {
			data, err := json.Marshal(p)
			if err != nil {
				return Result{}, fmt.Errorf("marshal payload for workflow %q: %w", name, err)
			}
			if err := json.Unmarshal(data, &input); err != nil {
				return Result{}, fmt.Errorf("%w: decode payload for workflow %q: %v", taskrun.ErrValidation, name, err)
			}
		}
		return fn(ctx, input)
	}, opts)
}
