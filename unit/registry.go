package unit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xraph/taskrun"
)

// Builder collects units during start-up. It is not safe for concurrent use;
// registration is expected to happen on the main goroutine before any
// trigger front-end starts.
type Builder struct {
	units map[string]Unit
	built bool
}

// NewBuilder creates an empty registry builder.
func NewBuilder() *Builder {
	return &Builder{units: make(map[string]Unit)}
}

// Register adds a unit. It fails with a *taskrun.DuplicateNameError if the
// name is taken and with taskrun.ErrRegistryFrozen after Build.
func (b *Builder) Register(u Unit) error {
	if b.built {
		return taskrun.ErrRegistryFrozen
	}
	if u == nil {
		return fmt.Errorf("%w: nil unit", taskrun.ErrInvalidUnit)
	}
	name := u.Name()
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty name", taskrun.ErrInvalidUnit)
	}
	if k := u.Kind(); k != KindTask && k != KindWorkflow {
		return fmt.Errorf("%w: unit %q has unknown kind %q", taskrun.ErrInvalidUnit, name, k)
	}
	if _, exists := b.units[name]; exists {
		return &taskrun.DuplicateNameError{Name: name}
	}
	b.units[name] = u
	return nil
}

// MustRegister registers every unit and panics on the first error.
// Use it in main where a registration error is a wiring bug.
func (b *Builder) MustRegister(units ...Unit) *Builder {
	for _, u := range units {
		if err := b.Register(u); err != nil {
			panic(err)
		}
	}
	return b
}

// Build freezes the builder and returns the immutable registry.
func (b *Builder) Build() *Registry {
	b.built = true
	units := make(map[string]Unit, len(b.units))
	names := make([]string, 0, len(b.units))
	for name, u := range b.units {
		units[name] = u
		names = append(names, name)
	}
	sort.Strings(names)
	return &Registry{units: units, names: names}
}

// Registry maps unit names to units. It never changes after construction,
// so it is safe for concurrent use without locking.
type Registry struct {
	units map[string]Unit
	names []string
}

// Resolve returns the unit registered under name, or a
// *taskrun.NotFoundError.
func (r *Registry) Resolve(name string) (Unit, error) {
	u, ok := r.units[name]
	if !ok {
		return nil, &taskrun.NotFoundError{Name: name}
	}
	return u, nil
}

// ResolveKind resolves name and checks the unit's kind.
func (r *Registry) ResolveKind(name string, kind Kind) (Unit, error) {
	u, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	if u.Kind() != kind {
		return nil, fmt.Errorf("%w: %q is a %s, not a %s", taskrun.ErrWrongKind, name, u.Kind(), kind)
	}
	return u, nil
}

// Names returns all registered unit names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Len returns the number of registered units.
func (r *Registry) Len() int { return len(r.names) }
