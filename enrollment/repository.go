package enrollment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence the expiry task needs.
type Repository interface {
	// ListExpired returns enrollments that are Expirable at now, oldest
	// expiry first.
	ListExpired(ctx context.Context, now time.Time) ([]*Enrollment, error)

	// Apply sets status, migration and expiry on one enrollment. It fails
	// with ErrStale when the enrollment has been cancelled or classified
	// final since it was listed, and ErrNotFound when it does not exist.
	Apply(ctx context.Context, id uuid.UUID, status Status, migration MigrationRecord, expiresAt time.Time) error
}

// StatusWriter changes review status with a compare on the old value.
type StatusWriter interface {
	// SetStatus moves an enrollment from status from to status to, leaving
	// migration and expiry alone. It fails with ErrStatusChanged when the
	// stored status is not from, and ErrNotFound when it does not exist.
	SetStatus(ctx context.Context, id uuid.UUID, from, to Status) error
}

// MemoryRepository is an in-process Repository for tests and development.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Enrollment
}

var (
	_ Repository   = (*MemoryRepository)(nil)
	_ StatusWriter = (*MemoryRepository)(nil)
)

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[uuid.UUID]*Enrollment)}
}

// Insert stores a copy of e, assigning an ID when it has none.
func (r *MemoryRepository) Insert(_ context.Context, e *Enrollment) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	cp := *e
	r.mu.Lock()
	r.items[e.ID] = &cp
	r.mu.Unlock()
	return nil
}

// Get returns a copy of the enrollment with the given ID.
func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// ListExpired implements Repository.
func (r *MemoryRepository) ListExpired(_ context.Context, now time.Time) ([]*Enrollment, error) {
	r.mu.RLock()
	out := make([]*Enrollment, 0)
	for _, e := range r.items {
		if e.Expirable(now) {
			cp := *e
			out = append(out, &cp)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ExpiresAt.Before(out[j].ExpiresAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// Apply implements Repository.
func (r *MemoryRepository) Apply(_ context.Context, id uuid.UUID, status Status, migration MigrationRecord, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.items[id]
	if !ok {
		return ErrNotFound
	}
	if e.Status == StatusCancelled || e.Migration.Final() {
		return ErrStale
	}
	e.Status = status
	e.Migration = migration
	e.ExpiresAt = expiresAt
	return nil
}

// SetStatus implements StatusWriter.
func (r *MemoryRepository) SetStatus(_ context.Context, id uuid.UUID, from, to Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.items[id]
	if !ok {
		return ErrNotFound
	}
	if e.Status != from {
		return ErrStatusChanged
	}
	e.Status = to
	return nil
}
