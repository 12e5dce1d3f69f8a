package enrollment_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/xraph/taskrun/enrollment"
)

// testRepo is the repository surface the tests seed and inspect through.
type testRepo interface {
	enrollment.Repository
	Insert(ctx context.Context, e *enrollment.Enrollment) error
	Get(ctx context.Context, id uuid.UUID) (*enrollment.Enrollment, error)
}

func newSQLiteRepo(t *testing.T) *enrollment.SQLiteRepository {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	r := enrollment.NewSQLiteRepository(db)
	require.NoError(t, r.Migrate(context.Background()))
	return r
}

func repositories(t *testing.T) map[string]func(t *testing.T) testRepo {
	t.Helper()
	return map[string]func(t *testing.T) testRepo{
		"memory": func(*testing.T) testRepo { return enrollment.NewMemoryRepository() },
		"sqlite": func(t *testing.T) testRepo { return newSQLiteRepo(t) },
	}
}

var t0 = time.Date(2026, 1, 10, 1, 0, 0, 0, time.UTC)

func seed(t *testing.T, r testRepo, status enrollment.Status, plan enrollment.PlanKind, expires time.Time, m enrollment.MigrationRecord) *enrollment.Enrollment {
	t.Helper()
	e := &enrollment.Enrollment{
		UserID:           "user-" + uuid.NewString()[:8],
		PackageSessionID: "ps-1",
		Status:           status,
		WorkflowType:     enrollment.WorkflowApplication,
		PlanKind:         plan,
		ExpiresAt:        expires,
		Migration:        m,
	}
	require.NoError(t, r.Insert(context.Background(), e))
	require.NotEqual(t, uuid.Nil, e.ID)
	return e
}

func TestRepository_ListExpired(t *testing.T) {
	for name, newRepo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			r := newRepo(t)
			ctx := context.Background()

			older := seed(t, r, enrollment.StatusApproved, enrollment.PlanIndividual, t0.Add(-48*time.Hour), enrollment.MigrationNone)
			newer := seed(t, r, enrollment.StatusPending, enrollment.PlanPractice, t0.Add(-time.Hour), enrollment.MigrationIndividualActiveRenew)
			seed(t, r, enrollment.StatusApproved, enrollment.PlanIndividual, t0.Add(time.Hour), enrollment.MigrationNone)
			seed(t, r, enrollment.StatusCancelled, enrollment.PlanIndividual, t0.Add(-time.Hour), enrollment.MigrationNone)
			seed(t, r, enrollment.StatusApproved, enrollment.PlanPractice, t0.Add(-time.Hour), enrollment.MigrationExpiredPractice)
			seed(t, r, enrollment.StatusApproved, enrollment.PlanPractice, time.Time{}, enrollment.MigrationNone)

			got, err := r.ListExpired(ctx, t0)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, older.ID, got[0].ID)
			assert.Equal(t, newer.ID, got[1].ID)
			assert.True(t, got[0].ExpiresAt.Equal(older.ExpiresAt))
			assert.Equal(t, enrollment.PlanPractice, got[1].PlanKind)
		})
	}
}

func TestRepository_Apply(t *testing.T) {
	for name, newRepo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			r := newRepo(t)
			ctx := context.Background()
			e := seed(t, r, enrollment.StatusApproved, enrollment.PlanIndividual, t0.Add(-time.Hour), enrollment.MigrationNone)

			renewTo := t0.Add(30 * 24 * time.Hour)
			require.NoError(t, r.Apply(ctx, e.ID, enrollment.StatusApproved, enrollment.MigrationIndividualActiveRenew, renewTo))
			got, err := r.Get(ctx, e.ID)
			require.NoError(t, err)
			assert.Equal(t, enrollment.MigrationIndividualActiveRenew, got.Migration)
			assert.True(t, got.ExpiresAt.Equal(renewTo))

			require.NoError(t, r.Apply(ctx, e.ID, enrollment.StatusCancelled, enrollment.MigrationIndividualActiveCancelled, renewTo))
			err = r.Apply(ctx, e.ID, enrollment.StatusApproved, enrollment.MigrationIndividualActiveRenew, renewTo)
			require.ErrorIs(t, err, enrollment.ErrStale)

			got, err = r.Get(ctx, e.ID)
			require.NoError(t, err)
			assert.Equal(t, enrollment.StatusCancelled, got.Status, "stale apply must not change the row")

			require.ErrorIs(t, r.Apply(ctx, uuid.New(), enrollment.StatusCancelled, enrollment.MigrationNone, t0), enrollment.ErrNotFound)
			_, err = r.Get(ctx, uuid.New())
			require.ErrorIs(t, err, enrollment.ErrNotFound)
		})
	}
}
