package enrollment

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteRepository stores enrollments in SQLite through database/sql. Open
// the handle with the modernc.org/sqlite driver ("sqlite").
type SQLiteRepository struct {
	db *sql.DB
}

var (
	_ Repository   = (*SQLiteRepository)(nil)
	_ StatusWriter = (*SQLiteRepository)(nil)
)

// NewSQLiteRepository wraps an open database handle.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Migrate creates the enrollments table and its indexes.
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("enrollment/sqlite: migrate: %w", err)
	}
	return nil
}

// Insert stores e, assigning an ID when it has none.
func (r *SQLiteRepository) Insert(ctx context.Context, e *Enrollment) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO enrollments (id, user_id, package_session_id, status, workflow_type, plan_kind, expires_at, migration)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.PackageSessionID, string(e.Status), string(e.WorkflowType),
		string(e.PlanKind), toMillis(e.ExpiresAt), string(e.Migration),
	)
	if err != nil {
		return fmt.Errorf("enrollment/sqlite: insert: %w", err)
	}
	return nil
}

// Get returns the enrollment with the given ID.
func (r *SQLiteRepository) Get(ctx context.Context, id uuid.UUID) (*Enrollment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, package_session_id, status, workflow_type, plan_kind, expires_at, migration
		 FROM enrollments WHERE id = ?`, id)
	e, err := scanEnrollment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("enrollment/sqlite: get: %w", err)
	}
	return e, nil
}

// ListExpired implements Repository.
func (r *SQLiteRepository) ListExpired(ctx context.Context, now time.Time) ([]*Enrollment, error) {
	query := `SELECT id, user_id, package_session_id, status, workflow_type, plan_kind, expires_at, migration
		FROM enrollments
		WHERE expires_at > 0 AND expires_at <= ? AND status <> ? AND migration NOT IN (` + placeholders(len(finalMigrations)) + `)
		ORDER BY expires_at ASC, id ASC`

	args := []any{toMillis(now), string(StatusCancelled)}
	for _, m := range finalMigrations {
		args = append(args, string(m))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("enrollment/sqlite: list expired: %w", err)
	}
	defer rows.Close()

	var out []*Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("enrollment/sqlite: list expired scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("enrollment/sqlite: list expired: %w", err)
	}
	return out, nil
}

// Apply implements Repository. The eligibility check and the update are a
// single statement, so two concurrent runs cannot both apply.
func (r *SQLiteRepository) Apply(ctx context.Context, id uuid.UUID, status Status, migration MigrationRecord, expiresAt time.Time) error {
	query := `UPDATE enrollments SET status = ?, migration = ?, expires_at = ?
		WHERE id = ? AND status <> ? AND migration NOT IN (` + placeholders(len(finalMigrations)) + `)`

	args := []any{string(status), string(migration), toMillis(expiresAt), id, string(StatusCancelled)}
	for _, m := range finalMigrations {
		args = append(args, string(m))
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("enrollment/sqlite: apply: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM enrollments WHERE id = ?`, id).Scan(&exists)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("enrollment/sqlite: apply: %w", err)
	}
	return ErrStale
}

// SetStatus implements StatusWriter as one conditional UPDATE.
func (r *SQLiteRepository) SetStatus(ctx context.Context, id uuid.UUID, from, to Status) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE enrollments SET status = ? WHERE id = ? AND status = ?`,
		string(to), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("enrollment/sqlite: set status: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM enrollments WHERE id = ?`, id).Scan(&exists)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("enrollment/sqlite: set status: %w", err)
	}
	return ErrStatusChanged
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEnrollment(s scanner) (*Enrollment, error) {
	var (
		e                          Enrollment
		status, wfType, plan, migr string
		expires                    int64
	)
	if err := s.Scan(&e.ID, &e.UserID, &e.PackageSessionID, &status, &wfType, &plan, &expires, &migr); err != nil {
		return nil, err
	}
	e.Status = Status(status)
	e.WorkflowType = WorkflowType(wfType)
	e.PlanKind = PlanKind(plan)
	e.Migration = MigrationRecord(migr)
	e.ExpiresAt = fromMillis(expires)
	return &e, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
