package postgres

import (
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/taskrun/ledger"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// triggerColumns splits an optional trigger into nullable column values.
func triggerColumns(t *ledger.TriggerIdentity) (taskName, profileID, profileType *string) {
	if t == nil {
		return nil, nil, nil
	}
	return &t.TaskName, &t.ProfileID, &t.ProfileType
}

func successAt(r *ledger.Record) *time.Time {
	if r.Outcome != ledger.OutcomeSuccess {
		return nil
	}
	at := r.EndedAt.UTC()
	return &at
}
