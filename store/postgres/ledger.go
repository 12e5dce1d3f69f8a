package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/taskrun"
	"github.com/xraph/taskrun/id"
	"github.com/xraph/taskrun/ledger"
)

// ──────────────────────────────────────────────────
// Claim
// ──────────────────────────────────────────────────

// TryClaim inserts the marker or moves LastAttemptedAt when the stored
// attempt lies outside w. A zero-row command tag means the WHERE rejected
// the update, i.e. the window is already claimed.
func (s *Store) TryClaim(ctx context.Context, t ledger.TriggerIdentity, w ledger.Window, now time.Time) (ledger.ClaimResult, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	if err := w.Validate(); err != nil {
		return 0, err
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO run_marker (task_name, cron_profile_id, cron_profile_type, last_attempted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (task_name, cron_profile_id, cron_profile_type) DO UPDATE
			SET last_attempted_at = EXCLUDED.last_attempted_at
			WHERE NOT (run_marker.last_attempted_at >= $5 AND run_marker.last_attempted_at < $6)`,
		t.TaskName, t.ProfileID, t.ProfileType, now.UTC(), w.Start.UTC(), w.End.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("taskrun/postgres: try claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.AlreadyClaimed, nil
	}
	return ledger.Claimed, nil
}

// ──────────────────────────────────────────────────
// Audit records
// ──────────────────────────────────────────────────

// RecordOutcome inserts r and folds it into its marker in one transaction.
func (s *Store) RecordOutcome(ctx context.Context, r *ledger.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("taskrun/postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	taskName, profileID, profileType := triggerColumns(r.Trigger)
	_, err = tx.Exec(ctx, `
		INSERT INTO execution_audit
			(id, unit_name, trigger_task_name, trigger_cron_profile_id, trigger_cron_profile_type, started_at, ended_at,
			 outcome, error_kind, error_summary, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID.String(), r.UnitName, taskName, profileID, profileType,
		r.StartedAt.UTC(), r.EndedAt.UTC(), string(r.Outcome),
		string(r.ErrorKind), r.ErrorSummary, r.Summary,
	)
	if isDuplicateKey(err) {
		return taskrun.ErrRecordExists
	}
	if err != nil {
		return fmt.Errorf("taskrun/postgres: insert record: %w", err)
	}

	if r.Trigger != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO run_marker
				(task_name, cron_profile_id, cron_profile_type, last_attempted_at, last_successful_at, last_outcome)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (task_name, cron_profile_id, cron_profile_type) DO UPDATE SET
				last_outcome       = EXCLUDED.last_outcome,
				last_successful_at = COALESCE(EXCLUDED.last_successful_at, run_marker.last_successful_at)`,
			r.Trigger.TaskName, r.Trigger.ProfileID, r.Trigger.ProfileType,
			r.StartedAt.UTC(), successAt(r), string(r.Outcome),
		)
		if err != nil {
			return fmt.Errorf("taskrun/postgres: update marker: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("taskrun/postgres: commit: %w", err)
	}
	return nil
}

// GetMarker returns the marker for t.
func (s *Store) GetMarker(ctx context.Context, t ledger.TriggerIdentity) (*ledger.RunMarker, error) {
	m := &ledger.RunMarker{Identity: t}
	var outcome string
	err := s.pool.QueryRow(ctx, `
		SELECT last_attempted_at, last_successful_at, last_outcome
		FROM run_marker
		WHERE task_name = $1 AND cron_profile_id = $2 AND cron_profile_type = $3`,
		t.TaskName, t.ProfileID, t.ProfileType,
	).Scan(&m.LastAttemptedAt, &m.LastSuccessfulAt, &outcome)
	if isNoRows(err) {
		return nil, taskrun.ErrMarkerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("taskrun/postgres: get marker: %w", err)
	}

	m.LastAttemptedAt = m.LastAttemptedAt.UTC()
	if m.LastSuccessfulAt != nil {
		at := m.LastSuccessfulAt.UTC()
		m.LastSuccessfulAt = &at
	}
	m.LastOutcome = ledger.Outcome(outcome)
	return m, nil
}

// ListRecords returns matching records, newest first.
func (s *Store) ListRecords(ctx context.Context, opts ledger.ListOpts) ([]*ledger.Record, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if opts.UnitName != "" {
		where = append(where, "unit_name = "+arg(opts.UnitName))
	}
	if opts.OnDemand {
		where = append(where, "trigger_task_name IS NULL")
	}
	if opts.Trigger != nil {
		where = append(where,
			"trigger_task_name = "+arg(opts.Trigger.TaskName),
			"trigger_cron_profile_id = "+arg(opts.Trigger.ProfileID),
			"trigger_cron_profile_type = "+arg(opts.Trigger.ProfileType),
		)
	}

	query := `SELECT id, unit_name, trigger_task_name, trigger_cron_profile_id, trigger_cron_profile_type, started_at, ended_at,
		outcome, error_kind, error_summary, summary FROM execution_audit`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id DESC"
	if opts.Limit > 0 {
		query += " LIMIT " + arg(opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("taskrun/postgres: list records: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("taskrun/postgres: scan record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("taskrun/postgres: list records: %w", err)
	}
	return out, nil
}

func scanRecord(rows pgx.Rows) (*ledger.Record, error) {
	var (
		r                                ledger.Record
		rawID, outcome, kind             string
		taskName, profileID, profileType *string
	)
	if err := rows.Scan(&rawID, &r.UnitName, &taskName, &profileID, &profileType,
		&r.StartedAt, &r.EndedAt, &outcome, &kind, &r.ErrorSummary, &r.Summary); err != nil {
		return nil, err
	}

	rid, err := id.ParseRecordID(rawID)
	if err != nil {
		return nil, err
	}
	r.ID = rid
	r.StartedAt = r.StartedAt.UTC()
	r.EndedAt = r.EndedAt.UTC()
	r.Outcome = ledger.Outcome(outcome)
	r.ErrorKind = ledger.ErrorKind(kind)
	if taskName != nil {
		r.Trigger = &ledger.TriggerIdentity{TaskName: *taskName, ProfileID: deref(profileID), ProfileType: deref(profileType)}
	}
	return &r, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
