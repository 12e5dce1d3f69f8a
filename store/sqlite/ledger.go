package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/taskrun"
	"github.com/xraph/taskrun/id"
	"github.com/xraph/taskrun/ledger"
)

// TryClaim is a single conditional upsert. The DO UPDATE branch only fires
// when the stored attempt lies outside the window, and SQLite reports zero
// changed rows when its WHERE is false.
func (s *Store) TryClaim(ctx context.Context, t ledger.TriggerIdentity, w ledger.Window, now time.Time) (ledger.ClaimResult, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	if err := w.Validate(); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO run_marker (task_name, cron_profile_id, cron_profile_type, last_attempted_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (task_name, cron_profile_id, cron_profile_type) DO UPDATE
			SET last_attempted_at = excluded.last_attempted_at
			WHERE NOT (run_marker.last_attempted_at >= ? AND run_marker.last_attempted_at < ?)`,
		t.TaskName, t.ProfileID, t.ProfileType, toMillis(now),
		toMillis(w.Start), toMillis(w.End),
	)
	if err != nil {
		return 0, fmt.Errorf("taskrun/sqlite: try claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("taskrun/sqlite: try claim rows: %w", err)
	}
	if n == 0 {
		return ledger.AlreadyClaimed, nil
	}
	return ledger.Claimed, nil
}

// RecordOutcome inserts the record and folds it into the marker inside one
// transaction.
func (s *Store) RecordOutcome(ctx context.Context, r *ledger.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("taskrun/sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var taskName, profileID, profileType sql.NullString
	if r.Trigger != nil {
		taskName = sql.NullString{String: r.Trigger.TaskName, Valid: true}
		profileID = sql.NullString{String: r.Trigger.ProfileID, Valid: true}
		profileType = sql.NullString{String: r.Trigger.ProfileType, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO execution_audit
			(id, unit_name, trigger_task_name, trigger_cron_profile_id, trigger_cron_profile_type, started_at, ended_at, outcome, error_kind, error_summary, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.UnitName, taskName, profileID, profileType,
		toMillis(r.StartedAt), toMillis(r.EndedAt), string(r.Outcome),
		string(r.ErrorKind), r.ErrorSummary, r.Summary,
	)
	if isDuplicateKey(err) {
		return taskrun.ErrRecordExists
	}
	if err != nil {
		return fmt.Errorf("taskrun/sqlite: insert record: %w", err)
	}

	if r.Trigger != nil {
		var success sql.NullInt64
		if r.Outcome == ledger.OutcomeSuccess {
			success = sql.NullInt64{Int64: toMillis(r.EndedAt), Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_marker
				(task_name, cron_profile_id, cron_profile_type, last_attempted_at, last_successful_at, last_outcome)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (task_name, cron_profile_id, cron_profile_type) DO UPDATE SET
				last_outcome       = excluded.last_outcome,
				last_successful_at = COALESCE(excluded.last_successful_at, run_marker.last_successful_at)`,
			r.Trigger.TaskName, r.Trigger.ProfileID, r.Trigger.ProfileType,
			toMillis(r.StartedAt), success, string(r.Outcome),
		)
		if err != nil {
			return fmt.Errorf("taskrun/sqlite: update marker: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("taskrun/sqlite: commit: %w", err)
	}
	return nil
}

// GetMarker returns the marker for t.
func (s *Store) GetMarker(ctx context.Context, t ledger.TriggerIdentity) (*ledger.RunMarker, error) {
	var (
		attempted int64
		success   sql.NullInt64
		outcome   string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT last_attempted_at, last_successful_at, last_outcome
		FROM run_marker
		WHERE task_name = ? AND cron_profile_id = ? AND cron_profile_type = ?`,
		t.TaskName, t.ProfileID, t.ProfileType,
	).Scan(&attempted, &success, &outcome)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, taskrun.ErrMarkerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("taskrun/sqlite: get marker: %w", err)
	}

	m := &ledger.RunMarker{
		Identity:        t,
		LastAttemptedAt: fromMillis(attempted),
		LastOutcome:     ledger.Outcome(outcome),
	}
	if success.Valid {
		at := fromMillis(success.Int64)
		m.LastSuccessfulAt = &at
	}
	return m, nil
}

// ListRecords returns matching records, newest first.
func (s *Store) ListRecords(ctx context.Context, opts ledger.ListOpts) ([]*ledger.Record, error) {
	var (
		where []string
		args  []any
	)
	if opts.UnitName != "" {
		where = append(where, "unit_name = ?")
		args = append(args, opts.UnitName)
	}
	if opts.OnDemand {
		where = append(where, "trigger_task_name IS NULL")
	}
	if opts.Trigger != nil {
		where = append(where, "trigger_task_name = ? AND trigger_cron_profile_id = ? AND trigger_cron_profile_type = ?")
		args = append(args, opts.Trigger.TaskName, opts.Trigger.ProfileID, opts.Trigger.ProfileType)
	}

	query := `SELECT id, unit_name, trigger_task_name, trigger_cron_profile_id, trigger_cron_profile_type, started_at, ended_at,
		outcome, error_kind, error_summary, summary FROM execution_audit`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("taskrun/sqlite: list records: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("taskrun/sqlite: scan record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("taskrun/sqlite: list records: %w", err)
	}
	return out, nil
}

func scanRecord(rows *sql.Rows) (*ledger.Record, error) {
	var (
		r                                ledger.Record
		rawID                            string
		taskName, profileID, profileType sql.NullString
		started, ended                   int64
		outcome, kind                    string
	)
	if err := rows.Scan(&rawID, &r.UnitName, &taskName, &profileID, &profileType,
		&started, &ended, &outcome, &kind, &r.ErrorSummary, &r.Summary); err != nil {
		return nil, err
	}

	rid, err := id.ParseRecordID(rawID)
	if err != nil {
		return nil, err
	}
	r.ID = rid
	r.StartedAt = fromMillis(started)
	r.EndedAt = fromMillis(ended)
	r.Outcome = ledger.Outcome(outcome)
	r.ErrorKind = ledger.ErrorKind(kind)
	if taskName.Valid {
		r.Trigger = &ledger.TriggerIdentity{
			TaskName:    taskName.String,
			ProfileID:   profileID.String,
			ProfileType: profileType.String,
		}
	}
	return &r, nil
}
