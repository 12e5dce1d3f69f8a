package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/xraph/taskrun"
	"github.com/xraph/taskrun/ledger"
)

const markerConflict = "CONFLICT (task_name, cron_profile_id, cron_profile_type) DO UPDATE"

// TryClaim upserts the marker; the ON CONFLICT WHERE only lets the update
// through when the previous attempt is outside w.
func (s *Store) TryClaim(ctx context.Context, t ledger.TriggerIdentity, w ledger.Window, now time.Time) (ledger.ClaimResult, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	if err := w.Validate(); err != nil {
		return 0, err
	}

	m := &markerModel{
		TaskName:        t.TaskName,
		ProfileID:       t.ProfileID,
		ProfileType:     t.ProfileType,
		LastAttemptedAt: now.UTC(),
	}
	res, err := s.db.NewInsert().
		Model(m).
		Column("task_name", "cron_profile_id", "cron_profile_type", "last_attempted_at", "last_outcome").
		On(markerConflict).
		Set("last_attempted_at = EXCLUDED.last_attempted_at").
		Where("NOT (m.last_attempted_at >= ? AND m.last_attempted_at < ?)", w.Start.UTC(), w.End.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("taskrun/bun: try claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("taskrun/bun: try claim rows: %w", err)
	}
	if n == 0 {
		return ledger.AlreadyClaimed, nil
	}
	return ledger.Claimed, nil
}

// RecordOutcome inserts the record and updates the marker in one transaction.
func (s *Store) RecordOutcome(ctx context.Context, r *ledger.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(toRecordModel(r)).Exec(ctx); err != nil {
			if isDuplicateKey(err) {
				return taskrun.ErrRecordExists
			}
			return fmt.Errorf("taskrun/bun: insert record: %w", err)
		}
		if r.Trigger == nil {
			return nil
		}

		m := &markerModel{
			TaskName:        r.Trigger.TaskName,
			ProfileID:       r.Trigger.ProfileID,
			ProfileType:     r.Trigger.ProfileType,
			LastAttemptedAt: r.StartedAt.UTC(),
			LastOutcome:     string(r.Outcome),
		}
		if r.Outcome == ledger.OutcomeSuccess {
			at := r.EndedAt.UTC()
			m.LastSuccessfulAt = &at
		}
		_, err := tx.NewInsert().
			Model(m).
			On(markerConflict).
			Set("last_outcome = EXCLUDED.last_outcome").
			Set("last_successful_at = COALESCE(EXCLUDED.last_successful_at, m.last_successful_at)").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("taskrun/bun: update marker: %w", err)
		}
		return nil
	})
	return err
}

// GetMarker returns the marker for t.
func (s *Store) GetMarker(ctx context.Context, t ledger.TriggerIdentity) (*ledger.RunMarker, error) {
	m := new(markerModel)
	err := s.db.NewSelect().
		Model(m).
		Where("task_name = ?", t.TaskName).
		Where("cron_profile_id = ?", t.ProfileID).
		Where("cron_profile_type = ?", t.ProfileType).
		Scan(ctx)
	if isNoRows(err) {
		return nil, taskrun.ErrMarkerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("taskrun/bun: get marker: %w", err)
	}
	return fromMarkerModel(m), nil
}

// ListRecords returns matching records, newest first.
func (s *Store) ListRecords(ctx context.Context, opts ledger.ListOpts) ([]*ledger.Record, error) {
	var models []recordModel
	q := s.db.NewSelect().Model(&models)
	if opts.UnitName != "" {
		q = q.Where("unit_name = ?", opts.UnitName)
	}
	if opts.OnDemand {
		q = q.Where("trigger_task_name IS NULL")
	}
	if opts.Trigger != nil {
		q = q.Where("trigger_task_name = ?", opts.Trigger.TaskName).
			Where("trigger_cron_profile_id = ?", opts.Trigger.ProfileID).
			Where("trigger_cron_profile_type = ?", opts.Trigger.ProfileType)
	}
	q = q.OrderExpr("started_at DESC, id DESC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("taskrun/bun: list records: %w", err)
	}

	out := make([]*ledger.Record, 0, len(models))
	for i := range models {
		r, err := fromRecordModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("taskrun/bun: decode record: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// ── helpers ──

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey matches SQLSTATE 23505, unique_violation.
func isDuplicateKey(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == "23505"
}
