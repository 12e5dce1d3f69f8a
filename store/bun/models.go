package bunstore

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/taskrun/id"
	"github.com/xraph/taskrun/ledger"
)

// ── Marker model ──────────────────────────────────────────────────

type markerModel struct {
	bun.BaseModel `bun:"table:run_marker,alias:m"`

	TaskName         string     `bun:"task_name,pk"`
	ProfileID        string     `bun:"cron_profile_id,pk"`
	ProfileType      string     `bun:"cron_profile_type,pk"`
	LastAttemptedAt  time.Time  `bun:"last_attempted_at,notnull"`
	LastSuccessfulAt *time.Time `bun:"last_successful_at"`
	LastOutcome      string     `bun:"last_outcome,notnull"`
}

func fromMarkerModel(m *markerModel) *ledger.RunMarker {
	out := &ledger.RunMarker{
		Identity: ledger.TriggerIdentity{
			TaskName:    m.TaskName,
			ProfileID:   m.ProfileID,
			ProfileType: m.ProfileType,
		},
		LastAttemptedAt: m.LastAttemptedAt.UTC(),
		LastOutcome:     ledger.Outcome(m.LastOutcome),
	}
	if m.LastSuccessfulAt != nil {
		at := m.LastSuccessfulAt.UTC()
		out.LastSuccessfulAt = &at
	}
	return out
}

// ── Record model ──────────────────────────────────────────────────

type recordModel struct {
	bun.BaseModel `bun:"table:execution_audit,alias:r"`

	ID           string    `bun:"id,pk"`
	UnitName     string    `bun:"unit_name,notnull"`
	TaskName     *string   `bun:"trigger_task_name"`
	ProfileID    *string   `bun:"trigger_cron_profile_id"`
	ProfileType  *string   `bun:"trigger_cron_profile_type"`
	StartedAt    time.Time `bun:"started_at,notnull"`
	EndedAt      time.Time `bun:"ended_at,notnull"`
	Outcome      string    `bun:"outcome,notnull"`
	ErrorKind    string    `bun:"error_kind,notnull"`
	ErrorSummary string    `bun:"error_summary,notnull"`
	Summary      string    `bun:"summary,notnull"`
}

func toRecordModel(r *ledger.Record) *recordModel {
	m := &recordModel{
		ID:           r.ID.String(),
		UnitName:     r.UnitName,
		StartedAt:    r.StartedAt.UTC(),
		EndedAt:      r.EndedAt.UTC(),
		Outcome:      string(r.Outcome),
		ErrorKind:    string(r.ErrorKind),
		ErrorSummary: r.ErrorSummary,
		Summary:      r.Summary,
	}
	if r.Trigger != nil {
		t := *r.Trigger
		m.TaskName, m.ProfileID, m.ProfileType = &t.TaskName, &t.ProfileID, &t.ProfileType
	}
	return m
}

func fromRecordModel(m *recordModel) (*ledger.Record, error) {
	rid, err := id.ParseRecordID(m.ID)
	if err != nil {
		return nil, err
	}
	r := &ledger.Record{
		ID:           rid,
		UnitName:     m.UnitName,
		StartedAt:    m.StartedAt.UTC(),
		EndedAt:      m.EndedAt.UTC(),
		Outcome:      ledger.Outcome(m.Outcome),
		ErrorKind:    ledger.ErrorKind(m.ErrorKind),
		ErrorSummary: m.ErrorSummary,
		Summary:      m.Summary,
	}
	if m.TaskName != nil {
		r.Trigger = &ledger.TriggerIdentity{TaskName: *m.TaskName}
		if m.ProfileID != nil {
			r.Trigger.ProfileID = *m.ProfileID
		}
		if m.ProfileType != nil {
			r.Trigger.ProfileType = *m.ProfileType
		}
	}
	return r, nil
}
