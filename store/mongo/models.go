package mongo

import (
	"time"

	"github.com/xraph/taskrun/id"
	"github.com/xraph/taskrun/ledger"
)

// ── Marker model ──────────────────────────────────────────────────

// markerKey is the marker's compound _id. Field order is fixed by the
// struct, which keeps equality matches on _id stable.
type markerKey struct {
	TaskName    string `bson:"task_name"`
	ProfileID   string `bson:"cron_profile_id"`
	ProfileType string `bson:"cron_profile_type"`
}

func keyOf(t ledger.TriggerIdentity) markerKey {
	return markerKey{TaskName: t.TaskName, ProfileID: t.ProfileID, ProfileType: t.ProfileType}
}

type markerModel struct {
	ID               markerKey  `bson:"_id"`
	LastAttemptedAt  time.Time  `bson:"last_attempted_at"`
	LastSuccessfulAt *time.Time `bson:"last_successful_at,omitempty"`
	LastOutcome      string     `bson:"last_outcome"`
}

func fromMarkerModel(m *markerModel) *ledger.RunMarker {
	out := &ledger.RunMarker{
		Identity: ledger.TriggerIdentity{
			TaskName:    m.ID.TaskName,
			ProfileID:   m.ID.ProfileID,
			ProfileType: m.ID.ProfileType,
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
	ID           string     `bson:"_id"`
	UnitName     string     `bson:"unit_name"`
	Trigger      *markerKey `bson:"trigger,omitempty"`
	StartedAt    time.Time  `bson:"started_at"`
	EndedAt      time.Time  `bson:"ended_at"`
	Outcome      string     `bson:"outcome"`
	ErrorKind    string     `bson:"error_kind,omitempty"`
	ErrorSummary string     `bson:"error_summary,omitempty"`
	Summary      string     `bson:"summary,omitempty"`
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
		k := keyOf(*r.Trigger)
		m.Trigger = &k
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
	if m.Trigger != nil {
		r.Trigger = &ledger.TriggerIdentity{
			TaskName:    m.Trigger.TaskName,
			ProfileID:   m.Trigger.ProfileID,
			ProfileType: m.Trigger.ProfileType,
		}
	}
	return r, nil
}
