package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/taskrun"
	"github.com/xraph/taskrun/id"
	"github.com/xraph/taskrun/ledger"
)

// recordDoc is the msgpack form of a ledger.Record.
type recordDoc struct {
	ID           string      `msgpack:"id"`
	UnitName     string      `msgpack:"unit"`
	Trigger      *triggerDoc `msgpack:"trigger,omitempty"`
	StartedAt    int64       `msgpack:"started_ms"`
	EndedAt      int64       `msgpack:"ended_ms"`
	Outcome      string      `msgpack:"outcome"`
	ErrorKind    string      `msgpack:"error_kind,omitempty"`
	ErrorSummary string      `msgpack:"error_summary,omitempty"`
	Summary      string      `msgpack:"summary,omitempty"`
}

type triggerDoc struct {
	TaskName    string `msgpack:"task"`
	ProfileID   string `msgpack:"cron_profile_id"`
	ProfileType string `msgpack:"cron_profile_type"`
}

func encodeRecord(r *ledger.Record) ([]byte, error) {
	doc := recordDoc{
		ID:           r.ID.String(),
		UnitName:     r.UnitName,
		StartedAt:    toMillis(r.StartedAt),
		EndedAt:      toMillis(r.EndedAt),
		Outcome:      string(r.Outcome),
		ErrorKind:    string(r.ErrorKind),
		ErrorSummary: r.ErrorSummary,
		Summary:      r.Summary,
	}
	if r.Trigger != nil {
		doc.Trigger = &triggerDoc{
			TaskName:    r.Trigger.TaskName,
			ProfileID:   r.Trigger.ProfileID,
			ProfileType: r.Trigger.ProfileType,
		}
	}
	return msgpack.Marshal(&doc)
}

func decodeRecord(data []byte) (*ledger.Record, error) {
	var doc recordDoc
	if err := msgpack.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	rid, err := id.ParseRecordID(doc.ID)
	if err != nil {
		return nil, err
	}
	r := &ledger.Record{
		ID:           rid,
		UnitName:     doc.UnitName,
		StartedAt:    fromMillis(doc.StartedAt),
		EndedAt:      fromMillis(doc.EndedAt),
		Outcome:      ledger.Outcome(doc.Outcome),
		ErrorKind:    ledger.ErrorKind(doc.ErrorKind),
		ErrorSummary: doc.ErrorSummary,
		Summary:      doc.Summary,
	}
	if doc.Trigger != nil {
		r.Trigger = &ledger.TriggerIdentity{
			TaskName:    doc.Trigger.TaskName,
			ProfileID:   doc.Trigger.ProfileID,
			ProfileType: doc.Trigger.ProfileType,
		}
	}
	return r, nil
}

// TryClaim runs the claim script against the trigger's marker hash.
func (s *Store) TryClaim(ctx context.Context, t ledger.TriggerIdentity, w ledger.Window, now time.Time) (ledger.ClaimResult, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	if err := w.Validate(); err != nil {
		return 0, err
	}

	n, err := claimScript.Run(ctx, s.client, []string{s.markerKey(t)},
		toMillis(now), toMillis(w.Start), toMillis(w.End),
		t.TaskName, t.ProfileID, t.ProfileType,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("taskrun/redis: try claim: %w", err)
	}
	if n == 0 {
		return ledger.AlreadyClaimed, nil
	}
	return ledger.Claimed, nil
}

// RecordOutcome stores r and updates its marker in one script call.
func (s *Store) RecordOutcome(ctx context.Context, r *ledger.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	data, err := encodeRecord(r)
	if err != nil {
		return fmt.Errorf("taskrun/redis: encode record: %w", err)
	}

	rid := r.ID.String()
	keys := []string{s.recordKey(rid), s.recordsKey(), s.unitRecordsKey(r.UnitName)}
	var (
		success string
		ti      ledger.TriggerIdentity
	)
	if r.Trigger != nil {
		ti = *r.Trigger
		keys = append(keys, s.triggerRecordsKey(ti), s.markerKey(ti))
		if r.Outcome == ledger.OutcomeSuccess {
			success = strconv.FormatInt(toMillis(r.EndedAt), 10)
		}
	} else {
		keys = append(keys, s.onDemandRecordsKey())
	}

	n, err := recordScript.Run(ctx, s.client, keys,
		data, rid, toMillis(r.StartedAt), string(r.Outcome), success,
		ti.TaskName, ti.ProfileID, ti.ProfileType,
	).Int64()
	if err != nil {
		return fmt.Errorf("taskrun/redis: record outcome: %w", err)
	}
	if n == 0 {
		return taskrun.ErrRecordExists
	}
	return nil
}

// GetMarker reads the marker hash for t.
func (s *Store) GetMarker(ctx context.Context, t ledger.TriggerIdentity) (*ledger.RunMarker, error) {
	fields, err := s.client.HGetAll(ctx, s.markerKey(t)).Result()
	if err != nil {
		return nil, fmt.Errorf("taskrun/redis: get marker: %w", err)
	}
	if len(fields) == 0 {
		return nil, taskrun.ErrMarkerNotFound
	}

	m := &ledger.RunMarker{Identity: t, LastOutcome: ledger.Outcome(fields["last_outcome"])}
	if v, ok := fields["last_attempted_at"]; ok {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("taskrun/redis: parse last_attempted_at: %w", err)
		}
		m.LastAttemptedAt = fromMillis(ms)
	}
	if v, ok := fields["last_successful_at"]; ok && v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("taskrun/redis: parse last_successful_at: %w", err)
		}
		at := fromMillis(ms)
		m.LastSuccessfulAt = &at
	}
	return m, nil
}

// ListRecords reads the narrowest index for opts, then filters and sorts
// the decoded records.
func (s *Store) ListRecords(ctx context.Context, opts ledger.ListOpts) ([]*ledger.Record, error) {
	index := s.recordsKey()
	switch {
	case opts.Trigger != nil:
		index = s.triggerRecordsKey(*opts.Trigger)
	case opts.OnDemand:
		index = s.onDemandRecordsKey()
	case opts.UnitName != "":
		index = s.unitRecordsKey(opts.UnitName)
	}

	ids, err := s.client.ZRevRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("taskrun/redis: list index: %w", err)
	}
	if len(ids) == 0 {
		return []*ledger.Record{}, nil
	}

	keys := make([]string, len(ids))
	for i, rid := range ids {
		keys[i] = s.recordKey(rid)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("taskrun/redis: load records: %w", err)
	}

	out := make([]*ledger.Record, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			s.logger.Warn("audit record missing for index entry", "id", ids[i], "index", index)
			continue
		}
		r, err := decodeRecord([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("taskrun/redis: decode record %s: %w", ids[i], err)
		}
		if opts.Matches(r) {
			out = append(out, r)
		}
	}
	return ledger.SortNewestFirst(out, opts.Limit), nil
}
