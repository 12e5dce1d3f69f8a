package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/taskrun"
	"github.com/xraph/taskrun/ledger"
)

// TryClaim matches the marker only when its attempt lies outside w. A miss
// turns the upsert into an insert of an existing _id, which fails with a
// duplicate key: the window is taken.
func (s *Store) TryClaim(ctx context.Context, t ledger.TriggerIdentity, w ledger.Window, now time.Time) (ledger.ClaimResult, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	if err := w.Validate(); err != nil {
		return 0, err
	}

	filter := bson.M{
		"_id": keyOf(t),
		"$nor": bson.A{
			bson.M{"last_attempted_at": bson.M{"$gte": w.Start.UTC(), "$lt": w.End.UTC()}},
		},
	}
	update := bson.M{
		"$set":         bson.M{"last_attempted_at": now.UTC()},
		"$setOnInsert": bson.M{"last_outcome": ""},
	}
	_, err := s.db.Collection(colMarkers).UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if isDuplicateKey(err) {
		return ledger.AlreadyClaimed, nil
	}
	if err != nil {
		return 0, fmt.Errorf("taskrun/mongo: try claim: %w", err)
	}
	return ledger.Claimed, nil
}

// RecordOutcome inserts the record, then folds it into the marker. The two
// writes are separate documents; the record insert is the one that decides
// duplicates.
func (s *Store) RecordOutcome(ctx context.Context, r *ledger.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}

	_, err := s.db.Collection(colRecords).InsertOne(ctx, toRecordModel(r))
	if isDuplicateKey(err) {
		return taskrun.ErrRecordExists
	}
	if err != nil {
		return fmt.Errorf("taskrun/mongo: insert record: %w", err)
	}
	if r.Trigger == nil {
		return nil
	}

	set := bson.M{"last_outcome": string(r.Outcome)}
	if r.Outcome == ledger.OutcomeSuccess {
		set["last_successful_at"] = r.EndedAt.UTC()
	}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"last_attempted_at": r.StartedAt.UTC()},
	}
	_, err = s.db.Collection(colMarkers).UpdateOne(ctx,
		bson.M{"_id": keyOf(*r.Trigger)}, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("taskrun/mongo: update marker: %w", err)
	}
	return nil
}

// GetMarker returns the marker for t.
func (s *Store) GetMarker(ctx context.Context, t ledger.TriggerIdentity) (*ledger.RunMarker, error) {
	var m markerModel
	err := s.db.Collection(colMarkers).FindOne(ctx, bson.M{"_id": keyOf(t)}).Decode(&m)
	if isNoDocuments(err) {
		return nil, taskrun.ErrMarkerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("taskrun/mongo: get marker: %w", err)
	}
	return fromMarkerModel(&m), nil
}

// ListRecords returns matching records, newest first.
func (s *Store) ListRecords(ctx context.Context, opts ledger.ListOpts) ([]*ledger.Record, error) {
	filter := bson.M{}
	if opts.UnitName != "" {
		filter["unit_name"] = opts.UnitName
	}
	if opts.OnDemand {
		filter["trigger"] = nil
	}
	if opts.Trigger != nil {
		filter["trigger.task_name"] = opts.Trigger.TaskName
		filter["trigger.cron_profile_id"] = opts.Trigger.ProfileID
		filter["trigger.cron_profile_type"] = opts.Trigger.ProfileType
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}, {Key: "_id", Value: -1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}

	cursor, err := s.db.Collection(colRecords).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("taskrun/mongo: list records: %w", err)
	}
	defer cursor.Close(ctx)

	var models []recordModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("taskrun/mongo: decode records: %w", err)
	}

	out := make([]*ledger.Record, 0, len(models))
	for i := range models {
		r, err := fromRecordModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("taskrun/mongo: decode record: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}
