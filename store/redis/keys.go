package redis

import (
	"net/url"

	"github.com/xraph/taskrun/ledger"
)

// Redis key naming conventions for ledger data. Every key carries the
// store's prefix ("taskrun:" by default) to avoid collisions.

// DefaultKeyPrefix is used when no WithKeyPrefix option is given.
const DefaultKeyPrefix = "taskrun:"

// ── Marker keys ──

// identityPart encodes a trigger identity as one key segment. Each field is
// query-escaped so a ':' inside a profile ID cannot alias another identity.
func identityPart(t ledger.TriggerIdentity) string {
	return url.QueryEscape(t.TaskName) + ":" + url.QueryEscape(t.ProfileID) + ":" + url.QueryEscape(t.ProfileType)
}

// markerKey returns the Hash key for a run marker: {prefix}marker:{identity}
func (s *Store) markerKey(t ledger.TriggerIdentity) string {
	return s.prefix + "marker:" + identityPart(t)
}

// ── Record keys ──

// recordKey returns the String key holding one msgpack-encoded record.
func (s *Store) recordKey(id string) string { return s.prefix + "record:" + id }

// recordsKey is the Sorted Set of every record ID scored by start time.
func (s *Store) recordsKey() string { return s.prefix + "records" }

// unitRecordsKey indexes records by unit name.
func (s *Store) unitRecordsKey(unit string) string {
	return s.prefix + "records:unit:" + url.QueryEscape(unit)
}

// triggerRecordsKey indexes records by trigger identity.
func (s *Store) triggerRecordsKey(t ledger.TriggerIdentity) string {
	return s.prefix + "records:trigger:" + identityPart(t)
}

// onDemandRecordsKey indexes records without a trigger.
func (s *Store) onDemandRecordsKey() string { return s.prefix + "records:ondemand" }
