package relindex

// Versioned relations (follows) are append-only: toggling a relation does
// not update a row, it appends a new record bearing the same primary key
// with a flipped status and an advanced updated_at. History is retained and
// the current state of a relation is latest-write-wins. This index keeps a
// relation key -> latest record position mapping so current-state lookups
// are O(1) instead of a sort-and-scan over the full history.

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"relaydb/src/engine"
)

const (
	// StatusActive marks the relation as currently in effect.
	StatusActive = "active"

	statusField    = "status"
	updatedAtField = "updated_at"
	createdAtField = "created_at"
)

// Entry records the storage position and timestamp of the most recent
// version of a relation.
type Entry struct {
	Position  int
	Timestamp time.Time
	Record    engine.Record
}

// RelationIndex maps a relation's primary key to its latest version.
type RelationIndex struct {
	mu     sync.RWMutex
	latest map[string]Entry
	logger *zap.SugaredLogger
}

// NewRelationIndex creates an empty relation index.
func NewRelationIndex(logger *zap.SugaredLogger) *RelationIndex {
	return &RelationIndex{
		latest: make(map[string]Entry),
		logger: logger,
	}
}

// Build replaces the index contents from a collection snapshot in storage
// order.
func (ri *RelationIndex) Build(records []engine.Record) {
	ri.mu.Lock()
	ri.latest = make(map[string]Entry, len(records))
	ri.mu.Unlock()

	for position, record := range records {
		ri.Observe(position, record)
	}

	if ri.logger != nil {
		ri.logger.Infow("Built relation index",
			"records", len(records),
			"relations", ri.Len())
	}
}

// Observe feeds one stored record into the index, keeping the entry with
// the most recent timestamp for each relation key. For records with equal
// timestamps the higher storage position wins, matching append order.
func (ri *RelationIndex) Observe(position int, record engine.Record) {
	key := record.ID()
	if key == "" {
		return
	}

	timestamp := VersionTimestamp(record)

	ri.mu.Lock()
	defer ri.mu.Unlock()

	current, exists := ri.latest[key]
	if exists {
		if timestamp.Before(current.Timestamp) {
			return
		}
		if timestamp.Equal(current.Timestamp) && position < current.Position {
			return
		}
	}

	ri.latest[key] = Entry{
		Position:  position,
		Timestamp: timestamp,
		Record:    record,
	}
}

// Latest returns the most recent version of the relation, if any.
func (ri *RelationIndex) Latest(key string) (engine.Record, bool) {
	ri.mu.RLock()
	defer ri.mu.RUnlock()

	entry, ok := ri.latest[key]
	if !ok {
		return nil, false
	}
	return entry.Record, true
}

// IsActive reports the current boolean state of the relation: the latest
// version exists and carries an active status.
func (ri *RelationIndex) IsActive(key string) bool {
	record, ok := ri.Latest(key)
	if !ok {
		return false
	}
	return record.StringField(statusField) == StatusActive
}

// ActiveCount returns the number of relations whose latest version is
// active.
func (ri *RelationIndex) ActiveCount() int {
	ri.mu.RLock()
	defer ri.mu.RUnlock()

	active := 0
	for _, entry := range ri.latest {
		if entry.Record.StringField(statusField) == StatusActive {
			active++
		}
	}
	return active
}

// ActiveCountWhere counts active relations whose latest version carries
// value in the named field.
func (ri *RelationIndex) ActiveCountWhere(field, value string) int {
	ri.mu.RLock()
	defer ri.mu.RUnlock()

	active := 0
	for _, entry := range ri.latest {
		if entry.Record.StringField(statusField) != StatusActive {
			continue
		}
		if entry.Record.StringField(field) == value {
			active++
		}
	}
	return active
}

// Len returns the number of distinct relations indexed.
func (ri *RelationIndex) Len() int {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	return len(ri.latest)
}

// VersionTimestamp extracts the ordering timestamp of a versioned record:
// updated_at, falling back to created_at, falling back to the zero time.
func VersionTimestamp(record engine.Record) time.Time {
	if t, ok := record.TimeField(updatedAtField); ok {
		return t
	}
	if t, ok := record.TimeField(createdAtField); ok {
		return t
	}
	return time.Time{}
}

// LatestOf selects the most recent version out of a candidate slice without
// touching the index, for callers that already hold the relation's history
// (a joined sequence, typically). Given distinct timestamps the selection
// is stable under permutation of the input.
func LatestOf(records []engine.Record) (engine.Record, bool) {
	if len(records) == 0 {
		return nil, false
	}

	best := records[0]
	bestTime := VersionTimestamp(best)
	for _, candidate := range records[1:] {
		candidateTime := VersionTimestamp(candidate)
		if candidateTime.After(bestTime) {
			best = candidate
			bestTime = candidateTime
		}
	}
	return best, true
}

// IsActiveRecord reports whether one version record carries an active
// status.
func IsActiveRecord(record engine.Record) bool {
	return record != nil && record.StringField(statusField) == StatusActive
}
