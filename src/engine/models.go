package engine

import (
	"time"
)

// Record is a single document in a collection: a mapping from field name to
// value. One field ("id") is the primary key. Joined results are attached
// under their alias as additional keys, so a resolved record can carry both
// scalar fields and nested records or record slices.
type Record map[string]interface{}

// PrimaryKeyField is the field every record is keyed by.
const PrimaryKeyField = "id"

// ID returns the record's primary key, or "" if unset.
func (r Record) ID() string {
	return r.StringField(PrimaryKeyField)
}

// StringField returns the named field as a string, or "" if absent or not a
// string.
func (r Record) StringField(name string) string {
	if v, ok := r[name]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// HasField reports whether the field is present and non-nil.
func (r Record) HasField(name string) bool {
	v, ok := r[name]
	return ok && v != nil
}

// TimeField reads the named field as a timestamp. Values may be time.Time
// (in-memory) or RFC3339 strings (decoded from the wire or data files).
func (r Record) TimeField(name string) (time.Time, bool) {
	v, ok := r[name]
	if !ok || v == nil {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			parsed, err = time.Parse(time.RFC3339, t)
		}
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}

// Clone returns a shallow copy of the record. Joined aliases and scalar
// fields are copied; nested values are shared.
func (r Record) Clone() Record {
	copied := make(Record, len(r))
	for k, v := range r {
		copied[k] = v
	}
	return copied
}

// JoinedOne returns the record attached under alias by a one-to-one join,
// or nil if the join resolved empty.
func (r Record) JoinedOne(alias string) Record {
	v, ok := r[alias]
	if !ok || v == nil {
		return nil
	}
	switch rec := v.(type) {
	case Record:
		return rec
	case map[string]interface{}:
		return Record(rec)
	default:
		return nil
	}
}

// JoinedMany returns the records attached under alias by a one-to-many join.
// A missing alias yields an empty slice, never an error.
func (r Record) JoinedMany(alias string) []Record {
	v, ok := r[alias]
	if !ok || v == nil {
		return nil
	}
	switch seq := v.(type) {
	case []Record:
		return seq
	case []interface{}:
		records := make([]Record, 0, len(seq))
		for _, item := range seq {
			if m, ok := item.(map[string]interface{}); ok {
				records = append(records, Record(m))
			}
		}
		return records
	default:
		return nil
	}
}
