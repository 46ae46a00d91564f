// Package evtypes holds the shared, schema-loose event record type and the
// small accessors every other component needs to read or mutate one without
// re-deriving JSON-path traversal each time.
package evtypes

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// Record is a single EVE event, decoded as a schema-loose JSON object.
// Typed extraction is deliberately deferred to the query-builder boundary;
// everywhere else a Record is just a map.
type Record map[string]any

// ParseRecord decodes one line of EVE JSON into a Record. Numbers decode as
// json.Number so integer signature ids survive round-trips without float
// drift.
func ParseRecord(line []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Timestamp reads and parses the mandatory top-level "timestamp" field.
func (r Record) Timestamp() (time.Time, bool) {
	v, ok := r["timestamp"]
	if !ok {
		return time.Time{}, false
	}
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		// EVE writes numeric offsets without a colon, e.g. "+0000".
		t, err = time.Parse("2006-01-02T15:04:05.999999999-0700", s)
	}
	if err != nil {
		// No offset at all: taken as UTC.
		t, err = time.Parse("2006-01-02T15:04:05.999999999", s)
	}
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// SetTimestamp normalises the stored timestamp to UTC RFC3339 with
// nanosecond precision.
func (r Record) SetTimestamp(t time.Time) {
	r["timestamp"] = t.UTC().Format(time.RFC3339Nano)
}

// String reads a dotted-path string field, e.g. "alert.signature".
func (r Record) String(path string) (string, bool) {
	v, ok := r.at(path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Uint64 reads a dotted-path integer field, tolerating json.Number or float64.
func (r Record) Uint64(path string) (uint64, bool) {
	v, ok := r.at(path)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case json.Number:
		i, err := strconv.ParseUint(n.String(), 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	case float64:
		return uint64(n), true
	}
	return 0, false
}

// StringSlice0 reads the string at index 0 of a dotted-path array field,
// e.g. "alert.metadata.evebox-action[0]".
func (r Record) StringSlice0(path string) (string, bool) {
	v, ok := r.at(path)
	if !ok {
		return "", false
	}
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return "", false
	}
	s, ok := arr[0].(string)
	return s, ok
}

// Tags returns the "tags" array, creating it as empty if absent or of the
// wrong type.
func (r Record) Tags() []any {
	v, ok := r["tags"]
	if !ok {
		r["tags"] = []any{}
		return r["tags"].([]any)
	}
	arr, ok := v.([]any)
	if !ok {
		r["tags"] = []any{}
		return r["tags"].([]any)
	}
	return arr
}

// HasTag reports whether tags contains the given string.
func (r Record) HasTag(tag string) bool {
	for _, t := range r.Tags() {
		if s, ok := t.(string); ok && s == tag {
			return true
		}
	}
	return false
}

// AddTag appends tag if not already present.
func (r Record) AddTag(tag string) {
	if r.HasTag(tag) {
		return
	}
	r["tags"] = append(r.Tags(), tag)
}

// RemoveTag drops tag if present, preserving order of the rest.
func (r Record) RemoveTag(tag string) {
	tags := r.Tags()
	out := make([]any, 0, len(tags))
	for _, t := range tags {
		if s, ok := t.(string); ok && s == tag {
			continue
		}
		out = append(out, t)
	}
	r["tags"] = out
}

// Evebox returns the "evebox" object, creating it if absent or malformed.
func (r Record) Evebox() map[string]any {
	v, ok := r["evebox"]
	if !ok {
		r["evebox"] = map[string]any{}
		return r["evebox"].(map[string]any)
	}
	m, ok := v.(map[string]any)
	if !ok {
		r["evebox"] = map[string]any{}
		return r["evebox"].(map[string]any)
	}
	return m
}

// HistoryEntry is one audit entry appended to evebox.history.
type HistoryEntry struct {
	Username  string `json:"username"`
	Timestamp string `json:"timestamp"`
	Action    string `json:"action"`
	Comment   string `json:"comment,omitempty"`
}

// AppendHistory appends an entry to evebox.history, creating the array if
// absent.
func (r Record) AppendHistory(entry HistoryEntry) {
	evebox := r.Evebox()
	var hist []any
	if v, ok := evebox["history"]; ok {
		if arr, ok := v.([]any); ok {
			hist = arr
		}
	}
	b, _ := json.Marshal(entry)
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	hist = append(hist, m)
	evebox["history"] = hist
}

// at resolves a dotted JSON path against the record, descending through
// nested map[string]any values.
func (r Record) at(path string) (any, bool) {
	var cur any = map[string]any(r)
	for _, part := range splitDots(path) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func splitDots(path string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	parts = append(parts, path[start:])
	return parts
}
