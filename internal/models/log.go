package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// LogEntry is one immutable line of a job's log. Id is assigned by the
// producer; zero means the producer did not send one.
type LogEntry struct {
	ID        int64
	CreatedAt time.Time
	Payload   json.RawMessage
}

// Fields decodes the free-form payload. It never fails: a payload that is not
// an object yields an empty map.
func (e LogEntry) Fields() map[string]any {
	fields := map[string]any{}
	if len(e.Payload) > 0 {
		_ = json.Unmarshal(e.Payload, &fields)
	}
	return fields
}

func (e LogEntry) Kind() string    { return e.str("kind") }
func (e LogEntry) Message() string { return e.str("message") }
func (e LogEntry) Level() string   { return e.str("level") }

func (e LogEntry) str(key string) string {
	if v, ok := e.Fields()[key].(string); ok {
		return v
	}
	return ""
}

// WithID returns a copy of the entry carrying the given id.
func (e LogEntry) WithID(id int64) LogEntry {
	e.ID = id
	return e
}

func (e *LogEntry) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("log entry: %w", err)
	}
	e.ID = parseEntryID(raw["id"])
	e.CreatedAt = time.Time{}
	if v, ok := raw["createdAt"]; ok {
		var s string
		if json.Unmarshal(v, &s) == nil {
			if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
				e.CreatedAt = ts
			}
		}
	}
	e.Payload = append(json.RawMessage(nil), data...)
	return nil
}

func (e LogEntry) MarshalJSON() ([]byte, error) {
	if len(e.Payload) > 0 {
		return e.Payload, nil
	}
	out := map[string]any{"id": e.ID}
	if !e.CreatedAt.IsZero() {
		out["createdAt"] = e.CreatedAt.Format(time.RFC3339Nano)
	}
	return json.Marshal(out)
}

// parseEntryID accepts a JSON number or a numeric string.
func parseEntryID(v json.RawMessage) int64 {
	if len(v) == 0 {
		return 0
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		if id, err := n.Int64(); err == nil {
			return id
		}
		return 0
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			return id
		}
	}
	return 0
}

// ParseLogEntries decodes a feed message carrying either one entry or an
// array of entries.
func ParseLogEntries(data []byte) ([]LogEntry, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty log message")
	}
	if trimmed[0] == '[' {
		var entries []LogEntry
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, err
		}
		return entries, nil
	}
	var entry LogEntry
	if err := json.Unmarshal(trimmed, &entry); err != nil {
		return nil, err
	}
	return []LogEntry{entry}, nil
}

// LogPage is one page of the pull endpoint.
type LogPage struct {
	Items     []LogEntry `json:"items"`
	NextAfter *int64     `json:"nextAfter"`
}

// LogDetail is a single stored log entry looked up by its id.
type LogDetail struct {
	JobID int64
	Entry LogEntry
}

func (d *LogDetail) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &d.Entry); err != nil {
		return err
	}
	var owner struct {
		JobID json.RawMessage `json:"jobId"`
	}
	if err := json.Unmarshal(data, &owner); err != nil {
		return err
	}
	d.JobID = parseEntryID(owner.JobID)
	return nil
}
