package models

import (
	"encoding/json"
	"strconv"
	"time"
)

// Session is a single planned activity inside a day bucket. Beyond the
// id the schema is open: callers attach whatever fields their calendar
// needs and they round-trip untouched.
type Session struct {
	ID     string
	Fields map[string]any
}

// NewSessionID generates the timestamp-derived token used as a session
// id. Uniqueness is only required within one day bucket.
func NewSessionID(now time.Time) string {
	return strconv.FormatInt(now.UnixNano(), 10)
}

func (s Session) Clone() Session {
	out := Session{ID: s.ID, Fields: make(map[string]any, len(s.Fields))}
	for key, value := range s.Fields {
		out.Fields[key] = value
	}
	return out
}

// Merge shallow-merges partial fields over the session, keeping its id.
func (s Session) Merge(fields map[string]any) Session {
	out := s.Clone()
	for key, value := range fields {
		if key == "id" {
			continue
		}
		out.Fields[key] = value
	}
	return out
}

func (s Session) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Fields)+1)
	for key, value := range s.Fields {
		out[key] = value
	}
	out["id"] = s.ID
	return json.Marshal(out)
}

func (s *Session) UnmarshalJSON(data []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	next := Session{Fields: fields}
	switch id := fields["id"].(type) {
	case string:
		next.ID = id
	case float64:
		// Large numeric ids overflow int64; format the float directly.
		next.ID = strconv.FormatFloat(id, 'f', -1, 64)
	}
	delete(fields, "id")
	*s = next
	return nil
}
