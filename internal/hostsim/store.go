// Package hostsim is the in-memory reference host: it answers the
// widget protocol over websocket and keeps one record per record
// handle. Nothing here is durable; the production host owns real
// persistence.
package hostsim

import (
	"encoding/json"
	"fmt"
	"sync"
)

// RecordStore holds host records keyed by record handle. A record is a
// flat JSON object: the study plan fields plus whatever host-owned
// keys the record carries.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]map[string]json.RawMessage
}

func NewRecordStore() *RecordStore {
	return &RecordStore{records: make(map[string]map[string]json.RawMessage)}
}

// Load returns the record as a JSON object, or false when the handle
// has no record yet.
func (s *RecordStore) Load(recordID string) (json.RawMessage, bool) {
	s.mu.RLock()
	record, ok := s.records[recordID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	data, err := json.Marshal(record)
	if err != nil {
		return nil, false
	}
	return data, true
}

// Save applies a plan payload to the record. With preserveFields the
// plan's keys are merged over the record, keeping host-owned keys the
// widget never saw; otherwise the record is replaced.
func (s *RecordStore) Save(recordID string, plan json.RawMessage, preserveFields bool) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(plan, &fields); err != nil {
		return fmt.Errorf("study plan payload is not an object: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[recordID]
	if !ok || !preserveFields {
		record = make(map[string]json.RawMessage, len(fields))
		s.records[recordID] = record
	}
	for key, value := range fields {
		record[key] = value
	}
	return nil
}

// Seed places host-owned keys on a record, for tests and local runs.
func (s *RecordStore) Seed(recordID string, fields map[string]json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[recordID]
	if !ok {
		record = make(map[string]json.RawMessage, len(fields))
		s.records[recordID] = record
	}
	for key, value := range fields {
		record[key] = value
	}
}
