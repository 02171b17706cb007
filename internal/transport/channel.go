// Package transport carries the widget's message channel to the host:
// fire-and-forget sends, asynchronous unordered receives, multiplexed
// only by a type tag.
package transport

import (
	"encoding/json"
	"errors"

	"studyplan-widget/internal/models"
)

const (
	TypeRequestData = "request-data"
	TypeSaveData    = "save-data"
	TypeData        = "data"
	TypeSaveResult  = "save-result"
)

var (
	ErrChannelClosed = errors.New("channel closed")
	ErrSubscribed    = errors.New("channel already has a subscriber")
)

// Handler receives one inbound message. Frames that are not JSON
// objects or carry no type tag are dropped before the handler runs.
type Handler func(msgType string, raw json.RawMessage)

// Channel is the one-way-addressed message channel to the host.
// Subscribe admits at most one live handler; the returned unsubscribe
// must be called on teardown, pairing registration with deregistration.
type Channel interface {
	Send(payload any) error
	Subscribe(h Handler) (unsubscribe func(), err error)
	Close() error
}

// RequestData asks the host for the authoritative plan. The record
// handle is duplicated under data for hosts running the older message
// schema.
type RequestData struct {
	Type      string          `json:"type"`
	RecordID  string          `json:"recordId"`
	RequestID string          `json:"requestId,omitempty"`
	Data      RequestDataBody `json:"data"`
}

type RequestDataBody struct {
	RecordID string `json:"recordId"`
}

// SaveData pushes the full current plan. PreserveFields tells the host
// to merge rather than replace, so host-owned record fields survive.
type SaveData struct {
	Type           string           `json:"type"`
	RecordID       string           `json:"recordId"`
	RequestID      string           `json:"requestId,omitempty"`
	StudyPlan      models.StudyPlan `json:"studyPlan"`
	PreserveFields bool             `json:"preserveFields"`
}

type DataMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	StudyPlan json.RawMessage `json:"studyPlan"`
}

type SaveResult struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

type envelope struct {
	Type string `json:"type"`
}

// peekType extracts the type tag, or "" for untagged/malformed frames.
func peekType(raw []byte) string {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ""
	}
	return env.Type
}
