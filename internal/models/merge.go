package models

import (
	"encoding/json"
	"errors"
)

var ErrBadPayload = errors.New("study plan payload is not an object")

// Merge applies a host payload over the previous plan. Every key the
// host sends is taken verbatim, except the six essential slots: for
// those a present-but-empty remote value never erases populated local
// state. Nested sub-fields inside a non-empty sharing or history value
// are replaced wholesale.
func Merge(prev StudyPlan, raw json.RawMessage) (StudyPlan, error) {
	if !isJSONObject(raw) {
		return prev, ErrBadPayload
	}
	var next StudyPlan
	if err := json.Unmarshal(raw, &next); err != nil {
		return prev, err
	}
	if next.WeekStart == "" {
		next.WeekStart = prev.WeekStart
	}
	if next.Quote == "" {
		next.Quote = prev.Quote
	}
	if len(next.CourseTypes) == 0 {
		next.CourseTypes = cloneStrings(prev.CourseTypes)
	}
	if len(next.Sessions) == 0 {
		next.Sessions = cloneSessions(prev.Sessions)
	}
	if next.Sharing.IsZero() {
		next.Sharing = prev.Sharing.Clone()
	}
	if len(next.History) == 0 {
		next.History = make(map[string]WeekSnapshot, len(prev.History))
		for key, snap := range prev.History {
			next.History[key] = snap.Clone()
		}
	}
	return next, nil
}

func isJSONObject(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}
