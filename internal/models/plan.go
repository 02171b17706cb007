package models

import (
	"encoding/json"
	"time"
)

// StudyPlan is the authoritative in-memory model of one user's week.
// Host-owned keys that arrive alongside the known fields are kept
// verbatim in Extra and travel back to the host on save.
type StudyPlan struct {
	WeekStart   string
	Quote       string
	CourseTypes []string
	Sessions    map[string][]Session
	Sharing     Sharing
	History     map[string]WeekSnapshot
	Extra       map[string]json.RawMessage
}

type Sharing struct {
	SharedWith []string   `json:"sharedWith"`
	Feedback   []Feedback `json:"feedback"`
}

type Feedback struct {
	ID          string `json:"id,omitempty"`
	TeacherID   string `json:"teacherId"`
	TeacherName string `json:"teacherName"`
	Timestamp   string `json:"timestamp"`
	Text        string `json:"text"`
	IsRead      bool   `json:"isRead"`
}

// WeekSnapshot is a frozen copy of an archived week, keyed in
// StudyPlan.History by the week's start date (YYYY-MM-DD).
type WeekSnapshot struct {
	WeekStart   string               `json:"weekStart"`
	Quote       string               `json:"quote"`
	CourseTypes []string             `json:"courseTypes"`
	Sessions    map[string][]Session `json:"sessions"`
	Sharing     Sharing              `json:"sharing"`
}

func NewStudyPlan() StudyPlan {
	return StudyPlan{
		CourseTypes: []string{},
		Sessions:    map[string][]Session{},
		Sharing:     Sharing{SharedWith: []string{}, Feedback: []Feedback{}},
		History:     map[string]WeekSnapshot{},
		Extra:       map[string]json.RawMessage{},
	}
}

// DayKey buckets a date into its calendar day. Any time-of-day on the
// same date yields the same key, so add/update/delete always target the
// same bucket.
func DayKey(t time.Time) string {
	return t.Format("Mon Jan 02 2006")
}

// CanonicalTimestamp is the stored form of weekStart.
func CanonicalTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// HistoryKey derives the archive key from a stored weekStart value.
func HistoryKey(weekStart string) string {
	t, err := time.Parse(time.RFC3339, weekStart)
	if err != nil {
		return weekStart
	}
	return t.UTC().Format("2006-01-02")
}

func (s Sharing) IsZero() bool {
	return len(s.SharedWith) == 0 && len(s.Feedback) == 0
}

func (s Sharing) Clone() Sharing {
	out := Sharing{
		SharedWith: make([]string, len(s.SharedWith)),
		Feedback:   make([]Feedback, len(s.Feedback)),
	}
	copy(out.SharedWith, s.SharedWith)
	copy(out.Feedback, s.Feedback)
	return out
}

func cloneSessions(in map[string][]Session) map[string][]Session {
	out := make(map[string][]Session, len(in))
	for day, bucket := range in {
		copied := make([]Session, len(bucket))
		for i, sess := range bucket {
			copied[i] = sess.Clone()
		}
		out[day] = copied
	}
	return out
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func (p StudyPlan) Clone() StudyPlan {
	out := StudyPlan{
		WeekStart:   p.WeekStart,
		Quote:       p.Quote,
		CourseTypes: cloneStrings(p.CourseTypes),
		Sessions:    cloneSessions(p.Sessions),
		Sharing:     p.Sharing.Clone(),
		History:     make(map[string]WeekSnapshot, len(p.History)),
		Extra:       make(map[string]json.RawMessage, len(p.Extra)),
	}
	for key, snap := range p.History {
		out.History[key] = snap.Clone()
	}
	for key, raw := range p.Extra {
		out.Extra[key] = raw
	}
	return out
}

func (w WeekSnapshot) Clone() WeekSnapshot {
	return WeekSnapshot{
		WeekStart:   w.WeekStart,
		Quote:       w.Quote,
		CourseTypes: cloneStrings(w.CourseTypes),
		Sessions:    cloneSessions(w.Sessions),
		Sharing:     w.Sharing.Clone(),
	}
}

// planFields are the keys the widget owns; everything else round-trips
// through Extra.
var planFields = map[string]bool{
	"weekStart":   true,
	"quote":       true,
	"courseTypes": true,
	"sessions":    true,
	"sharing":     true,
	"history":     true,
}

func (p StudyPlan) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Extra)+6)
	for key, raw := range p.Extra {
		out[key] = raw
	}
	if p.WeekStart == "" {
		out["weekStart"] = nil
	} else {
		out["weekStart"] = p.WeekStart
	}
	out["quote"] = p.Quote
	out["courseTypes"] = emptyIfNil(p.CourseTypes)
	if p.Sessions == nil {
		out["sessions"] = map[string][]Session{}
	} else {
		out["sessions"] = p.Sessions
	}
	out["sharing"] = map[string]any{
		"sharedWith": emptyIfNil(p.Sharing.SharedWith),
		"feedback":   emptyFeedbackIfNil(p.Sharing.Feedback),
	}
	if p.History == nil {
		out["history"] = map[string]WeekSnapshot{}
	} else {
		out["history"] = p.History
	}
	return json.Marshal(out)
}

func (p *StudyPlan) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	next := NewStudyPlan()
	if raw, ok := fields["weekStart"]; ok {
		var ws *string
		if err := json.Unmarshal(raw, &ws); err != nil {
			return err
		}
		if ws != nil {
			next.WeekStart = *ws
		}
	}
	if raw, ok := fields["quote"]; ok {
		if err := json.Unmarshal(raw, &next.Quote); err != nil {
			return err
		}
	}
	if raw, ok := fields["courseTypes"]; ok {
		if err := json.Unmarshal(raw, &next.CourseTypes); err != nil {
			return err
		}
	}
	if raw, ok := fields["sessions"]; ok {
		if err := json.Unmarshal(raw, &next.Sessions); err != nil {
			return err
		}
	}
	if raw, ok := fields["sharing"]; ok {
		if err := json.Unmarshal(raw, &next.Sharing); err != nil {
			return err
		}
	}
	if raw, ok := fields["history"]; ok {
		if err := json.Unmarshal(raw, &next.History); err != nil {
			return err
		}
	}
	for key, raw := range fields {
		if !planFields[key] {
			next.Extra[key] = raw
		}
	}
	*p = next
	return nil
}

func emptyIfNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func emptyFeedbackIfNil(in []Feedback) []Feedback {
	if in == nil {
		return []Feedback{}
	}
	return in
}
