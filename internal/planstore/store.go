// Package planstore owns the authoritative StudyPlan for one widget
// instance, plus the status flags the rendering layer reads. All
// mutations are deterministic transforms of the previous value; nothing
// here talks to the host.
package planstore

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"studyplan-widget/internal/models"
)

// Snapshot is the read surface exposed to the rendering layer.
type Snapshot struct {
	Plan        models.StudyPlan
	IsLoading   bool
	IsSaving    bool
	Error       string
	SaveSuccess *bool
}

type Store struct {
	mu          sync.RWMutex
	plan        models.StudyPlan
	isLoading   bool
	isSaving    bool
	err         string
	saveSuccess *bool

	now func() time.Time
}

func New() *Store {
	return &Store{
		plan: models.NewStudyPlan(),
		now:  time.Now,
	}
}

// NewAt pins the store's clock. Tests use it to make generated ids and
// feedback timestamps deterministic.
func NewAt(now func() time.Time) *Store {
	s := New()
	s.now = now
	return s
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Plan:      s.plan.Clone(),
		IsLoading: s.isLoading,
		IsSaving:  s.isSaving,
		Error:     s.err,
	}
	if s.saveSuccess != nil {
		v := *s.saveSuccess
		snap.SaveSuccess = &v
	}
	return snap
}

// Plan returns a deep copy of the current plan.
func (s *Store) Plan() models.StudyPlan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.plan.Clone()
}

// ApplyRemote merges a host payload into the plan per the merge rule.
func (s *Store) ApplyRemote(raw json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := models.Merge(s.plan, raw)
	if err != nil {
		return err
	}
	s.plan = next
	return nil
}

// ──── Mutation API ────

// AddSession appends a new session to the day's bucket and returns its
// generated id.
func (s *Store) AddSession(day time.Time, fields map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := models.DayKey(day)
	bucket := s.plan.Sessions[key]

	now := s.now()
	base := now.UnixNano()
	id := models.NewSessionID(now)
	for bucketHasID(bucket, id) {
		base++
		id = strconv.FormatInt(base, 10)
	}

	session := models.Session{ID: id, Fields: map[string]any{}}
	for k, v := range fields {
		if k == "id" {
			continue
		}
		session.Fields[k] = v
	}
	if s.plan.Sessions == nil {
		s.plan.Sessions = map[string][]models.Session{}
	}
	s.plan.Sessions[key] = append(bucket, session)
	return id
}

// UpdateSession shallow-merges partial fields into the matching session
// in the day's bucket. Unknown ids are a no-op.
func (s *Store) UpdateSession(day time.Time, sessionID string, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := models.DayKey(day)
	bucket := s.plan.Sessions[key]
	for i, session := range bucket {
		if session.ID == sessionID {
			bucket[i] = session.Merge(fields)
			return
		}
	}
}

// DeleteSession removes the matching session from the day's bucket.
// Unknown ids are a no-op.
func (s *Store) DeleteSession(day time.Time, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := models.DayKey(day)
	bucket := s.plan.Sessions[key]
	for i, session := range bucket {
		if session.ID == sessionID {
			s.plan.Sessions[key] = append(bucket[:i:i], bucket[i+1:]...)
			return
		}
	}
}

func (s *Store) SetWeekStartDate(date time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plan.WeekStart = models.CanonicalTimestamp(date)
}

func (s *Store) SetWeekQuote(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plan.Quote = text
}

func (s *Store) SetCourseTypes(types []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	replaced := make([]string, len(types))
	copy(replaced, types)
	s.plan.CourseTypes = replaced
}

// ShareWithTeacher appends the teacher iff not already present and
// reports whether the list changed.
func (s *Store) ShareWithTeacher(teacherID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.plan.Sharing.SharedWith {
		if existing == teacherID {
			return false
		}
	}
	s.plan.Sharing.SharedWith = append(s.plan.Sharing.SharedWith, teacherID)
	return true
}

func (s *Store) RemoveSharing(teacherID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	shared := s.plan.Sharing.SharedWith
	for i, existing := range shared {
		if existing == teacherID {
			s.plan.Sharing.SharedWith = append(shared[:i:i], shared[i+1:]...)
			return
		}
	}
}

// AddFeedback appends teacher feedback stamped with the store clock.
// The role gate lives with the caller, which knows the identity.
func (s *Store) AddFeedback(teacherID, teacherName, text string) models.Feedback {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	fb := models.Feedback{
		ID:          strconv.FormatInt(now.UnixNano(), 10),
		TeacherID:   teacherID,
		TeacherName: teacherName,
		Timestamp:   now.UTC().Format(time.RFC3339),
		Text:        text,
		IsRead:      false,
	}
	s.plan.Sharing.Feedback = append(s.plan.Sharing.Feedback, fb)
	return fb
}

func (s *Store) MarkFeedbackAsRead(feedbackID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, fb := range s.plan.Sharing.Feedback {
		if fb.ID == feedbackID {
			s.plan.Sharing.Feedback[i].IsRead = true
		}
	}
}

// ArchiveCurrentWeek snapshots the active week into history and resets
// it. SharedWith survives the reset; feedback does not. Reports whether
// there was an active week to archive.
func (s *Store) ArchiveCurrentWeek() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plan.WeekStart == "" {
		return false
	}
	key := models.HistoryKey(s.plan.WeekStart)
	snap := models.WeekSnapshot{
		WeekStart:   s.plan.WeekStart,
		Quote:       s.plan.Quote,
		CourseTypes: s.plan.CourseTypes,
		Sessions:    s.plan.Sessions,
		Sharing:     s.plan.Sharing,
	}.Clone()
	if s.plan.History == nil {
		s.plan.History = map[string]models.WeekSnapshot{}
	}
	s.plan.History[key] = snap

	s.plan.WeekStart = ""
	s.plan.Quote = ""
	s.plan.Sessions = map[string][]models.Session{}
	s.plan.Sharing.Feedback = []models.Feedback{}
	return true
}

// ──── Status flags ────

func (s *Store) SetLoading(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isLoading = v
}

func (s *Store) SetSaving(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isSaving = v
}

func (s *Store) SetError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = msg
}

func (s *Store) SetSaveSuccess(v *bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v == nil {
		s.saveSuccess = nil
		return
	}
	copied := *v
	s.saveSuccess = &copied
}

func bucketHasID(bucket []models.Session, id string) bool {
	for _, session := range bucket {
		if session.ID == id {
			return true
		}
	}
	return false
}
