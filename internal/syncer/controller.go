// Package syncer drives synchronization between the widget's plan
// store and the host: load/save requests over the transport channel,
// correlation of asynchronous responses, merge-on-receive, and the
// timed lifecycle of the status flags.
package syncer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"studyplan-widget/internal/identity"
	"studyplan-widget/internal/models"
	"studyplan-widget/internal/planstore"
	"studyplan-widget/internal/transport"
)

var (
	// ErrMissingIdentity reports a load/save attempted before the
	// identity provider supplied a record handle.
	ErrMissingIdentity = errors.New("no record handle available")
	// ErrForbidden reports a role-gated mutation by the wrong role.
	ErrForbidden = errors.New("feedback requires the teacher role")
)

// User-visible error strings held in the plan store.
const (
	msgMissingIdentity = "No study plan record available yet"
	msgRequestFailed   = "Failed to request study plan"
	msgLoadError       = "Failed to load study plan"
	msgSaveFailed      = "Failed to save study plan"
	msgForbidden       = "Only teachers can leave feedback"
)

const (
	defaultSuccessClear = 3 * time.Second
	defaultErrorClear   = 5 * time.Second
)

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	Store    *planstore.Store
	Channel  transport.Channel
	Identity identity.Identity
	Logger   Logger

	// Clear delays for the transient save flags; zero means the
	// production defaults (3s success, 5s error).
	SuccessClearDelay time.Duration
	ErrorClearDelay   time.Duration
}

// Controller is the widget's sync context object. Construct one per
// process instance and Close it on teardown; Close deregisters the
// channel handler and cancels pending clear timers.
type Controller struct {
	store   *planstore.Store
	channel transport.Channel
	logger  Logger

	successClear time.Duration
	errorClear   time.Duration

	mu           sync.Mutex
	id           identity.Identity
	autoLoadedID string
	loadReqID    string
	saveReqID    string
	clearEpoch   int
	clearTimers  []*time.Timer
	closed       bool

	unsubscribe func()
	closeOnce   sync.Once
}

func New(opts Options) (*Controller, error) {
	if opts.Channel == nil {
		return nil, fmt.Errorf("channel is required")
	}
	store := opts.Store
	if store == nil {
		store = planstore.New()
	}
	c := &Controller{
		store:        store,
		channel:      opts.Channel,
		logger:       opts.Logger,
		id:           opts.Identity,
		successClear: opts.SuccessClearDelay,
		errorClear:   opts.ErrorClearDelay,
	}
	if c.successClear <= 0 {
		c.successClear = defaultSuccessClear
	}
	if c.errorClear <= 0 {
		c.errorClear = defaultErrorClear
	}
	unsubscribe, err := opts.Channel.Subscribe(c.handleMessage)
	if err != nil {
		return nil, err
	}
	c.unsubscribe = unsubscribe
	return c, nil
}

func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.stopClearTimersLocked()
		c.mu.Unlock()
		c.unsubscribe()
	})
}

// Store exposes the plan store read surface to the rendering layer.
func (c *Controller) Store() *planstore.Store { return c.store }

func (c *Controller) Snapshot() planstore.Snapshot { return c.store.Snapshot() }

// SetIdentity applies an identity transition. When the record handle
// becomes available (possibly after readiness was already reported) the
// controller issues the initial load itself, once per handle value.
func (c *Controller) SetIdentity(id identity.Identity) error {
	c.mu.Lock()
	c.id = id
	shouldLoad := id.HasRecord() && c.autoLoadedID != id.RecordID
	if shouldLoad {
		c.autoLoadedID = id.RecordID
	}
	c.mu.Unlock()
	if !shouldLoad {
		return nil
	}
	return c.RequestLoad()
}

func (c *Controller) Identity() identity.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// RequestLoad asks the host for the authoritative plan. There is no
// local timeout: the operation stays in flight until a matching data
// message arrives.
func (c *Controller) RequestLoad() error {
	c.mu.Lock()
	id := c.id
	if !id.HasRecord() {
		c.mu.Unlock()
		c.store.SetError(msgMissingIdentity)
		return ErrMissingIdentity
	}
	reqID := uuid.NewString()
	c.loadReqID = reqID
	c.mu.Unlock()

	c.store.SetLoading(true)
	c.store.SetError("")

	msg := transport.RequestData{
		Type:      transport.TypeRequestData,
		RecordID:  id.RecordID,
		RequestID: reqID,
		Data:      transport.RequestDataBody{RecordID: id.RecordID},
	}
	if err := c.channel.Send(msg); err != nil {
		c.store.SetLoading(false)
		c.store.SetError(msgRequestFailed)
		return fmt.Errorf("send load request: %w", err)
	}
	return nil
}

// RequestSave pushes the full current plan. preserveFields tells the
// host this is a merge-style update, not a destructive replace.
func (c *Controller) RequestSave() error {
	c.mu.Lock()
	id := c.id
	if !id.HasRecord() {
		c.mu.Unlock()
		c.store.SetError(msgMissingIdentity)
		return ErrMissingIdentity
	}
	reqID := uuid.NewString()
	c.saveReqID = reqID
	c.invalidateClearsLocked()
	c.mu.Unlock()

	c.store.SetSaving(true)
	c.store.SetError("")

	msg := transport.SaveData{
		Type:           transport.TypeSaveData,
		RecordID:       id.RecordID,
		RequestID:      reqID,
		StudyPlan:      c.store.Plan(),
		PreserveFields: true,
	}
	if err := c.channel.Send(msg); err != nil {
		c.store.SetSaving(false)
		c.store.SetError(msgSaveFailed)
		return fmt.Errorf("send save request: %w", err)
	}
	return nil
}

// ──── Local mutation operations ────

func (c *Controller) AddSession(day time.Time, fields map[string]any) string {
	return c.store.AddSession(day, fields)
}

func (c *Controller) UpdateSession(day time.Time, sessionID string, fields map[string]any) {
	c.store.UpdateSession(day, sessionID, fields)
}

func (c *Controller) DeleteSession(day time.Time, sessionID string) {
	c.store.DeleteSession(day, sessionID)
}

func (c *Controller) SetWeekStartDate(date time.Time) { c.store.SetWeekStartDate(date) }
func (c *Controller) SetWeekQuote(text string)        { c.store.SetWeekQuote(text) }
func (c *Controller) SetCourseTypes(types []string)   { c.store.SetCourseTypes(types) }
func (c *Controller) MarkFeedbackAsRead(id string)    { c.store.MarkFeedbackAsRead(id) }

// ──── Composite operations: mutate locally, then sync ────

func (c *Controller) ShareWithTeacher(teacherID string) error {
	c.store.ShareWithTeacher(teacherID)
	return c.RequestSave()
}

func (c *Controller) RemoveSharing(teacherID string) error {
	c.store.RemoveSharing(teacherID)
	return c.RequestSave()
}

// AddTeacherFeedback appends feedback under the caller's identity.
// Only identities with the teacher role may leave feedback.
func (c *Controller) AddTeacherFeedback(text string) error {
	c.mu.Lock()
	id := c.id
	c.mu.Unlock()
	if !id.IsTeacher() {
		c.store.SetError(msgForbidden)
		return ErrForbidden
	}
	c.store.AddFeedback(id.ID, id.Name, text)
	return c.RequestSave()
}

// ArchiveCurrentWeek snapshots the active week into history, resets it,
// and syncs. Without an active week it does nothing.
func (c *Controller) ArchiveCurrentWeek() error {
	if !c.store.ArchiveCurrentWeek() {
		return nil
	}
	return c.RequestSave()
}

// ──── Inbound messages ────

func (c *Controller) handleMessage(msgType string, raw json.RawMessage) {
	switch msgType {
	case transport.TypeData:
		c.handleData(raw)
	case transport.TypeSaveResult:
		c.handleSaveResult(raw)
	}
}

func (c *Controller) handleData(raw json.RawMessage) {
	var msg transport.DataMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.logf("dropping unreadable data message: %v", err)
		return
	}
	c.mu.Lock()
	if msg.RequestID != "" && msg.RequestID != c.loadReqID {
		c.mu.Unlock()
		c.logf("ignoring data response for superseded request %s", msg.RequestID)
		return
	}
	c.loadReqID = ""
	c.mu.Unlock()

	c.store.SetLoading(false)
	if err := c.store.ApplyRemote(msg.StudyPlan); err != nil {
		if errors.Is(err, models.ErrBadPayload) {
			c.logf("host sent a non-object study plan payload; keeping local state")
			return
		}
		c.logf("merge of host study plan failed: %v", err)
		c.store.SetError(msgLoadError)
		return
	}
	c.store.SetError("")
}

func (c *Controller) handleSaveResult(raw json.RawMessage) {
	var msg transport.SaveResult
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.logf("dropping unreadable save-result message: %v", err)
		return
	}
	c.mu.Lock()
	if msg.RequestID != "" && msg.RequestID != c.saveReqID {
		c.mu.Unlock()
		c.logf("ignoring save result for superseded request %s", msg.RequestID)
		return
	}
	c.saveReqID = ""
	epoch := c.invalidateClearsLocked()
	c.mu.Unlock()

	c.store.SetSaving(false)
	if msg.Success {
		v := true
		c.store.SetSaveSuccess(&v)
		c.store.SetError("")
		c.scheduleClear(epoch, c.successClear, func() {
			c.store.SetSaveSuccess(nil)
		})
		return
	}
	v := false
	c.store.SetSaveSuccess(&v)
	errText := msg.Error
	if errText == "" {
		errText = msgSaveFailed
	}
	c.store.SetError(errText)
	c.scheduleClear(epoch, c.errorClear, func() {
		c.store.SetSaveSuccess(nil)
		c.store.SetError("")
	})
}

// ──── Clear timers ────

// invalidateClearsLocked advances the epoch and stops pending timers so
// a stale clear can never overwrite fresher status state.
func (c *Controller) invalidateClearsLocked() int {
	c.clearEpoch++
	c.stopClearTimersLocked()
	return c.clearEpoch
}

func (c *Controller) stopClearTimersLocked() {
	for _, t := range c.clearTimers {
		t.Stop()
	}
	c.clearTimers = nil
}

func (c *Controller) scheduleClear(epoch int, delay time.Duration, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || epoch != c.clearEpoch {
		return
	}
	timer := time.AfterFunc(delay, func() {
		c.mu.Lock()
		stale := c.closed || epoch != c.clearEpoch
		c.mu.Unlock()
		if stale {
			return
		}
		fn()
	})
	c.clearTimers = append(c.clearTimers, timer)
}

func (c *Controller) logf(format string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Printf(format, args...)
}
