package hostsim

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"studyplan-widget/internal/identity"
	"studyplan-widget/internal/middleware"
	"studyplan-widget/internal/planstore"
	"studyplan-widget/internal/syncer"
	"studyplan-widget/internal/transport"
)

const testSecret = "hostsim-test-secret"

var student = identity.Identity{ID: "u1", RecordID: "rec-1", Role: "student", Name: "Sam", Ready: true}

func newTestServer(t *testing.T) (*httptest.Server, *RecordStore) {
	t.Helper()
	store := NewRecordStore()
	hub := NewHub(store, testSecret, nil)
	server := httptest.NewServer(NewRouter(hub, store, middleware.NewAuth(testSecret)))
	t.Cleanup(server.Close)
	return server, store
}

func dialWidget(t *testing.T, server *httptest.Server, id identity.Identity) *transport.WSChannel {
	t.Helper()
	token, err := identity.MintToken(id, []byte(testSecret), time.Hour)
	if err != nil {
		t.Fatalf("MintToken failed: %v", err)
	}
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=" + url.QueryEscape(token)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := transport.Dial(ctx, wsURL)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { ch.Close() })
	return ch
}

func newWidget(t *testing.T, server *httptest.Server, id identity.Identity) *syncer.Controller {
	t.Helper()
	ch := dialWidget(t, server, id)
	ctrl, err := syncer.New(syncer.Options{
		Store:   planstore.New(),
		Channel: ch,
	})
	if err != nil {
		t.Fatalf("syncer.New failed: %v", err)
	}
	t.Cleanup(ctrl.Close)
	if err := ctrl.SetIdentity(id); err != nil {
		t.Fatalf("SetIdentity failed: %v", err)
	}
	return ctrl
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestWidget_LoadSaveRoundTrip(t *testing.T) {
	server, store := newTestServer(t)
	store.Seed("rec-1", map[string]json.RawMessage{
		"quote":      json.RawMessage(`"seeded quote"`),
		"ownerEmail": json.RawMessage(`"sam@example.com"`),
	})

	ctrl := newWidget(t, server, student)

	// SetIdentity fired the initial load; the seeded plan arrives async.
	waitFor(t, func() bool {
		s := ctrl.Snapshot()
		return !s.IsLoading && s.Plan.Quote == "seeded quote"
	})

	ctrl.SetWeekQuote("updated quote")
	if err := ctrl.RequestSave(); err != nil {
		t.Fatalf("RequestSave failed: %v", err)
	}
	waitFor(t, func() bool {
		s := ctrl.Snapshot()
		return !s.IsSaving && s.SaveSuccess != nil && *s.SaveSuccess
	})

	// Merge-style save: the widget's field changed, the host-owned key
	// it never saw survived.
	record, ok := store.Load("rec-1")
	if !ok {
		t.Fatal("Expected record to exist after save")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(record, &fields); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if string(fields["quote"]) != `"updated quote"` {
		t.Errorf("Expected saved quote, got %s", fields["quote"])
	}
	if string(fields["ownerEmail"]) != `"sam@example.com"` {
		t.Errorf("Expected host-owned key preserved, got %s", fields["ownerEmail"])
	}
}

func TestWidget_LoadWithoutRecordGetsEmptyPlan(t *testing.T) {
	server, _ := newTestServer(t)
	ctrl := newWidget(t, server, student)

	waitFor(t, func() bool { return !ctrl.Snapshot().IsLoading })
	snap := ctrl.Snapshot()
	if snap.Error != "" {
		t.Errorf("Expected no error for a fresh record, got %q", snap.Error)
	}
	if snap.Plan.Quote != "" || len(snap.Plan.Sessions) != 0 {
		t.Errorf("Expected an empty plan, got %+v", snap.Plan)
	}
}

func TestWidget_SaveFansOutToSiblings(t *testing.T) {
	server, _ := newTestServer(t)
	first := newWidget(t, server, student)
	second := newWidget(t, server, student)

	waitFor(t, func() bool { return !first.Snapshot().IsLoading })
	waitFor(t, func() bool { return !second.Snapshot().IsLoading })

	first.SetWeekQuote("shared across tabs")
	if err := first.RequestSave(); err != nil {
		t.Fatalf("RequestSave failed: %v", err)
	}

	// The sibling gets an unsolicited data push after the save lands.
	waitFor(t, func() bool {
		return second.Snapshot().Plan.Quote == "shared across tabs"
	})
}

func TestWebSocket_RejectsMissingToken(t *testing.T) {
	server, _ := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := transport.Dial(ctx, wsURL); err == nil {
		t.Fatal("Expected handshake rejection without a token")
	}
}

func TestWebSocket_RejectsTokenWithoutRecord(t *testing.T) {
	server, _ := newTestServer(t)
	token, err := identity.MintToken(identity.Identity{ID: "u1"}, []byte(testSecret), time.Hour)
	if err != nil {
		t.Fatalf("MintToken failed: %v", err)
	}
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=" + url.QueryEscape(token)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := transport.Dial(ctx, wsURL); err == nil {
		t.Fatal("Expected handshake rejection without a record handle")
	}
}

func TestPlansEndpoint_Auth(t *testing.T) {
	server, store := newTestServer(t)
	store.Seed("rec-1", map[string]json.RawMessage{"quote": json.RawMessage(`"hi"`)})

	// No token: unauthorized.
	resp, err := http.Get(server.URL + "/api/v1/plans/rec-1")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", resp.StatusCode)
	}

	// Bearer token: record returned.
	token, err := identity.MintToken(student, []byte(testSecret), time.Hour)
	if err != nil {
		t.Fatalf("MintToken failed: %v", err)
	}
	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/v1/plans/rec-1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		RecordID string          `json:"recordId"`
		Record   json.RawMessage `json:"record"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.RecordID != "rec-1" || !strings.Contains(string(body.Record), "hi") {
		t.Errorf("Expected seeded record back, got %+v", body)
	}

	// Unknown handle: not found.
	req, _ = http.NewRequest(http.MethodGet, server.URL+"/api/v1/plans/rec-404", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestRecordStore_ReplaceWithoutPreserve(t *testing.T) {
	store := NewRecordStore()
	store.Seed("rec-1", map[string]json.RawMessage{
		"quote":      json.RawMessage(`"old"`),
		"ownerEmail": json.RawMessage(`"sam@example.com"`),
	})

	if err := store.Save("rec-1", json.RawMessage(`{"quote":"new"}`), false); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	record, _ := store.Load("rec-1")
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(record, &fields); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if _, ok := fields["ownerEmail"]; ok {
		t.Error("Expected replace to drop host keys when preserveFields is off")
	}
	if string(fields["quote"]) != `"new"` {
		t.Errorf("Expected new quote, got %s", fields["quote"])
	}
}

func TestRecordStore_RejectsNonObjectPlan(t *testing.T) {
	store := NewRecordStore()
	if err := store.Save("rec-1", json.RawMessage(`"nope"`), true); err == nil {
		t.Error("Expected rejection of a non-object payload")
	}
}
