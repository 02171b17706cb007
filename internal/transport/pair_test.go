package transport

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu       sync.Mutex
	received []struct {
		msgType string
		raw     json.RawMessage
	}
}

func (r *recorder) handler(msgType string, raw json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, struct {
		msgType string
		raw     json.RawMessage
	}{msgType, raw})
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.received)
}

func (r *recorder) waitForCount(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.count() >= n {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Expected %d messages, got %d before deadline", n, r.count())
}

func TestPair_DeliversTypedMessages(t *testing.T) {
	a, b := Pair()
	defer a.Close()
	defer b.Close()

	rec := &recorder{}
	if _, err := b.Subscribe(rec.handler); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := a.Send(map[string]any{"type": "data", "studyPlan": map[string]any{}}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	rec.waitForCount(t, 1)

	rec.mu.Lock()
	got := rec.received[0]
	rec.mu.Unlock()
	if got.msgType != TypeData {
		t.Errorf("Expected type %q, got %q", TypeData, got.msgType)
	}
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(got.raw, &env); err != nil || env.Type != TypeData {
		t.Errorf("Expected raw envelope carried through, got %s (err %v)", got.raw, err)
	}
}

func TestPair_UntaggedFramesDropped(t *testing.T) {
	a, b := Pair()
	defer a.Close()
	defer b.Close()

	rec := &recorder{}
	if _, err := b.Subscribe(rec.handler); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	// No type tag, then wrong shape, then a real message.
	if err := a.Send(map[string]any{"hello": "world"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := a.Send([]int{1, 2, 3}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := a.Send(map[string]any{"type": "save-result", "success": true}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	rec.waitForCount(t, 1)
	time.Sleep(20 * time.Millisecond)
	if rec.count() != 1 {
		t.Errorf("Expected only the tagged frame delivered, got %d", rec.count())
	}
	rec.mu.Lock()
	msgType := rec.received[0].msgType
	rec.mu.Unlock()
	if msgType != TypeSaveResult {
		t.Errorf("Expected type %q, got %q", TypeSaveResult, msgType)
	}
}

func TestPair_SingleSubscriber(t *testing.T) {
	a, b := Pair()
	defer a.Close()
	defer b.Close()

	rec := &recorder{}
	unsubscribe, err := b.Subscribe(rec.handler)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if _, err := b.Subscribe(rec.handler); !errors.Is(err, ErrSubscribed) {
		t.Fatalf("Expected ErrSubscribed, got %v", err)
	}

	// After unsubscribing the slot opens up again.
	unsubscribe()
	if _, err := b.Subscribe(rec.handler); err != nil {
		t.Fatalf("Expected re-subscribe to succeed, got %v", err)
	}
}

func TestPair_UnsubscribeStopsDelivery(t *testing.T) {
	a, b := Pair()
	defer a.Close()
	defer b.Close()

	rec := &recorder{}
	unsubscribe, err := b.Subscribe(rec.handler)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	unsubscribe()

	if err := a.Send(map[string]any{"type": "data"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if rec.count() != 0 {
		t.Errorf("Expected no delivery after unsubscribe, got %d", rec.count())
	}
}

func TestPair_SendAfterCloseFails(t *testing.T) {
	a, b := Pair()
	defer b.Close()

	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Expected repeat Close to be a no-op, got %v", err)
	}
	if err := a.Send(map[string]any{"type": "data"}); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("Expected ErrChannelClosed, got %v", err)
	}
}

func TestPair_SendToClosedPeerDoesNotBlock(t *testing.T) {
	a, b := Pair()
	defer a.Close()
	b.Close()

	done := make(chan error, 1)
	go func() {
		var err error
		for i := 0; i < 200; i++ {
			if err = a.Send(map[string]any{"type": "data"}); err != nil {
				break
			}
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send blocked against a closed peer")
	}
}
