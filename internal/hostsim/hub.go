package hostsim

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"studyplan-widget/internal/identity"
)

// client is one widget connection. Gorilla conns allow a single
// concurrent writer, so every write goes through the client mutex.
type client struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *client) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// Hub authenticates widget connections, tracks them per record handle,
// answers the widget protocol and fans fresh plans out to every other
// connection of the same record.
type Hub struct {
	mu          sync.RWMutex
	connections map[string][]*client

	store    *RecordStore
	secret   []byte
	upgrader websocket.Upgrader
}

func NewHub(store *RecordStore, jwtSecret string, allowedOrigins []string) *Hub {
	return &Hub{
		connections: make(map[string][]*client),
		store:       store,
		secret:      []byte(jwtSecret),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// originChecker allow-lists embedding origins. An empty list admits
// everything (local development); non-browser clients send no Origin
// header and are admitted.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if origin == a {
				return true
			}
		}
		return false
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Authenticate via token query param
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := identity.FromToken(tokenStr, h.secret)
	if err != nil || id.RecordID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn}
	h.register(id.RecordID, c)
	defer h.unregister(id.RecordID, c)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleFrame(id.RecordID, c, data)
	}
}

func (h *Hub) register(recordID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[recordID] = append(h.connections[recordID], c)
	log.Printf("Widget connected: record %s (total: %d)", recordID, len(h.connections[recordID]))
}

func (h *Hub) unregister(recordID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.conn.Close()

	conns := h.connections[recordID]
	for i, existing := range conns {
		if existing == c {
			h.connections[recordID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(h.connections[recordID]) == 0 {
		delete(h.connections, recordID)
	}
}

type inboundFrame struct {
	Type           string          `json:"type"`
	RecordID       string          `json:"recordId"`
	RequestID      string          `json:"requestId"`
	StudyPlan      json.RawMessage `json:"studyPlan"`
	PreserveFields bool            `json:"preserveFields"`
}

func (h *Hub) handleFrame(recordID string, c *client, data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type == "" {
		return
	}
	// The authenticated handle wins over whatever the frame claims.
	switch frame.Type {
	case "request-data":
		h.sendPlan(recordID, c, frame.RequestID)
	case "save-data":
		h.handleSave(recordID, c, frame)
	}
}

func (h *Hub) sendPlan(recordID string, c *client, requestID string) {
	plan, ok := h.store.Load(recordID)
	if !ok {
		plan = json.RawMessage(`{}`)
	}
	msg := map[string]any{
		"type":      "data",
		"studyPlan": plan,
	}
	if requestID != "" {
		msg["requestId"] = requestID
	}
	if err := c.writeJSON(msg); err != nil {
		log.Printf("send data to record %s failed: %v", recordID, err)
	}
}

func (h *Hub) handleSave(recordID string, c *client, frame inboundFrame) {
	result := map[string]any{
		"type":    "save-result",
		"success": true,
	}
	if frame.RequestID != "" {
		result["requestId"] = frame.RequestID
	}
	if err := h.store.Save(recordID, frame.StudyPlan, frame.PreserveFields); err != nil {
		result["success"] = false
		result["error"] = err.Error()
		if writeErr := c.writeJSON(result); writeErr != nil {
			log.Printf("send save-result to record %s failed: %v", recordID, writeErr)
		}
		return
	}
	if err := c.writeJSON(result); err != nil {
		log.Printf("send save-result to record %s failed: %v", recordID, err)
	}
	h.broadcastPlan(recordID, c)
}

// broadcastPlan pushes the stored plan to the record's other
// connections so sibling widgets pick up a save without polling.
func (h *Hub) broadcastPlan(recordID string, origin *client) {
	plan, ok := h.store.Load(recordID)
	if !ok {
		return
	}
	msg := map[string]any{
		"type":      "data",
		"studyPlan": plan,
	}
	h.mu.RLock()
	conns := make([]*client, 0, len(h.connections[recordID]))
	for _, c := range h.connections[recordID] {
		if c != origin {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range conns {
		if err := c.writeJSON(msg); err != nil {
			log.Printf("broadcast to record %s failed: %v", recordID, err)
		}
	}
}
