package hostsim

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"studyplan-widget/internal/middleware"
)

func NewRouter(hub *Hub, store *RecordStore, auth *middleware.Auth) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)

	// Widget channel limiter (60 req/min per IP)
	wsLimiter := middleware.NewRateLimiter(60, time.Minute)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Widget message channel
	r.Group(func(r chi.Router) {
		r.Use(wsLimiter.Middleware)
		r.Get("/ws", hub.HandleWebSocket)
	})

	// Record inspection (authenticated)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Get("/plans/{recordID}", getPlanHandler(store))
	})

	return r
}

func getPlanHandler(store *RecordStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recordID := chi.URLParam(r, "recordID")
		record, ok := store.Load(recordID)
		if !ok {
			writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "No record for that handle", r))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"recordId": recordID,
			"record":   json.RawMessage(record),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func errorResp(code, message string, r *http.Request) map[string]any {
	return map[string]any{
		"error": map[string]any{
			"code":       code,
			"message":    message,
			"request_id": r.Header.Get("X-Request-ID"),
		},
	}
}
