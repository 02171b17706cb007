package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"studyplan-widget/internal/config"
	"studyplan-widget/internal/hostsim"
	"studyplan-widget/internal/middleware"
)

func main() {
	log.Println("🚀 Starting study plan host simulator...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	log.Println("✓ Environment variables loaded")

	// ──── Step 2: Record Store + Hub ────
	store := hostsim.NewRecordStore()
	hub := hostsim.NewHub(store, cfg.JWTSecret, cfg.AllowedOrigins)
	log.Println("✓ Record store ready (in-memory)")

	// ──── Step 3: HTTP Server ────
	auth := middleware.NewAuth(cfg.JWTSecret)
	r := hostsim.NewRouter(hub, store, auth)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("✓ Host simulator ready on http://localhost:%s", cfg.Port)
	log.Printf("  Widget channel: ws://localhost:%s/ws", cfg.Port)
	log.Printf("  Records API:    http://localhost:%s/api/v1/plans/{recordID}", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
