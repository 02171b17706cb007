package main

import (
	"context"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"studyplan-widget/internal/config"
	"studyplan-widget/internal/identity"
	"studyplan-widget/internal/planstore"
	"studyplan-widget/internal/syncer"
	"studyplan-widget/internal/transport"
)

func main() {
	log.Println("🚀 Starting study plan widget engine...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	if cfg.IdentityToken == "" {
		log.Fatal("✗ IDENTITY_TOKEN is required")
	}
	log.Println("✓ Environment variables loaded")

	// ──── Step 2: Resolve Identity ────
	id, err := identity.FromToken(cfg.IdentityToken, []byte(cfg.JWTSecret))
	if err != nil {
		log.Fatalf("✗ Identity token rejected: %v", err)
	}
	log.Printf("✓ Identity ready: %s (%s)", id.Name, id.Role)

	// ──── Step 3: Connect Host Channel ────
	wsURL, err := withToken(cfg.HostWSURL, cfg.IdentityToken)
	if err != nil {
		log.Fatalf("✗ Invalid HOST_WS_URL: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	channel, err := transport.Dial(ctx, wsURL)
	cancel()
	if err != nil {
		log.Fatalf("✗ Host channel connection failed: %v", err)
	}
	defer channel.Close()
	log.Println("✓ Host channel connected")

	// ──── Step 4: Sync Controller ────
	store := planstore.New()
	ctrl, err := syncer.New(syncer.Options{
		Store:             store,
		Channel:           channel,
		Logger:            log.Default(),
		SuccessClearDelay: time.Duration(cfg.SaveSuccessClearSeconds) * time.Second,
		ErrorClearDelay:   time.Duration(cfg.SaveErrorClearSeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("✗ Sync controller failed: %v", err)
	}
	defer ctrl.Close()

	// Identity is already ready; this triggers the initial load.
	if err := ctrl.SetIdentity(id); err != nil {
		log.Printf("initial load failed: %v", err)
	}
	log.Println("✓ Sync controller started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sigChan:
			log.Println("Shutting down...")
			return
		case <-ticker.C:
			snap := ctrl.Snapshot()
			log.Printf("plan: weekStart=%q sessions=%d sharedWith=%d loading=%t saving=%t err=%q",
				snap.Plan.WeekStart, sessionCount(snap), len(snap.Plan.Sharing.SharedWith),
				snap.IsLoading, snap.IsSaving, snap.Error)
		}
	}
}

func sessionCount(snap planstore.Snapshot) int {
	n := 0
	for _, bucket := range snap.Plan.Sessions {
		n += len(bucket)
	}
	return n
}

func withToken(rawURL, token string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
