package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jackzampolin/takeoff/internal/config"
	"github.com/jackzampolin/takeoff/internal/home"
	"github.com/jackzampolin/takeoff/internal/testutil"
)

// TestServer_ContextCancellation tests that the server properly handles context cancellation.
func TestServer_ContextCancellation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	cfg, srv, stop := startTestServer(t, nil)
	stop()

	if srv.IsRunning() {
		t.Error("server still running after context cancellation")
	}

	client := &http.Client{Timeout: time.Second}
	if resp, err := client.Get(cfg.URL() + "/health"); err == nil {
		resp.Body.Close()
		t.Error("server still accepting connections after shutdown")
	}
}

// TestServer_DoubleStart tests that starting a running server fails.
func TestServer_DoubleStart(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	_, srv, stop := startTestServer(t, nil)
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Start(ctx); err == nil {
		t.Error("second Start() should fail while running")
	}
}

// TestServer_StartFailsOnBadBackend tests that a backend error surfaces from Start.
func TestServer_StartFailsOnBadBackend(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	cfg := testutil.NewServerConfig(t)
	h, err := home.New(cfg.HomePath)
	if err != nil {
		t.Fatalf("home.New() error = %v", err)
	}

	// Redis on a closed port fails the initial ping.
	t.Setenv("TAKEOFF_QUEUE_DRIVER", "redis")
	t.Setenv("TAKEOFF_QUEUE_REDIS_ADDR", "127.0.0.1:1")
	cfgMgr, err := config.NewManager(cfg.ConfigFile)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	srv, err := New(Config{Host: cfg.Host, Port: cfg.Port, ConfigManager: cfgMgr, Home: h, Logger: cfg.Logger})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Start(ctx); err == nil {
		t.Fatal("Start() should fail when the queue is unreachable")
	}
	if srv.IsRunning() {
		t.Error("IsRunning() = true after failed start")
	}
}
