package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/resilience/internal/control"
	"github.com/vietddude/resilience/internal/core/config"
)

func TestGracefulShutdown(t *testing.T) {
	// Memory storage, no Redis: enough to start every component.
	cfg := config.Default()
	cfg.Server.Port = 18099

	svc, err := control.NewService(cfg)
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Let it run for a bit
	time.Sleep(200 * time.Millisecond)

	// Trigger shutdown
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()

	if err := svc.Stop(stopCtx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
