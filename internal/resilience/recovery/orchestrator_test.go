package recovery

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/vietddude/resilience/internal/core/domain"
	"github.com/vietddude/resilience/internal/events"
	"github.com/vietddude/resilience/internal/resilience/breaker"
	"github.com/vietddude/resilience/internal/resilience/classifier"
	"github.com/vietddude/resilience/internal/resilience/degradation"
	"github.com/vietddude/resilience/internal/resilience/escalation"
)

func newTestOrchestrator() (*Manager, *events.Bus) {
	bus := events.NewBus()
	m := New(
		DefaultConfig(),
		bus,
		classifier.New(bus),
		breaker.NewManager(breaker.DefaultConfig(), bus),
		escalation.NewManager(escalation.DefaultRules(), bus),
		degradation.NewManager(nil, bus),
	)
	return m, bus
}

func errCtx(service, operation string) domain.ErrorContext {
	return domain.ErrorContext{Service: service, Operation: operation}
}

func TestHandleError_CircuitBreakOpensBreaker(t *testing.T) {
	m, _ := newTestOrchestrator()

	action := m.HandleError(errors.New("request timeout after 30s"), errCtx("AnalyticsEngine", "query"))
	if action.Type != domain.ActionCircuitBreak {
		t.Fatalf("expected circuit_break, got %s", action.Type)
	}
	if snap := m.breaker.State("AnalyticsEngine"); snap.State != breaker.StateOpen {
		t.Errorf("expected breaker forced open, got %s", snap.State)
	}
}

func TestHandleError_GracefulDegradeShedsFeatures(t *testing.T) {
	m, _ := newTestOrchestrator()

	action := m.HandleError(errors.New("max connections exceeded"), errCtx("PlayoutEngine", "ingest"))
	if action.Type != domain.ActionGracefulDegrade {
		t.Fatalf("expected graceful_degrade, got %s", action.Type)
	}
	if m.IsFeatureAvailable("PlayoutEngine", "high_quality_transcode") {
		t.Error("expected resource-limit feature set shed")
	}
	if !m.IsFeatureAvailable("PlayoutEngine", "basic_stream") {
		t.Error("unlisted features must stay available")
	}

	m.ManualRestore("PlayoutEngine")
	if !m.IsFeatureAvailable("PlayoutEngine", "high_quality_transcode") {
		t.Error("expected features back after manual restore")
	}
}

func TestHandleError_ErrorRateBandsStatus(t *testing.T) {
	m, _ := newTestOrchestrator()
	ctx := errCtx("IngestGateway", "publish")
	err := errors.New("rtmp connection refused")

	m.HandleError(err, ctx)
	h := m.PerformHealthCheck("IngestGateway")
	if h.ErrorRate != 0.1 || h.Status != domain.StatusHealthy {
		t.Errorf("after 1 error: rate %.2f status %s", h.ErrorRate, h.Status)
	}

	for i := 0; i < 2; i++ {
		m.HandleError(err, ctx)
	}
	h = m.PerformHealthCheck("IngestGateway")
	if h.Status != domain.StatusDegraded {
		t.Errorf("rate %.2f should band degraded, got %s", h.ErrorRate, h.Status)
	}

	for i := 0; i < 3; i++ {
		m.HandleError(err, ctx)
	}
	h = m.PerformHealthCheck("IngestGateway")
	if h.Status != domain.StatusUnhealthy {
		t.Errorf("rate %.2f should band unhealthy, got %s", h.ErrorRate, h.Status)
	}

	// Rate is capped at 1.0 no matter how many failures arrive.
	for i := 0; i < 10; i++ {
		m.HandleError(err, ctx)
	}
	if h = m.PerformHealthCheck("IngestGateway"); h.ErrorRate != 1.0 {
		t.Errorf("expected capped rate 1.0, got %.2f", h.ErrorRate)
	}
}

func TestHandleError_CriticalEscalatesImmediately(t *testing.T) {
	m, _ := newTestOrchestrator()

	m.HandleError(errors.New("ffmpeg crashed"), errCtx("PlayoutEngine", "transcode"))

	active := m.escalation.ActiveEscalations()
	if len(active) != 1 {
		t.Fatalf("expected 1 escalation for critical error, got %d", len(active))
	}
	if active[0].Level != 3 {
		t.Errorf("expected level 3, got %d", active[0].Level)
	}
}

func TestAttemptCount(t *testing.T) {
	m, _ := newTestOrchestrator()
	ctx := errCtx("PlayoutEngine", "transcode")

	if got := m.AttemptCount("PlayoutEngine", "transcode"); got != 0 {
		t.Fatalf("expected 0 before any error, got %d", got)
	}
	m.HandleError(errors.New("ffmpeg crashed"), ctx)
	m.HandleError(errors.New("ffmpeg crashed"), ctx)
	if got := m.AttemptCount("PlayoutEngine", "transcode"); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
	if got := m.AttemptCount("PlayoutEngine", "other"); got != 0 {
		t.Errorf("operations tracked independently, got %d", got)
	}
}

func TestSystemStatusAndStats(t *testing.T) {
	m, _ := newTestOrchestrator()

	m.HandleError(errors.New("ffmpeg crashed"), errCtx("PlayoutEngine", "transcode"))
	m.HandleError(errors.New("request timeout"), errCtx("AnalyticsEngine", "query"))

	status := m.SystemStatus()
	if len(status.ActiveErrors) != 2 {
		t.Errorf("expected 2 active errors, got %d", len(status.ActiveErrors))
	}
	if len(status.Services) != 2 {
		t.Errorf("expected health for 2 services, got %d", len(status.Services))
	}
	if _, ok := status.Breakers["AnalyticsEngine"]; !ok {
		t.Error("expected breaker snapshot for AnalyticsEngine")
	}

	if err := m.ResolveError(status.ActiveErrors[0].ID); err != nil {
		t.Fatalf("ResolveError failed: %v", err)
	}

	stats := m.RecoveryStats()
	if stats.TotalErrors != 2 || stats.ActiveErrors != 1 || stats.ResolvedErrors != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestExecuteWithCircuitBreaker_Passthrough(t *testing.T) {
	m, _ := newTestOrchestrator()

	got, err := m.ExecuteWithCircuitBreaker(context.Background(), "db",
		func(ctx context.Context) (any, error) { return 42, nil }, nil)
	if err != nil || got != 42 {
		t.Fatalf("expected (42, nil), got (%v, %v)", got, err)
	}
}

func TestManualRestart(t *testing.T) {
	m, bus := newTestOrchestrator()

	var restart domain.Event
	bus.Subscribe(domain.EventRestart, func(ev domain.Event) { restart = ev })

	m.breaker.ForceOpen("PlayoutEngine")
	m.ManualRestart("PlayoutEngine", "ch-42")

	if restart.Service != "PlayoutEngine" {
		t.Fatalf("expected restart event for PlayoutEngine, got %q", restart.Service)
	}
	if restart.Payload["manual"] != true || restart.Payload["channel_id"] != "ch-42" {
		t.Errorf("unexpected restart payload: %+v", restart.Payload)
	}
	if snap := m.breaker.State("PlayoutEngine"); snap.State != breaker.StateClosed {
		t.Errorf("expected breaker reset on manual restart, got %s", snap.State)
	}
}

func TestPerformHealthCheck_DefaultHealthy(t *testing.T) {
	m, _ := newTestOrchestrator()

	h := m.PerformHealthCheck("never-seen")
	if h.Status != domain.StatusHealthy || h.Uptime != 100 {
		t.Errorf("unexpected default health: %+v", h)
	}
}

func TestHandleError_ConcurrentReportsAccumulateRate(t *testing.T) {
	m, _ := newTestOrchestrator()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.HandleError(errors.New("rtmp connection refused"), errCtx("IngestService", "publish"))
		}()
	}
	wg.Wait()

	h := m.PerformHealthCheck("IngestService")
	if math.Abs(h.ErrorRate-0.3) > 1e-9 {
		t.Errorf("expected error rate 0.3 after 3 reports, got %v", h.ErrorRate)
	}
	if h.Status != domain.StatusDegraded {
		t.Errorf("expected degraded band, got %s", h.Status)
	}
}
