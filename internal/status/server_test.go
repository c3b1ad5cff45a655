package status

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vietddude/resilience/internal/core/domain"
	"github.com/vietddude/resilience/internal/events"
	"github.com/vietddude/resilience/internal/resilience/breaker"
	"github.com/vietddude/resilience/internal/resilience/classifier"
	"github.com/vietddude/resilience/internal/resilience/degradation"
	"github.com/vietddude/resilience/internal/resilience/escalation"
	"github.com/vietddude/resilience/internal/resilience/recovery"
)

func newTestServer() (*Server, *recovery.Manager) {
	bus := events.NewBus()
	orch := recovery.New(
		recovery.DefaultConfig(),
		bus,
		classifier.New(bus),
		breaker.NewManager(breaker.DefaultConfig(), bus),
		escalation.NewManager(nil, bus),
		degradation.NewManager(nil, bus),
	)
	return NewServer(orch, 0), orch
}

func TestHandleHealth_AggregatesWorstCase(t *testing.T) {
	s, orch := newTestServer()

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("empty system should be healthy, got %d", rec.Code)
	}

	// Push one service over the unhealthy band.
	for i := 0; i < 6; i++ {
		orch.HandleError(errors.New("ffmpeg crashed"), domain.ErrorContext{
			Service:   "PlayoutEngine",
			Operation: "transcode",
		})
	}

	rec = httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy service must yield 503, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["status"] != string(domain.StatusUnhealthy) {
		t.Errorf("expected unhealthy status, got %q", body["status"])
	}
}

func TestHandleStats(t *testing.T) {
	s, orch := newTestServer()

	orch.HandleError(errors.New("invalid channel id"), domain.ErrorContext{
		Service:   "APIGateway",
		Operation: "create",
	})

	rec := httptest.NewRecorder()
	s.handleStats(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var stats recovery.Stats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if stats.TotalErrors != 1 || stats.ActiveErrors != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
