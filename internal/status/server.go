// Package status provides the HTTP endpoints for operating the recovery
// subsystem.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/resilience/internal/core/domain"
	"github.com/vietddude/resilience/internal/resilience/recovery"
)

// Server provides HTTP endpoints for health and recovery status.
type Server struct {
	orchestrator *recovery.Manager
	server       *http.Server
}

// NewServer creates a new status server.
func NewServer(orchestrator *recovery.Manager, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		orchestrator: orchestrator,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/stats", s.handleStats)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.orchestrator.SystemStatus()
	status := domain.StatusHealthy

	// Aggregate status (worst case wins)
	for _, svc := range report.Services {
		if svc.Status == domain.StatusUnhealthy {
			status = domain.StatusUnhealthy
			break
		}
		if svc.Status == domain.StatusDegraded {
			status = domain.StatusDegraded
		}
	}

	response := map[string]string{"status": string(status)}
	w.Header().Set("Content-Type", "application/json")

	if status == domain.StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report := s.orchestrator.SystemStatus()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.orchestrator.RecoveryStats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
