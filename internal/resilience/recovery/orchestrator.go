// Package recovery is the public entry point of the resilience layer: it
// consumes (error, context) pairs and drives the classifier, circuit
// breaker, escalation and degradation managers.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/resilience/internal/core/domain"
	"github.com/vietddude/resilience/internal/events"
	"github.com/vietddude/resilience/internal/resilience/breaker"
	"github.com/vietddude/resilience/internal/resilience/classifier"
	"github.com/vietddude/resilience/internal/resilience/degradation"
	"github.com/vietddude/resilience/internal/resilience/escalation"
)

// errorRateBump is how much one reported failure pushes a service's
// tracked error rate toward 1.0.
const errorRateBump = 0.1

// Config holds orchestrator tuning.
type Config struct {
	// AttemptTTL bounds how long a (service, operation) recovery attempt
	// counter lives without new failures.
	AttemptTTL time.Duration `yaml:"attempt_ttl"`
}

// DefaultConfig returns the shipped defaults.
func DefaultConfig() Config {
	return Config{AttemptTTL: 5 * time.Minute}
}

// degradeFeatures maps an error category to the feature set shed when the
// orchestrator force-degrades the failing service. Categories not listed
// fall back to the service's degradation rule.
var degradeFeatures = map[domain.Category][]string{
	domain.CategoryResourceLimit:   {"high_quality_transcode", "multi_bitrate", "recording"},
	domain.CategoryExternalService: {"third_party_enrichment"},
	domain.CategorySystemError:     {"non_essential_workers"},
}

type attempt struct {
	count   int
	expires time.Time
}

// SystemStatus is the aggregate view served to operators.
type SystemStatus struct {
	Services          []domain.ServiceHealth      `json:"services"`
	DegradedServices  []domain.DegradedService    `json:"degraded_services"`
	Breakers          map[string]breaker.Snapshot `json:"breakers"`
	BreakerSummary    breaker.Summary             `json:"breaker_summary"`
	ActiveErrors      []*domain.CategorizedError  `json:"active_errors"`
	ActiveEscalations []*domain.EscalationEvent   `json:"active_escalations"`
}

// Stats summarizes recovery activity.
type Stats struct {
	TotalErrors       int `json:"total_errors"`
	ActiveErrors      int `json:"active_errors"`
	ResolvedErrors    int `json:"resolved_errors"`
	ActiveEscalations int `json:"active_escalations"`
	DegradedServices  int `json:"degraded_services"`
}

// Manager orchestrates the resilience components. Construct with New,
// start background work with Start, release everything with Shutdown.
type Manager struct {
	cfg         Config
	bus         *events.Bus
	classifier  *classifier.Classifier
	breaker     *breaker.Manager
	escalation  *escalation.Manager
	degradation *degradation.Manager

	mu       sync.Mutex
	attempts map[string]*attempt
	cancel   context.CancelFunc
}

// New wires the orchestrator and subscribes the escalation manager to the
// classified error stream.
func New(
	cfg Config,
	bus *events.Bus,
	cls *classifier.Classifier,
	brk *breaker.Manager,
	esc *escalation.Manager,
	deg *degradation.Manager,
) *Manager {
	if cfg.AttemptTTL <= 0 {
		cfg.AttemptTTL = 5 * time.Minute
	}
	m := &Manager{
		cfg:         cfg,
		bus:         bus,
		classifier:  cls,
		breaker:     brk,
		escalation:  esc,
		degradation: deg,
		attempts:    make(map[string]*attempt),
	}

	bus.Subscribe(domain.EventErrorClassified, func(ev domain.Event) {
		if ce, ok := ev.Payload["error"].(*domain.CategorizedError); ok {
			esc.ProcessError(ce)
		}
	})

	return m
}

// Start launches the background maintenance loops. They stop when ctx is
// cancelled or Shutdown is called.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go m.escalation.Start(ctx)
	go m.degradation.Start(ctx)
	go m.sweepAttempts(ctx)
}

// Shutdown cancels the maintenance loops and detaches all bus listeners.
func (m *Manager) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.bus.Close()
	slog.Info("Error recovery orchestrator stopped")
}

// HandleError reports a failure: the service's health estimate degrades,
// the error is classified, and the resulting recovery action's side
// effect is executed. Returns the action that was taken.
func (m *Manager) HandleError(err error, ectx domain.ErrorContext) domain.RecoveryAction {
	if ectx.Timestamp.IsZero() {
		ectx.Timestamp = time.Now()
	}

	m.bumpErrorRate(ectx.Service)
	m.recordAttempt(ectx.Service, ectx.Operation)

	action, ce := m.classifier.HandleError(err, ectx)

	switch action.Type {
	case domain.ActionCircuitBreak:
		m.breaker.ForceOpen(ectx.Service)
	case domain.ActionGracefulDegrade:
		reason := fmt.Sprintf("%s: %s", ce.Category, ce.Message)
		m.degradation.ForceDegrade(ectx.Service, degradeFeatures[ce.Category], reason)
	case domain.ActionRestart, domain.ActionFallback:
		// Signal already emitted by the classifier; the owning engine
		// reacts to it.
	case domain.ActionEscalate:
		// The escalation manager evaluated the error via its own
		// subscription.
	}

	return action
}

// bumpErrorRate pushes the service's tracked error rate up by one step
// and rebands its status. The degradation manager performs the update
// under its own lock so concurrent reports for one service all count.
func (m *Manager) bumpErrorRate(service string) {
	m.degradation.BumpErrorRate(service, errorRateBump, rateBand)
}

// rateBand maps a tracked error rate to a health status.
func rateBand(rate float64) domain.HealthStatus {
	switch {
	case rate > 0.5:
		return domain.StatusUnhealthy
	case rate > 0.2:
		return domain.StatusDegraded
	default:
		return domain.StatusHealthy
	}
}

// recordAttempt bumps the (service, operation) recovery counter. Entries
// self-expire after AttemptTTL so backoff bookkeeping resets and the map
// cannot grow without bound.
func (m *Manager) recordAttempt(service, operation string) {
	key := service + "|" + operation

	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.attempts[key]
	if !ok || time.Now().After(a.expires) {
		a = &attempt{}
		m.attempts[key] = a
	}
	a.count++
	a.expires = time.Now().Add(m.cfg.AttemptTTL)
}

// AttemptCount returns the live recovery attempt count for the pair.
func (m *Manager) AttemptCount(service, operation string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.attempts[service+"|"+operation]
	if !ok || time.Now().After(a.expires) {
		return 0
	}
	return a.count
}

func (m *Manager) sweepAttempts(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			now := time.Now()
			for key, a := range m.attempts {
				if now.After(a.expires) {
					delete(m.attempts, key)
				}
			}
			m.mu.Unlock()
		}
	}
}

// ExecuteWithCircuitBreaker runs op under the service's circuit breaker.
func (m *Manager) ExecuteWithCircuitBreaker(
	ctx context.Context,
	service string,
	op breaker.Operation,
	fallback breaker.Fallback,
) (any, error) {
	return m.breaker.Execute(ctx, service, op, fallback)
}

// PerformHealthCheck returns the stored health for the service, or a
// default healthy record when none exists yet.
func (m *Manager) PerformHealthCheck(service string) domain.ServiceHealth {
	if h, ok := m.degradation.Health(service); ok {
		return h
	}
	return domain.ServiceHealth{
		Service:   service,
		Status:    domain.StatusHealthy,
		LastCheck: time.Now(),
		Uptime:    100,
	}
}

// IsFeatureAvailable reports whether the feature is currently served.
func (m *Manager) IsFeatureAvailable(service, feature string) bool {
	return m.degradation.IsFeatureAvailable(service, feature)
}

// UpdateServiceHealth forwards an externally measured health sample.
func (m *Manager) UpdateServiceHealth(service string, sample degradation.HealthSample) {
	m.degradation.UpdateServiceHealth(service, sample)
}

// ResolveError marks a classified error resolved.
func (m *Manager) ResolveError(id string) error {
	return m.classifier.ResolveError(id)
}

// SystemStatus returns the aggregate operator view. Never fails; empty
// lists mean nothing is known yet.
func (m *Manager) SystemStatus() SystemStatus {
	return SystemStatus{
		Services:          m.degradation.AllHealth(),
		DegradedServices:  m.degradation.DegradedServices(),
		Breakers:          m.breaker.AllStates(),
		BreakerSummary:    m.breaker.Summarize(),
		ActiveErrors:      m.classifier.ActiveErrors(),
		ActiveEscalations: m.escalation.ActiveEscalations(),
	}
}

// RecoveryStats returns activity totals.
func (m *Manager) RecoveryStats() Stats {
	history := m.classifier.ErrorHistory(0)
	active := 0
	for _, ce := range history {
		if !ce.Resolved() {
			active++
		}
	}
	return Stats{
		TotalErrors:       len(history),
		ActiveErrors:      active,
		ResolvedErrors:    len(history) - active,
		ActiveEscalations: len(m.escalation.ActiveEscalations()),
		DegradedServices:  len(m.degradation.DegradedServices()),
	}
}

// ManualRestart emits an operator-triggered restart signal and resets the
// service's breaker so the restarted instance starts clean.
func (m *Manager) ManualRestart(service, channelID string) {
	slog.Info("Manual restart requested", "service", service, "channel_id", channelID)
	m.breaker.Reset(service)

	payload := map[string]any{"manual": true}
	if channelID != "" {
		payload["channel_id"] = channelID
	}
	m.bus.Publish(domain.Event{
		Type:    domain.EventRestart,
		Service: service,
		Payload: payload,
	})
}

// ManualRestore lifts a degradation regardless of health.
func (m *Manager) ManualRestore(service string) {
	slog.Info("Manual restore requested", "service", service)
	m.degradation.ForceRestore(service)
}
