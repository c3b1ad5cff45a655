// Package degradation tracks per-service health and narrows a failing
// service's feature surface until health recovers.
package degradation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/resilience/internal/core/domain"
	"github.com/vietddude/resilience/internal/events"
	"github.com/vietddude/resilience/internal/resilience/metrics"
)

// healthCheckInterval is the cadence of the generic healthCheck tick that
// asks external probes to refresh their samples.
const healthCheckInterval = 30 * time.Second

// HealthSample is a partial health update; nil fields keep the stored
// value.
type HealthSample struct {
	Status       *domain.HealthStatus
	ResponseTime *time.Duration
	ErrorRate    *float64
	Uptime       *float64
}

// Manager owns service health state and degradation decisions.
type Manager struct {
	mu       sync.RWMutex
	bus      *events.Bus
	rules    map[string]domain.DegradationRule
	health   map[string]*domain.ServiceHealth
	degraded map[string]*domain.DegradedService
}

// NewManager creates a Manager with the given per-service rules.
func NewManager(rules []domain.DegradationRule, bus *events.Bus) *Manager {
	m := &Manager{
		bus:      bus,
		rules:    make(map[string]domain.DegradationRule, len(rules)),
		health:   make(map[string]*domain.ServiceHealth),
		degraded: make(map[string]*domain.DegradedService),
	}
	for _, r := range rules {
		m.rules[r.Service] = r
	}
	return m
}

// UpdateServiceHealth merges the sample into the stored record, stamps
// the check time and re-evaluates the service's degradation state.
func (m *Manager) UpdateServiceHealth(service string, sample HealthSample) {
	m.mu.Lock()
	h, ok := m.health[service]
	if !ok {
		h = defaultHealth(service)
		m.health[service] = h
	}

	if sample.Status != nil {
		h.Status = *sample.Status
	}
	if sample.ResponseTime != nil {
		h.ResponseTime = *sample.ResponseTime
	}
	if sample.ErrorRate != nil {
		h.ErrorRate = *sample.ErrorRate
	}
	if sample.Uptime != nil {
		h.Uptime = *sample.Uptime
	}
	h.LastCheck = time.Now()

	metrics.ServiceErrorRate.WithLabelValues(service).Set(h.ErrorRate)

	pending := m.evaluate(service, h)
	m.mu.Unlock()

	for _, ev := range pending {
		m.bus.Publish(ev)
	}
}

// BumpErrorRate adds delta to the service's tracked error rate (capped at
// 1.0), rebands its status via band when non-nil, and re-evaluates the
// degradation state. The read-modify-write happens under one lock
// acquisition so concurrent bumps for the same service never lose a step.
func (m *Manager) BumpErrorRate(service string, delta float64, band func(rate float64) domain.HealthStatus) domain.ServiceHealth {
	m.mu.Lock()
	h, ok := m.health[service]
	if !ok {
		h = defaultHealth(service)
		m.health[service] = h
	}

	h.ErrorRate += delta
	if h.ErrorRate > 1.0 {
		h.ErrorRate = 1.0
	}
	if band != nil {
		h.Status = band(h.ErrorRate)
	}
	h.LastCheck = time.Now()

	metrics.ServiceErrorRate.WithLabelValues(service).Set(h.ErrorRate)

	pending := m.evaluate(service, h)
	updated := *h
	m.mu.Unlock()

	for _, ev := range pending {
		m.bus.Publish(ev)
	}
	return updated
}

// evaluate applies the degrade/restore decision for one service. Caller
// holds the lock; returned events are published after release.
func (m *Manager) evaluate(service string, h *domain.ServiceHealth) []domain.Event {
	rule, ok := m.rules[service]
	if !ok {
		return nil
	}

	if _, isDegraded := m.degraded[service]; !isDegraded {
		if reason, breached := breaches(rule.Condition, h); breached {
			return m.degradeLocked(service, rule.Features, rule.AutoRestore, rule.RestoreThreshold, reason, h)
		}
		return nil
	}

	ds := m.degraded[service]
	if ds.AutoRestore && ds.RestoreCondition != nil && satisfies(*ds.RestoreCondition, h) {
		return m.restoreLocked(service, h)
	}
	return nil
}

// breaches reports whether any configured threshold is exceeded.
func breaches(c domain.DegradeCondition, h *domain.ServiceHealth) (string, bool) {
	if c.ErrorRate > 0 && h.ErrorRate > c.ErrorRate {
		return fmt.Sprintf("error rate %.2f above %.2f", h.ErrorRate, c.ErrorRate), true
	}
	if c.ResponseTime > 0 && h.ResponseTime > c.ResponseTime {
		return fmt.Sprintf("response time %v above %v", h.ResponseTime, c.ResponseTime), true
	}
	if c.Availability > 0 && h.Uptime < c.Availability {
		return fmt.Sprintf("uptime %.1f%% below %.1f%%", h.Uptime, c.Availability), true
	}
	return "", false
}

// satisfies reports whether every configured restore threshold is met.
func satisfies(c domain.DegradeCondition, h *domain.ServiceHealth) bool {
	if c.ErrorRate > 0 && h.ErrorRate >= c.ErrorRate {
		return false
	}
	if c.ResponseTime > 0 && h.ResponseTime >= c.ResponseTime {
		return false
	}
	if c.Availability > 0 && h.Uptime <= c.Availability {
		return false
	}
	return true
}

func (m *Manager) degradeLocked(
	service string,
	features []string,
	autoRestore bool,
	restore *domain.DegradeCondition,
	reason string,
	h *domain.ServiceHealth,
) []domain.Event {
	ds := &domain.DegradedService{
		Service:          service,
		DegradedFeatures: append([]string(nil), features...),
		DegradedAt:       time.Now(),
		Reason:           reason,
		AutoRestore:      autoRestore,
		RestoreCondition: restore,
	}
	m.degraded[service] = ds
	if h != nil {
		h.Status = domain.StatusDegraded
	}

	slog.Warn("Service degraded",
		"service", service,
		"features", ds.DegradedFeatures,
		"reason", reason,
	)
	metrics.DegradedServices.Set(float64(len(m.degraded)))

	return []domain.Event{{
		Type:    domain.EventServiceDegrade,
		Service: service,
		Payload: map[string]any{
			"features": ds.DegradedFeatures,
			"reason":   reason,
		},
	}}
}

func (m *Manager) restoreLocked(service string, h *domain.ServiceHealth) []domain.Event {
	delete(m.degraded, service)
	if h != nil {
		h.Status = domain.StatusHealthy
	}

	slog.Info("Service restored", "service", service)
	metrics.DegradedServices.Set(float64(len(m.degraded)))

	return []domain.Event{{
		Type:    domain.EventServiceRestore,
		Service: service,
	}}
}

// IsFeatureAvailable returns false only when the service is degraded and
// the feature is in its shed list. No rule means everything is available.
func (m *Manager) IsFeatureAvailable(service, feature string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ds, ok := m.degraded[service]
	if !ok {
		return true
	}
	for _, f := range ds.DegradedFeatures {
		if f == feature {
			return false
		}
	}
	return true
}

// ForceDegrade degrades the service bypassing condition evaluation. When
// features is nil the service's rule features are shed. No-op if already
// degraded.
func (m *Manager) ForceDegrade(service string, features []string, reason string) {
	m.mu.Lock()
	if _, ok := m.degraded[service]; ok {
		m.mu.Unlock()
		return
	}

	rule, hasRule := m.rules[service]
	if features == nil && hasRule {
		features = rule.Features
	}

	h, ok := m.health[service]
	if !ok {
		h = defaultHealth(service)
		m.health[service] = h
	}

	autoRestore := hasRule && rule.AutoRestore
	var restore *domain.DegradeCondition
	if hasRule {
		restore = rule.RestoreThreshold
	}
	pending := m.degradeLocked(service, features, autoRestore, restore, reason, h)
	m.mu.Unlock()

	for _, ev := range pending {
		m.bus.Publish(ev)
	}
}

// ForceRestore restores the service bypassing condition evaluation.
// No-op if not degraded.
func (m *Manager) ForceRestore(service string) {
	m.mu.Lock()
	if _, ok := m.degraded[service]; !ok {
		m.mu.Unlock()
		return
	}
	pending := m.restoreLocked(service, m.health[service])
	m.mu.Unlock()

	for _, ev := range pending {
		m.bus.Publish(ev)
	}
}

// Health returns the stored record for a service.
func (m *Manager) Health(service string) (domain.ServiceHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.health[service]
	if !ok {
		return domain.ServiceHealth{}, false
	}
	return *h, true
}

// AllHealth returns every stored health record, sorted by service name.
func (m *Manager) AllHealth() []domain.ServiceHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.ServiceHealth, 0, len(m.health))
	for _, h := range m.health {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

// DegradedServices returns the currently degraded services.
func (m *Manager) DegradedServices() []domain.DegradedService {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.DegradedService, 0, len(m.degraded))
	for _, ds := range m.degraded {
		out = append(out, *ds)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

// Start emits the periodic healthCheck tick until ctx is cancelled.
// External probes are expected to answer with UpdateServiceHealth.
func (m *Manager) Start(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.bus.Publish(domain.Event{
				Type:    domain.EventHealthCheck,
				Payload: map[string]any{"services": m.knownServices()},
			})
		}
	}
}

// knownServices is the union of configured and observed services.
func (m *Manager) knownServices() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool, len(m.rules)+len(m.health))
	for s := range m.rules {
		seen[s] = true
	}
	for s := range m.health {
		seen[s] = true
	}

	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func defaultHealth(service string) *domain.ServiceHealth {
	return &domain.ServiceHealth{
		Service:   service,
		Status:    domain.StatusHealthy,
		LastCheck: time.Now(),
		Uptime:    100,
	}
}
