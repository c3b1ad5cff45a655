// Package breaker implements a per-service three-state circuit breaker
// guarding calls to unreliable dependencies.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/resilience/internal/core/domain"
	"github.com/vietddude/resilience/internal/events"
	"github.com/vietddude/resilience/internal/resilience/metrics"
)

// ErrCircuitOpen is returned when the breaker is open and no fallback was
// supplied. Distinguishable from the wrapped operation's own failure.
var ErrCircuitOpen = errors.New("circuit breaker open")

// State is the breaker position for one service.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Operation is the guarded call. Fallback is invoked instead when the
// circuit is open.
type (
	Operation func(ctx context.Context) (any, error)
	Fallback  func(ctx context.Context) (any, error)
)

// Config holds breaker tuning.
type Config struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
	SuccessThreshold int           `yaml:"success_threshold"`
	MonitoringPeriod time.Duration `yaml:"monitoring_period"`
}

// DefaultConfig returns the shipped defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     60 * time.Second,
		SuccessThreshold: 3,
		MonitoringPeriod: 10 * time.Second,
	}
}

// Snapshot is the externally visible state of one service's breaker.
type Snapshot struct {
	Service         string    `json:"service"`
	State           State     `json:"state"`
	FailureCount    int       `json:"failure_count"`
	SuccessCount    int       `json:"success_count"`
	LastFailureTime time.Time `json:"last_failure_time,omitempty"`
	NextAttemptTime time.Time `json:"next_attempt_time,omitempty"`
}

// Summary aggregates breaker states across services.
type Summary struct {
	Healthy   int `json:"healthy"`
	Degraded  int `json:"degraded"`
	Unhealthy int `json:"unhealthy"`
}

type breakerState struct {
	state           State
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	nextAttemptTime time.Time
}

// stateChange is a transition recorded under the lock and published after
// it is released, so subscribers never run under the manager's mutex.
type stateChange struct {
	service  string
	from, to State
	failures int
}

// Manager holds one breaker per service, created lazily on first use.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	bus      *events.Bus
	breakers map[string]*breakerState
}

// NewManager creates a breaker manager.
func NewManager(cfg Config, bus *events.Bus) *Manager {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 3
	}
	return &Manager{
		cfg:      cfg,
		bus:      bus,
		breakers: make(map[string]*breakerState),
	}
}

// Execute runs op under the service's breaker. When the circuit is open
// the fallback result is substituted if one was supplied; otherwise
// ErrCircuitOpen is returned without invoking op.
func (m *Manager) Execute(ctx context.Context, service string, op Operation, fallback Fallback) (any, error) {
	m.mu.Lock()
	b := m.breaker(service)

	var changes []stateChange
	if b.state == StateOpen {
		if time.Now().Before(b.nextAttemptTime) {
			m.mu.Unlock()
			if fallback != nil {
				return fallback(ctx)
			}
			return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, service)
		}
		changes = m.transition(service, b, StateHalfOpen, changes)
		b.successCount = 0
	}
	m.mu.Unlock()
	m.emit(changes)

	result, err := op(ctx)
	if err != nil {
		open := m.onFailure(service)
		if open && fallback != nil {
			return fallback(ctx)
		}
		return nil, err
	}

	m.onSuccess(service)
	return result, nil
}

// onSuccess applies the success bookkeeping: close from half-open once
// enough probes pass, decay the failure count while closed.
func (m *Manager) onSuccess(service string) {
	m.mu.Lock()
	b := m.breaker(service)

	var changes []stateChange
	switch b.state {
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= m.cfg.SuccessThreshold {
			changes = m.transition(service, b, StateClosed, changes)
			b.failureCount = 0
			b.successCount = 0
		}
	case StateClosed:
		if b.failureCount > 0 {
			b.failureCount--
		}
	}
	m.mu.Unlock()
	m.emit(changes)
}

// onFailure records a failure and reports whether the circuit is open
// afterwards.
func (m *Manager) onFailure(service string) bool {
	m.mu.Lock()
	b := m.breaker(service)
	b.failureCount++
	b.lastFailureTime = time.Now()

	var changes []stateChange
	if b.state == StateHalfOpen || b.failureCount >= m.cfg.FailureThreshold {
		changes = m.transition(service, b, StateOpen, changes)
		b.nextAttemptTime = time.Now().Add(m.cfg.ResetTimeout)
	}
	open := b.state == StateOpen
	m.mu.Unlock()
	m.emit(changes)
	return open
}

// ForceOpen trips the breaker immediately.
func (m *Manager) ForceOpen(service string) {
	m.mu.Lock()
	b := m.breaker(service)
	changes := m.transition(service, b, StateOpen, nil)
	b.nextAttemptTime = time.Now().Add(m.cfg.ResetTimeout)
	m.mu.Unlock()
	m.emit(changes)
}

// ForceClose closes the breaker and clears counters.
func (m *Manager) ForceClose(service string) {
	m.mu.Lock()
	b := m.breaker(service)
	changes := m.transition(service, b, StateClosed, nil)
	b.failureCount = 0
	b.successCount = 0
	m.mu.Unlock()
	m.emit(changes)
}

// Reset drops the service's breaker entirely.
func (m *Manager) Reset(service string) {
	m.mu.Lock()
	delete(m.breakers, service)
	m.mu.Unlock()
	metrics.BreakerState.WithLabelValues(service).Set(0)
}

// State returns a snapshot for one service. A service never seen reports
// a closed breaker.
func (m *Manager) State(service string) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.breakers[service]
	if !ok {
		return Snapshot{Service: service, State: StateClosed}
	}
	return snapshot(service, b)
}

// AllStates returns snapshots for every known service.
func (m *Manager) AllStates() map[string]Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Snapshot, len(m.breakers))
	for service, b := range m.breakers {
		out[service] = snapshot(service, b)
	}
	return out
}

// Summarize aggregates the state distribution: closed is healthy,
// half-open degraded, open unhealthy.
func (m *Manager) Summarize() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s Summary
	for _, b := range m.breakers {
		switch b.state {
		case StateClosed:
			s.Healthy++
		case StateHalfOpen:
			s.Degraded++
		case StateOpen:
			s.Unhealthy++
		}
	}
	return s
}

// breaker returns the service's state, creating it closed. Caller holds
// the lock.
func (m *Manager) breaker(service string) *breakerState {
	b, ok := m.breakers[service]
	if !ok {
		b = &breakerState{state: StateClosed}
		m.breakers[service] = b
	}
	return b
}

// transition changes state under the lock and records the change for
// later emission.
func (m *Manager) transition(service string, b *breakerState, to State, changes []stateChange) []stateChange {
	if b.state == to {
		return changes
	}
	from := b.state
	b.state = to
	return append(changes, stateChange{
		service:  service,
		from:     from,
		to:       to,
		failures: b.failureCount,
	})
}

// emit publishes recorded transitions outside the lock.
func (m *Manager) emit(changes []stateChange) {
	for _, ch := range changes {
		slog.Info("Circuit breaker state change",
			"service", ch.service,
			"from", ch.from,
			"to", ch.to,
			"failures", ch.failures,
		)
		metrics.BreakerState.WithLabelValues(ch.service).Set(stateValue(ch.to))

		m.bus.Publish(domain.Event{
			Type:    domain.EventBreakerStateChange,
			Service: ch.service,
			Payload: map[string]any{"from": string(ch.from), "to": string(ch.to)},
		})
	}
}

func snapshot(service string, b *breakerState) Snapshot {
	return Snapshot{
		Service:         service,
		State:           b.state,
		FailureCount:    b.failureCount,
		SuccessCount:    b.successCount,
		LastFailureTime: b.lastFailureTime,
		NextAttemptTime: b.nextAttemptTime,
	}
}

func stateValue(s State) float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}
