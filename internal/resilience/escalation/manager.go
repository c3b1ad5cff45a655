// Package escalation counts categorized errors against threshold-in-window
// rules and dispatches multi-channel alerts when a rule trips.
package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vietddude/resilience/internal/core/domain"
	"github.com/vietddude/resilience/internal/events"
	"github.com/vietddude/resilience/internal/resilience/metrics"
)

// sweepInterval is how often silently expired counters are dropped.
const sweepInterval = 10 * time.Minute

// counter tracks matching errors for one category_severity key within a
// rule's time window.
type counter struct {
	count       int
	windowStart time.Time
	window      time.Duration
	errors      []*domain.CategorizedError
}

// Manager evaluates escalation rules over the categorized error stream.
type Manager struct {
	mu       sync.Mutex
	bus      *events.Bus
	rules    []domain.EscalationRule
	counters map[string]*counter
	events   map[string]*domain.EscalationEvent
}

// NewManager creates a Manager with the given rules (sorted by level).
func NewManager(rules []domain.EscalationRule, bus *events.Bus) *Manager {
	m := &Manager{
		bus:      bus,
		rules:    append([]domain.EscalationRule(nil), rules...),
		counters: make(map[string]*counter),
		events:   make(map[string]*domain.EscalationEvent),
	}
	m.sortRules()
	return m
}

// ProcessError counts the error against every matching rule and triggers
// escalations whose thresholds are reached within their window.
func (m *Manager) ProcessError(ce *domain.CategorizedError) {
	key := string(ce.Category) + "_" + string(ce.Severity)

	var triggered []*domain.EscalationEvent

	m.mu.Lock()
	for _, rule := range m.rules {
		if !rule.Matches(ce) {
			continue
		}

		c, ok := m.counters[key]
		if !ok || time.Since(c.windowStart) > rule.TimeWindow {
			c = &counter{windowStart: time.Now(), window: rule.TimeWindow}
			m.counters[key] = c
		}
		c.count++
		c.errors = append(c.errors, ce)

		if c.count >= rule.Threshold {
			ev := &domain.EscalationEvent{
				ID:          uuid.New().String(),
				Level:       rule.Level,
				Errors:      append([]*domain.CategorizedError(nil), c.errors...),
				TriggeredAt: time.Now(),
				Actions:     rule.Actions,
			}
			m.events[ev.ID] = ev
			triggered = append(triggered, ev)

			// Reset so an immediate repeat failure counts from zero.
			delete(m.counters, key)
		}
	}
	m.mu.Unlock()

	for _, ev := range triggered {
		m.dispatch(ev)
	}
}

// dispatch executes every configured action by emitting a typed event per
// alert channel. Transport is the consumer's job.
func (m *Manager) dispatch(ev *domain.EscalationEvent) {
	last := ev.Errors[len(ev.Errors)-1]

	slog.Warn("Escalation triggered",
		"id", ev.ID,
		"level", ev.Level,
		"category", last.Category,
		"severity", last.Severity,
		"errors", len(ev.Errors),
	)
	metrics.EscalationsTotal.WithLabelValues(strconv.Itoa(ev.Level)).Inc()

	// Publish a detached copy; the stored record keeps mutating through
	// Acknowledge and Resolve while subscribers read theirs.
	evCopy := *ev
	m.bus.Publish(domain.Event{
		Type:    domain.EventEscalationTriggered,
		Service: last.Context.Service,
		Payload: map[string]any{"escalation": &evCopy},
	})

	for _, action := range ev.Actions {
		if action.Channel == domain.ChannelLog {
			slog.Warn("Escalation alert",
				"escalation_id", ev.ID,
				"priority", action.Priority,
				"error_id", last.ID,
				"category", last.Category,
			)
			continue
		}

		evType, ok := channelEvents[action.Channel]
		if !ok {
			slog.Warn("Unknown alert channel", "channel", action.Channel)
			continue
		}

		m.bus.Publish(domain.Event{
			Type:    evType,
			Service: last.Context.Service,
			Payload: map[string]any{
				"escalation_id": ev.ID,
				"level":         ev.Level,
				"target":        action.Target,
				"priority":      action.Priority,
				"template":      action.Template,
				"error_id":      last.ID,
				"category":      last.Category,
				"severity":      last.Severity,
			},
		})
	}
}

var channelEvents = map[domain.AlertChannel]domain.EventType{
	domain.ChannelEmail:     domain.EventSendEmail,
	domain.ChannelSMS:       domain.EventSendSMS,
	domain.ChannelWebhook:   domain.EventSendWebhook,
	domain.ChannelSlack:     domain.EventSendSlack,
	domain.ChannelPagerDuty: domain.EventSendPagerDuty,
}

// Acknowledge marks an escalation as seen by an operator.
func (m *Manager) Acknowledge(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.events[id]
	if !ok {
		return fmt.Errorf("unknown escalation %s", id)
	}
	ev.Acknowledged = true
	return nil
}

// Resolve stamps an escalation resolved.
func (m *Manager) Resolve(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.events[id]
	if !ok {
		return fmt.Errorf("unknown escalation %s", id)
	}
	if ev.ResolvedAt == nil {
		now := time.Now()
		ev.ResolvedAt = &now
	}
	return nil
}

// ActiveEscalations returns copies of the unresolved escalations, newest
// first.
func (m *Manager) ActiveEscalations() []*domain.EscalationEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.EscalationEvent
	for _, ev := range m.events {
		if ev.ResolvedAt == nil {
			cp := *ev
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TriggeredAt.After(out[j].TriggeredAt)
	})
	return out
}

// AddRule installs a rule at runtime.
func (m *Manager) AddRule(rule domain.EscalationRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, rule)
	m.sortRules()
}

// RemoveRule removes all rules at the given level.
func (m *Manager) RemoveRule(level int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.rules[:0]
	for _, r := range m.rules {
		if r.Level != level {
			kept = append(kept, r)
		}
	}
	m.rules = kept
}

// Rules returns the current rule set ordered by level.
func (m *Manager) Rules() []domain.EscalationRule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.EscalationRule(nil), m.rules...)
}

// Start runs the background sweep until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep drops counters whose window expired without tripping.
func (m *Manager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, c := range m.counters {
		if time.Since(c.windowStart) > c.window {
			delete(m.counters, key)
		}
	}
}

// sortRules keeps rules ordered by level. Caller holds the lock (or is
// the constructor).
func (m *Manager) sortRules() {
	sort.Slice(m.rules, func(i, j int) bool {
		return m.rules[i].Level < m.rules[j].Level
	})
}
