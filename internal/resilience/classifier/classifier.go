// Package classifier maps raw failures to categorized errors with an
// attached recovery action template.
package classifier

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vietddude/resilience/internal/core/domain"
	"github.com/vietddude/resilience/internal/events"
	"github.com/vietddude/resilience/internal/resilience/metrics"
)

// Classifier categorizes reported failures and tracks attempt counts per
// logical error. A logical error is identified by (service, operation,
// category): repeated reports of the same failure reuse the open record
// instead of creating a new one.
type Classifier struct {
	mu     sync.RWMutex
	bus    *events.Bus
	errors map[string]*domain.CategorizedError // by id
	active map[string]string                   // logical key -> open error id
}

// New creates a Classifier publishing to the given bus.
func New(bus *events.Bus) *Classifier {
	return &Classifier{
		bus:    bus,
		errors: make(map[string]*domain.CategorizedError),
		active: make(map[string]string),
	}
}

// Classify creates and registers a CategorizedError for the failure.
// The action template is copied onto the error; AttemptCount starts at 0.
func (c *Classifier) Classify(err error, ectx domain.ErrorContext) *domain.CategorizedError {
	category := categorize(ectx.Service, err.Error())

	ce := &domain.CategorizedError{
		ID:        uuid.New().String(),
		Category:  category,
		Severity:  severityFor(category),
		Message:   err.Error(),
		Context:   ectx,
		Action:    templateFor(category),
		CreatedAt: time.Now(),
	}

	c.mu.Lock()
	c.errors[ce.ID] = ce
	c.mu.Unlock()

	return ce
}

// HandleError classifies the failure, records the attempt, and returns
// the recovery action to execute along with a snapshot of the error
// record. Once the attempt count exceeds the template's MaxAttempts the
// returned action is forced to escalate.
func (c *Classifier) HandleError(err error, ectx domain.ErrorContext) (domain.RecoveryAction, *domain.CategorizedError) {
	snap := c.track(err, ectx)
	ce := &snap

	slog.Warn("Error classified",
		"id", ce.ID,
		"category", ce.Category,
		"severity", ce.Severity,
		"service", ectx.Service,
		"operation", ectx.Operation,
		"attempt", ce.AttemptCount,
	)
	metrics.ErrorsTotal.WithLabelValues(string(ce.Category), string(ce.Severity)).Inc()

	c.bus.Publish(domain.Event{
		Type:    domain.EventErrorClassified,
		Service: ectx.Service,
		Payload: map[string]any{"error": ce},
	})

	action := ce.Action
	if ce.AttemptCount > action.MaxAttempts {
		action.Type = domain.ActionEscalate
		slog.Error("Recovery attempts exhausted, escalating",
			"id", ce.ID,
			"category", ce.Category,
			"attempts", ce.AttemptCount,
			"max_attempts", ce.Action.MaxAttempts,
		)
	}

	metrics.RecoveryActionsTotal.WithLabelValues(string(action.Type)).Inc()
	c.emitAction(action, ce)

	return action, ce
}

// track finds the open record for the logical error or creates one, then
// bumps its attempt count. It returns a copy taken under the lock so
// callers and bus subscribers never observe later mutations of the
// stored record.
func (c *Classifier) track(err error, ectx domain.ErrorContext) domain.CategorizedError {
	category := categorize(ectx.Service, err.Error())
	key := logicalKey(ectx.Service, ectx.Operation, category)

	c.mu.Lock()
	if id, ok := c.active[key]; ok {
		if ce, ok := c.errors[id]; ok && !ce.Resolved() {
			ce.AttemptCount++
			snap := *ce
			c.mu.Unlock()
			return snap
		}
	}
	c.mu.Unlock()

	ce := c.Classify(err, ectx)
	c.mu.Lock()
	ce.AttemptCount = 1
	c.active[key] = ce.ID
	snap := *ce
	c.mu.Unlock()
	return snap
}

func (c *Classifier) emitAction(action domain.RecoveryAction, ce *domain.CategorizedError) {
	var evType domain.EventType
	switch action.Type {
	case domain.ActionRestart:
		evType = domain.EventRestart
	case domain.ActionFallback:
		evType = domain.EventFallback
	case domain.ActionCircuitBreak:
		evType = domain.EventCircuitBreak
	case domain.ActionGracefulDegrade:
		evType = domain.EventGracefulDegrade
	case domain.ActionEscalate:
		evType = domain.EventEscalate
	default:
		return // ignore emits nothing
	}

	c.bus.Publish(domain.Event{
		Type:    evType,
		Service: ce.Context.Service,
		Payload: map[string]any{
			"error_id": ce.ID,
			"category": ce.Category,
			"severity": ce.Severity,
			"action":   action,
		},
	})
}

// ResolveError stamps the error resolved and frees its logical key.
func (c *Classifier) ResolveError(id string) error {
	c.mu.Lock()
	ce, ok := c.errors[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("unknown error id %s", id)
	}
	if ce.Resolved() {
		c.mu.Unlock()
		return nil
	}
	now := time.Now()
	ce.ResolvedAt = &now
	key := logicalKey(ce.Context.Service, ce.Context.Operation, ce.Category)
	if c.active[key] == id {
		delete(c.active, key)
	}
	c.mu.Unlock()

	c.bus.Publish(domain.Event{
		Type:    domain.EventResolved,
		Service: ce.Context.Service,
		Payload: map[string]any{"error_id": id},
	})
	return nil
}

// ActiveErrors returns copies of the unresolved errors, newest first.
func (c *Classifier) ActiveErrors() []*domain.CategorizedError {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*domain.CategorizedError
	for _, ce := range c.errors {
		if !ce.Resolved() {
			cp := *ce
			out = append(out, &cp)
		}
	}
	sortNewestFirst(out)
	return out
}

// ErrorHistory returns copies of up to limit errors (resolved included),
// newest first. limit <= 0 returns everything.
func (c *Classifier) ErrorHistory(limit int) []*domain.CategorizedError {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*domain.CategorizedError, 0, len(c.errors))
	for _, ce := range c.errors {
		cp := *ce
		out = append(out, &cp)
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// GetError returns a copy of the error with the given id, or nil.
func (c *Classifier) GetError(id string) *domain.CategorizedError {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ce, ok := c.errors[id]
	if !ok {
		return nil
	}
	cp := *ce
	return &cp
}

func logicalKey(service, operation string, category domain.Category) string {
	return strings.ToLower(service) + "|" + strings.ToLower(operation) + "|" + string(category)
}

func sortNewestFirst(errs []*domain.CategorizedError) {
	sort.Slice(errs, func(i, j int) bool {
		return errs[i].CreatedAt.After(errs[j].CreatedAt)
	})
}
