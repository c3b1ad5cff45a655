// Package events implements the in-process notification fan-out between
// resilience components and their observers.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/resilience/internal/core/domain"
)

// Handler receives a published event. Handlers must not block; they run
// synchronously on the publisher's goroutine.
type Handler func(domain.Event)

// Bus is a typed publish/subscribe fan-out. Delivery is fire-and-forget:
// a panicking subscriber is isolated and logged, never propagated to the
// publisher.
type Bus struct {
	mu     sync.RWMutex
	subs   map[domain.EventType][]Handler
	all    []Handler
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[domain.EventType][]Handler)}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t domain.EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.subs[t] = append(b.subs[t], h)
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.all = append(b.all, h)
}

// Publish delivers the event to all matching subscribers. Missing
// timestamps are stamped here so sinks always see one. Payloads must be
// detached from publisher state: handlers may hold on to them past the
// call.
func (b *Bus) Publish(ev domain.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[ev.Type])+len(b.all))
	handlers = append(handlers, b.subs[ev.Type]...)
	handlers = append(handlers, b.all...)
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return
	}

	for _, h := range handlers {
		b.deliver(h, ev)
	}
}

func (b *Bus) deliver(h Handler, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event handler panicked", "type", ev.Type, "panic", r)
		}
	}()
	h(ev)
}

// Close detaches all subscribers. Publishes after Close are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[domain.EventType][]Handler)
	b.all = nil
}
