// Package memory provides in-memory implementations of the storage
// repositories, used when no database is configured and in tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/resilience/internal/core/domain"
	"github.com/vietddude/resilience/internal/infra/storage"
)

type MemoryStorage struct {
	errors      map[string]*domain.CategorizedError
	escalations map[string]*domain.EscalationEvent
	mu          sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		errors:      make(map[string]*domain.CategorizedError),
		escalations: make(map[string]*domain.EscalationEvent),
	}
}

// -----------------------------------------------------------------------------
// Error Repository
// -----------------------------------------------------------------------------

type ErrorRepo struct {
	store *MemoryStorage
}

func NewErrorRepo(store *MemoryStorage) *ErrorRepo {
	return &ErrorRepo{store: store}
}

func (r *ErrorRepo) Save(ctx context.Context, ce *domain.CategorizedError) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *ce
	r.store.errors[ce.ID] = &cp
	return nil
}

func (r *ErrorRepo) MarkResolved(ctx context.Context, id string, at time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	ce, ok := r.store.errors[id]
	if !ok {
		return storage.ErrNotFound
	}
	ce.ResolvedAt = &at
	return nil
}

func (r *ErrorRepo) GetByID(ctx context.Context, id string) (*domain.CategorizedError, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	ce, ok := r.store.errors[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *ce
	return &cp, nil
}

func (r *ErrorRepo) Recent(ctx context.Context, limit int) ([]*domain.CategorizedError, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.CategorizedError, 0, len(r.store.errors))
	for _, ce := range r.store.errors {
		cp := *ce
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ErrorRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for id, ce := range r.store.errors {
		if ce.CreatedAt.Before(cutoff) {
			delete(r.store.errors, id)
			n++
		}
	}
	return n, nil
}

// -----------------------------------------------------------------------------
// Escalation Repository
// -----------------------------------------------------------------------------

type EscalationRepo struct {
	store *MemoryStorage
}

func NewEscalationRepo(store *MemoryStorage) *EscalationRepo {
	return &EscalationRepo{store: store}
}

func (r *EscalationRepo) Save(ctx context.Context, ev *domain.EscalationEvent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *ev
	r.store.escalations[ev.ID] = &cp
	return nil
}

func (r *EscalationRepo) MarkAcknowledged(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	ev, ok := r.store.escalations[id]
	if !ok {
		return storage.ErrNotFound
	}
	ev.Acknowledged = true
	return nil
}

func (r *EscalationRepo) MarkResolved(ctx context.Context, id string, at time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	ev, ok := r.store.escalations[id]
	if !ok {
		return storage.ErrNotFound
	}
	ev.ResolvedAt = &at
	return nil
}

func (r *EscalationRepo) Recent(ctx context.Context, limit int) ([]*domain.EscalationEvent, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*domain.EscalationEvent, 0, len(r.store.escalations))
	for _, ev := range r.store.escalations {
		cp := *ev
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggeredAt.After(out[j].TriggeredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
