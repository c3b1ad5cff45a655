// Package storage defines the persistence interfaces for the recovery
// audit log. Implementations live in memory/ and postgres/.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/resilience/internal/core/domain"
)

var (
	// ErrNotFound is returned when a record doesn't exist
	ErrNotFound = errors.New("record not found")
)

// ErrorRepository persists classified errors for audit and postmortems.
type ErrorRepository interface {
	// Save inserts or updates a classified error
	Save(ctx context.Context, ce *domain.CategorizedError) error

	// MarkResolved stamps the resolution time on an error
	MarkResolved(ctx context.Context, id string, at time.Time) error

	// GetByID retrieves a single error
	GetByID(ctx context.Context, id string) (*domain.CategorizedError, error)

	// Recent retrieves up to limit errors, newest first
	Recent(ctx context.Context, limit int) ([]*domain.CategorizedError, error)

	// DeleteOlderThan removes errors created before the cutoff
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// EscalationRepository persists escalation events.
type EscalationRepository interface {
	// Save inserts or updates an escalation event
	Save(ctx context.Context, ev *domain.EscalationEvent) error

	// MarkAcknowledged flags the escalation as acknowledged
	MarkAcknowledged(ctx context.Context, id string) error

	// MarkResolved stamps the resolution time on an escalation
	MarkResolved(ctx context.Context, id string, at time.Time) error

	// Recent retrieves up to limit escalations, newest first
	Recent(ctx context.Context, limit int) ([]*domain.EscalationEvent, error)
}
