package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/resilience/internal/core/domain"
	"github.com/vietddude/resilience/internal/infra/storage"
)

// ErrorRepo implements storage.ErrorRepository using PostgreSQL.
type ErrorRepo struct {
	db *DB
}

// NewErrorRepo creates a new PostgreSQL error repository.
func NewErrorRepo(db *DB) *ErrorRepo {
	return &ErrorRepo{db: db}
}

type errorRow struct {
	ID           string       `db:"id"`
	Category     string       `db:"category"`
	Severity     string       `db:"severity"`
	Message      string       `db:"message"`
	Service      string       `db:"service"`
	Operation    string       `db:"operation"`
	ChannelID    string       `db:"channel_id"`
	ClientID     string       `db:"client_id"`
	RequestID    string       `db:"request_id"`
	AttemptCount int          `db:"attempt_count"`
	CreatedAt    time.Time    `db:"created_at"`
	ResolvedAt   sql.NullTime `db:"resolved_at"`
}

func (r errorRow) toDomain() *domain.CategorizedError {
	ce := &domain.CategorizedError{
		ID:       r.ID,
		Category: domain.Category(r.Category),
		Severity: domain.Severity(r.Severity),
		Message:  r.Message,
		Context: domain.ErrorContext{
			Service:   r.Service,
			Operation: r.Operation,
			ChannelID: r.ChannelID,
			ClientID:  r.ClientID,
			RequestID: r.RequestID,
		},
		AttemptCount: r.AttemptCount,
		CreatedAt:    r.CreatedAt,
	}
	if r.ResolvedAt.Valid {
		t := r.ResolvedAt.Time
		ce.ResolvedAt = &t
	}
	return ce
}

// Save inserts or updates a classified error.
func (r *ErrorRepo) Save(ctx context.Context, ce *domain.CategorizedError) error {
	query := `
		INSERT INTO error_log (id, category, severity, message, service, operation,
			channel_id, client_id, request_id, attempt_count, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			attempt_count = EXCLUDED.attempt_count,
			resolved_at = EXCLUDED.resolved_at
	`

	var resolvedAt sql.NullTime
	if ce.ResolvedAt != nil {
		resolvedAt = sql.NullTime{Time: *ce.ResolvedAt, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		ce.ID,
		string(ce.Category),
		string(ce.Severity),
		ce.Message,
		ce.Context.Service,
		ce.Context.Operation,
		ce.Context.ChannelID,
		ce.Context.ClientID,
		ce.Context.RequestID,
		ce.AttemptCount,
		ce.CreatedAt,
		resolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save error: %w", err)
	}
	return nil
}

// MarkResolved stamps the resolution time on an error.
func (r *ErrorRepo) MarkResolved(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE error_log SET resolved_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark error resolved: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single error.
func (r *ErrorRepo) GetByID(ctx context.Context, id string) (*domain.CategorizedError, error) {
	var row errorRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, category, severity, message, service, operation,
			channel_id, client_id, request_id, attempt_count, created_at, resolved_at
		FROM error_log
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get error: %w", err)
	}
	return row.toDomain(), nil
}

// Recent retrieves up to limit errors, newest first.
func (r *ErrorRepo) Recent(ctx context.Context, limit int) ([]*domain.CategorizedError, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []errorRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, category, severity, message, service, operation,
			channel_id, client_id, request_id, attempt_count, created_at, resolved_at
		FROM error_log
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list errors: %w", err)
	}

	out := make([]*domain.CategorizedError, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// DeleteOlderThan removes errors created before the cutoff.
func (r *ErrorRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM error_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune errors: %w", err)
	}
	return res.RowsAffected()
}
