package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/vietddude/resilience/internal/core/domain"
	"github.com/vietddude/resilience/internal/infra/storage"
)

// EscalationRepo implements storage.EscalationRepository using PostgreSQL.
// The triggering errors are stored by id only; full error records live in
// error_log.
type EscalationRepo struct {
	db *DB
}

// NewEscalationRepo creates a new PostgreSQL escalation repository.
func NewEscalationRepo(db *DB) *EscalationRepo {
	return &EscalationRepo{db: db}
}

type escalationRow struct {
	ID           string         `db:"id"`
	Level        int            `db:"level"`
	ErrorIDs     pq.StringArray `db:"error_ids"`
	Actions      []byte         `db:"actions"`
	TriggeredAt  time.Time      `db:"triggered_at"`
	Acknowledged bool           `db:"acknowledged"`
	ResolvedAt   sql.NullTime   `db:"resolved_at"`
}

func (r escalationRow) toDomain() (*domain.EscalationEvent, error) {
	ev := &domain.EscalationEvent{
		ID:           r.ID,
		Level:        r.Level,
		TriggeredAt:  r.TriggeredAt,
		Acknowledged: r.Acknowledged,
	}
	if r.ResolvedAt.Valid {
		t := r.ResolvedAt.Time
		ev.ResolvedAt = &t
	}
	if len(r.Actions) > 0 {
		if err := json.Unmarshal(r.Actions, &ev.Actions); err != nil {
			return nil, fmt.Errorf("failed to decode actions: %w", err)
		}
	}
	for _, id := range r.ErrorIDs {
		ev.Errors = append(ev.Errors, &domain.CategorizedError{ID: id})
	}
	return ev, nil
}

// Save inserts or updates an escalation event.
func (r *EscalationRepo) Save(ctx context.Context, ev *domain.EscalationEvent) error {
	errorIDs := make([]string, 0, len(ev.Errors))
	for _, ce := range ev.Errors {
		errorIDs = append(errorIDs, ce.ID)
	}

	actions, err := json.Marshal(ev.Actions)
	if err != nil {
		return fmt.Errorf("failed to encode actions: %w", err)
	}

	var resolvedAt sql.NullTime
	if ev.ResolvedAt != nil {
		resolvedAt = sql.NullTime{Time: *ev.ResolvedAt, Valid: true}
	}

	query := `
		INSERT INTO escalation_log (id, level, error_ids, actions, triggered_at, acknowledged, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			acknowledged = EXCLUDED.acknowledged,
			resolved_at = EXCLUDED.resolved_at
	`
	_, err = r.db.ExecContext(ctx, query,
		ev.ID,
		ev.Level,
		pq.StringArray(errorIDs),
		actions,
		ev.TriggeredAt,
		ev.Acknowledged,
		resolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save escalation: %w", err)
	}
	return nil
}

// MarkAcknowledged flags the escalation as acknowledged.
func (r *EscalationRepo) MarkAcknowledged(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE escalation_log SET acknowledged = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to acknowledge escalation: %w", err)
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

// MarkResolved stamps the resolution time on an escalation.
func (r *EscalationRepo) MarkResolved(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE escalation_log SET resolved_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to resolve escalation: %w", err)
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

// Recent retrieves up to limit escalations, newest first.
func (r *EscalationRepo) Recent(ctx context.Context, limit int) ([]*domain.EscalationEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []escalationRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, level, error_ids, actions, triggered_at, acknowledged, resolved_at
		FROM escalation_log
		ORDER BY triggered_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list escalations: %w", err)
	}

	out := make([]*domain.EscalationEvent, 0, len(rows))
	for _, row := range rows {
		ev, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}
