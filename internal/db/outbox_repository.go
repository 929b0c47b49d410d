package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/domain"
)

// OutboxRepository implements domain.OutboxRepository using the outbox_events table.
type OutboxRepository struct {
	pool *pgxpool.Pool
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{
		pool: pool,
	}
}

// Enqueue stores the event as PENDING. Called inside the unit that produced it,
// so the event exists if and only if the ledger change committed.
func (r *OutboxRepository) Enqueue(ctx context.Context, event *domain.Event) error {
	tx, err := requireTx(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO outbox_events (id, event_type, aggregate_id, payload, event_timestamp, status, next_attempt_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, 'PENDING', $5)
	`

	_, err = tx.Exec(ctx, query,
		event.ID,
		string(event.Type),
		event.AggregateID,
		string(event.Payload),
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue event: %w", classify(err))
	}

	return nil
}

// ClaimPending locks up to limit due PENDING events.
// Rows locked by a concurrent dispatcher are skipped rather than waited for.
func (r *OutboxRepository) ClaimPending(ctx context.Context, limit int, now time.Time) ([]*domain.OutboxEvent, error) {
	tx, err := requireTx(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, event_type, aggregate_id, payload::text, event_timestamp,
		       status, attempts, last_error, next_attempt_at, published_at
		FROM outbox_events
		WHERE status = 'PENDING' AND next_attempt_at <= $1
		ORDER BY next_attempt_at, created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`

	rows, err := tx.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox events: %w", classify(err))
	}
	defer rows.Close()

	var events []*domain.OutboxEvent
	for rows.Next() {
		var (
			evt               domain.OutboxEvent
			eventType, status string
			payload           string
		)
		if err := rows.Scan(
			&evt.ID,
			&eventType,
			&evt.AggregateID,
			&payload,
			&evt.Timestamp,
			&status,
			&evt.Attempts,
			&evt.LastError,
			&evt.NextAttemptAt,
			&evt.PublishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", classify(err))
		}
		evt.Type = domain.EventType(eventType)
		evt.Status = domain.OutboxStatus(status)
		evt.Payload = []byte(payload)
		events = append(events, &evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to claim outbox events: %w", classify(err))
	}

	return events, nil
}

// MarkPublished records a successful delivery.
func (r *OutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE outbox_events
		SET status = 'PUBLISHED', attempts = attempts + 1, last_error = '', published_at = $2
		WHERE id = $1
	`
	return r.exec(ctx, "mark published", query, id, at)
}

// MarkFailed records a failed delivery and schedules the next attempt.
// A final failure moves the event to FAILED so it is never claimed again.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, lastErr string, nextAttempt time.Time, final bool) error {
	query := `
		UPDATE outbox_events
		SET attempts = attempts + 1,
		    last_error = $2,
		    next_attempt_at = $3,
		    status = CASE WHEN $4 THEN 'FAILED' ELSE status END
		WHERE id = $1
	`
	return r.exec(ctx, "mark failed", query, id, lastErr, nextAttempt, final)
}

func (r *OutboxRepository) exec(ctx context.Context, op, query string, args ...any) error {
	result, err := conn(ctx, r.pool).Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, classify(err))
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("failed to %s: outbox event %s not found", op, args[0])
	}
	return nil
}
