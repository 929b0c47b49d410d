package memstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/domain"
)

// OutboxRepository implements domain.OutboxRepository on top of a Store.
type OutboxRepository struct {
	store *Store
}

// OutboxEvents returns a snapshot of committed outbox rows in insertion order.
func (s *Store) OutboxEvents() []domain.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.OutboxEvent, 0, len(s.outboxOrder))
	for _, id := range s.outboxOrder {
		out = append(out, *s.outbox[id])
	}
	return out
}

// Enqueue buffers the event; it becomes visible to dispatchers when the unit commits.
func (r *OutboxRepository) Enqueue(ctx context.Context, event *domain.Event) error {
	u, err := requireUnit(ctx)
	if err != nil {
		return err
	}
	if err := r.store.fault(OpEnqueue); err != nil {
		return err
	}

	u.events = append(u.events, &domain.OutboxEvent{
		Event:         *event,
		Status:        domain.OutboxStatusPending,
		NextAttemptAt: event.Timestamp,
	})
	return nil
}

// ClaimPending locks due PENDING events, skipping rows already locked by another unit.
func (r *OutboxRepository) ClaimPending(ctx context.Context, limit int, now time.Time) ([]*domain.OutboxEvent, error) {
	u, err := requireUnit(ctx)
	if err != nil {
		return nil, err
	}

	r.store.mu.Lock()
	candidates := make([]uuid.UUID, 0, len(r.store.outboxOrder))
	for _, id := range r.store.outboxOrder {
		evt := r.store.outbox[id]
		if evt.Status == domain.OutboxStatusPending && !evt.NextAttemptAt.After(now) {
			candidates = append(candidates, id)
		}
	}
	r.store.mu.Unlock()

	claimed := make([]*domain.OutboxEvent, 0, limit)
	for _, id := range candidates {
		if len(claimed) == limit {
			break
		}
		if !u.tryLock(id) {
			continue
		}

		r.store.mu.Lock()
		evt := *r.store.outbox[id]
		r.store.mu.Unlock()

		// Another dispatcher may have finished with the row between the scan and the lock
		if evt.Status != domain.OutboxStatusPending {
			continue
		}
		claimed = append(claimed, &evt)
	}

	return claimed, nil
}

// MarkPublished records a successful delivery.
func (r *OutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.update(ctx, id, func(evt *domain.OutboxEvent) {
		evt.Status = domain.OutboxStatusPublished
		evt.Attempts++
		evt.LastError = ""
		evt.PublishedAt = &at
	})
}

// MarkFailed records a failed delivery.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, lastErr string, nextAttempt time.Time, final bool) error {
	return r.update(ctx, id, func(evt *domain.OutboxEvent) {
		evt.Attempts++
		evt.LastError = lastErr
		evt.NextAttemptAt = nextAttempt
		if final {
			evt.Status = domain.OutboxStatusFailed
		}
	})
}

func (r *OutboxRepository) update(ctx context.Context, id uuid.UUID, apply func(*domain.OutboxEvent)) error {
	u, err := requireUnit(ctx)
	if err != nil {
		return err
	}

	r.store.mu.Lock()
	_, ok := r.store.outbox[id]
	r.store.mu.Unlock()
	if !ok {
		return fmt.Errorf("outbox event %s not found", id)
	}

	if err := u.lock(ctx, id); err != nil {
		return err
	}

	u.updates = append(u.updates, func() {
		if evt, ok := r.store.outbox[id]; ok {
			apply(evt)
		}
	})
	return nil
}
