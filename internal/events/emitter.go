package events

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/domain"
)

const (
	defaultEmitAttempts   = 3
	defaultEmitBackoff    = 200 * time.Millisecond
	defaultPublishTimeout = 5 * time.Second
)

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithEmitterLogger sets the emitter logger.
func WithEmitterLogger(logger *zap.Logger) EmitterOption {
	return func(e *Emitter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithEmitRetries sets the number of publish attempts and the base delay between them.
func WithEmitRetries(attempts int, backoff time.Duration) EmitterOption {
	return func(e *Emitter) {
		if attempts > 0 {
			e.attempts = attempts
		}
		if backoff > 0 {
			e.backoff = backoff
		}
	}
}

// WithPublishTimeout bounds every single publish attempt.
func WithPublishTimeout(timeout time.Duration) EmitterOption {
	return func(e *Emitter) {
		if timeout > 0 {
			e.timeout = timeout
		}
	}
}

// Emitter publishes events that carry no ledger change, such as rejections,
// straight to the broker. Emit returns immediately; delivery is best effort.
type Emitter struct {
	publisher Publisher
	attempts  int
	backoff   time.Duration
	timeout   time.Duration
	logger    *zap.Logger

	wg sync.WaitGroup
}

var _ domain.EventEmitter = (*Emitter)(nil)

// NewEmitter creates a direct emitter over publisher.
func NewEmitter(publisher Publisher, opts ...EmitterOption) *Emitter {
	e := &Emitter{
		publisher: publisher,
		attempts:  defaultEmitAttempts,
		backoff:   defaultEmitBackoff,
		timeout:   defaultPublishTimeout,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit publishes the event in the background with bounded retries.
// The caller's cancellation does not abort delivery.
func (e *Emitter) Emit(ctx context.Context, event *domain.Event) {
	if event == nil {
		return
	}

	ctx = context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.deliver(ctx, event)
	}()
}

func (e *Emitter) deliver(ctx context.Context, event *domain.Event) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.backoff
	policy.MaxElapsedTime = 0

	attempt := 0
	publish := func() error {
		attempt++
		publishCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		err := e.publisher.Publish(publishCtx, event)
		if err != nil {
			e.logger.Debug("event publish attempt failed",
				zap.String("event_id", event.ID.String()),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return err
	}

	retries := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(e.attempts-1)), ctx)
	if err := backoff.Retry(publish, retries); err != nil {
		e.logger.Warn("event dropped after exhausting publish attempts",
			zap.String("event_id", event.ID.String()),
			zap.String("event_type", string(event.Type)),
			zap.String("aggregate_id", event.AggregateID.String()),
			zap.Int("attempts", attempt),
			zap.Error(err))
	}
}

// Wait blocks until every in-flight emission has finished.
func (e *Emitter) Wait() {
	e.wg.Wait()
}
