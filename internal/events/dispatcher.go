package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/domain"
)

const (
	defaultDispatchInterval = 2 * time.Second
	defaultBatchSize        = 50
	defaultMaxAttempts      = 10
	defaultRetryBackoff     = time.Second
	defaultMaxRetryBackoff  = 5 * time.Minute
	defaultBreakerFailures  = 5
	defaultBreakerTimeout   = 30 * time.Second
)

// DispatcherConfig controls polling, retry scheduling and the circuit breaker.
type DispatcherConfig struct {
	// Interval is the pause between dispatch cycles.
	Interval time.Duration
	// BatchSize is the max number of events claimed per cycle.
	BatchSize int
	// MaxAttempts is the number of failed deliveries after which an event becomes FAILED.
	MaxAttempts int
	// RetryBackoff is the delay before the first retry; it doubles on every further failure.
	RetryBackoff time.Duration
	// MaxRetryBackoff caps the retry delay.
	MaxRetryBackoff time.Duration
	// BreakerFailures is the number of consecutive publish failures that opens the breaker.
	BreakerFailures uint32
	// BreakerTimeout is how long the breaker stays open before probing the broker again.
	BreakerTimeout time.Duration
}

// DefaultDispatcherConfig returns the baseline dispatcher configuration.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Interval:        defaultDispatchInterval,
		BatchSize:       defaultBatchSize,
		MaxAttempts:     defaultMaxAttempts,
		RetryBackoff:    defaultRetryBackoff,
		MaxRetryBackoff: defaultMaxRetryBackoff,
		BreakerFailures: defaultBreakerFailures,
		BreakerTimeout:  defaultBreakerTimeout,
	}
}

func (cfg *DispatcherConfig) normalize() {
	defaults := DefaultDispatcherConfig()

	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaults.RetryBackoff
	}
	if cfg.MaxRetryBackoff <= 0 {
		cfg.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = defaults.BreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = defaults.BreakerTimeout
	}
}

// DispatchResult counts what one dispatch cycle did.
type DispatchResult struct {
	Claimed   int
	Published int
	Failed    int
}

// DispatcherOption mutates dispatcher configuration at construction.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the dispatcher logger.
func WithDispatcherLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDispatcherMeterProvider overrides the global meter provider.
func WithDispatcherMeterProvider(provider metric.MeterProvider) DispatcherOption {
	return func(d *Dispatcher) {
		d.meter = provider
	}
}

// WithClock overrides the time source used for claiming and retry scheduling.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// Dispatcher relays committed outbox events to the broker.
// Delivery is at-least-once: a crash between publish and MarkPublished republishes the event.
type Dispatcher struct {
	outbox    domain.OutboxRepository
	txManager domain.TransactionManager
	publisher Publisher
	breaker   *gobreaker.CircuitBreaker
	cfg       DispatcherConfig
	logger    *zap.Logger
	meter     metric.MeterProvider
	now       func() time.Time

	published metric.Int64Counter
	failed    metric.Int64Counter
}

// NewDispatcher creates an outbox dispatcher.
func NewDispatcher(
	outbox domain.OutboxRepository,
	txManager domain.TransactionManager,
	publisher Publisher,
	cfg DispatcherConfig,
	opts ...DispatcherOption,
) (*Dispatcher, error) {
	if outbox == nil || txManager == nil || publisher == nil {
		return nil, errors.New("outbox dispatcher requires an outbox, a transaction manager and a publisher")
	}

	cfg.normalize()
	d := &Dispatcher{
		outbox:    outbox,
		txManager: txManager,
		publisher: publisher,
		cfg:       cfg,
		logger:    zap.NewNop(),
		now:       func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.meter == nil {
		d.meter = otel.GetMeterProvider()
	}

	meter := d.meter.Meter("transfer-engine.outbox")

	var err error
	d.published, err = meter.Int64Counter(
		"outbox.events.published",
		metric.WithDescription("Number of outbox events successfully published"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create outbox.events.published counter: %w", err)
	}

	d.failed, err = meter.Int64Counter(
		"outbox.events.failed",
		metric.WithDescription("Number of outbox events that failed to publish"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create outbox.events.failed counter: %w", err)
	}

	d.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "outbox-publisher",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return d, nil
}

// Run dispatches every Interval until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	d.logger.Info("outbox dispatcher started",
		zap.Duration("interval", d.cfg.Interval),
		zap.Int("batch_size", d.cfg.BatchSize))

	for {
		if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("outbox dispatch cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchOnce claims one batch of due events and publishes them.
// Claimed rows stay locked until the cycle commits, so concurrent dispatchers never share an event.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (DispatchResult, error) {
	var result DispatchResult

	err := d.txManager.RunAtomic(ctx, func(ctx context.Context) error {
		result = DispatchResult{}
		now := d.now()

		events, err := d.outbox.ClaimPending(ctx, d.cfg.BatchSize, now)
		if err != nil {
			return fmt.Errorf("failed to claim outbox events: %w", err)
		}
		result.Claimed = len(events)

		for _, evt := range events {
			if ctx.Err() != nil {
				break
			}

			_, pubErr := d.breaker.Execute(func() (interface{}, error) {
				return nil, d.publisher.Publish(ctx, &evt.Event)
			})

			if pubErr == nil {
				if err := d.outbox.MarkPublished(ctx, evt.ID, now); err != nil {
					return err
				}
				result.Published++
				continue
			}

			if errors.Is(pubErr, gobreaker.ErrOpenState) || errors.Is(pubErr, gobreaker.ErrTooManyRequests) {
				// The rest of the batch stays PENDING without spending an attempt
				d.logger.Debug("circuit breaker open, deferring outbox events",
					zap.Int("deferred", len(events)-result.Published-result.Failed))
				break
			}

			if err := d.markFailed(ctx, evt, pubErr, now); err != nil {
				return err
			}
			result.Failed++
		}
		return nil
	})

	if result.Published > 0 {
		d.published.Add(ctx, int64(result.Published))
	}
	if result.Failed > 0 {
		d.failed.Add(ctx, int64(result.Failed))
	}

	return result, err
}

func (d *Dispatcher) markFailed(ctx context.Context, evt *domain.OutboxEvent, pubErr error, now time.Time) error {
	attempt := evt.Attempts + 1
	final := attempt >= d.cfg.MaxAttempts
	next := now.Add(d.retryDelay(attempt))

	fields := []zap.Field{
		zap.String("event_id", evt.ID.String()),
		zap.String("event_type", string(evt.Type)),
		zap.Int("attempt", attempt),
		zap.Error(pubErr),
	}
	if final {
		d.logger.Error("outbox event exhausted delivery attempts", fields...)
	} else {
		d.logger.Warn("outbox event publish failed, retry scheduled", append(fields, zap.Time("next_attempt_at", next))...)
	}

	return d.outbox.MarkFailed(ctx, evt.ID, pubErr.Error(), next, final)
}

// retryDelay returns the pause after the given failed attempt: RetryBackoff doubled per
// earlier failure, capped at MaxRetryBackoff. No jitter, so schedules are reproducible.
func (d *Dispatcher) retryDelay(attempt int) time.Duration {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.cfg.RetryBackoff
	policy.MaxInterval = d.cfg.MaxRetryBackoff
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0
	policy.Reset()

	delay := policy.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = policy.NextBackOff()
	}
	return delay
}
