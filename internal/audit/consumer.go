package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/domain"
)

// ErrMalformedEvent marks a message that can never be processed. It is rejected without requeue.
var ErrMalformedEvent = errors.New("malformed event")

// ConsumerConfig holds RabbitMQ consumer configuration.
type ConsumerConfig struct {
	URL           string
	Exchange      string
	Queue         string
	RoutingPrefix string
}

// BindingKey returns the topic pattern matching every engine event.
func (c ConsumerConfig) BindingKey() string {
	if c.RoutingPrefix == "" {
		return "#"
	}
	return c.RoutingPrefix + ".#"
}

// Handler turns deliveries into audit records.
type Handler struct {
	store  Store
	logger *zap.Logger
}

// NewHandler creates a handler writing to store.
func NewHandler(store Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, logger: logger}
}

// Handle decodes and stores one message body.
// Decoding problems wrap ErrMalformedEvent; store failures are returned as is.
func (h *Handler) Handle(ctx context.Context, body []byte) error {
	var event domain.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if err := validateEvent(&event); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}

	var alert *domain.SecurityAlert
	if event.Type == domain.EventSecurityAlert {
		alert = &domain.SecurityAlert{}
		if err := json.Unmarshal(event.Payload, alert); err != nil {
			return fmt.Errorf("%w: alert payload: %w", ErrMalformedEvent, err)
		}
		if alert.AccountID == uuid.Nil || alert.AlertType == "" {
			return fmt.Errorf("%w: alert without account or type", ErrMalformedEvent)
		}
	}

	if err := h.store.InsertEvent(ctx, &event); err != nil {
		return err
	}
	if alert != nil {
		if err := h.store.InsertAlert(ctx, event.ID, alert); err != nil {
			return err
		}
		h.logger.Warn("security alert audited",
			zap.String("event_id", event.ID.String()),
			zap.String("alert_type", string(alert.AlertType)),
			zap.String("severity", string(alert.Severity)),
			zap.String("account_id", alert.AccountID.String()))
	}

	return nil
}

// Process handles a delivery and settles it.
// Malformed messages are rejected without requeue, store failures are requeued.
func (h *Handler) Process(ctx context.Context, msg amqp.Delivery) {
	err := h.Handle(ctx, msg.Body)
	switch {
	case err == nil:
		if ackErr := msg.Ack(false); ackErr != nil {
			h.logger.Error("failed to ack message", zap.Error(ackErr))
		}
	case errors.Is(err, ErrMalformedEvent):
		h.logger.Error("rejecting malformed message",
			zap.String("message_id", msg.MessageId),
			zap.String("routing_key", msg.RoutingKey),
			zap.Error(err))
		if rejErr := msg.Reject(false); rejErr != nil {
			h.logger.Error("failed to reject message", zap.Error(rejErr))
		}
	default:
		h.logger.Warn("failed to store event, requeueing",
			zap.String("message_id", msg.MessageId),
			zap.Error(err))
		if nackErr := msg.Nack(false, true); nackErr != nil {
			h.logger.Error("failed to nack message", zap.Error(nackErr))
		}
	}
}

func validateEvent(event *domain.Event) error {
	if event.ID == uuid.Nil {
		return errors.New("event ID is required")
	}
	switch event.Type {
	case domain.EventTransferCompleted, domain.EventTransferRejected,
		domain.EventTransferReversed, domain.EventSecurityAlert:
	default:
		return fmt.Errorf("unknown event type %q", event.Type)
	}
	if event.Timestamp.IsZero() {
		return errors.New("event timestamp is required")
	}
	if len(event.Payload) == 0 || !json.Valid(event.Payload) {
		return errors.New("event payload is required")
	}
	return nil
}

// Consumer consumes engine events from RabbitMQ.
type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	config  ConsumerConfig
	handler *Handler
	logger  *zap.Logger
}

// NewConsumer connects to RabbitMQ and declares the durable audit queue.
func NewConsumer(cfg ConsumerConfig, handler *Handler, logger *zap.Logger) (*Consumer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	// Connect to RabbitMQ
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	// Open channel
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	// Declare exchange (topic exchange for routing)
	err = channel.ExchangeDeclare(
		cfg.Exchange, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	// Declare queue
	queue, err := channel.QueueDeclare(
		cfg.Queue, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	// Bind queue to every engine event
	if err := channel.QueueBind(queue.Name, cfg.BindingKey(), cfg.Exchange, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}

	logger.Info("audit consumer initialized",
		zap.String("exchange", cfg.Exchange),
		zap.String("queue", cfg.Queue),
		zap.String("binding_key", cfg.BindingKey()))

	return &Consumer{
		conn:    conn,
		channel: channel,
		config:  cfg,
		handler: handler,
		logger:  logger,
	}, nil
}

// Start consumes until ctx is cancelled or the channel closes.
func (c *Consumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.config.Queue, // queue
		"",             // consumer tag (auto-generated)
		false,          // auto-ack (we'll ack manually)
		false,          // exclusive
		false,          // no-local
		false,          // no-wait
		nil,            // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("audit consumer started", zap.String("queue", c.config.Queue))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("context cancelled, stopping audit consumer")
			return nil

		case msg, ok := <-msgs:
			if !ok {
				return errors.New("message channel closed")
			}
			c.handler.Process(ctx, msg)
		}
	}
}

// Close closes the RabbitMQ channel and connection.
func (c *Consumer) Close() error {
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.Warn("error closing channel", zap.Error(err))
		}
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
