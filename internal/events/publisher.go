package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/domain"
)

// ErrPublishNacked is returned when the broker refuses a message.
var ErrPublishNacked = errors.New("broker did not confirm message")

// Publisher delivers a single event to the message broker.
type Publisher interface {
	Publish(ctx context.Context, event *domain.Event) error
}

// RoutingKey builds the topic routing key for an event type.
func RoutingKey(prefix string, eventType domain.EventType) string {
	if prefix == "" {
		return string(eventType)
	}
	return prefix + "." + string(eventType)
}

// RabbitMQPublisher publishes event envelopes to a topic exchange with publisher confirms.
type RabbitMQPublisher struct {
	conn          *amqp.Connection
	channel       *amqp.Channel
	exchange      string
	routingPrefix string
	logger        *zap.Logger

	closeOnce sync.Once
}

// NewRabbitMQPublisher connects to RabbitMQ and declares the exchange.
func NewRabbitMQPublisher(url, exchange, routingPrefix string, logger *zap.Logger) (*RabbitMQPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	// Connect to RabbitMQ
	conn, err := amqp.Dial(url)
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
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := channel.Confirm(false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	logger.Info("rabbitmq publisher initialized",
		zap.String("exchange", exchange),
		zap.String("routing_prefix", routingPrefix))

	return &RabbitMQPublisher{
		conn:          conn,
		channel:       channel,
		exchange:      exchange,
		routingPrefix: routingPrefix,
		logger:        logger,
	}, nil
}

// Publish sends the event and waits for the broker confirmation.
func (p *RabbitMQPublisher) Publish(ctx context.Context, event *domain.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	routingKey := RoutingKey(p.routingPrefix, event.Type)
	confirmation, err := p.channel.PublishWithDeferredConfirmWithContext(ctx,
		p.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID.String(),
			Type:         string(event.Type),
			Timestamp:    event.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}

	ok, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to confirm %s: %w", event.Type, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrPublishNacked, event.ID)
	}

	p.logger.Debug("event published",
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", string(event.Type)),
		zap.String("routing_key", routingKey))

	return nil
}

// Ping reports whether the broker connection is still open.
func (p *RabbitMQPublisher) Ping(context.Context) error {
	if p.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}

// Close closes the RabbitMQ channel and connection.
func (p *RabbitMQPublisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if p.channel != nil {
			if cerr := p.channel.Close(); cerr != nil {
				p.logger.Warn("error closing channel", zap.Error(cerr))
			}
		}
		if p.conn != nil {
			err = p.conn.Close()
		}
	})
	return err
}
