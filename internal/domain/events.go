package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType names an event emitted by the transfer engine.
type EventType string

const (
	EventTransferCompleted EventType = "transfer.completed"
	EventTransferRejected  EventType = "transfer.rejected"
	EventTransferReversed  EventType = "transfer.reversed"
	EventSecurityAlert     EventType = "security.alert"
)

// Event is the envelope delivered to the audit/notification collaborator.
type Event struct {
	ID          uuid.UUID       `json:"eventId"`
	Type        EventType       `json:"eventType"`
	Timestamp   time.Time       `json:"eventTimestamp"`
	AggregateID uuid.UUID       `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload"`
}

// NewEvent marshals payload into a new envelope.
func NewEvent(eventType EventType, aggregateID uuid.UUID, payload any) (*Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	return &Event{
		ID:          uuid.New(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateID: aggregateID,
		Payload:     body,
	}, nil
}

// TransferCompleted is the payload of transfer.completed.
type TransferCompleted struct {
	TransactionID     uuid.UUID       `json:"transactionId"`
	TransactionType   TransactionType `json:"transactionType"`
	SenderAccountID   *uuid.UUID      `json:"senderAccountId,omitempty"`
	ReceiverAccountID *uuid.UUID      `json:"receiverAccountId,omitempty"`
	Amount            string          `json:"amount"`
	ReferenceNumber   string          `json:"referenceNumber"`
	Timestamp         time.Time       `json:"timestamp"`
}

// TransferRejected is the payload of transfer.rejected.
type TransferRejected struct {
	TransactionType   TransactionType `json:"transactionType"`
	Reason            Reason          `json:"reason"`
	Message           string          `json:"message"`
	SenderAccountID   *uuid.UUID      `json:"senderAccountId,omitempty"`
	ReceiverAccountID *uuid.UUID      `json:"receiverAccountId,omitempty"`
	Amount            string          `json:"amount"`
	ReferenceNumber   string          `json:"referenceNumber"`
	Timestamp         time.Time       `json:"timestamp"`
}

// TransferReversed is the payload of transfer.reversed.
type TransferReversed struct {
	OriginalTransactionID     uuid.UUID `json:"originalTransactionId"`
	CompensatingTransactionID uuid.UUID `json:"compensatingTransactionId"`
	Amount                    string    `json:"amount"`
	ReferenceNumber           string    `json:"referenceNumber"`
	Reason                    string    `json:"reason,omitempty"`
	Timestamp                 time.Time `json:"timestamp"`
}

// OutboxStatus is the delivery state of a stored event.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "PENDING"
	OutboxStatusPublished OutboxStatus = "PUBLISHED"
	OutboxStatusFailed    OutboxStatus = "FAILED"
)

// OutboxEvent is an event persisted in the same atomic unit as the ledger mutation it describes.
type OutboxEvent struct {
	Event
	Status        OutboxStatus
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	PublishedAt   *time.Time
}

// EventEmitter delivers events that must not be persisted with the ledger,
// such as rejections. Emit never blocks on the sink and never fails the caller.
type EventEmitter interface {
	Emit(ctx context.Context, event *Event)
}
