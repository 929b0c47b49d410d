package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AlertType classifies a security alert raised by the engine.
type AlertType string

const (
	AlertLargeWithdrawal       AlertType = "LARGE_WITHDRAWAL"
	AlertSuspiciousTransaction AlertType = "SUSPICIOUS_TRANSACTION"
)

// Severity of a security alert.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// SecurityAlert is the payload of security.alert.
type SecurityAlert struct {
	AlertType       AlertType `json:"alertType"`
	Severity        Severity  `json:"severity"`
	AccountID       uuid.UUID `json:"accountId"`
	Amount          string    `json:"amount"`
	ReferenceNumber string    `json:"referenceNumber"`
	Message         string    `json:"message"`
	Timestamp       time.Time `json:"timestamp"`
}

// RejectionTracker counts rejections per account within a sliding window.
type RejectionTracker interface {
	// Record registers one rejection and returns the count inside the current window.
	Record(ctx context.Context, accountID uuid.UUID, reason Reason) (int64, error)
}

// AlertPolicy decides which security alerts a transfer attempt raises.
type AlertPolicy struct {
	// LargeTransferThreshold triggers alerts for amounts strictly above it. Zero disables.
	LargeTransferThreshold decimal.Decimal
	// RepeatedRejectionThreshold is the count of InsufficientFunds rejections that triggers an alert.
	RepeatedRejectionThreshold int64
	// Tracker may be nil, in which case repeated rejections are not tracked.
	Tracker RejectionTracker
}

// DefaultAlertPolicy returns the policy used when none is configured.
func DefaultAlertPolicy() AlertPolicy {
	return AlertPolicy{
		LargeTransferThreshold:     decimal.NewFromInt(10000),
		RepeatedRejectionThreshold: 3,
	}
}

func (p AlertPolicy) isLarge(amount decimal.Decimal) bool {
	return p.LargeTransferThreshold.IsPositive() && amount.GreaterThan(p.LargeTransferThreshold)
}

// ForCompleted returns the alerts raised by a completed outgoing movement.
// Deposits never raise alerts.
func (p AlertPolicy) ForCompleted(txn *Transaction) []SecurityAlert {
	if txn.SenderAccountID == nil || !p.isLarge(txn.Amount) {
		return nil
	}

	return []SecurityAlert{{
		AlertType:       AlertLargeWithdrawal,
		Severity:        SeverityMedium,
		AccountID:       *txn.SenderAccountID,
		Amount:          FormatAmount(txn.Amount),
		ReferenceNumber: txn.ReferenceNumber,
		Message:         fmt.Sprintf("Large transfer of %s", FormatAmount(txn.Amount)),
		Timestamp:       time.Now().UTC(),
	}}
}

// ForRejected returns the alerts raised by a rejected attempt made on behalf of accountID.
// A tracker failure is returned alongside any alerts already decided; callers must not
// let it change the outcome.
func (p AlertPolicy) ForRejected(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, reference string, reason Reason) ([]SecurityAlert, error) {
	var alerts []SecurityAlert
	now := time.Now().UTC()

	if p.isLarge(amount) {
		alerts = append(alerts, SecurityAlert{
			AlertType:       AlertSuspiciousTransaction,
			Severity:        SeverityHigh,
			AccountID:       accountID,
			Amount:          FormatAmount(amount),
			ReferenceNumber: reference,
			Message:         fmt.Sprintf("Rejected large transfer of %s: %s", FormatAmount(amount), reason),
			Timestamp:       now,
		})
	}

	if reason != ReasonInsufficientFunds || p.Tracker == nil || p.RepeatedRejectionThreshold <= 0 {
		return alerts, nil
	}

	count, err := p.Tracker.Record(ctx, accountID, reason)
	if err != nil {
		return alerts, fmt.Errorf("failed to record rejection: %w", err)
	}

	// Alert once when the threshold is crossed, not on every rejection after it.
	if count == p.RepeatedRejectionThreshold {
		alerts = append(alerts, SecurityAlert{
			AlertType:       AlertSuspiciousTransaction,
			Severity:        SeverityHigh,
			AccountID:       accountID,
			Amount:          FormatAmount(amount),
			ReferenceNumber: reference,
			Message:         fmt.Sprintf("%d insufficient funds rejections within the alert window", count),
			Timestamp:       now,
		})
	}

	return alerts, nil
}
