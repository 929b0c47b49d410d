package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/domain"
)

// Store persists audited events.
type Store interface {
	InsertEvent(ctx context.Context, event *domain.Event) error
	InsertAlert(ctx context.Context, eventID uuid.UUID, alert *domain.SecurityAlert) error
}

// Repository handles audit data persistence in ClickHouse.
type Repository struct {
	db *ClickHouseClient
}

var _ Store = (*Repository)(nil)

// NewRepository creates a new audit repository.
func NewRepository(db *ClickHouseClient) *Repository {
	return &Repository{db: db}
}

// InsertEvent stores the raw envelope.
func (r *Repository) InsertEvent(ctx context.Context, event *domain.Event) error {
	query := `
		INSERT INTO audit_events (event_id, event_type, aggregate_id, event_timestamp, payload)
		VALUES (?, ?, ?, ?, ?)
	`

	err := r.db.Conn().Exec(ctx, query,
		event.ID,
		string(event.Type),
		event.AggregateID,
		event.Timestamp,
		string(event.Payload),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event %s: %w", event.ID, err)
	}

	return nil
}

// InsertAlert stores a decoded security alert.
func (r *Repository) InsertAlert(ctx context.Context, eventID uuid.UUID, alert *domain.SecurityAlert) error {
	amount, err := decimal.NewFromString(alert.Amount)
	if err != nil {
		return fmt.Errorf("invalid alert amount %q: %w", alert.Amount, err)
	}

	query := `
		INSERT INTO security_alerts (
			event_id, alert_type, severity, account_id, amount,
			reference_number, message, alert_timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	err = r.db.Conn().Exec(ctx, query,
		eventID,
		string(alert.AlertType),
		string(alert.Severity),
		alert.AccountID,
		amount,
		alert.ReferenceNumber,
		alert.Message,
		alert.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert security alert %s: %w", eventID, err)
	}

	return nil
}

// ListAlerts retrieves the alerts raised for an account, most recent first.
func (r *Repository) ListAlerts(ctx context.Context, accountID uuid.UUID, limit int) ([]*domain.SecurityAlert, error) {
	query := `
		SELECT alert_type, severity, account_id, toString(amount), reference_number, message, alert_timestamp
		FROM security_alerts FINAL
		WHERE account_id = ?
		ORDER BY alert_timestamp DESC
	`
	args := []interface{}{accountID}

	// Apply limit if provided
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Conn().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts for account %s: %w", accountID, err)
	}
	defer rows.Close()

	var alerts []*domain.SecurityAlert
	for rows.Next() {
		var (
			alert               domain.SecurityAlert
			alertType, severity string
			amount              string
			timestamp           time.Time
		)
		if err := rows.Scan(
			&alertType,
			&severity,
			&alert.AccountID,
			&amount,
			&alert.ReferenceNumber,
			&alert.Message,
			&timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}

		alert.AlertType = domain.AlertType(alertType)
		alert.Severity = domain.Severity(severity)
		alert.Timestamp = timestamp.UTC()

		// toString() drops trailing zeros
		if d, err := decimal.NewFromString(amount); err == nil {
			alert.Amount = domain.FormatAmount(d)
		} else {
			alert.Amount = amount
		}

		alerts = append(alerts, &alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alert rows: %w", err)
	}

	return alerts, nil
}

// CountEvents returns the number of distinct audited events of a type.
func (r *Repository) CountEvents(ctx context.Context, eventType domain.EventType) (uint64, error) {
	var count uint64
	err := r.db.Conn().QueryRow(ctx,
		`SELECT count() FROM audit_events FINAL WHERE event_type = ?`, string(eventType)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s events: %w", eventType, err)
	}
	return count, nil
}
