package audit

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseConfig holds ClickHouse connection configuration.
type ClickHouseConfig struct {
	Host     string
	Database string
	User     string
	Password string
}

// ClickHouseClient wraps the ClickHouse driver connection.
type ClickHouseClient struct {
	conn driver.Conn
}

// NewClickHouseClient creates a new ClickHouse client with the given configuration.
func NewClickHouseClient(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseClient, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Host},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	// Test connection with ping
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseClient{conn: conn}, nil
}

// Conn returns the underlying ClickHouse connection.
func (c *ClickHouseClient) Conn() driver.Conn {
	return c.conn
}

// EnsureSchema creates the audit tables when they are missing.
// ReplacingMergeTree collapses redelivered events that share an event id.
func (c *ClickHouseClient) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS audit_events (
			event_id        UUID,
			event_type      LowCardinality(String),
			aggregate_id    UUID,
			event_timestamp DateTime64(3, 'UTC'),
			payload         String,
			received_at     DateTime64(3, 'UTC') DEFAULT now64(3)
		) ENGINE = ReplacingMergeTree()
		ORDER BY (event_type, aggregate_id, event_id)`,
		`CREATE TABLE IF NOT EXISTS security_alerts (
			event_id         UUID,
			alert_type       LowCardinality(String),
			severity         LowCardinality(String),
			account_id       UUID,
			amount           Decimal(18, 2),
			reference_number String,
			message          String,
			alert_timestamp  DateTime64(3, 'UTC')
		) ENGINE = ReplacingMergeTree()
		ORDER BY (account_id, alert_timestamp, event_id)`,
	}

	for _, stmt := range statements {
		if err := c.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create audit schema: %w", err)
		}
	}
	return nil
}

// Ping checks that ClickHouse is reachable.
func (c *ClickHouseClient) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Close closes the ClickHouse connection.
func (c *ClickHouseClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
