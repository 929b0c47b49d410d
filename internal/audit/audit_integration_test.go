package audit_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"

	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/audit"
	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/domain"
	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/events"
)

const (
	testExchange = "test.bank.operations"
	testQueue    = "test.audit.bank.operations"
	testPrefix   = "test.bank.operations"
)

// TestAuditPipelineIntegration publishes engine events to RabbitMQ and checks
// that the consumer writes them to ClickHouse.
func TestAuditPipelineIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// Start ClickHouse container
	clickhouseContainer, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:23.3.8.21-alpine",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword("clickhouse"),
		clickhouse.WithDatabase("default"),
	)
	require.NoError(t, err)
	defer clickhouseContainer.Terminate(ctx)

	clickhouseHost, err := clickhouseContainer.ConnectionHost(ctx)
	require.NoError(t, err)

	// Start RabbitMQ container
	rabbitmqContainer, err := rabbitmq.Run(ctx,
		"rabbitmq:3.13-management",
		rabbitmq.WithAdminUsername("guest"),
		rabbitmq.WithAdminPassword("guest"),
	)
	require.NoError(t, err)
	defer rabbitmqContainer.Terminate(ctx)

	rabbitURL, err := rabbitmqContainer.AmqpURL(ctx)
	require.NoError(t, err)

	client, err := audit.NewClickHouseClient(ctx, audit.ClickHouseConfig{
		Host:     clickhouseHost,
		Database: "default",
		User:     "default",
		Password: "clickhouse",
	})
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.EnsureSchema(ctx))

	repo := audit.NewRepository(client)
	consumer, err := audit.NewConsumer(audit.ConsumerConfig{
		URL:           rabbitURL,
		Exchange:      testExchange,
		Queue:         testQueue,
		RoutingPrefix: testPrefix,
	}, audit.NewHandler(repo, nil), nil)
	require.NoError(t, err)
	defer consumer.Close()

	consumeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := consumer.Start(consumeCtx); err != nil {
			t.Logf("consumer stopped: %v", err)
		}
	}()

	publisher, err := events.NewRabbitMQPublisher(rabbitURL, testExchange, testPrefix, nil)
	require.NoError(t, err)
	defer publisher.Close()

	accountID := uuid.New()
	completed, err := domain.NewEvent(domain.EventTransferCompleted, uuid.New(), domain.TransferCompleted{
		TransactionID:   uuid.New(),
		TransactionType: domain.TransactionTypeTransfer,
		SenderAccountID: &accountID,
		Amount:          "15000.00",
		ReferenceNumber: "TXN00000000ABCD",
		Timestamp:       time.Now().UTC(),
	})
	require.NoError(t, err)

	alert, err := domain.NewEvent(domain.EventSecurityAlert, accountID, domain.SecurityAlert{
		AlertType:       domain.AlertLargeWithdrawal,
		Severity:        domain.SeverityMedium,
		AccountID:       accountID,
		Amount:          "15000.00",
		ReferenceNumber: "TXN00000000ABCD",
		Message:         "Large transfer of 15000.00",
		Timestamp:       time.Now().UTC(),
	})
	require.NoError(t, err)

	for _, event := range []*domain.Event{completed, alert} {
		require.NoError(t, publisher.Publish(ctx, event))
	}
	// At-least-once delivery: a redelivered event must not be counted twice
	require.NoError(t, publisher.Publish(ctx, completed))

	require.Eventually(t, func() bool {
		alerts, err := repo.ListAlerts(ctx, accountID, 10)
		return err == nil && len(alerts) == 1
	}, 30*time.Second, 500*time.Millisecond, "alert was not audited")

	alerts, err := repo.ListAlerts(ctx, accountID, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.AlertLargeWithdrawal, alerts[0].AlertType)
	assert.Equal(t, domain.SeverityMedium, alerts[0].Severity)
	assert.Equal(t, "15000.00", alerts[0].Amount)

	require.Eventually(t, func() bool {
		count, err := repo.CountEvents(ctx, domain.EventTransferCompleted)
		return err == nil && count == 1
	}, 30*time.Second, 500*time.Millisecond, fmt.Sprintf("expected one %s audit row", domain.EventTransferCompleted))
}
