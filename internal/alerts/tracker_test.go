package alerts_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/alerts"
	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/domain"
)

func TestRedisTracker_Record(t *testing.T) {
	ctx := context.Background()
	accountID := uuid.New()
	key := alerts.Key(accountID, domain.ReasonInsufficientFunds)

	t.Run("increment and expiry run as one script", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		tracker := alerts.NewRedisTracker(client, 15*time.Minute)

		mock.ExpectEval(alerts.RecordSource, []string{key}, int64(900000)).SetVal(int64(1))

		count, err := tracker.Record(ctx, accountID, domain.ReasonInsufficientFunds)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("later rejections return the running count", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		tracker := alerts.NewRedisTracker(client, 15*time.Minute)

		mock.ExpectEval(alerts.RecordSource, []string{key}, int64(900000)).SetVal(int64(3))

		count, err := tracker.Record(ctx, accountID, domain.ReasonInsufficientFunds)
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("script failure", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		tracker := alerts.NewRedisTracker(client, time.Minute)

		mock.ExpectEval(alerts.RecordSource, []string{key}, int64(60000)).SetErr(errors.New("connection refused"))

		_, err := tracker.Record(ctx, accountID, domain.ReasonInsufficientFunds)
		assert.ErrorContains(t, err, "connection refused")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRecordSourceAlwaysSetsTTL(t *testing.T) {
	// The TTL is applied inside the script, never in a separate round trip
	assert.Contains(t, alerts.RecordSource, "INCR")
	assert.Contains(t, alerts.RecordSource, "PEXPIRE")
	assert.Contains(t, alerts.RecordSource, "PTTL', KEYS[1]) == -1")
}

func TestKeySeparatesReasons(t *testing.T) {
	id := uuid.New()
	assert.NotEqual(t,
		alerts.Key(id, domain.ReasonInsufficientFunds),
		alerts.Key(id, domain.ReasonDailyLimitExceeded))
}

func TestMemoryTracker_WindowResets(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	tracker := alerts.NewMemoryTracker(time.Minute, func() time.Time { return now })

	a, b := uuid.New(), uuid.New()

	for want := int64(1); want <= 3; want++ {
		count, err := tracker.Record(ctx, a, domain.ReasonInsufficientFunds)
		require.NoError(t, err)
		assert.Equal(t, want, count)
	}

	count, err := tracker.Record(ctx, b, domain.ReasonInsufficientFunds)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "accounts are counted separately")

	now = now.Add(time.Minute)
	count, err = tracker.Record(ctx, a, domain.ReasonInsufficientFunds)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "expired window starts over")
}

func TestAlertPolicyWithMemoryTracker(t *testing.T) {
	ctx := context.Background()
	policy := domain.DefaultAlertPolicy()
	policy.Tracker = alerts.NewMemoryTracker(time.Minute, nil)

	accountID := uuid.New()
	amount := decimal.RequireFromString("10.00")

	var raised []domain.SecurityAlert
	for i := 0; i < 5; i++ {
		got, err := policy.ForRejected(ctx, accountID, amount, fmt.Sprintf("TXN%012d", i), domain.ReasonInsufficientFunds)
		require.NoError(t, err)
		raised = append(raised, got...)
	}

	require.Len(t, raised, 1, "alert fires once when the threshold is reached")
	assert.Equal(t, domain.AlertSuspiciousTransaction, raised[0].AlertType)
	assert.Equal(t, domain.SeverityHigh, raised[0].Severity)
}
