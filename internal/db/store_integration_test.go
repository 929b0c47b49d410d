package db_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/db"
	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/domain"
)

type ledger struct {
	pool         *db.Pool
	accounts     *db.AccountRepository
	transactions *db.TransactionRepository
	outbox       *db.OutboxRepository
	txManager    *db.TransactionManager
	engine       *domain.TransferEngine
}

// TestLedgerStoreIntegration runs the engine against a real PostgreSQL instance.
// It spins up a container, applies the embedded migrations and exercises
// locking, constraints and the outbox.
func TestLedgerStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, dbURL := startPostgresContainer(t, ctx)
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	}()

	pool, err := db.NewPool(ctx, dbURL, db.DefaultPoolConfig())
	require.NoError(t, err)
	defer pool.Close()

	require.NoError(t, db.Migrate(pool.Pool, nil))
	// A second run finds nothing to do
	require.NoError(t, db.Migrate(pool.Pool, nil))

	l := newLedger(t, pool, 2*time.Second)

	t.Run("transfer commits balances, log and outbox together", func(t *testing.T) {
		sender := l.createAccount(t, ctx, "1000.00", "5000.00")
		receiver := l.createAccount(t, ctx, "500.00", "5000.00")

		outcome, err := l.engine.Execute(ctx, domain.TransferRequest{
			SenderAccountID:   sender,
			ReceiverAccountID: receiver,
			Amount:            decimal.RequireFromString("100.50"),
			ReferenceNumber:   "REF-" + uuid.NewString(),
		})
		require.NoError(t, err)
		require.Equal(t, domain.OutcomeCompleted, outcome.Status)

		assert.Equal(t, "899.50", l.balance(t, ctx, sender))
		assert.Equal(t, "600.50", l.balance(t, ctx, receiver))

		txn, err := l.transactions.GetByID(ctx, *outcome.TransactionID)
		require.NoError(t, err)
		assert.Equal(t, domain.TransactionStatusCompleted, txn.Status)
		assert.NotNil(t, txn.CompletedAt)
		assert.Nil(t, txn.FailureReason)

		var pending int
		require.NoError(t, pool.QueryRow(ctx,
			`SELECT count(*) FROM outbox_events WHERE aggregate_id = $1 AND status = 'PENDING'`,
			*outcome.TransactionID).Scan(&pending))
		assert.Equal(t, 1, pending)
	})

	t.Run("idempotent retry replays", func(t *testing.T) {
		sender := l.createAccount(t, ctx, "100.00", "5000.00")
		receiver := l.createAccount(t, ctx, "0.00", "5000.00")
		req := domain.TransferRequest{
			SenderAccountID:   sender,
			ReceiverAccountID: receiver,
			Amount:            decimal.RequireFromString("10.00"),
			ReferenceNumber:   "REF-" + uuid.NewString(),
		}

		first, err := l.engine.Execute(ctx, req)
		require.NoError(t, err)
		second, err := l.engine.Execute(ctx, req)
		require.NoError(t, err)

		assert.True(t, second.Replayed)
		assert.Equal(t, first.TransactionID, second.TransactionID)
		assert.Equal(t, "90.00", l.balance(t, ctx, sender))
	})

	t.Run("concurrent opposite transfers do not deadlock", func(t *testing.T) {
		a := l.createAccount(t, ctx, "1000.00", "100000.00")
		b := l.createAccount(t, ctx, "1000.00", "100000.00")

		const perSide = 20
		var wg sync.WaitGroup
		outcomes := make(chan *domain.TransferOutcome, 2*perSide)
		for i := 0; i < perSide; i++ {
			for _, pair := range [][2]uuid.UUID{{a, b}, {b, a}} {
				wg.Add(1)
				go func(from, to uuid.UUID) {
					defer wg.Done()
					outcome, _ := l.engine.Execute(ctx, domain.TransferRequest{
						SenderAccountID:   from,
						ReceiverAccountID: to,
						Amount:            decimal.RequireFromString("10.00"),
						ReferenceNumber:   "REF-" + uuid.NewString(),
					})
					outcomes <- outcome
				}(pair[0], pair[1])
			}
		}
		wg.Wait()
		close(outcomes)

		for outcome := range outcomes {
			require.NotNil(t, outcome)
			assert.Equal(t, domain.OutcomeCompleted, outcome.Status, "reason %s", outcome.Reason)
		}
		assert.Equal(t, "1000.00", l.balance(t, ctx, a))
		assert.Equal(t, "1000.00", l.balance(t, ctx, b))
	})

	t.Run("balance check constraint surfaces as constraint violation", func(t *testing.T) {
		id := l.createAccount(t, ctx, "5.00", "100.00")

		err := l.txManager.RunAtomic(ctx, func(ctx context.Context) error {
			return l.accounts.ApplyBalanceDelta(ctx, id, decimal.RequireFromString("-10.00"))
		})
		assert.ErrorIs(t, err, domain.ErrConstraintViolation)
		assert.Equal(t, "5.00", l.balance(t, ctx, id))
	})

	t.Run("reference unique index surfaces as duplicate reference", func(t *testing.T) {
		sender := l.createAccount(t, ctx, "10.00", "100.00")
		receiver := l.createAccount(t, ctx, "10.00", "100.00")
		reference := "REF-" + uuid.NewString()

		insert := func() error {
			return l.txManager.RunAtomic(ctx, func(ctx context.Context) error {
				return l.transactions.Insert(ctx, domain.NewTransaction(domain.TransactionTypeTransfer,
					&sender, &receiver, decimal.RequireFromString("1.00"), "", reference))
			})
		}
		require.NoError(t, insert())
		assert.ErrorIs(t, insert(), domain.ErrDuplicateReference)
	})

	t.Run("lock wait is bounded by lock_timeout", func(t *testing.T) {
		id := l.createAccount(t, ctx, "10.00", "100.00")
		short := newLedger(t, pool, 100*time.Millisecond)

		locked := make(chan struct{})
		release := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			done <- l.txManager.RunAtomic(ctx, func(ctx context.Context) error {
				if _, err := l.accounts.LockForUpdate(ctx, id); err != nil {
					return err
				}
				close(locked)
				<-release
				return nil
			})
		}()
		<-locked

		err := short.txManager.RunAtomic(ctx, func(ctx context.Context) error {
			_, err := short.accounts.LockForUpdate(ctx, id)
			return err
		})
		close(release)
		require.NoError(t, <-done)
		assert.ErrorIs(t, err, domain.ErrLockTimeout)
	})

	t.Run("lock outside a unit is refused", func(t *testing.T) {
		_, err := l.accounts.LockForUpdate(ctx, uuid.New())
		assert.ErrorIs(t, err, domain.ErrNoActiveUnit)
	})

	t.Run("mark terminal enforces the state machine", func(t *testing.T) {
		sender := l.createAccount(t, ctx, "10.00", "100.00")
		receiver := l.createAccount(t, ctx, "10.00", "100.00")
		txn := domain.NewTransaction(domain.TransactionTypeTransfer,
			&sender, &receiver, decimal.RequireFromString("1.00"), "", "REF-"+uuid.NewString())

		require.NoError(t, l.txManager.RunAtomic(ctx, func(ctx context.Context) error {
			if err := l.transactions.Insert(ctx, txn); err != nil {
				return err
			}
			return l.transactions.MarkTerminal(ctx, txn.ID, domain.TransactionStatusCompleted, nil)
		}))

		err := l.transactions.MarkTerminal(ctx, txn.ID, domain.TransactionStatusFailed, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		err = l.transactions.MarkTerminal(ctx, uuid.New(), domain.TransactionStatusCompleted, nil)
		assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
	})

	t.Run("outbox claims skip rows locked by another dispatcher", func(t *testing.T) {
		_, err := pool.Exec(ctx, `UPDATE outbox_events SET status = 'PUBLISHED'`)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			event, err := domain.NewEvent(domain.EventTransferCompleted, uuid.New(), map[string]int{"n": i})
			require.NoError(t, err)
			event.Timestamp = time.Now().Add(-time.Minute)
			require.NoError(t, l.txManager.RunAtomic(ctx, func(ctx context.Context) error {
				return l.outbox.Enqueue(ctx, event)
			}))
		}

		claimedFirst := make(chan []*domain.OutboxEvent, 1)
		release := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			done <- l.txManager.RunAtomic(ctx, func(ctx context.Context) error {
				events, err := l.outbox.ClaimPending(ctx, 2, time.Now())
				if err != nil {
					return err
				}
				claimedFirst <- events
				<-release
				return nil
			})
		}()
		first := <-claimedFirst
		require.Len(t, first, 2)

		var second []*domain.OutboxEvent
		require.NoError(t, l.txManager.RunAtomic(ctx, func(ctx context.Context) error {
			events, err := l.outbox.ClaimPending(ctx, 10, time.Now())
			if err != nil {
				return err
			}
			second = events
			for _, evt := range events {
				if err := l.outbox.MarkPublished(ctx, evt.ID, time.Now()); err != nil {
					return err
				}
			}
			return nil
		}))
		close(release)
		require.NoError(t, <-done)

		require.Len(t, second, 1)
		assert.NotContains(t, []uuid.UUID{first[0].ID, first[1].ID}, second[0].ID)
		assert.JSONEq(t, `{"n":2}`, string(second[0].Payload))
	})
}

func newLedger(t *testing.T, pool *db.Pool, lockTimeout time.Duration) *ledger {
	t.Helper()

	l := &ledger{
		pool:         pool,
		accounts:     db.NewAccountRepository(pool.Pool),
		transactions: db.NewTransactionRepository(pool.Pool),
		outbox:       db.NewOutboxRepository(pool.Pool),
		txManager:    db.NewTransactionManager(pool.Pool, lockTimeout, nil),
	}

	engine, err := domain.NewTransferEngine(l.accounts, l.transactions, l.outbox, l.txManager)
	require.NoError(t, err)
	l.engine = engine
	return l
}

func (l *ledger) createAccount(t *testing.T, ctx context.Context, balance, limit string) uuid.UUID {
	t.Helper()

	account := &domain.Account{
		ID:                 uuid.New(),
		UserID:             uuid.New(),
		AccountNumber:      fmt.Sprintf("40817%015d", time.Now().UnixNano()%1e15),
		Balance:            decimal.RequireFromString(balance),
		AccountType:        domain.AccountTypeCurrent,
		Status:             domain.AccountStatusActive,
		DailyTransferLimit: decimal.RequireFromString(limit),
	}
	require.NoError(t, l.accounts.Create(ctx, account))
	return account.ID
}

func (l *ledger) balance(t *testing.T, ctx context.Context, id uuid.UUID) string {
	t.Helper()

	account, err := l.accounts.GetByID(ctx, id)
	require.NoError(t, err)
	return account.Balance.StringFixed(2)
}

// startPostgresContainer starts a PostgreSQL testcontainer and returns the connection URL.
func startPostgresContainer(t *testing.T, ctx context.Context) (testcontainers.Container, string) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start postgres container")

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return container, fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())
}
