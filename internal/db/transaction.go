package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/domain"
)

// txKey is the key type for storing transaction in context.
type txKey struct{}

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TransactionManager implements domain.TransactionManager using PostgreSQL.
type TransactionManager struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
	logger      *zap.Logger
}

// NewTransactionManager creates a new TransactionManager.
// lockTimeout bounds every row-lock wait inside a unit; zero leaves the server default.
func NewTransactionManager(pool *pgxpool.Pool, lockTimeout time.Duration, logger *zap.Logger) *TransactionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransactionManager{
		pool:        pool,
		lockTimeout: lockTimeout,
		logger:      logger,
	}
}

// RunAtomic executes the given function within a database transaction.
// If the function returns an error, the transaction is rolled back.
// Otherwise, the transaction is committed.
// The transaction is stored in the context and can be retrieved using getTx.
// A nested call joins the transaction already present in ctx.
func (tm *TransactionManager) RunAtomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if getTx(ctx) != nil {
		return fn(ctx)
	}

	tx, err := tm.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", classify(err))
	}

	// Ensure transaction is closed
	defer func() {
		if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			tm.logger.Warn("failed to rollback transaction", zap.Error(err))
		}
	}()

	if tm.lockTimeout > 0 {
		// SET does not take bind parameters
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = %d", tm.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to set lock timeout: %w", classify(err))
		}
	}

	// Store transaction in context so repositories can use it
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err // Transaction will be rolled back by defer
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", classify(err))
	}

	return nil
}

// getTx retrieves the transaction from context.
// If no transaction is found, returns nil.
func getTx(ctx context.Context) pgx.Tx {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return nil
}

// conn returns the transaction in ctx, or the pool when there is none.
func conn(ctx context.Context, pool *pgxpool.Pool) querier {
	if tx := getTx(ctx); tx != nil {
		return tx
	}
	return pool
}

// requireTx returns the transaction in ctx or domain.ErrNoActiveUnit.
// Row locks taken outside a transaction would be released immediately.
func requireTx(ctx context.Context) (pgx.Tx, error) {
	tx := getTx(ctx)
	if tx == nil {
		return nil, domain.ErrNoActiveUnit
	}
	return tx, nil
}
