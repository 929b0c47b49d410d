package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/domain"
)

const transactionColumns = `
	id, reference_number, sender_account_id, receiver_account_id,
	amount::text, transaction_type, status, description, fee_amount::text,
	reversal_of, failure_reason, created_at, completed_at
`

// TransactionRepository implements domain.TransactionRepository using PostgreSQL.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository creates a new TransactionRepository.
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{
		pool: pool,
	}
}

// Insert persists a new PENDING transaction.
func (r *TransactionRepository) Insert(ctx context.Context, txn *domain.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, reference_number, sender_account_id, receiver_account_id,
			amount, transaction_type, status, description, fee_amount,
			reversal_of, failure_reason, created_at, completed_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9::numeric, $10, $11, $12, $13)
	`

	_, err := conn(ctx, r.pool).Exec(ctx, query,
		txn.ID,
		txn.ReferenceNumber,
		txn.SenderAccountID,
		txn.ReceiverAccountID,
		txn.Amount.String(),
		string(txn.Type),
		string(txn.Status),
		txn.Description,
		txn.FeeAmount.String(),
		txn.ReversalOf,
		txn.FailureReason,
		txn.CreatedAt,
		txn.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", classify(err))
	}

	return nil
}

// GetByReference retrieves a transaction by its reference number.
// Returns nil if no transaction carries the reference.
func (r *TransactionRepository) GetByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE reference_number = $1`

	txn, err := scanTransaction(conn(ctx, r.pool).QueryRow(ctx, query, reference))
	if err != nil {
		if errors.Is(err, domain.ErrTransactionNotFound) {
			return nil, nil // No transaction with this reference
		}
		return nil, fmt.Errorf("failed to get transaction by reference: %w", err)
	}
	return txn, nil
}

// GetByID retrieves a transaction by its unique identifier.
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`

	txn, err := scanTransaction(conn(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return txn, nil
}

// LockForUpdate locks a transaction row for the rest of the enclosing transaction.
func (r *TransactionRepository) LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	tx, err := requireTx(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`

	txn, err := scanTransaction(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to lock transaction: %w", err)
	}
	return txn, nil
}

// SumCompletedSince sums COMPLETED outgoing amounts of the account created at or after since.
// Compensating reversal legs are not counted.
func (r *TransactionRepository) SumCompletedSince(ctx context.Context, accountID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)::text
		FROM transactions
		WHERE sender_account_id = $1
		  AND status = 'COMPLETED'
		  AND reversal_of IS NULL
		  AND created_at >= $2
	`

	var total string
	if err := conn(ctx, r.pool).QueryRow(ctx, query, accountID, since).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum completed transactions: %w", classify(err))
	}

	sum, err := decimal.NewFromString(total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid sum %q: %w", total, err)
	}
	return sum, nil
}

// MarkTerminal moves a transaction to a terminal status.
// The WHERE clause only matches rows whose current status allows the transition.
func (r *TransactionRepository) MarkTerminal(ctx context.Context, id uuid.UUID, status domain.TransactionStatus, failureReason *string) error {
	if status != domain.TransactionStatusFailed {
		failureReason = nil
	}

	query := `
		UPDATE transactions
		SET status = $2,
		    failure_reason = $3,
		    completed_at = COALESCE(completed_at, now())
		WHERE id = $1 AND status = ANY($4)
	`

	result, err := conn(ctx, r.pool).Exec(ctx, query, id, string(status), failureReason, allowedFrom(status))
	if err != nil {
		return fmt.Errorf("failed to mark transaction %s: %w", status, classify(err))
	}

	if result.RowsAffected() == 0 {
		current, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, status)
	}

	return nil
}

// ListByAccount returns transactions where the account is sender or receiver, newest first.
func (r *TransactionRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE sender_account_id = $1 OR receiver_account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := conn(ctx, r.pool).Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", classify(err))
	}
	defer rows.Close()

	var txns []*domain.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", classify(err))
	}

	return txns, nil
}

// allowedFrom lists the statuses that may transition to status.
func allowedFrom(status domain.TransactionStatus) []string {
	var from []string
	for _, s := range []domain.TransactionStatus{
		domain.TransactionStatusPending,
		domain.TransactionStatusCompleted,
		domain.TransactionStatusFailed,
		domain.TransactionStatusReversed,
	} {
		if s.CanTransitionTo(status) {
			from = append(from, string(s))
		}
	}
	return from
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		txn                domain.Transaction
		amount, fee        string
		txType, statusText string
	)

	err := row.Scan(
		&txn.ID,
		&txn.ReferenceNumber,
		&txn.SenderAccountID,
		&txn.ReceiverAccountID,
		&amount,
		&txType,
		&statusText,
		&txn.Description,
		&fee,
		&txn.ReversalOf,
		&txn.FailureReason,
		&txn.CreatedAt,
		&txn.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, classify(err)
	}

	if txn.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if txn.FeeAmount, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("invalid fee %q: %w", fee, err)
	}
	txn.Type = domain.TransactionType(txType)
	txn.Status = domain.TransactionStatus(statusText)

	return &txn, nil
}
