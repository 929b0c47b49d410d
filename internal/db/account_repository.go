package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/domain"
)

// Amounts travel as text so that no precision is lost between numeric and decimal.Decimal.
const accountColumns = `
	id, user_id, account_number, balance::text, account_type, status,
	daily_transfer_limit::text, created_at, updated_at
`

// AccountRepository implements domain.AccountRepository using PostgreSQL.
type AccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{
		pool: pool,
	}
}

// Create inserts a new account. Used by onboarding and by tests.
func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (
			id, user_id, account_number, balance, account_type, status,
			daily_transfer_limit, created_at, updated_at
		) VALUES ($1, $2, $3, $4::numeric, $5, $6, $7::numeric, now(), now())
		RETURNING created_at, updated_at
	`

	err := conn(ctx, r.pool).QueryRow(ctx, query,
		account.ID,
		account.UserID,
		account.AccountNumber,
		account.Balance.String(),
		string(account.AccountType),
		string(account.Status),
		account.DailyTransferLimit.String(),
	).Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", classify(err))
	}

	return nil
}

// LockForUpdate acquires a pessimistic lock on the account for the duration of the transaction.
// This method MUST be called within a transaction context.
// Uses SELECT ... FOR UPDATE to lock the row.
func (r *AccountRepository) LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	tx, err := requireTx(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`

	account, err := scanAccount(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}
	return account, nil
}

// GetByID retrieves an account by its unique identifier.
func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	account, err := scanAccount(conn(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// GetByNumber retrieves an account by its externally visible number.
func (r *AccountRepository) GetByNumber(ctx context.Context, number string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE account_number = $1`

	account, err := scanAccount(conn(ctx, r.pool).QueryRow(ctx, query, number))
	if err != nil {
		return nil, fmt.Errorf("failed to get account by number: %w", err)
	}
	return account, nil
}

// ApplyBalanceDelta adds a signed delta to the balance in a single statement.
// The balance CHECK constraint rejects a negative result.
func (r *AccountRepository) ApplyBalanceDelta(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error {
	query := `
		UPDATE accounts
		SET balance = balance + $2::numeric,
		    updated_at = now()
		WHERE id = $1
	`

	result, err := conn(ctx, r.pool).Exec(ctx, query, id, delta.String())
	if err != nil {
		return fmt.Errorf("failed to apply balance delta: %w", classify(err))
	}

	if result.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}

	return nil
}

// SetStatus changes the administrative status of an account.
func (r *AccountRepository) SetStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus) error {
	result, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE accounts SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to set account status: %w", classify(err))
	}
	if result.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		account                 domain.Account
		balance, limit          string
		accountType, statusText string
	)

	err := row.Scan(
		&account.ID,
		&account.UserID,
		&account.AccountNumber,
		&balance,
		&accountType,
		&statusText,
		&limit,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, classify(err)
	}

	if account.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("invalid balance %q: %w", balance, err)
	}
	if account.DailyTransferLimit, err = decimal.NewFromString(limit); err != nil {
		return nil, fmt.Errorf("invalid daily transfer limit %q: %w", limit, err)
	}
	account.AccountType = domain.AccountType(accountType)
	account.Status = domain.AccountStatus(statusText)

	return &account, nil
}
