package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountRepository defines the account side of the ledger store.
// Write and locking methods must be called within an atomic unit.
type AccountRepository interface {
	// LockForUpdate acquires an exclusive lock on the account row, held until the
	// enclosing atomic unit ends. Blocks while another unit holds the lock, up to the
	// store's bounded wait, after which ErrLockTimeout is returned.
	// Returns ErrAccountNotFound if the account doesn't exist.
	LockForUpdate(ctx context.Context, id uuid.UUID) (*Account, error)

	// GetByID is a non-locking snapshot read.
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)

	// GetByNumber resolves an externally visible account number without locking.
	GetByNumber(ctx context.Context, number string) (*Account, error)

	// ApplyBalanceDelta atomically adds a signed delta to the balance.
	// Returns ErrConstraintViolation if the result would be negative.
	ApplyBalanceDelta(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error
}

// TransactionRepository defines the append-only transaction log.
type TransactionRepository interface {
	// Insert persists a PENDING draft.
	// Returns ErrDuplicateReference if the reference number is already taken.
	Insert(ctx context.Context, txn *Transaction) error

	// GetByReference returns nil if no transaction carries the reference.
	GetByReference(ctx context.Context, reference string) (*Transaction, error)

	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)

	// LockForUpdate locks a transaction row for the rest of the atomic unit.
	// Returns ErrTransactionNotFound if it doesn't exist.
	LockForUpdate(ctx context.Context, id uuid.UUID) (*Transaction, error)

	// SumCompletedSince aggregates COMPLETED amounts sent by the account from since onwards.
	// Reversal legs are excluded.
	SumCompletedSince(ctx context.Context, accountID uuid.UUID, since time.Time) (decimal.Decimal, error)

	// MarkTerminal moves a transaction to a terminal status.
	// Returns ErrInvalidTransition if the current status does not allow it.
	MarkTerminal(ctx context.Context, id uuid.UUID, status TransactionStatus, failureReason *string) error

	// ListByAccount returns transactions where the account is sender or receiver, newest first.
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*Transaction, error)
}

// OutboxRepository stores events written in the same atomic unit as the ledger mutation.
type OutboxRepository interface {
	// Enqueue must be called within an atomic unit.
	Enqueue(ctx context.Context, event *Event) error

	// ClaimPending locks up to limit due events so that concurrent dispatchers skip them.
	// Must be called within an atomic unit.
	ClaimPending(ctx context.Context, limit int, now time.Time) ([]*OutboxEvent, error)

	MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error

	// MarkFailed records a delivery failure. When final is false the event is retried at nextAttempt.
	MarkFailed(ctx context.Context, id uuid.UUID, lastErr string, nextAttempt time.Time, final bool) error
}

// TransactionManager runs work as a single all-or-nothing unit.
// This abstraction allows the engine to work with atomic units
// without being coupled to a specific store implementation.
type TransactionManager interface {
	// RunAtomic executes fn within a unit. If fn returns an error, every write made
	// through the context passed to fn is undone. Otherwise the unit is committed.
	RunAtomic(ctx context.Context, fn func(ctx context.Context) error) error
}
