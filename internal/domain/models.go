package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountType classifies an account product.
type AccountType string

const (
	AccountTypeSavings  AccountType = "SAVINGS"
	AccountTypeCurrent  AccountType = "CURRENT"
	AccountTypeBusiness AccountType = "BUSINESS"
)

// AccountStatus is the administrative state of an account.
// Accounts are never deleted; they move to CLOSED instead.
type AccountStatus string

const (
	AccountStatusActive AccountStatus = "ACTIVE"
	AccountStatusFrozen AccountStatus = "FROZEN"
	AccountStatusClosed AccountStatus = "CLOSED"
)

// Account represents a bank account in the ledger.
// Balance is only mutated by the transfer engine inside an atomic unit.
type Account struct {
	ID                 uuid.UUID       // Unique identifier of the account
	UserID             uuid.UUID       // Owning user
	AccountNumber      string          // Externally addressable, unique
	Balance            decimal.Decimal // Never negative
	AccountType        AccountType     // SAVINGS, CURRENT or BUSINESS
	Status             AccountStatus   // ACTIVE, FROZEN or CLOSED
	DailyTransferLimit decimal.Decimal // Maximum outgoing amount per calendar day
	CreatedAt          time.Time       // Timestamp when the account was created
	UpdatedAt          time.Time       // Timestamp of the last account update
}

// IsActive reports whether the account may take part in a transfer.
func (a *Account) IsActive() bool {
	return a != nil && a.Status == AccountStatusActive
}

// HasSufficientFunds checks if the account has enough balance for the given amount.
func (a *Account) HasSufficientFunds(amount decimal.Decimal) bool {
	return a.Balance.GreaterThanOrEqual(amount)
}

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TransactionTypeTransfer   TransactionType = "TRANSFER"
	TransactionTypeDeposit    TransactionType = "DEPOSIT"
	TransactionTypeWithdrawal TransactionType = "WITHDRAWAL"
	TransactionTypeFee        TransactionType = "FEE"
)

// TransactionStatus represents the lifecycle state of a ledger entry.
//
//	PENDING -> COMPLETED | FAILED
//	COMPLETED -> REVERSED
//
// Nothing ever returns to PENDING.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
	TransactionStatusReversed  TransactionStatus = "REVERSED"
)

// IsTerminal reports whether the status is COMPLETED, FAILED or REVERSED.
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusFailed || s == TransactionStatusReversed
}

// CanTransitionTo reports whether a transition from s to next is allowed.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	switch s {
	case TransactionStatusPending:
		return next == TransactionStatusCompleted || next == TransactionStatusFailed
	case TransactionStatusCompleted:
		return next == TransactionStatusReversed
	default:
		return false
	}
}

// Transaction is an entry of the append-only transaction log.
type Transaction struct {
	ID                uuid.UUID         // Unique identifier of the transaction
	ReferenceNumber   string            // Caller-chosen, globally unique
	SenderAccountID   *uuid.UUID        // Nil for deposits
	ReceiverAccountID *uuid.UUID        // Nil for withdrawals
	Amount            decimal.Decimal   // Always > 0
	Type              TransactionType   // TRANSFER, DEPOSIT, WITHDRAWAL or FEE
	Status            TransactionStatus // Current lifecycle state
	Description       string            // Free-form text supplied by the caller
	FeeAmount         decimal.Decimal   // Fee charged on top of Amount
	ReversalOf        *uuid.UUID        // Original transaction when this entry compensates another
	FailureReason     *string           // Set iff Status is FAILED
	CreatedAt         time.Time         // Timestamp when the attempt was recorded
	CompletedAt       *time.Time        // Timestamp of the terminal transition
}

// NewTransaction creates a PENDING transaction draft.
func NewTransaction(txType TransactionType, sender, receiver *uuid.UUID, amount decimal.Decimal, description, reference string) *Transaction {
	return &Transaction{
		ID:                uuid.New(),
		ReferenceNumber:   reference,
		SenderAccountID:   sender,
		ReceiverAccountID: receiver,
		Amount:            amount,
		Type:              txType,
		Status:            TransactionStatusPending,
		Description:       description,
		FeeAmount:         decimal.Zero,
		CreatedAt:         time.Now().UTC(),
	}
}

// Touches reports whether the transaction debits or credits the account.
func (t *Transaction) Touches(accountID uuid.UUID) bool {
	return sameID(t.SenderAccountID, accountID) || sameID(t.ReceiverAccountID, accountID)
}

// SameParameters reports whether t records the same movement as the given request.
// Used to tell an idempotent retry from a reference collision.
func (t *Transaction) SameParameters(txType TransactionType, sender, receiver *uuid.UUID, amount decimal.Decimal) bool {
	return t.Type == txType &&
		equalIDs(t.SenderAccountID, sender) &&
		equalIDs(t.ReceiverAccountID, receiver) &&
		t.Amount.Equal(amount)
}

func sameID(p *uuid.UUID, id uuid.UUID) bool {
	return p != nil && *p == id
}

func equalIDs(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// idPtr returns a pointer to a copy of id.
func idPtr(id uuid.UUID) *uuid.UUID {
	return &id
}
