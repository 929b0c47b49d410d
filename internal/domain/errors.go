package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAccountNotFound is returned when an account doesn't exist
	ErrAccountNotFound = errors.New("account not found")

	// ErrTransactionNotFound is returned when a transaction doesn't exist
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrDuplicateReference is returned by the store when a reference number is already taken
	ErrDuplicateReference = errors.New("duplicate reference number")

	// ErrConstraintViolation is returned when a balance delta would drive a balance negative
	ErrConstraintViolation = errors.New("balance constraint violation")

	// ErrLockTimeout is returned when a row lock cannot be acquired within the bounded wait
	ErrLockTimeout = errors.New("lock wait timeout")

	// ErrStoreUnavailable wraps infrastructure faults of the ledger store
	ErrStoreUnavailable = errors.New("ledger store unavailable")

	// ErrInvalidTransition is returned when a transaction status change is not allowed
	ErrInvalidTransition = errors.New("invalid transaction status transition")

	// ErrInvalidInput is returned when the store refuses a value supplied by the caller,
	// such as text that is too long or not encodable. Retrying cannot succeed.
	ErrInvalidInput = errors.New("value rejected by the ledger store")

	// ErrNoActiveUnit is returned when a write is attempted outside RunAtomic
	ErrNoActiveUnit = errors.New("write attempted outside an atomic unit")
)

// Reason is a stable machine-readable code carried by rejected and failed outcomes.
type Reason string

const (
	ReasonSenderUnavailable      Reason = "SENDER_UNAVAILABLE"
	ReasonReceiverUnavailable    Reason = "RECEIVER_UNAVAILABLE"
	ReasonSelfTransferNotAllowed Reason = "SELF_TRANSFER_NOT_ALLOWED"
	ReasonInvalidAmount          Reason = "INVALID_AMOUNT"
	ReasonInvalidReference       Reason = "INVALID_REFERENCE"
	ReasonInvalidInput           Reason = "INVALID_INPUT"
	ReasonInsufficientFunds      Reason = "INSUFFICIENT_FUNDS"
	ReasonDailyLimitExceeded     Reason = "DAILY_LIMIT_EXCEEDED"
	ReasonDuplicateReference     Reason = "DUPLICATE_REFERENCE"
	ReasonTransactionNotFound    Reason = "TRANSACTION_NOT_FOUND"
	ReasonNotReversible          Reason = "NOT_REVERSIBLE"
	ReasonAlreadyReversed        Reason = "ALREADY_REVERSED"
	ReasonLockTimeout            Reason = "LOCK_TIMEOUT"
	ReasonConstraintViolation    Reason = "CONSTRAINT_VIOLATION"
	ReasonStoreUnavailable       Reason = "STORE_UNAVAILABLE"
)

var reasonMessages = map[Reason]string{
	ReasonSenderUnavailable:      "Sender account not found or not active",
	ReasonReceiverUnavailable:    "Receiver account not found or not active",
	ReasonSelfTransferNotAllowed: "Cannot transfer to the same account",
	ReasonInvalidAmount:          "Amount must be positive, have at most 2 decimal places and not exceed the maximum transfer amount",
	ReasonInvalidReference:       "Reference number is required",
	ReasonInvalidInput:           "Request contains a value the ledger cannot store",
	ReasonInsufficientFunds:      "Insufficient balance",
	ReasonDailyLimitExceeded:     "Daily transfer limit exceeded",
	ReasonDuplicateReference:     "Reference number already used",
	ReasonTransactionNotFound:    "Transaction not found",
	ReasonNotReversible:          "Only completed transfers can be reversed",
	ReasonAlreadyReversed:        "Transaction has already been reversed",
	ReasonLockTimeout:            "Account is busy, retry later",
	ReasonConstraintViolation:    "Ledger constraint violated",
	ReasonStoreUnavailable:       "Ledger temporarily unavailable",
}

// Message returns the human-readable text for the reason.
func (r Reason) Message() string {
	if msg, ok := reasonMessages[r]; ok {
		return msg
	}
	return string(r)
}

// Rejection is a business rejection raised inside an atomic unit.
// Returning it from the unit rolls back every write made so far.
type Rejection struct {
	Reason  Reason
	Message string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Reason, r.Message)
}

// Reject creates a Rejection with the default message for the reason.
func Reject(reason Reason) *Rejection {
	return &Rejection{Reason: reason, Message: reason.Message()}
}

// Rejectf creates a Rejection with a formatted message.
func Rejectf(reason Reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// AsRejection extracts a Rejection from err, if any.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
