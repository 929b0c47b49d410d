package domain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const (
	// DefaultHistoryLimit is used by ListTransactions when no limit is given.
	DefaultHistoryLimit = 20
	// MaxHistoryLimit caps ListTransactions.
	MaxHistoryLimit = 100
	// MaxReferenceLength is the longest reference number the ledger stores.
	MaxReferenceLength = 64
)

// DefaultMaxTransferAmount is the largest amount accepted in a single movement.
var DefaultMaxTransferAmount = decimal.NewFromInt(1_000_000)

// OutcomeStatus distinguishes business rejections from infrastructure faults.
type OutcomeStatus string

const (
	OutcomeCompleted OutcomeStatus = "COMPLETED"
	OutcomeRejected  OutcomeStatus = "REJECTED"
	OutcomeFailed    OutcomeStatus = "FAILED"
)

// TransferOutcome is the structured result of a transfer attempt.
type TransferOutcome struct {
	Status          OutcomeStatus
	TransactionID   *uuid.UUID
	ReferenceNumber string
	Reason          Reason // Empty when completed
	Message         string
	Retryable       bool // Set on FAILED outcomes the caller may retry with the same reference
	Replayed        bool // The reference was already completed; nothing was executed
	Transaction     *Transaction
}

// Success reports whether the attempt completed.
func (o *TransferOutcome) Success() bool {
	return o != nil && o.Status == OutcomeCompleted
}

// TransferRequest describes a funds transfer between two accounts.
type TransferRequest struct {
	SenderAccountID   uuid.UUID
	ReceiverAccountID uuid.UUID
	Amount            decimal.Decimal
	Description       string
	ReferenceNumber   string
}

// movement is the engine's internal view of a single funds movement.
// A nil sender is a deposit, a nil receiver is a withdrawal.
type movement struct {
	txType      TransactionType
	sender      *uuid.UUID
	receiver    *uuid.UUID
	amount      decimal.Decimal
	description string
	reference   string
	reversalOf  *uuid.UUID
}

func (m *movement) aggregateID() uuid.UUID {
	switch {
	case m.sender != nil:
		return *m.sender
	case m.receiver != nil:
		return *m.receiver
	case m.reversalOf != nil:
		return *m.reversalOf
	}
	return uuid.Nil
}

// matches reports whether a stored transaction is a previous execution of m.
func (m *movement) matches(t *Transaction) bool {
	if m.reversalOf != nil {
		return equalIDs(t.ReversalOf, m.reversalOf)
	}
	return t.ReversalOf == nil && t.SameParameters(m.txType, m.sender, m.receiver, m.amount)
}

// TransferEngine moves money between accounts.
// Every movement runs inside exactly one atomic unit of the ledger store.
type TransferEngine struct {
	accounts     AccountRepository
	transactions TransactionRepository
	outbox       OutboxRepository
	txManager    TransactionManager

	// Optional emitter for events that are not persisted with the ledger (rejections)
	emitter   EventEmitter
	alerts    AlertPolicy
	window    DayWindow
	maxAmount decimal.Decimal
	logger    *zap.Logger
	meter     metric.MeterProvider
	outcomes  metric.Int64Counter
}

// Option configures a TransferEngine.
type Option func(*TransferEngine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *TransferEngine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithEmitter sets the emitter used for rejection and alert events.
func WithEmitter(emitter EventEmitter) Option {
	return func(e *TransferEngine) { e.emitter = emitter }
}

// WithAlertPolicy replaces the default alert policy.
func WithAlertPolicy(policy AlertPolicy) Option {
	return func(e *TransferEngine) { e.alerts = policy }
}

// WithDayWindow sets the daily-limit window.
func WithDayWindow(window DayWindow) Option {
	return func(e *TransferEngine) { e.window = window }
}

// WithMaxAmount sets the per-movement amount cap. Zero disables it.
func WithMaxAmount(amount decimal.Decimal) Option {
	return func(e *TransferEngine) { e.maxAmount = amount }
}

// WithMeterProvider sets the meter provider used for outcome counters.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(e *TransferEngine) { e.meter = provider }
}

// NewTransferEngine creates a new instance of TransferEngine.
// outbox may be nil, in which case completed events are not recorded.
func NewTransferEngine(
	accounts AccountRepository,
	transactions TransactionRepository,
	outbox OutboxRepository,
	txManager TransactionManager,
	opts ...Option,
) (*TransferEngine, error) {
	e := &TransferEngine{
		accounts:     accounts,
		transactions: transactions,
		outbox:       outbox,
		txManager:    txManager,
		alerts:       DefaultAlertPolicy(),
		window:       NewDayWindow(time.UTC),
		maxAmount:    DefaultMaxTransferAmount,
		logger:       zap.NewNop(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.meter == nil {
		e.meter = otel.GetMeterProvider()
	}

	var err error
	e.outcomes, err = e.meter.Meter("transfer-engine").Int64Counter(
		"transfer.outcomes",
		metric.WithDescription("Number of transfer attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create transfer.outcomes counter: %w", err)
	}

	return e, nil
}

// Execute transfers amount from sender to receiver.
//
// The whole protocol runs in one atomic unit:
// 1. Lock both accounts in canonical id order
// 2. Check sender, then receiver, are ACTIVE
// 3. Check balance sufficiency and the daily limit
// 4. Record a PENDING transaction (reference must be unused)
// 5. Debit sender, credit receiver
// 6. Mark the transaction COMPLETED and enqueue its events
//
// Rejections are returned as REJECTED outcomes with a nil error. A non-nil error
// is returned only together with a FAILED outcome.
func (e *TransferEngine) Execute(ctx context.Context, req TransferRequest) (*TransferOutcome, error) {
	mv := &movement{
		txType:      TransactionTypeTransfer,
		sender:      idPtr(req.SenderAccountID),
		receiver:    idPtr(req.ReceiverAccountID),
		amount:      req.Amount,
		description: req.Description,
		reference:   req.ReferenceNumber,
	}

	if req.SenderAccountID == req.ReceiverAccountID {
		return e.rejected(ctx, mv, Reject(ReasonSelfTransferNotAllowed)), nil
	}

	return e.perform(ctx, mv)
}

// Deposit credits an account from outside the ledger.
func (e *TransferEngine) Deposit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description, reference string) (*TransferOutcome, error) {
	return e.perform(ctx, &movement{
		txType:      TransactionTypeDeposit,
		receiver:    idPtr(accountID),
		amount:      amount,
		description: description,
		reference:   reference,
	})
}

// Withdraw debits an account to outside the ledger. Withdrawals count toward the daily limit.
func (e *TransferEngine) Withdraw(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description, reference string) (*TransferOutcome, error) {
	return e.perform(ctx, &movement{
		txType:      TransactionTypeWithdrawal,
		sender:      idPtr(accountID),
		amount:      amount,
		description: description,
		reference:   reference,
	})
}

// Reverse compensates a completed transfer with a new transfer in the opposite direction.
// The original is marked REVERSED in the same unit, after the compensating transfer completes.
func (e *TransferEngine) Reverse(ctx context.Context, originalID uuid.UUID, reference, reason string) (*TransferOutcome, error) {
	mv := &movement{
		txType:      TransactionTypeTransfer,
		description: reversalDescription(originalID, reason),
		reference:   reference,
		reversalOf:  idPtr(originalID),
	}

	if rej := validateReference(reference); rej != nil {
		return e.rejected(ctx, mv, rej), nil
	}
	if rej := validateDescription(mv.description); rej != nil {
		return e.rejected(ctx, mv, rej), nil
	}

	existing, err := e.transactions.GetByReference(ctx, reference)
	if err != nil {
		return e.failed(ctx, mv, fmt.Errorf("failed to check reference: %w", err))
	}
	if existing != nil {
		return e.replayed(ctx, mv, existing)
	}

	var compensating *Transaction
	err = e.txManager.RunAtomic(ctx, func(txCtx context.Context) error {
		original, err := e.transactions.LockForUpdate(txCtx, originalID)
		if errors.Is(err, ErrTransactionNotFound) {
			return Reject(ReasonTransactionNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to lock original transaction: %w", err)
		}

		switch {
		case original.Status == TransactionStatusReversed:
			return Reject(ReasonAlreadyReversed)
		case original.Type != TransactionTypeTransfer,
			original.Status != TransactionStatusCompleted,
			original.ReversalOf != nil:
			return Reject(ReasonNotReversible)
		}

		mv.sender = original.ReceiverAccountID
		mv.receiver = original.SenderAccountID
		mv.amount = original.Amount

		compensating, err = e.apply(txCtx, mv)
		if err != nil {
			return err
		}

		if err := e.transactions.MarkTerminal(txCtx, original.ID, TransactionStatusReversed, nil); err != nil {
			return fmt.Errorf("failed to mark original transaction reversed: %w", err)
		}

		if err := e.enqueueCompleted(txCtx, compensating); err != nil {
			return err
		}

		return e.enqueue(txCtx, EventTransferReversed, original.ID, TransferReversed{
			OriginalTransactionID:     original.ID,
			CompensatingTransactionID: compensating.ID,
			Amount:                    FormatAmount(original.Amount),
			ReferenceNumber:           compensating.ReferenceNumber,
			Reason:                    reason,
			Timestamp:                 time.Now().UTC(),
		})
	})

	return e.conclude(ctx, mv, compensating, err)
}

// ResolveAccountNumber looks up an account by its external number without taking a lock.
func (e *TransferEngine) ResolveAccountNumber(ctx context.Context, number string) (*Account, error) {
	account, err := e.accounts.GetByNumber(ctx, strings.TrimSpace(number))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve account number: %w", err)
	}
	return account, nil
}

// GetAccount retrieves the current state of an account.
func (e *TransferEngine) GetAccount(ctx context.Context, accountID uuid.UUID) (*Account, error) {
	account, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// ListTransactions returns the most recent transactions touching the account.
func (e *TransferEngine) ListTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]*Transaction, error) {
	if _, err := e.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}

	txns, err := e.transactions.ListByAccount(ctx, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txns, nil
}

// perform runs the common flow of transfers, deposits and withdrawals.
func (e *TransferEngine) perform(ctx context.Context, mv *movement) (*TransferOutcome, error) {
	if rej := e.precheck(mv); rej != nil {
		return e.rejected(ctx, mv, rej), nil
	}

	// A retry of a completed reference returns the original outcome without touching the ledger
	existing, err := e.transactions.GetByReference(ctx, mv.reference)
	if err != nil {
		return e.failed(ctx, mv, fmt.Errorf("failed to check reference: %w", err))
	}
	if existing != nil {
		return e.replayed(ctx, mv, existing)
	}

	var txn *Transaction
	err = e.txManager.RunAtomic(ctx, func(txCtx context.Context) error {
		var err error
		txn, err = e.apply(txCtx, mv)
		if err != nil {
			return err
		}
		return e.enqueueCompleted(txCtx, txn)
	})

	return e.conclude(ctx, mv, txn, err)
}

// precheck validates the request before any lock is taken.
func (e *TransferEngine) precheck(mv *movement) *Rejection {
	if err := ValidateAmount(mv.amount, e.maxAmount); err != nil {
		return Rejectf(ReasonInvalidAmount, "Invalid amount: %v", err)
	}
	if rej := validateReference(mv.reference); rej != nil {
		return rej
	}
	return validateDescription(mv.description)
}

// validateReference rejects references the ledger cannot store.
func validateReference(reference string) *Rejection {
	switch {
	case strings.TrimSpace(reference) == "":
		return Reject(ReasonInvalidReference)
	case utf8.RuneCountInString(reference) > MaxReferenceLength:
		return Rejectf(ReasonInvalidReference, "Reference number must be at most %d characters", MaxReferenceLength)
	case !utf8.ValidString(reference), strings.ContainsRune(reference, 0):
		return Rejectf(ReasonInvalidReference, "Reference number contains invalid characters")
	}
	return nil
}

// validateDescription rejects text that the store cannot encode.
func validateDescription(description string) *Rejection {
	if !utf8.ValidString(description) || strings.ContainsRune(description, 0) {
		return Rejectf(ReasonInvalidInput, "Description contains invalid characters")
	}
	return nil
}

// apply executes a movement inside an atomic unit and returns the completed transaction.
func (e *TransferEngine) apply(ctx context.Context, mv *movement) (*Transaction, error) {
	locked, err := e.lockAccounts(ctx, mv.sender, mv.receiver)
	if err != nil {
		return nil, err
	}

	var sender, receiver *Account
	if mv.sender != nil {
		sender = locked[*mv.sender]
		if !sender.IsActive() {
			return nil, Reject(ReasonSenderUnavailable)
		}
	}
	if mv.receiver != nil {
		receiver = locked[*mv.receiver]
		if !receiver.IsActive() {
			return nil, Reject(ReasonReceiverUnavailable)
		}
	}

	if sender != nil {
		if !sender.HasSufficientFunds(mv.amount) {
			return nil, Reject(ReasonInsufficientFunds)
		}
		// Reversals return money already counted against the original sender's limit
		if mv.reversalOf == nil {
			if err := e.checkDailyLimit(ctx, sender, mv.amount); err != nil {
				return nil, err
			}
		}
	}

	txn := NewTransaction(mv.txType, mv.sender, mv.receiver, mv.amount, mv.description, mv.reference)
	txn.ReversalOf = mv.reversalOf

	if err := e.transactions.Insert(ctx, txn); err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			return nil, Reject(ReasonDuplicateReference)
		}
		if errors.Is(err, ErrInvalidInput) {
			return nil, Reject(ReasonInvalidInput)
		}
		return nil, fmt.Errorf("failed to record transaction: %w", err)
	}

	if sender != nil {
		if err := e.accounts.ApplyBalanceDelta(ctx, sender.ID, mv.amount.Neg()); err != nil {
			if errors.Is(err, ErrConstraintViolation) {
				return nil, Reject(ReasonInsufficientFunds)
			}
			return nil, fmt.Errorf("failed to debit sender account: %w", err)
		}
	}
	if receiver != nil {
		if err := e.accounts.ApplyBalanceDelta(ctx, receiver.ID, mv.amount); err != nil {
			return nil, fmt.Errorf("failed to credit receiver account: %w", err)
		}
	}

	if err := e.transactions.MarkTerminal(ctx, txn.ID, TransactionStatusCompleted, nil); err != nil {
		return nil, fmt.Errorf("failed to complete transaction: %w", err)
	}

	completedAt := time.Now().UTC()
	txn.Status = TransactionStatusCompleted
	txn.CompletedAt = &completedAt

	return txn, nil
}

// lockAccounts locks every non-nil account in canonical id order so that opposite-direction
// movements can never deadlock. Missing accounts are left out of the result.
func (e *TransferEngine) lockAccounts(ctx context.Context, ids ...*uuid.UUID) (map[uuid.UUID]*Account, error) {
	ordered := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id != nil {
			ordered = append(ordered, *id)
		}
	}
	slices.SortFunc(ordered, func(a, b uuid.UUID) int {
		return bytes.Compare(a[:], b[:])
	})

	locked := make(map[uuid.UUID]*Account, len(ordered))
	for _, id := range ordered {
		account, err := e.accounts.LockForUpdate(ctx, id)
		if errors.Is(err, ErrAccountNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to lock account %s: %w", id, err)
		}
		locked[id] = account
	}

	return locked, nil
}

func (e *TransferEngine) checkDailyLimit(ctx context.Context, sender *Account, amount decimal.Decimal) error {
	sent, err := e.transactions.SumCompletedSince(ctx, sender.ID, e.window.Start())
	if err != nil {
		return fmt.Errorf("failed to sum daily transfers: %w", err)
	}

	if sent.Add(amount).GreaterThan(sender.DailyTransferLimit) {
		return Rejectf(ReasonDailyLimitExceeded,
			"Daily transfer limit exceeded: %s of %s already used today",
			FormatAmount(sent), FormatAmount(sender.DailyTransferLimit))
	}
	return nil
}

// enqueueCompleted records the completion event and its alerts in the outbox.
func (e *TransferEngine) enqueueCompleted(ctx context.Context, txn *Transaction) error {
	err := e.enqueue(ctx, EventTransferCompleted, txn.ID, TransferCompleted{
		TransactionID:     txn.ID,
		TransactionType:   txn.Type,
		SenderAccountID:   txn.SenderAccountID,
		ReceiverAccountID: txn.ReceiverAccountID,
		Amount:            FormatAmount(txn.Amount),
		ReferenceNumber:   txn.ReferenceNumber,
		Timestamp:         *txn.CompletedAt,
	})
	if err != nil {
		return err
	}

	if txn.ReversalOf != nil {
		return nil
	}

	for _, alert := range e.alerts.ForCompleted(txn) {
		if err := e.enqueue(ctx, EventSecurityAlert, alert.AccountID, alert); err != nil {
			return err
		}
	}
	return nil
}

func (e *TransferEngine) enqueue(ctx context.Context, eventType EventType, aggregateID uuid.UUID, payload any) error {
	if e.outbox == nil {
		return nil
	}

	event, err := NewEvent(eventType, aggregateID, payload)
	if err != nil {
		return err
	}

	if err := e.outbox.Enqueue(ctx, event); err != nil {
		return fmt.Errorf("failed to enqueue %s event: %w", eventType, err)
	}
	return nil
}

// conclude turns the result of an atomic unit into an outcome.
func (e *TransferEngine) conclude(ctx context.Context, mv *movement, txn *Transaction, err error) (*TransferOutcome, error) {
	if err == nil {
		e.logger.Info("transfer completed",
			zap.String("reference", txn.ReferenceNumber),
			zap.String("transaction_id", txn.ID.String()),
			zap.String("type", string(txn.Type)),
			zap.String("amount", FormatAmount(txn.Amount)),
		)
		e.record(ctx, mv, OutcomeCompleted, "")
		return completedOutcome(txn, false), nil
	}

	if rej, ok := AsRejection(err); ok {
		return e.rejected(ctx, mv, rej), nil
	}

	return e.failed(ctx, mv, err)
}

func (e *TransferEngine) replayed(ctx context.Context, mv *movement, existing *Transaction) (*TransferOutcome, error) {
	done := existing.Status == TransactionStatusCompleted || existing.Status == TransactionStatusReversed
	if !done || !mv.matches(existing) {
		return e.rejected(ctx, mv, Reject(ReasonDuplicateReference)), nil
	}

	e.logger.Info("transfer replayed",
		zap.String("reference", existing.ReferenceNumber),
		zap.String("transaction_id", existing.ID.String()),
	)
	e.record(ctx, mv, OutcomeCompleted, "")
	return completedOutcome(existing, true), nil
}

// rejected builds a REJECTED outcome and emits the rejection with any alerts it raises.
// Nothing here may change the outcome.
func (e *TransferEngine) rejected(ctx context.Context, mv *movement, rej *Rejection) *TransferOutcome {
	e.logger.Info("transfer rejected",
		zap.String("reference", mv.reference),
		zap.Stringp("sender_id", idString(mv.sender)),
		zap.Stringp("receiver_id", idString(mv.receiver)),
		zap.String("reason", string(rej.Reason)),
	)
	e.record(ctx, mv, OutcomeRejected, rej.Reason)

	subject := mv.aggregateID()
	e.emit(ctx, EventTransferRejected, subject, TransferRejected{
		TransactionType:   mv.txType,
		Reason:            rej.Reason,
		Message:           rej.Message,
		SenderAccountID:   mv.sender,
		ReceiverAccountID: mv.receiver,
		Amount:            FormatAmount(mv.amount),
		ReferenceNumber:   mv.reference,
		Timestamp:         time.Now().UTC(),
	})

	alerts, err := e.alerts.ForRejected(ctx, subject, mv.amount, mv.reference, rej.Reason)
	if err != nil {
		e.logger.Warn("rejection tracking failed",
			zap.String("reference", mv.reference),
			zap.Error(err),
		)
	}
	for _, alert := range alerts {
		e.logger.Warn("security alert raised",
			zap.String("alert_type", string(alert.AlertType)),
			zap.String("account_id", alert.AccountID.String()),
			zap.String("reference", alert.ReferenceNumber),
		)
		e.emit(ctx, EventSecurityAlert, alert.AccountID, alert)
	}

	return &TransferOutcome{
		Status:          OutcomeRejected,
		ReferenceNumber: mv.reference,
		Reason:          rej.Reason,
		Message:         rej.Message,
	}
}

// failed builds a FAILED outcome for infrastructure faults. The returned error wraps
// ErrLockTimeout or ErrStoreUnavailable.
func (e *TransferEngine) failed(ctx context.Context, mv *movement, err error) (*TransferOutcome, error) {
	outcome := &TransferOutcome{
		Status:          OutcomeFailed,
		ReferenceNumber: mv.reference,
		Retryable:       true,
	}

	switch {
	case errors.Is(err, ErrLockTimeout):
		outcome.Reason = ReasonLockTimeout
	case errors.Is(err, ErrConstraintViolation), errors.Is(err, ErrInvalidTransition):
		outcome.Reason = ReasonConstraintViolation
		outcome.Retryable = false
		err = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	case errors.Is(err, ErrInvalidInput):
		outcome.Reason = ReasonInvalidInput
		outcome.Retryable = false
	case errors.Is(err, ErrStoreUnavailable):
		outcome.Reason = ReasonStoreUnavailable
	default:
		outcome.Reason = ReasonStoreUnavailable
		err = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	outcome.Message = outcome.Reason.Message()

	e.logger.Error("transfer failed",
		zap.String("reference", mv.reference),
		zap.Stringp("sender_id", idString(mv.sender)),
		zap.Stringp("receiver_id", idString(mv.receiver)),
		zap.String("reason", string(outcome.Reason)),
		zap.Error(err),
	)
	e.record(ctx, mv, OutcomeFailed, outcome.Reason)

	return outcome, err
}

func (e *TransferEngine) emit(ctx context.Context, eventType EventType, aggregateID uuid.UUID, payload any) {
	if e.emitter == nil {
		return
	}

	event, err := NewEvent(eventType, aggregateID, payload)
	if err != nil {
		e.logger.Warn("failed to build event", zap.String("event_type", string(eventType)), zap.Error(err))
		return
	}
	e.emitter.Emit(ctx, event)
}

func (e *TransferEngine) record(ctx context.Context, mv *movement, status OutcomeStatus, reason Reason) {
	e.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(status)),
		attribute.String("reason", string(reason)),
		attribute.String("type", string(mv.txType)),
	))
}

func completedOutcome(txn *Transaction, replayed bool) *TransferOutcome {
	id := txn.ID
	return &TransferOutcome{
		Status:          OutcomeCompleted,
		TransactionID:   &id,
		ReferenceNumber: txn.ReferenceNumber,
		Replayed:        replayed,
		Transaction:     txn,
	}
}

func reversalDescription(originalID uuid.UUID, reason string) string {
	if reason == "" {
		return fmt.Sprintf("Reversal of %s", originalID)
	}
	return fmt.Sprintf("Reversal of %s: %s", originalID, reason)
}

func idString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}
