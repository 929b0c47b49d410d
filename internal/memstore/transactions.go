package memstore

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/domain"
)

// TransactionRepository implements domain.TransactionRepository on top of a Store.
type TransactionRepository struct {
	store *Store
}

// SeedTransaction stores a committed transaction directly, bypassing the engine.
// Used to load history such as amounts already sent today.
func (s *Store) SeedTransaction(txn *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byReference[txn.ReferenceNumber]; ok {
		return domain.ErrDuplicateReference
	}

	cp := *txn
	s.transactions[cp.ID] = &cp
	s.byReference[cp.ReferenceNumber] = cp.ID
	s.txOrder = append(s.txOrder, cp.ID)
	return nil
}

// TransactionsByStatus returns the committed transactions with the given status.
func (s *Store) TransactionsByStatus(status domain.TransactionStatus) []*domain.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Transaction
	for _, id := range s.txOrder {
		if txn := s.transactions[id]; txn.Status == status {
			cp := *txn
			out = append(out, &cp)
		}
	}
	return out
}

// TransactionCount returns the number of committed transactions.
func (s *Store) TransactionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transactions)
}

// Insert records a PENDING draft. The reference is reserved immediately, so a concurrent
// unit inserting the same reference fails at once instead of waiting for this unit to finish.
func (r *TransactionRepository) Insert(ctx context.Context, txn *domain.Transaction) error {
	u, err := requireUnit(ctx)
	if err != nil {
		return err
	}
	if err := r.store.fault(OpInsert); err != nil {
		return err
	}

	if !txn.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", domain.ErrConstraintViolation)
	}
	if utf8.RuneCountInString(txn.ReferenceNumber) > domain.MaxReferenceLength {
		return fmt.Errorf("%w: reference number too long", domain.ErrInvalidInput)
	}
	if strings.ContainsRune(txn.ReferenceNumber, 0) || strings.ContainsRune(txn.Description, 0) {
		return fmt.Errorf("%w: NUL character in text", domain.ErrInvalidInput)
	}
	if txn.Type == domain.TransactionTypeTransfer && txn.SenderAccountID != nil &&
		txn.ReceiverAccountID != nil && *txn.SenderAccountID == *txn.ReceiverAccountID {
		return fmt.Errorf("%w: sender equals receiver", domain.ErrConstraintViolation)
	}

	r.store.mu.Lock()
	if _, ok := r.store.byReference[txn.ReferenceNumber]; ok {
		r.store.mu.Unlock()
		return domain.ErrDuplicateReference
	}
	if _, ok := r.store.reserved[txn.ReferenceNumber]; ok {
		r.store.mu.Unlock()
		return domain.ErrDuplicateReference
	}
	r.store.reserved[txn.ReferenceNumber] = u
	r.store.mu.Unlock()

	cp := *txn
	u.txns[cp.ID] = &cp
	u.inserted = append(u.inserted, cp.ID)
	return nil
}

// GetByReference returns nil if no committed transaction carries the reference.
func (r *TransactionRepository) GetByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	if err := r.store.fault(OpGetByReference); err != nil {
		return nil, err
	}

	r.store.mu.Lock()
	id, ok := r.store.byReference[reference]
	r.store.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return r.GetByID(ctx, id)
}

// GetByID reads a transaction without locking.
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	if u, ok := activeUnit(ctx); ok {
		if txn, ok := u.txns[id]; ok {
			cp := *txn
			return &cp, nil
		}
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	txn, ok := r.store.transactions[id]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	cp := *txn
	return &cp, nil
}

// LockForUpdate acquires the row lock of a committed transaction.
func (r *TransactionRepository) LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	u, err := requireUnit(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	if err := u.lock(ctx, id); err != nil {
		return nil, err
	}

	txn, ok := u.transaction(id)
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	cp := *txn
	return &cp, nil
}

// SumCompletedSince sums COMPLETED non-reversal amounts sent by the account since the given time.
// Only committed rows and the unit's own writes are visible.
func (r *TransactionRepository) SumCompletedSince(ctx context.Context, accountID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	if err := r.store.fault(OpSumCompleted); err != nil {
		return decimal.Zero, err
	}

	u, _ := activeUnit(ctx)
	sum := decimal.Zero
	visit := func(txn *domain.Transaction) {
		if txn.Status == domain.TransactionStatusCompleted &&
			txn.ReversalOf == nil &&
			txn.SenderAccountID != nil && *txn.SenderAccountID == accountID &&
			!txn.CreatedAt.Before(since) {
			sum = sum.Add(txn.Amount)
		}
	}

	r.store.mu.Lock()
	for id, txn := range r.store.transactions {
		if u != nil {
			if _, shadowed := u.txns[id]; shadowed {
				continue
			}
		}
		visit(txn)
	}
	r.store.mu.Unlock()

	if u != nil {
		for _, txn := range u.txns {
			visit(txn)
		}
	}

	return sum, nil
}

// MarkTerminal moves a transaction to a terminal status, locking it if needed.
func (r *TransactionRepository) MarkTerminal(ctx context.Context, id uuid.UUID, status domain.TransactionStatus, failureReason *string) error {
	u, err := requireUnit(ctx)
	if err != nil {
		return err
	}
	if err := r.store.fault(OpMarkTerminal); err != nil {
		return err
	}

	if err := u.lock(ctx, id); err != nil {
		return err
	}
	txn, ok := u.transaction(id)
	if !ok {
		return domain.ErrTransactionNotFound
	}

	if !txn.Status.CanTransitionTo(status) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, txn.Status, status)
	}

	txn.Status = status
	txn.FailureReason = nil
	if status == domain.TransactionStatusFailed {
		txn.FailureReason = failureReason
	}
	if txn.CompletedAt == nil {
		now := time.Now().UTC()
		txn.CompletedAt = &now
	}
	return nil
}

// ListByAccount returns committed transactions touching the account, newest first.
func (r *TransactionRepository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]*domain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = domain.DefaultHistoryLimit
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	out := make([]*domain.Transaction, 0, limit)
	for i := len(r.store.txOrder) - 1; i >= 0 && len(out) < limit; i-- {
		txn := r.store.transactions[r.store.txOrder[i]]
		if txn.Touches(accountID) {
			cp := *txn
			out = append(out, &cp)
		}
	}
	return out, nil
}

// transaction returns the unit's working copy of a transaction row.
func (u *unit) transaction(id uuid.UUID) (*domain.Transaction, bool) {
	if txn, ok := u.txns[id]; ok {
		return txn, true
	}

	u.store.mu.Lock()
	committed, ok := u.store.transactions[id]
	u.store.mu.Unlock()
	if !ok {
		return nil, false
	}

	cp := *committed
	u.txns[id] = &cp
	return &cp, true
}
