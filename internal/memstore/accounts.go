package memstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/domain"
)

// AccountRepository implements domain.AccountRepository on top of a Store.
type AccountRepository struct {
	store *Store
}

// CreateAccount registers an account, as the onboarding collaborator does.
func (s *Store) CreateAccount(account *domain.Account) error {
	if account.Balance.IsNegative() {
		return fmt.Errorf("%w: opening balance is negative", domain.ErrConstraintViolation)
	}
	if account.DailyTransferLimit.IsNegative() {
		return fmt.Errorf("%w: daily transfer limit is negative", domain.ErrConstraintViolation)
	}
	if strings.TrimSpace(account.AccountNumber) == "" {
		return fmt.Errorf("account number is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[account.ID]; ok {
		return fmt.Errorf("account %s already exists", account.ID)
	}
	if _, ok := s.byNumber[account.AccountNumber]; ok {
		return fmt.Errorf("account number %s already exists", account.AccountNumber)
	}

	cp := *account
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = now
	}
	if cp.Status == "" {
		cp.Status = domain.AccountStatusActive
	}

	s.accounts[cp.ID] = &cp
	s.byNumber[cp.AccountNumber] = cp.ID
	return nil
}

// SetStatus changes the administrative status of an account.
// It takes the row lock, so it serializes with transfers touching the account.
func (s *Store) SetStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus) error {
	return s.RunAtomic(ctx, func(ctx context.Context) error {
		u, _ := activeUnit(ctx)
		if err := u.lock(ctx, id); err != nil {
			return err
		}
		account, ok := u.account(id)
		if !ok {
			return domain.ErrAccountNotFound
		}
		account.Status = status
		account.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// Balance returns the committed balance of an account.
func (s *Store) Balance(id uuid.UUID) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return decimal.Zero, domain.ErrAccountNotFound
	}
	return account.Balance, nil
}

// account returns the unit's working copy of an account row.
// The caller must hold the row lock before mutating it.
func (u *unit) account(id uuid.UUID) (*domain.Account, bool) {
	if account, ok := u.accounts[id]; ok {
		return account, true
	}

	u.store.mu.Lock()
	committed, ok := u.store.accounts[id]
	u.store.mu.Unlock()
	if !ok {
		return nil, false
	}

	cp := *committed
	u.accounts[id] = &cp
	return &cp, true
}

// LockForUpdate acquires the row lock of the account for the rest of the unit.
func (r *AccountRepository) LockForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	u, err := requireUnit(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.store.fault(OpLockAccount); err != nil {
		return nil, err
	}

	// A missing row is reported without waiting, like SELECT ... FOR UPDATE returning no rows
	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}

	if err := u.lock(ctx, id); err != nil {
		return nil, err
	}

	account, ok := u.account(id)
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	cp := *account
	return &cp, nil
}

// GetByID reads an account without locking. Inside a unit the unit's own writes are visible.
func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	if u, ok := activeUnit(ctx); ok {
		if account, ok := u.accounts[id]; ok {
			cp := *account
			return &cp, nil
		}
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	account, ok := r.store.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	cp := *account
	return &cp, nil
}

// GetByNumber reads an account by its external number without locking.
func (r *AccountRepository) GetByNumber(ctx context.Context, number string) (*domain.Account, error) {
	r.store.mu.Lock()
	id, ok := r.store.byNumber[number]
	r.store.mu.Unlock()
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return r.GetByID(ctx, id)
}

// ApplyBalanceDelta adds delta to the balance of the account, locking it if needed.
func (r *AccountRepository) ApplyBalanceDelta(ctx context.Context, id uuid.UUID, delta decimal.Decimal) error {
	u, err := requireUnit(ctx)
	if err != nil {
		return err
	}
	if err := r.store.fault(OpApplyDelta); err != nil {
		return err
	}

	if err := u.lock(ctx, id); err != nil {
		return err
	}

	account, ok := u.account(id)
	if !ok {
		return domain.ErrAccountNotFound
	}

	next := account.Balance.Add(delta)
	if next.IsNegative() {
		return fmt.Errorf("%w: account %s balance would become %s", domain.ErrConstraintViolation, id, next)
	}

	account.Balance = next
	account.UpdatedAt = time.Now().UTC()
	return nil
}
