// Package memstore is an in-memory ledger store.
//
// It offers the same contract as the Postgres store: exclusive row locks held until the
// end of an atomic unit with a bounded wait, a unique reference index, a non-negative
// balance constraint, and all-or-nothing units. Writes made inside a unit are buffered
// and only become visible to other units on commit.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spbu-ds-practicum-2025/transfer-engine/internal/domain"
)

// Op names a store operation for fault injection.
type Op string

const (
	OpLockAccount    Op = "LockAccount"
	OpApplyDelta     Op = "ApplyBalanceDelta"
	OpInsert         Op = "InsertTransaction"
	OpMarkTerminal   Op = "MarkTerminal"
	OpSumCompleted   Op = "SumCompletedSince"
	OpGetByReference Op = "GetByReference"
	OpEnqueue        Op = "Enqueue"
	OpCommit         Op = "Commit"
)

// unitKey is the key type for storing the active unit in context.
type unitKey struct{}

// Store holds committed ledger state.
type Store struct {
	mu sync.Mutex

	accounts     map[uuid.UUID]*domain.Account
	byNumber     map[string]uuid.UUID
	transactions map[uuid.UUID]*domain.Transaction
	byReference  map[string]uuid.UUID
	txOrder      []uuid.UUID
	outbox       map[uuid.UUID]*domain.OutboxEvent
	outboxOrder  []uuid.UUID

	// References inserted by units that have not finished yet
	reserved map[string]*unit

	rows        map[uuid.UUID]chan struct{}
	lockTimeout time.Duration
	faults      map[Op]error
	logger      *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout bounds how long a unit waits for a row lock. Zero waits until the context ends.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// WithLogger sets the store logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		accounts:     make(map[uuid.UUID]*domain.Account),
		byNumber:     make(map[string]uuid.UUID),
		transactions: make(map[uuid.UUID]*domain.Transaction),
		byReference:  make(map[string]uuid.UUID),
		outbox:       make(map[uuid.UUID]*domain.OutboxEvent),
		reserved:     make(map[string]*unit),
		rows:         make(map[uuid.UUID]chan struct{}),
		lockTimeout:  5 * time.Second,
		faults:       make(map[Op]error),
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailNext makes the next call of op return err. Used to simulate crashes and outages.
func (s *Store) FailNext(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = err
}

func (s *Store) fault(op Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.faults[op]; ok {
		delete(s.faults, op)
		return err
	}
	return nil
}

// Ping always succeeds; it lets the store back the health reporter.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// RunAtomic implements domain.TransactionManager.
// A nested call joins the unit already present in ctx.
func (s *Store) RunAtomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := activeUnit(ctx); ok {
		return fn(ctx)
	}

	u := newUnit(s)
	defer func() {
		if p := recover(); p != nil {
			u.rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, unitKey{}, u)); err != nil {
		u.rollback()
		s.logger.Debug("atomic unit rolled back", zap.Error(err))
		return err
	}

	if err := s.fault(OpCommit); err != nil {
		u.rollback()
		s.logger.Warn("atomic unit commit failed", zap.Error(err))
		return fmt.Errorf("%w: failed to commit unit: %w", domain.ErrStoreUnavailable, err)
	}

	u.commit()
	return nil
}

// rowLock returns the semaphore guarding a row.
func (s *Store) rowLock(id uuid.UUID) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.rows[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.rows[id] = ch
	}
	return ch
}

func activeUnit(ctx context.Context) (*unit, bool) {
	u, ok := ctx.Value(unitKey{}).(*unit)
	return u, ok
}

func requireUnit(ctx context.Context) (*unit, error) {
	u, ok := activeUnit(ctx)
	if !ok {
		return nil, domain.ErrNoActiveUnit
	}
	return u, nil
}

// unit buffers the writes of one atomic unit.
type unit struct {
	store *Store

	held     map[uuid.UUID]chan struct{}
	accounts map[uuid.UUID]*domain.Account
	txns     map[uuid.UUID]*domain.Transaction
	inserted []uuid.UUID
	events   []*domain.OutboxEvent
	updates  []func()
}

func newUnit(s *Store) *unit {
	return &unit{
		store:    s,
		held:     make(map[uuid.UUID]chan struct{}),
		accounts: make(map[uuid.UUID]*domain.Account),
		txns:     make(map[uuid.UUID]*domain.Transaction),
	}
}

// lock acquires the row lock for id, waiting at most the store's lock timeout.
func (u *unit) lock(ctx context.Context, id uuid.UUID) error {
	if _, ok := u.held[id]; ok {
		return nil
	}

	ch := u.store.rowLock(id)

	var timeout <-chan time.Time
	if u.store.lockTimeout > 0 {
		timer := time.NewTimer(u.store.lockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case ch <- struct{}{}:
		u.held[id] = ch
		return nil
	case <-timeout:
		return fmt.Errorf("%w: row %s", domain.ErrLockTimeout, id)
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", domain.ErrLockTimeout, ctx.Err())
	}
}

// tryLock acquires the row lock only if it is free.
func (u *unit) tryLock(id uuid.UUID) bool {
	if _, ok := u.held[id]; ok {
		return true
	}
	ch := u.store.rowLock(id)
	select {
	case ch <- struct{}{}:
		u.held[id] = ch
		return true
	default:
		return false
	}
}

func (u *unit) release() {
	for id, ch := range u.held {
		<-ch
		delete(u.held, id)
	}
}

func (u *unit) commit() {
	s := u.store
	s.mu.Lock()
	for id, acc := range u.accounts {
		s.accounts[id] = acc
	}
	for _, id := range u.inserted {
		txn := u.txns[id]
		s.byReference[txn.ReferenceNumber] = id
		s.txOrder = append(s.txOrder, id)
		delete(s.reserved, txn.ReferenceNumber)
	}
	for id, txn := range u.txns {
		s.transactions[id] = txn
	}
	for _, evt := range u.events {
		s.outbox[evt.ID] = evt
		s.outboxOrder = append(s.outboxOrder, evt.ID)
	}
	for _, apply := range u.updates {
		apply()
	}
	s.mu.Unlock()

	u.release()
}

func (u *unit) rollback() {
	s := u.store
	s.mu.Lock()
	for _, id := range u.inserted {
		if owner, ok := s.reserved[u.txns[id].ReferenceNumber]; ok && owner == u {
			delete(s.reserved, u.txns[id].ReferenceNumber)
		}
	}
	s.mu.Unlock()

	u.release()
}

// Accounts returns the account repository backed by the store.
func (s *Store) Accounts() *AccountRepository {
	return &AccountRepository{store: s}
}

// Transactions returns the transaction repository backed by the store.
func (s *Store) Transactions() *TransactionRepository {
	return &TransactionRepository{store: s}
}

// Outbox returns the outbox repository backed by the store.
func (s *Store) Outbox() *OutboxRepository {
	return &OutboxRepository{store: s}
}
