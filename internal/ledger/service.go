// Package ledger is the sole authority over account balances. Every credit
// movement in the system goes through Credit, Debit or Transfer, each of
// which appends ledger entries and updates balances in one transaction.
package ledger

import (
	"bytes"
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noveletta/backend/internal/models"
)

var (
	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be a positive integer")
	// ErrInsufficientBalance is returned when a debit exceeds the balance.
	// No partial debit occurs.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Store is the minimal repository interface the service needs. *Repository
// implements it; tests substitute an in-memory version.
type Store interface {
	BalanceForUpdate(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (int64, error)
	AddBalance(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64) (int64, error)
	SubtractBalance(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64) (int64, error)
	InsertEntry(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
}

// TxBeginner opens transactions for the standalone Credit/Debit/Transfer
// variants. *Repository implements it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Service struct {
	store Store
	db    TxBeginner
}

func NewService(store Store, db TxBeginner) *Service {
	return &Service{store: store, db: db}
}

// CreditTx adds amount to the account inside the caller's transaction and
// appends the matching entry.
func (s *Service) CreditTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64, kind, referenceID string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	before, err := s.store.BalanceForUpdate(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	after, err := s.store.AddBalance(ctx, tx, accountID, amount)
	if err != nil {
		return nil, err
	}
	entry := &models.LedgerEntry{
		ID:            uuid.New(),
		AccountID:     accountID,
		Kind:          kind,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		ReferenceID:   referenceID,
	}
	if err := s.store.InsertEntry(ctx, tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// DebitTx removes amount from the account inside the caller's transaction.
// Fails with ErrInsufficientBalance if the balance does not cover it.
func (s *Service) DebitTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64, kind, referenceID string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	before, err := s.store.BalanceForUpdate(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	if before < amount {
		return nil, ErrInsufficientBalance
	}
	after, err := s.store.SubtractBalance(ctx, tx, accountID, amount)
	if err != nil {
		return nil, err
	}
	entry := &models.LedgerEntry{
		ID:            uuid.New(),
		AccountID:     accountID,
		Kind:          kind,
		Amount:        -amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		ReferenceID:   referenceID,
	}
	if err := s.store.InsertEntry(ctx, tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// TransferTx moves amount from one account to another inside the caller's
// transaction: a debit entry of debitKind on the sender and a credit entry of
// creditKind on the receiver, or neither. Rows are locked in byte order of
// the account ids so concurrent opposing transfers cannot deadlock.
func (s *Service) TransferTx(ctx context.Context, tx pgx.Tx, fromID, toID uuid.UUID, amount int64, debitKind, creditKind, referenceID string) (*models.LedgerEntry, *models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, nil, ErrInvalidAmount
	}

	balances := make(map[uuid.UUID]int64, 2)
	for _, id := range lockOrder(fromID, toID) {
		b, err := s.store.BalanceForUpdate(ctx, tx, id)
		if err != nil {
			return nil, nil, err
		}
		balances[id] = b
	}
	if balances[fromID] < amount {
		return nil, nil, ErrInsufficientBalance
	}

	fromAfter, err := s.store.SubtractBalance(ctx, tx, fromID, amount)
	if err != nil {
		return nil, nil, err
	}
	toAfter, err := s.store.AddBalance(ctx, tx, toID, amount)
	if err != nil {
		return nil, nil, err
	}

	debit := &models.LedgerEntry{
		ID:            uuid.New(),
		AccountID:     fromID,
		Kind:          debitKind,
		Amount:        -amount,
		BalanceBefore: balances[fromID],
		BalanceAfter:  fromAfter,
		ReferenceID:   referenceID,
	}
	if err := s.store.InsertEntry(ctx, tx, debit); err != nil {
		return nil, nil, err
	}
	credit := &models.LedgerEntry{
		ID:            uuid.New(),
		AccountID:     toID,
		Kind:          creditKind,
		Amount:        amount,
		BalanceBefore: balances[toID],
		BalanceAfter:  toAfter,
		ReferenceID:   referenceID,
	}
	if err := s.store.InsertEntry(ctx, tx, credit); err != nil {
		return nil, nil, err
	}
	return debit, credit, nil
}

// BalanceTx locks the account row and returns its current balance.
func (s *Service) BalanceTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (int64, error) {
	return s.store.BalanceForUpdate(ctx, tx, accountID)
}

// Credit is the standalone variant of CreditTx: it opens its own transaction.
func (s *Service) Credit(ctx context.Context, accountID uuid.UUID, amount int64, kind, referenceID string) (*models.LedgerEntry, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	entry, err := s.CreditTx(ctx, tx, accountID, amount, kind, referenceID)
	if err != nil {
		return nil, err
	}
	return entry, tx.Commit(ctx)
}

// Debit is the standalone variant of DebitTx.
func (s *Service) Debit(ctx context.Context, accountID uuid.UUID, amount int64, kind, referenceID string) (*models.LedgerEntry, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	entry, err := s.DebitTx(ctx, tx, accountID, amount, kind, referenceID)
	if err != nil {
		return nil, err
	}
	return entry, tx.Commit(ctx)
}

// Transfer is the standalone variant of TransferTx.
func (s *Service) Transfer(ctx context.Context, fromID, toID uuid.UUID, amount int64, debitKind, creditKind, referenceID string) (*models.LedgerEntry, *models.LedgerEntry, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)
	debit, credit, err := s.TransferTx(ctx, tx, fromID, toID, amount, debitKind, creditKind, referenceID)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return debit, credit, nil
}

// lockOrder returns the two account ids sorted by their byte representation.
func lockOrder(a, b uuid.UUID) []uuid.UUID {
	if bytes.Compare(a[:], b[:]) <= 0 {
		return []uuid.UUID{a, b}
	}
	return []uuid.UUID{b, a}
}
