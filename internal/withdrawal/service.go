// Package withdrawal converts credits into admin-reviewed payout requests.
// Credits leave the spendable balance when the request is created, not when
// it is approved, so the same credits cannot back two pending requests.
package withdrawal

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noveletta/backend/internal/models"
	"github.com/noveletta/backend/internal/notify"
)

var (
	// ErrInvalidStateTransition is returned when a review action is attempted
	// from a status that does not permit it (including two admins racing on
	// the same request). State is never mutated.
	ErrInvalidStateTransition = errors.New("invalid withdrawal state transition")
	// ErrRequestNotFound is returned when the request id resolves to nothing.
	ErrRequestNotFound = errors.New("withdrawal request not found")
	// ErrReasonRequired is returned when a rejection carries no admin note.
	ErrReasonRequired = errors.New("rejection reason is required")
)

// Payouts are denominated 1:1 in minor currency units; conversion and FX are
// out of scope.
const (
	minorUnitsPerCredit = 1
	payoutCurrency      = "usd"
)

// Store is the withdrawal repository subset the service needs.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	CreateTx(ctx context.Context, tx pgx.Tx, wr *models.WithdrawalRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.WithdrawalRequest, error)
	UpdateReviewTx(ctx context.Context, tx pgx.Tx, wr *models.WithdrawalRequest) error
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.WithdrawalRequest, error)
	ListPending(ctx context.Context) ([]*models.WithdrawalRequest, error)
}

// Ledger is the ledger subset the service needs.
type Ledger interface {
	CreditTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64, kind, referenceID string) (*models.LedgerEntry, error)
	DebitTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64, kind, referenceID string) (*models.LedgerEntry, error)
}

type Service struct {
	store  Store
	ledger Ledger
	notify notify.InsertTxFunc
	log    *slog.Logger
}

func NewService(store Store, ledgerSvc Ledger, notifyFn notify.InsertTxFunc, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, ledger: ledgerSvc, notify: notifyFn, log: log}
}

// Request creates a pending payout request and debits the credits in the same
// transaction. An insufficient balance fails the whole request.
func (s *Service) Request(ctx context.Context, accountID uuid.UUID, credits int64) (*models.WithdrawalRequest, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	wr := &models.WithdrawalRequest{
		ID:          uuid.New(),
		AccountID:   accountID,
		Credits:     credits,
		AmountMinor: credits * minorUnitsPerCredit,
		Currency:    payoutCurrency,
		Status:      models.WithdrawalPending,
	}
	if _, err := s.ledger.DebitTx(ctx, tx, accountID, credits, models.EntryWithdrawalDebit, wr.ID.String()); err != nil {
		return nil, err
	}
	if err := s.store.CreateTx(ctx, tx, wr); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return wr, nil
}

// Approve marks the request legitimate: pending -> approved. The debit
// already happened on request, so no credits move.
func (s *Service) Approve(ctx context.Context, requestID, adminID uuid.UUID) (*models.WithdrawalRequest, error) {
	return s.review(ctx, requestID, func(ctx context.Context, tx pgx.Tx, wr *models.WithdrawalRequest) error {
		if wr.Status != models.WithdrawalPending {
			return ErrInvalidStateTransition
		}
		wr.Status = models.WithdrawalApproved
		wr.AdminID = &adminID
		return nil
	})
}

// Reject restores the debited credits: pending -> rejected. Terminal.
func (s *Service) Reject(ctx context.Context, requestID, adminID uuid.UUID, reason string) (*models.WithdrawalRequest, error) {
	if reason == "" {
		return nil, ErrReasonRequired
	}
	return s.review(ctx, requestID, func(ctx context.Context, tx pgx.Tx, wr *models.WithdrawalRequest) error {
		if wr.Status != models.WithdrawalPending {
			return ErrInvalidStateTransition
		}
		if _, err := s.ledger.CreditTx(ctx, tx, wr.AccountID, wr.Credits, models.EntryWithdrawalRefund, wr.ID.String()); err != nil {
			return err
		}
		wr.Status = models.WithdrawalRejected
		wr.AdminID = &adminID
		wr.AdminNote = reason
		if err := s.notify(ctx, tx, notify.NotificationArgs{
			AccountID:   wr.AccountID,
			Event:       notify.EventWithdrawalReviewed,
			Credits:     wr.Credits,
			ReferenceID: wr.ID.String(),
		}); err != nil {
			return err
		}
		return nil
	})
}

// MarkCompleted records that the real-currency transfer happened out of band:
// approved -> completed. Terminal, no ledger movement.
func (s *Service) MarkCompleted(ctx context.Context, requestID, adminID uuid.UUID) (*models.WithdrawalRequest, error) {
	return s.review(ctx, requestID, func(ctx context.Context, tx pgx.Tx, wr *models.WithdrawalRequest) error {
		if wr.Status != models.WithdrawalApproved {
			return ErrInvalidStateTransition
		}
		wr.Status = models.WithdrawalCompleted
		wr.AdminID = &adminID
		if err := s.notify(ctx, tx, notify.NotificationArgs{
			AccountID:   wr.AccountID,
			Event:       notify.EventWithdrawalReviewed,
			Credits:     wr.Credits,
			ReferenceID: wr.ID.String(),
		}); err != nil {
			return err
		}
		return nil
	})
}

func (s *Service) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.WithdrawalRequest, error) {
	return s.store.ListByAccount(ctx, accountID)
}

func (s *Service) ListPending(ctx context.Context) ([]*models.WithdrawalRequest, error) {
	return s.store.ListPending(ctx)
}

// review runs fn against the row-locked request and persists the outcome in
// one transaction. The row lock serializes concurrent admin reviews; the
// loser sees the terminal status and gets ErrInvalidStateTransition.
func (s *Service) review(ctx context.Context, requestID uuid.UUID, fn func(ctx context.Context, tx pgx.Tx, wr *models.WithdrawalRequest) error) (*models.WithdrawalRequest, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	wr, err := s.store.GetByIDForUpdate(ctx, tx, requestID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	if err := fn(ctx, tx, wr); err != nil {
		return nil, err
	}
	if err := s.store.UpdateReviewTx(ctx, tx, wr); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return wr, nil
}
