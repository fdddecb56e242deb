// Package payments covers the card-processor edge of the credit economy:
// intent creation before the user pays, and the top-up processor that turns
// verified processor events into ledger credits exactly once.
package payments

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noveletta/backend/internal/ledger"
	"github.com/noveletta/backend/internal/models"
	"github.com/noveletta/backend/internal/notify"
)

var (
	// ErrUnknownPackage is returned when an intent references a credit
	// package that does not exist.
	ErrUnknownPackage = errors.New("unknown credit package")
	// ErrUnknownIntent is returned for events referencing no known intent.
	ErrUnknownIntent = errors.New("unknown payment intent")
)

// Event is the verified payload of a processor webhook delivery.
type Event struct {
	ID          string    `json:"id"`
	Type        string    `json:"event_type"`
	ExternalID  string    `json:"external_id"`
	AccountID   uuid.UUID `json:"user_id"`
	AmountMinor int64     `json:"amount_minor_units"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
}

// Event statuses as delivered by the processor.
const (
	EventSucceeded = "succeeded"
	EventFailed    = "failed"
	EventCanceled  = "canceled"
	EventRefunded  = "refunded"
)

// IntentStore is the intent repository subset the service needs.
type IntentStore interface {
	Create(ctx context.Context, pi *models.PaymentIntent) error
	GetByExternalID(ctx context.Context, externalID string) (*models.PaymentIntent, error)
	UpdateStatusTx(ctx context.Context, tx pgx.Tx, externalID, status string) error
	GetPackage(ctx context.Context, packageID string) (*models.CreditPackage, error)
}

// EventGuard deduplicates processor deliveries by a stable key.
type EventGuard interface {
	TryClaimTx(ctx context.Context, tx pgx.Tx, eventKey string) (bool, error)
}

// Ledger is the ledger subset the processor needs.
type Ledger interface {
	CreditTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64, kind, referenceID string) (*models.LedgerEntry, error)
	DebitTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64, kind, referenceID string) (*models.LedgerEntry, error)
	BalanceTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (int64, error)
}

// ReconciliationStore records refund deficits for the admin queue.
type ReconciliationStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, f *models.ReconciliationFailure) error
}

// TxBeginner abstracts transaction creation so tests don't need a pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Service struct {
	db      TxBeginner
	gateway *Gateway
	intents IntentStore
	guard   EventGuard
	ledger  Ledger
	recon   ReconciliationStore
	notify  notify.InsertTxFunc
	log     *slog.Logger
}

func NewService(db TxBeginner, gateway *Gateway, intents IntentStore, guard EventGuard, ledgerSvc Ledger, recon ReconciliationStore, notifyFn notify.InsertTxFunc, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		db:      db,
		gateway: gateway,
		intents: intents,
		guard:   guard,
		ledger:  ledgerSvc,
		recon:   recon,
		notify:  notifyFn,
		log:     log,
	}
}

// CreateIntent registers a pending charge for the given package and returns
// the intent the frontend completes with the processor.
func (s *Service) CreateIntent(ctx context.Context, accountID uuid.UUID, packageID string) (*models.PaymentIntent, string, error) {
	pkg, err := s.intents.GetPackage(ctx, packageID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", ErrUnknownPackage
		}
		return nil, "", err
	}
	if pkg.AmountMinor <= 0 || pkg.Credits <= 0 {
		return nil, "", ledger.ErrInvalidAmount
	}

	pi := &models.PaymentIntent{
		ExternalID:  s.gateway.NewIntentID(),
		AccountID:   accountID,
		AmountMinor: pkg.AmountMinor,
		Currency:    pkg.Currency,
		Status:      models.IntentPending,
		PackageID:   pkg.ID,
		Credits:     pkg.Credits,
	}
	if err := s.intents.Create(ctx, pi); err != nil {
		return nil, "", err
	}
	return pi, s.gateway.ClientSecret(pi.ExternalID), nil
}

// HandleEvent applies a verified processor event. Safe to call any number of
// times with the same delivery: duplicates are recovered locally and reported
// as success.
func (s *Service) HandleEvent(ctx context.Context, ev Event) error {
	intent, err := s.intents.GetByExternalID(ctx, ev.ExternalID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUnknownIntent
		}
		return err
	}

	switch ev.Status {
	case EventSucceeded:
		return s.applyTopUp(ctx, intent)
	case EventFailed, EventCanceled:
		return s.markFailed(ctx, intent)
	case EventRefunded:
		return s.applyRefund(ctx, intent)
	default:
		s.log.Warn("ignoring payment event with unknown status", "status", ev.Status, "external_id", ev.ExternalID)
		return nil
	}
}

// applyTopUp claims the intent id and credits the purchased amount. The claim
// and the credit share one transaction, so a crash before commit releases the
// claim and the processor's redelivery applies it cleanly. Only a pending
// intent is credited: deliveries are unordered, and a success event arriving
// after the refund must not resurrect the settled charge.
func (s *Service) applyTopUp(ctx context.Context, intent *models.PaymentIntent) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	claimed, err := s.guard.TryClaimTx(ctx, tx, intent.ExternalID)
	if err != nil {
		return err
	}
	if !claimed {
		s.log.Info("duplicate topup event ignored", "external_id", intent.ExternalID)
		return nil
	}

	if intent.Status != models.IntentPending {
		// Late success for an already resolved intent. Commit the claim so
		// redeliveries stay no-ops; the terminal status stands.
		s.log.Warn("ignoring success event for resolved intent", "external_id", intent.ExternalID, "status", intent.Status)
		return tx.Commit(ctx)
	}

	if _, err := s.ledger.CreditTx(ctx, tx, intent.AccountID, intent.Credits, models.EntryTopUp, intent.ExternalID); err != nil {
		return err
	}
	if err := s.intents.UpdateStatusTx(ctx, tx, intent.ExternalID, models.IntentSucceeded); err != nil {
		return err
	}
	if err := s.notify(ctx, tx, notify.NotificationArgs{
		AccountID:   intent.AccountID,
		Event:       notify.EventTopUpCredited,
		Credits:     intent.Credits,
		ReferenceID: intent.ExternalID,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Service) markFailed(ctx context.Context, intent *models.PaymentIntent) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	claimed, err := s.guard.TryClaimTx(ctx, tx, "failed:"+intent.ExternalID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	if intent.Status != models.IntentPending {
		// A charge that succeeded or was refunded does not become failed.
		return tx.Commit(ctx)
	}
	if err := s.intents.UpdateStatusTx(ctx, tx, intent.ExternalID, models.IntentFailed); err != nil {
		return err
	}
	if err := s.notify(ctx, tx, notify.NotificationArgs{
		AccountID:   intent.AccountID,
		Event:       notify.EventTopUpFailed,
		ReferenceID: intent.ExternalID,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RefundEventKey is the idempotency key a refund of the given intent claims.
// The admin reconciliation flow releases it once a deficit is settled.
func RefundEventKey(externalID string) string {
	return "refund:" + externalID
}

// applyRefund debits back a previously credited top-up. If the account has
// already spent the credits the debit is not forced: the claim, the intent
// status and a reconciliation queue entry commit instead, and an admin
// resolves the deficit manually. A refund for a still pending intent marks it
// refunded without debiting, since the credit never applied; the status guard
// in applyTopUp then keeps the late success event from crediting it.
func (s *Service) applyRefund(ctx context.Context, intent *models.PaymentIntent) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	claimed, err := s.guard.TryClaimTx(ctx, tx, RefundEventKey(intent.ExternalID))
	if err != nil {
		return err
	}
	if !claimed {
		s.log.Info("duplicate refund event ignored", "external_id", intent.ExternalID)
		return nil
	}

	switch intent.Status {
	case models.IntentPending:
		// Nothing was credited, so there is nothing to debit.
	case models.IntentSucceeded:
		_, err = s.ledger.DebitTx(ctx, tx, intent.AccountID, intent.Credits, models.EntryRefund, intent.ExternalID)
		if err != nil && !errors.Is(err, ledger.ErrInsufficientBalance) {
			return err
		}
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			balance, balErr := s.ledger.BalanceTx(ctx, tx, intent.AccountID)
			if balErr != nil {
				return balErr
			}
			if reconErr := s.recon.CreateTx(ctx, tx, &models.ReconciliationFailure{
				ID:         uuid.New(),
				AccountID:  intent.AccountID,
				ExternalID: intent.ExternalID,
				Credits:    intent.Credits,
				Balance:    balance,
				Note:       "refund exceeds spendable balance",
			}); reconErr != nil {
				return reconErr
			}
			if err := s.notify(ctx, tx, notify.NotificationArgs{
				AccountID:   intent.AccountID,
				Event:       notify.EventReconciliationQueue,
				Credits:     intent.Credits,
				ReferenceID: intent.ExternalID,
			}); err != nil {
				return err
			}
		}
	default:
		// Failed or already refunded intents stay as they are. Commit the
		// claim so redeliveries stay no-ops.
		return tx.Commit(ctx)
	}

	if err := s.intents.UpdateStatusTx(ctx, tx, intent.ExternalID, models.IntentRefunded); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
