// Package paywall gates priced chapters behind a credit transfer from reader
// to author.
package paywall

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noveletta/backend/internal/models"
	"github.com/noveletta/backend/internal/notify"
	"github.com/noveletta/backend/internal/repository"
)

// ErrChapterNotFound is returned when the chapter id resolves to nothing.
var ErrChapterNotFound = errors.New("chapter not found")

// ChapterStore is the chapter repository subset the service needs.
type ChapterStore interface {
	Create(ctx context.Context, c *models.Chapter) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Chapter, error)
	GetGrant(ctx context.Context, accountID, chapterID uuid.UUID) (*models.ChapterAccessGrant, error)
	InsertGrantTx(ctx context.Context, tx pgx.Tx, g *models.ChapterAccessGrant) error
}

// Ledger is the ledger subset the service needs.
type Ledger interface {
	TransferTx(ctx context.Context, tx pgx.Tx, fromID, toID uuid.UUID, amount int64, debitKind, creditKind, referenceID string) (*models.LedgerEntry, *models.LedgerEntry, error)
}

// TxBeginner abstracts transaction creation so tests don't need a pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Service struct {
	db       TxBeginner
	chapters ChapterStore
	ledger   Ledger
	notify   notify.InsertTxFunc
	log      *slog.Logger
	now      func() time.Time
}

func NewService(db TxBeginner, chapters ChapterStore, ledgerSvc Ledger, notifyFn notify.InsertTxFunc, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		db:       db,
		chapters: chapters,
		ledger:   ledgerSvc,
		notify:   notifyFn,
		log:      log,
		now:      time.Now,
	}
}

// CreateChapter registers a priced chapter for the author.
func (s *Service) CreateChapter(ctx context.Context, authorID uuid.UUID, title string, price int64, freeReleaseAt *time.Time) (*models.Chapter, error) {
	if price < 0 {
		return nil, errors.New("price must not be negative")
	}
	c := &models.Chapter{
		ID:            uuid.New(),
		AuthorID:      authorID,
		Title:         title,
		Price:         price,
		FreeReleaseAt: freeReleaseAt,
	}
	if err := s.chapters.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Unlock grants the reader access to the chapter. Returns the grant and, when
// the unlock was paid, the reader's debit entry. A nil entry means no credits
// moved: the chapter was free, the reader is exempt, or access was already
// granted. A reader who cannot cover the price gets ErrInsufficientBalance
// and their balance is unchanged.
func (s *Service) Unlock(ctx context.Context, readerID uuid.UUID, readerRole string, chapterID uuid.UUID) (*models.ChapterAccessGrant, *models.LedgerEntry, error) {
	// Existing grant: idempotent success without a second debit.
	if g, err := s.chapters.GetGrant(ctx, readerID, chapterID); err == nil {
		return g, nil, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, err
	}

	chapter, err := s.chapters.GetByID(ctx, chapterID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrChapterNotFound
		}
		return nil, nil, err
	}

	if s.isFreeFor(chapter, readerID, readerRole) {
		// Synthetic grant: nothing is persisted and no ledger entry exists.
		return &models.ChapterAccessGrant{
			AccountID: readerID,
			ChapterID: chapterID,
			Price:     0,
			GrantedAt: s.now(),
		}, nil, nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	debit, _, err := s.ledger.TransferTx(ctx, tx, readerID, chapter.AuthorID, chapter.Price,
		models.EntryPurchaseDebit, models.EntryPurchaseCredit, chapterID.String())
	if err != nil {
		return nil, nil, err
	}

	grant := &models.ChapterAccessGrant{
		AccountID: readerID,
		ChapterID: chapterID,
		Price:     chapter.Price,
	}
	if err := s.chapters.InsertGrantTx(ctx, tx, grant); err != nil {
		if errors.Is(err, repository.ErrGrantExists) {
			// Lost a race against a concurrent unlock by the same reader.
			// Roll back the transfer and return the winner's grant.
			_ = tx.Rollback(ctx)
			g, getErr := s.chapters.GetGrant(ctx, readerID, chapterID)
			if getErr != nil {
				return nil, nil, getErr
			}
			return g, nil, nil
		}
		return nil, nil, err
	}

	if err := s.notify(ctx, tx, notify.NotificationArgs{
		AccountID:   chapter.AuthorID,
		Event:       notify.EventChapterSold,
		Credits:     chapter.Price,
		ReferenceID: chapterID.String(),
	}); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return grant, debit, nil
}

// isFreeFor reports whether the reader may access the chapter without paying:
// zero price, scheduled free release in the past, the reader owns the
// chapter, or the reader has an elevated role.
func (s *Service) isFreeFor(c *models.Chapter, readerID uuid.UUID, readerRole string) bool {
	if c.Price == 0 {
		return true
	}
	if c.AuthorID == readerID {
		return true
	}
	if readerRole == models.RoleAdmin {
		return true
	}
	if c.FreeReleaseAt != nil && !s.now().Before(*c.FreeReleaseAt) {
		return true
	}
	return false
}
