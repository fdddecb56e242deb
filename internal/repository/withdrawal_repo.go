package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noveletta/backend/internal/models"
)

type WithdrawalRepo struct {
	pool *pgxpool.Pool
}

func NewWithdrawalRepo(pool *pgxpool.Pool) *WithdrawalRepo {
	return &WithdrawalRepo{pool: pool}
}

func (r *WithdrawalRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// CreateTx inserts the request inside the transaction that debits the
// requester, so the request and the debit are one atomic unit.
func (r *WithdrawalRepo) CreateTx(ctx context.Context, tx pgx.Tx, wr *models.WithdrawalRequest) error {
	return tx.QueryRow(ctx, `
		INSERT INTO withdrawal_requests (id, account_id, credits_requested, amount_minor_units, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, wr.ID, wr.AccountID, wr.Credits, wr.AmountMinor, wr.Currency, wr.Status).Scan(&wr.CreatedAt, &wr.UpdatedAt)
}

func (r *WithdrawalRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error) {
	return scanWithdrawal(r.pool.QueryRow(ctx, `
		SELECT id, account_id, credits_requested, amount_minor_units, currency, status, admin_id, admin_note, created_at, updated_at
		FROM withdrawal_requests WHERE id = $1
	`, id))
}

// GetByIDForUpdate locks the request row so two admins cannot review it
// concurrently. Call within a transaction.
func (r *WithdrawalRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.WithdrawalRequest, error) {
	return scanWithdrawal(tx.QueryRow(ctx, `
		SELECT id, account_id, credits_requested, amount_minor_units, currency, status, admin_id, admin_note, created_at, updated_at
		FROM withdrawal_requests WHERE id = $1 FOR UPDATE
	`, id))
}

func (r *WithdrawalRepo) UpdateReviewTx(ctx context.Context, tx pgx.Tx, wr *models.WithdrawalRequest) error {
	_, err := tx.Exec(ctx, `
		UPDATE withdrawal_requests SET status = $2, admin_id = $3, admin_note = $4, updated_at = now()
		WHERE id = $1
	`, wr.ID, wr.Status, wr.AdminID, wr.AdminNote)
	return err
}

func (r *WithdrawalRepo) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.WithdrawalRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, credits_requested, amount_minor_units, currency, status, admin_id, admin_note, created_at, updated_at
		FROM withdrawal_requests WHERE account_id = $1 ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.WithdrawalRequest
	for rows.Next() {
		wr, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, wr)
	}
	return list, rows.Err()
}

// ListPending returns requests awaiting admin review, oldest first.
func (r *WithdrawalRepo) ListPending(ctx context.Context) ([]*models.WithdrawalRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, credits_requested, amount_minor_units, currency, status, admin_id, admin_note, created_at, updated_at
		FROM withdrawal_requests WHERE status = 'pending' ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.WithdrawalRequest
	for rows.Next() {
		wr, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, wr)
	}
	return list, rows.Err()
}

func scanWithdrawal(row rowScanner) (*models.WithdrawalRequest, error) {
	var wr models.WithdrawalRequest
	err := row.Scan(&wr.ID, &wr.AccountID, &wr.Credits, &wr.AmountMinor, &wr.Currency, &wr.Status, &wr.AdminID, &wr.AdminNote, &wr.CreatedAt, &wr.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &wr, nil
}
