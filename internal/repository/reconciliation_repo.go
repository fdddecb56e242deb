package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noveletta/backend/internal/models"
)

// ReconciliationRepo persists refund deficits for the admin queue.
type ReconciliationRepo struct {
	pool *pgxpool.Pool
}

func NewReconciliationRepo(pool *pgxpool.Pool) *ReconciliationRepo {
	return &ReconciliationRepo{pool: pool}
}

// CreateTx records the deficit inside the transaction that claims the refund
// event, so the claim and the queue entry commit together.
func (r *ReconciliationRepo) CreateTx(ctx context.Context, tx pgx.Tx, f *models.ReconciliationFailure) error {
	return tx.QueryRow(ctx, `
		INSERT INTO reconciliation_failures (id, account_id, external_id, credits, balance_at_failure, note)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, f.ID, f.AccountID, f.ExternalID, f.Credits, f.Balance, f.Note).Scan(&f.CreatedAt)
}

func (r *ReconciliationRepo) List(ctx context.Context) ([]*models.ReconciliationFailure, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, external_id, credits, balance_at_failure, note, created_at
		FROM reconciliation_failures ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.ReconciliationFailure
	for rows.Next() {
		var f models.ReconciliationFailure
		if err := rows.Scan(&f.ID, &f.AccountID, &f.ExternalID, &f.Credits, &f.Balance, &f.Note, &f.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &f)
	}
	return list, rows.Err()
}

func (r *ReconciliationRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.ReconciliationFailure, error) {
	var f models.ReconciliationFailure
	err := r.pool.QueryRow(ctx, `
		SELECT id, account_id, external_id, credits, balance_at_failure, note, created_at
		FROM reconciliation_failures WHERE id = $1
	`, id).Scan(&f.ID, &f.AccountID, &f.ExternalID, &f.Credits, &f.Balance, &f.Note, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// Delete removes a resolved deficit from the queue.
func (r *ReconciliationRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM reconciliation_failures WHERE id = $1`, id)
	return err
}
