package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noveletta/backend/internal/models"
)

type PaymentIntentRepo struct {
	pool *pgxpool.Pool
}

func NewPaymentIntentRepo(pool *pgxpool.Pool) *PaymentIntentRepo {
	return &PaymentIntentRepo{pool: pool}
}

func (r *PaymentIntentRepo) Create(ctx context.Context, pi *models.PaymentIntent) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO payment_intents (external_id, account_id, amount_minor_units, currency, status, package_id, credits)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, pi.ExternalID, pi.AccountID, pi.AmountMinor, pi.Currency, pi.Status, pi.PackageID, pi.Credits).Scan(&pi.CreatedAt, &pi.UpdatedAt)
}

func (r *PaymentIntentRepo) GetByExternalID(ctx context.Context, externalID string) (*models.PaymentIntent, error) {
	var pi models.PaymentIntent
	err := r.pool.QueryRow(ctx, `
		SELECT external_id, account_id, amount_minor_units, currency, status, package_id, credits, created_at, updated_at
		FROM payment_intents WHERE external_id = $1
	`, externalID).Scan(&pi.ExternalID, &pi.AccountID, &pi.AmountMinor, &pi.Currency, &pi.Status, &pi.PackageID, &pi.Credits, &pi.CreatedAt, &pi.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &pi, nil
}

// UpdateStatusTx resolves the intent inside the transaction that applies the
// matching ledger mutation.
func (r *PaymentIntentRepo) UpdateStatusTx(ctx context.Context, tx pgx.Tx, externalID, status string) error {
	_, err := tx.Exec(ctx, `
		UPDATE payment_intents SET status = $2, updated_at = now() WHERE external_id = $1
	`, externalID, status)
	return err
}

// GetPackage returns a purchasable credit package by id.
func (r *PaymentIntentRepo) GetPackage(ctx context.Context, packageID string) (*models.CreditPackage, error) {
	var p models.CreditPackage
	err := r.pool.QueryRow(ctx, `
		SELECT id, credits, amount_minor_units, currency FROM credit_packages WHERE id = $1
	`, packageID).Scan(&p.ID, &p.Credits, &p.AmountMinor, &p.Currency)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
