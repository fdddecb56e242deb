package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noveletta/backend/internal/models"
)

// Repository is the pgx-backed store for accounts and ledger entries. All
// balance mutations run inside a caller-supplied transaction so that the
// entry, the balance update and whatever domain write triggered them commit
// or roll back together.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// BalanceForUpdate locks the account row and returns its current balance.
func (r *Repository) BalanceForUpdate(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, `
		SELECT credit_balance FROM accounts WHERE id = $1 FOR UPDATE
	`, accountID).Scan(&balance)
	return balance, err
}

// AddBalance adds amount to the account and returns the new balance. Call
// after BalanceForUpdate in the same transaction.
func (r *Repository) AddBalance(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64) (int64, error) {
	var newBalance int64
	err := tx.QueryRow(ctx, `
		UPDATE accounts SET credit_balance = credit_balance + $1, updated_at = now()
		WHERE id = $2
		RETURNING credit_balance
	`, amount, accountID).Scan(&newBalance)
	return newBalance, err
}

// SubtractBalance deducts amount only if the balance covers it. The condition
// in the UPDATE is what keeps balances non-negative under concurrency; a
// dropped row means insufficient funds.
func (r *Repository) SubtractBalance(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64) (int64, error) {
	var newBalance int64
	err := tx.QueryRow(ctx, `
		UPDATE accounts SET credit_balance = credit_balance - $1, updated_at = now()
		WHERE id = $2 AND credit_balance >= $1
		RETURNING credit_balance
	`, amount, accountID).Scan(&newBalance)
	if err == pgx.ErrNoRows {
		return 0, ErrInsufficientBalance
	}
	return newBalance, err
}

// InsertEntry appends a ledger entry inside the given transaction.
func (r *Repository) InsertEntry(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error {
	return tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (id, account_id, kind, amount, balance_before, balance_after, reference_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, e.ID, e.AccountID, e.Kind, e.Amount, e.BalanceBefore, e.BalanceAfter, e.ReferenceID).Scan(&e.CreatedAt)
}

// ListByAccountID returns an account's entries, newest first.
func (r *Repository) ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, kind, amount, balance_before, balance_after, reference_id, created_at
		FROM ledger_entries WHERE account_id = $1 ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Kind, &e.Amount, &e.BalanceBefore, &e.BalanceAfter, &e.ReferenceID, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}

// SumByReference returns per-kind signed sums for all entries sharing a
// reference id. Used to check escrow conservation for a job.
func (r *Repository) SumByReference(ctx context.Context, referenceID string) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT kind, COALESCE(SUM(amount), 0)
		FROM ledger_entries WHERE reference_id = $1 GROUP BY kind
	`, referenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sums := make(map[string]int64)
	for rows.Next() {
		var kind string
		var sum int64
		if err := rows.Scan(&kind, &sum); err != nil {
			return nil, err
		}
		sums[kind] = sum
	}
	return sums, rows.Err()
}
