package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProcessedEventRepo is the idempotency guard: a persistent set of external
// event keys that have already been applied. Claims are made inside the same
// transaction as the ledger mutation they guard, so a crash before commit
// rolls the claim back and the processor's redelivery retries cleanly.
type ProcessedEventRepo struct {
	pool *pgxpool.Pool
}

func NewProcessedEventRepo(pool *pgxpool.Pool) *ProcessedEventRepo {
	return &ProcessedEventRepo{pool: pool}
}

// TryClaimTx inserts the key inside tx. Returns true on the first claim,
// false if the key was already processed. ON CONFLICT keeps a duplicate from
// aborting the surrounding transaction.
func (r *ProcessedEventRepo) TryClaimTx(ctx context.Context, tx pgx.Tx, eventKey string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO processed_events (event_key) VALUES ($1)
		ON CONFLICT (event_key) DO NOTHING
	`, eventKey)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Release removes a claim so a legitimate redelivery can re-apply the event.
// Transactional claims release themselves via rollback; this is for the admin
// reconciliation flow, which frees a refund claim once the deficit is settled.
func (r *ProcessedEventRepo) Release(ctx context.Context, eventKey string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM processed_events WHERE event_key = $1`, eventKey)
	return err
}
