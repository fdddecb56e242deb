package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noveletta/backend/internal/models"
)

type JobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

func (r *JobRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *JobRepo) Create(ctx context.Context, j *models.Job) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, client_id, title, budget, status, escrow_locked)
		VALUES ($1, $2, $3, $4, $5, false)
		RETURNING created_at, updated_at
	`, j.ID, j.ClientID, j.Title, j.Budget, j.Status).Scan(&j.CreatedAt, &j.UpdatedAt)
}

func (r *JobRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return r.scanJob(r.pool.QueryRow(ctx, `
		SELECT id, client_id, freelancer_id, title, budget, status, escrow_locked, created_at, updated_at
		FROM jobs WHERE id = $1
	`, id))
}

// GetByIDForUpdate locks the job row so concurrent lifecycle actions are
// serialized. Call within a transaction.
func (r *JobRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error) {
	return r.scanJob(tx.QueryRow(ctx, `
		SELECT id, client_id, freelancer_id, title, budget, status, escrow_locked, created_at, updated_at
		FROM jobs WHERE id = $1 FOR UPDATE
	`, id))
}

// UpdateStateTx persists a status/escrow/freelancer transition inside tx.
func (r *JobRepo) UpdateStateTx(ctx context.Context, tx pgx.Tx, j *models.Job) error {
	_, err := tx.Exec(ctx, `
		UPDATE jobs SET freelancer_id = $2, status = $3, escrow_locked = $4, updated_at = now()
		WHERE id = $1
	`, j.ID, j.FreelancerID, j.Status, j.EscrowLocked)
	return err
}

func (r *JobRepo) ListByClient(ctx context.Context, clientID uuid.UUID) ([]*models.Job, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, client_id, freelancer_id, title, budget, status, escrow_locked, created_at, updated_at
		FROM jobs WHERE client_id = $1 ORDER BY created_at DESC
	`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Job
	for rows.Next() {
		j, err := r.scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, j)
	}
	return list, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *JobRepo) scanJob(row rowScanner) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.ClientID, &j.FreelancerID, &j.Title, &j.Budget, &j.Status, &j.EscrowLocked, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}
