package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noveletta/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new account with a zero balance.
func (r *Repository) Create(ctx context.Context, email, passwordHash, displayName, role string) (*models.Account, error) {
	a := &models.Account{
		ID:          uuid.New(),
		Email:       email,
		DisplayName: displayName,
		Role:        role,
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, email, display_name, role, password_hash, credit_balance, is_system)
		VALUES ($1, $2, $3, $4, $5, 0, false)
		RETURNING created_at, updated_at
	`, a.ID, email, displayName, role, passwordHash).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetByEmail returns the account and its password hash, or (nil, "", nil)
// when no account matches.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.Account, string, error) {
	var a models.Account
	var passwordHash string
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, display_name, role, credit_balance, password_hash, created_at, updated_at
		FROM accounts WHERE email = $1 AND is_system = false
	`, email).Scan(&a.ID, &a.Email, &a.DisplayName, &a.Role, &a.CreditBalance, &passwordHash, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", nil
		}
		return nil, "", err
	}
	return &a, passwordHash, nil
}
