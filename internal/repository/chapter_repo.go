package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noveletta/backend/internal/models"
)

// ErrGrantExists is returned when inserting a grant that already exists for
// the (account, chapter) pair.
var ErrGrantExists = errors.New("access grant already exists")

type ChapterRepo struct {
	pool *pgxpool.Pool
}

func NewChapterRepo(pool *pgxpool.Pool) *ChapterRepo {
	return &ChapterRepo{pool: pool}
}

func (r *ChapterRepo) Create(ctx context.Context, c *models.Chapter) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO chapters (id, author_id, title, price, free_release_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, c.ID, c.AuthorID, c.Title, c.Price, c.FreeReleaseAt).Scan(&c.CreatedAt)
}

func (r *ChapterRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Chapter, error) {
	var c models.Chapter
	err := r.pool.QueryRow(ctx, `
		SELECT id, author_id, title, price, free_release_at, created_at
		FROM chapters WHERE id = $1
	`, id).Scan(&c.ID, &c.AuthorID, &c.Title, &c.Price, &c.FreeReleaseAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetGrant returns the grant for (accountID, chapterID), or pgx.ErrNoRows.
func (r *ChapterRepo) GetGrant(ctx context.Context, accountID, chapterID uuid.UUID) (*models.ChapterAccessGrant, error) {
	var g models.ChapterAccessGrant
	err := r.pool.QueryRow(ctx, `
		SELECT account_id, chapter_id, price, granted_at
		FROM chapter_access_grants WHERE account_id = $1 AND chapter_id = $2
	`, accountID, chapterID).Scan(&g.AccountID, &g.ChapterID, &g.Price, &g.GrantedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// InsertGrantTx writes the grant inside the purchase transaction so a failed
// transfer never leaves a grant behind, and vice versa.
func (r *ChapterRepo) InsertGrantTx(ctx context.Context, tx pgx.Tx, g *models.ChapterAccessGrant) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO chapter_access_grants (account_id, chapter_id, price)
		VALUES ($1, $2, $3)
		RETURNING granted_at
	`, g.AccountID, g.ChapterID, g.Price).Scan(&g.GrantedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return ErrGrantExists
	}
	return err
}
