package models

import (
	"time"

	"github.com/google/uuid"
)

// Chapter carries only what the paywall needs: owner, price and an optional
// scheduled free release. Content and rendering live elsewhere.
type Chapter struct {
	ID            uuid.UUID  `json:"id"`
	AuthorID      uuid.UUID  `json:"author_id"`
	Title         string     `json:"title"`
	Price         int64      `json:"price"`
	FreeReleaseAt *time.Time `json:"free_release_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ChapterAccessGrant is written once per (reader, chapter) and never mutated.
type ChapterAccessGrant struct {
	AccountID uuid.UUID `json:"account_id"`
	ChapterID uuid.UUID `json:"chapter_id"`
	Price     int64     `json:"price"`
	GrantedAt time.Time `json:"granted_at"`
}
