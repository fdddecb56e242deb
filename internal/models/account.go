package models

import (
	"time"

	"github.com/google/uuid"
)

// Account roles.
const (
	RoleReader = "reader"
	RoleAuthor = "author"
	RoleAdmin  = "admin"
)

// SystemEscrowAccountID is the internal account that holds credits locked
// against jobs. It never belongs to a user; its balance equals the sum of all
// outstanding escrow locks.
var SystemEscrowAccountID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

type Account struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"display_name"`
	Role          string    `json:"role"`
	PasswordHash  string    `json:"-"`
	CreditBalance int64     `json:"credit_balance"`
	IsSystem      bool      `json:"is_system"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
