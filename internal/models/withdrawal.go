package models

import (
	"time"

	"github.com/google/uuid"
)

// Withdrawal request statuses. completed and rejected are terminal.
const (
	WithdrawalPending   = "pending"
	WithdrawalApproved  = "approved"
	WithdrawalCompleted = "completed"
	WithdrawalRejected  = "rejected"
)

type WithdrawalRequest struct {
	ID          uuid.UUID  `json:"id"`
	AccountID   uuid.UUID  `json:"account_id"`
	Credits     int64      `json:"credits_requested"`
	AmountMinor int64      `json:"amount_minor_units"`
	Currency    string     `json:"currency"`
	Status      string     `json:"status"`
	AdminID     *uuid.UUID `json:"admin_id,omitempty"`
	AdminNote   string     `json:"admin_note,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
