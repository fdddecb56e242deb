package models

import (
	"time"

	"github.com/google/uuid"
)

// Payment intent statuses. Pending intents are resolved asynchronously by a
// signed processor event.
const (
	IntentPending   = "pending"
	IntentSucceeded = "succeeded"
	IntentFailed    = "failed"
	IntentRefunded  = "refunded"
)

type PaymentIntent struct {
	ExternalID  string    `json:"external_id"`
	AccountID   uuid.UUID `json:"account_id"`
	AmountMinor int64     `json:"amount_minor_units"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	PackageID   string    `json:"package_id"`
	Credits     int64     `json:"credits"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreditPackage maps a purchasable package to a credit count and its card
// price in minor currency units.
type CreditPackage struct {
	ID          string `json:"id"`
	Credits     int64  `json:"credits"`
	AmountMinor int64  `json:"amount_minor_units"`
	Currency    string `json:"currency"`
}

// ReconciliationFailure records a refund that could not be applied because the
// account had already spent the credits. Never auto-resolved; an admin settles
// it out of band.
type ReconciliationFailure struct {
	ID         uuid.UUID `json:"id"`
	AccountID  uuid.UUID `json:"account_id"`
	ExternalID string    `json:"external_id"`
	Credits    int64     `json:"credits"`
	Balance    int64     `json:"balance_at_failure"`
	Note       string    `json:"note"`
	CreatedAt  time.Time `json:"created_at"`
}
