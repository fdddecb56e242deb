package models

import (
	"time"

	"github.com/google/uuid"
)

// Ledger entry kinds. An entry's Amount is signed: negative for the side the
// credits leave, positive for the side they arrive.
const (
	EntryTopUp            = "topup"
	EntryPurchaseDebit    = "purchase_debit"
	EntryPurchaseCredit   = "purchase_credit"
	EntryEscrowLock       = "escrow_lock"
	EntryEscrowRelease    = "escrow_release"
	EntryEscrowReturn     = "escrow_return"
	EntryWithdrawalDebit  = "withdrawal_debit"
	EntryWithdrawalRefund = "withdrawal_refund"
	EntryRefund           = "refund"
)

// LedgerEntry is append-only. Replaying all of an account's entries in order
// from zero must reproduce CreditBalance exactly.
type LedgerEntry struct {
	ID            uuid.UUID `json:"id"`
	AccountID     uuid.UUID `json:"account_id"`
	Kind          string    `json:"kind"`
	Amount        int64     `json:"amount"`
	BalanceBefore int64     `json:"balance_before"`
	BalanceAfter  int64     `json:"balance_after"`
	ReferenceID   string    `json:"reference_id"`
	CreatedAt     time.Time `json:"created_at"`
}
