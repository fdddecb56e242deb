package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/noveletta/backend/internal/middleware"
	"github.com/noveletta/backend/internal/models"
	"github.com/noveletta/backend/internal/payments"
)

// AccountStore resolves accounts for the dashboard.
type AccountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

// LedgerHistory lists an account's ledger entries and aggregates them by
// reference for auditing.
type LedgerHistory interface {
	ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.LedgerEntry, error)
	SumByReference(ctx context.Context, referenceID string) (map[string]int64, error)
}

// ReconciliationQueue lists unresolved refund deficits and removes them once
// an admin has settled the balance.
type ReconciliationQueue interface {
	List(ctx context.Context) ([]*models.ReconciliationFailure, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.ReconciliationFailure, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// EventReleaser frees an idempotency claim so the payment processor's next
// redelivery of the event is applied instead of ignored.
type EventReleaser interface {
	Release(ctx context.Context, eventKey string) error
}

type Handler struct {
	accounts AccountStore
	entries  LedgerHistory
	recon    ReconciliationQueue
	events   EventReleaser
	log      *slog.Logger
}

func NewHandler(accounts AccountStore, entries LedgerHistory, recon ReconciliationQueue, events EventReleaser, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{accounts: accounts, entries: entries, recon: recon, events: events, log: log}
}

// GetMe handles GET /api/v1/account/me.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	acc, err := h.accounts.GetByID(r.Context(), id.AccountID)
	if err != nil {
		h.log.Error("get account failed", "error", err)
		http.Error(w, `{"error":"account not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":             acc.ID,
		"email":          acc.Email,
		"display_name":   acc.DisplayName,
		"role":           acc.Role,
		"credit_balance": acc.CreditBalance,
	})
}

// ListLedger handles GET /api/v1/ledger — the caller's entry history.
func (h *Handler) ListLedger(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	entries, err := h.entries.ListByAccountID(r.Context(), id.AccountID)
	if err != nil {
		h.log.Error("list ledger failed", "error", err)
		http.Error(w, `{"error":"list ledger failed"}`, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ListReconciliationFailures handles GET /api/v1/admin/reconciliation
// (admin only).
func (h *Handler) ListReconciliationFailures(w http.ResponseWriter, r *http.Request) {
	list, err := h.recon.List(r.Context())
	if err != nil {
		h.log.Error("list reconciliation failures failed", "error", err)
		http.Error(w, `{"error":"list reconciliation failures failed"}`, http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*models.ReconciliationFailure{}
	}
	writeJSON(w, http.StatusOK, list)
}

// EscrowAudit handles GET /api/v1/admin/jobs/{id}/escrow (admin only). Every
// escrow transfer records both of its entries under the job id with the same
// kind, so each kind must sum to zero; a nonzero sum means the ledger lost or
// minted credits for that job.
func (h *Handler) EscrowAudit(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid job id"}`, http.StatusBadRequest)
		return
	}
	sums, err := h.entries.SumByReference(r.Context(), jobID.String())
	if err != nil {
		h.log.Error("escrow audit failed", "job_id", jobID, "error", err)
		http.Error(w, `{"error":"escrow audit failed"}`, http.StatusInternalServerError)
		return
	}
	balanced := true
	for _, sum := range sums {
		if sum != 0 {
			balanced = false
			break
		}
	}
	if sums == nil {
		sums = map[string]int64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":   jobID,
		"sums":     sums,
		"balanced": balanced,
	})
}

// ResolveReconciliation handles POST /api/v1/admin/reconciliation/{id}/resolve
// (admin only). Once the admin has settled the deficit the queue row is
// removed and the refund claim released, so a redelivered refund event can
// debit the restored balance.
func (h *Handler) ResolveReconciliation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid reconciliation id"}`, http.StatusBadRequest)
		return
	}
	failure, err := h.recon.GetByID(r.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		http.Error(w, `{"error":"reconciliation failure not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("get reconciliation failure failed", "id", id, "error", err)
		http.Error(w, `{"error":"resolve failed"}`, http.StatusInternalServerError)
		return
	}
	if err := h.events.Release(r.Context(), payments.RefundEventKey(failure.ExternalID)); err != nil {
		h.log.Error("release refund claim failed", "external_id", failure.ExternalID, "error", err)
		http.Error(w, `{"error":"resolve failed"}`, http.StatusInternalServerError)
		return
	}
	if err := h.recon.Delete(r.Context(), id); err != nil {
		h.log.Error("delete reconciliation failure failed", "id", id, "error", err)
		http.Error(w, `{"error":"resolve failed"}`, http.StatusInternalServerError)
		return
	}
	h.log.Info("reconciliation failure resolved", "id", id, "external_id", failure.ExternalID)
	writeJSON(w, http.StatusOK, map[string]any{"status": "resolved"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
