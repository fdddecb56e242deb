package withdrawal

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/noveletta/backend/internal/ledger"
	"github.com/noveletta/backend/internal/middleware"
	"github.com/noveletta/backend/internal/models"
)

type RequestWithdrawalRequest struct {
	Credits int64 `json:"credits"`
}

type ReviewRequest struct {
	Reason string `json:"reason,omitempty"`
}

type Handler struct {
	svc *Service
	log *slog.Logger
}

func NewHandler(svc *Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// Request handles POST /api/v1/withdrawals.
func (h *Handler) Request(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req RequestWithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	wr, err := h.svc.Request(r.Context(), id.AccountID, req.Credits)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInvalidAmount):
			http.Error(w, `{"error":"credits must be a positive integer"}`, http.StatusBadRequest)
		case errors.Is(err, ledger.ErrInsufficientBalance):
			http.Error(w, `{"error":"insufficient balance"}`, http.StatusPaymentRequired)
		default:
			h.log.Error("withdrawal request failed", "error", err)
			http.Error(w, `{"error":"withdrawal request failed"}`, http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusCreated, wr)
}

// List handles GET /api/v1/withdrawals — the caller's own requests.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	list, err := h.svc.ListByAccount(r.Context(), id.AccountID)
	if err != nil {
		h.log.Error("list withdrawals failed", "error", err)
		http.Error(w, `{"error":"list withdrawals failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ListPending handles GET /api/v1/admin/withdrawals (admin only).
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListPending(r.Context())
	if err != nil {
		h.log.Error("list pending withdrawals failed", "error", err)
		http.Error(w, `{"error":"list pending withdrawals failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Review handles POST /api/v1/admin/withdrawals/{id}/{action} for approve,
// reject and complete (admin only).
func (h *Handler) Review(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	requestID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid request id"}`, http.StatusBadRequest)
		return
	}
	var req ReviewRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
			return
		}
	}

	var wr *models.WithdrawalRequest
	switch r.PathValue("action") {
	case "approve":
		wr, err = h.svc.Approve(r.Context(), requestID, id.AccountID)
	case "reject":
		wr, err = h.svc.Reject(r.Context(), requestID, id.AccountID, req.Reason)
	case "complete":
		wr, err = h.svc.MarkCompleted(r.Context(), requestID, id.AccountID)
	default:
		http.Error(w, `{"error":"unknown review action"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrRequestNotFound):
			http.Error(w, `{"error":"withdrawal request not found"}`, http.StatusNotFound)
		case errors.Is(err, ErrReasonRequired):
			http.Error(w, `{"error":"rejection reason is required"}`, http.StatusBadRequest)
		case errors.Is(err, ErrInvalidStateTransition):
			http.Error(w, `{"error":"invalid state transition"}`, http.StatusConflict)
		default:
			h.log.Error("withdrawal review failed", "request_id", requestID, "error", err)
			http.Error(w, `{"error":"withdrawal review failed"}`, http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, wr)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
