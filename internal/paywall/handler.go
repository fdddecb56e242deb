package paywall

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/noveletta/backend/internal/ledger"
	"github.com/noveletta/backend/internal/middleware"
	"github.com/noveletta/backend/internal/models"
)

// AccountReader resolves the caller's current balance for uncharged unlocks.
type AccountReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

type CreateChapterRequest struct {
	Title         string     `json:"title"`
	Price         int64      `json:"price"`
	FreeReleaseAt *time.Time `json:"free_release_at,omitempty"`
}

type UnlockResponse struct {
	Granted    bool  `json:"granted"`
	Charged    bool  `json:"charged"`
	Price      int64 `json:"price"`
	NewBalance int64 `json:"new_balance"`
}

type Handler struct {
	svc      *Service
	accounts AccountReader
	log      *slog.Logger
}

func NewHandler(svc *Service, accounts AccountReader, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, accounts: accounts, log: log}
}

// CreateChapter handles POST /api/v1/chapters (authors only).
func (h *Handler) CreateChapter(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if id.Role != models.RoleAuthor && id.Role != models.RoleAdmin {
		http.Error(w, `{"error":"author role required"}`, http.StatusForbidden)
		return
	}
	var req CreateChapterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Title == "" || req.Price < 0 {
		http.Error(w, `{"error":"missing or invalid required fields"}`, http.StatusBadRequest)
		return
	}
	chapter, err := h.svc.CreateChapter(r.Context(), id.AccountID, req.Title, req.Price, req.FreeReleaseAt)
	if err != nil {
		h.log.Error("create chapter failed", "error", err)
		http.Error(w, `{"error":"create chapter failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, chapter)
}

// Unlock handles POST /api/v1/chapters/{id}/unlock.
func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	chapterID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid chapter id"}`, http.StatusBadRequest)
		return
	}

	grant, debit, err := h.svc.Unlock(r.Context(), id.AccountID, id.Role, chapterID)
	if err != nil {
		switch {
		case errors.Is(err, ErrChapterNotFound):
			http.Error(w, `{"error":"chapter not found"}`, http.StatusNotFound)
		case errors.Is(err, ledger.ErrInsufficientBalance):
			http.Error(w, `{"error":"insufficient balance"}`, http.StatusPaymentRequired)
		default:
			h.log.Error("unlock failed", "chapter_id", chapterID, "error", err)
			http.Error(w, `{"error":"unlock failed"}`, http.StatusInternalServerError)
		}
		return
	}

	resp := UnlockResponse{Granted: true, Price: grant.Price}
	if debit != nil {
		resp.Charged = true
		resp.NewBalance = debit.BalanceAfter
	} else {
		acc, err := h.accounts.GetByID(r.Context(), id.AccountID)
		if err != nil {
			h.log.Error("load account after unlock failed", "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			return
		}
		resp.NewBalance = acc.CreditBalance
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
