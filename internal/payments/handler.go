package payments

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/noveletta/backend/internal/ledger"
	"github.com/noveletta/backend/internal/middleware"
)

// SignatureHeader carries the processor's HMAC signature on webhook deliveries.
const SignatureHeader = "X-Payment-Signature"

type CreateIntentRequest struct {
	PackageID string `json:"package_id"`
}

type CreateIntentResponse struct {
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Credits         int64  `json:"credits"`
}

type Handler struct {
	svc     *Service
	gateway *Gateway
	log     *slog.Logger
}

func NewHandler(svc *Service, gateway *Gateway, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, gateway: gateway, log: log}
}

// CreateIntent handles POST /api/v1/payments/intents.
func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFromCtx(r.Context())
	if id == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req CreateIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.PackageID == "" {
		http.Error(w, `{"error":"package_id is required"}`, http.StatusBadRequest)
		return
	}

	intent, clientSecret, err := h.svc.CreateIntent(r.Context(), id.AccountID, req.PackageID)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownPackage):
			http.Error(w, `{"error":"unknown package"}`, http.StatusBadRequest)
		case errors.Is(err, ledger.ErrInvalidAmount):
			http.Error(w, `{"error":"package amount must be positive"}`, http.StatusBadRequest)
		default:
			h.log.Error("create intent failed", "error", err)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusCreated, CreateIntentResponse{
		PaymentIntentID: intent.ExternalID,
		ClientSecret:    clientSecret,
		Amount:          intent.AmountMinor,
		Currency:        intent.Currency,
		Credits:         intent.Credits,
	})
}

// Webhook handles POST /webhooks/payments — the processor's signed event
// intake. An invalid signature is rejected with 400 before any side effect;
// processing errors return 500 so the processor's own delivery guarantees
// retry the event.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, `{"error":"cannot read body"}`, http.StatusBadRequest)
		return
	}

	if err := h.gateway.VerifySignature(payload, r.Header.Get(SignatureHeader)); err != nil {
		h.log.Warn("rejected payment event", "error", err)
		http.Error(w, `{"error":"signature verification failed"}`, http.StatusBadRequest)
		return
	}

	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if ev.ExternalID == "" {
		http.Error(w, `{"error":"external_id is required"}`, http.StatusBadRequest)
		return
	}

	if err := h.svc.HandleEvent(r.Context(), ev); err != nil {
		if errors.Is(err, ErrUnknownIntent) {
			http.Error(w, `{"error":"unknown payment intent"}`, http.StatusBadRequest)
			return
		}
		h.log.Error("payment event processing failed", "external_id", ev.ExternalID, "error", err)
		http.Error(w, `{"error":"processing failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
