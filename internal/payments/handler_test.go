package payments

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/noveletta/backend/internal/models"
)

func webhookFixture() (*fixture, *Handler, *Gateway) {
	f := newFixture()
	gw := NewGateway("whsec_test", 5*time.Minute)
	h := NewHandler(f.svc, gw, nil)
	return f, h, gw
}

func postEvent(t *testing.T, h *Handler, gw *Gateway, ev Event, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(payload))
	if sign {
		req.Header.Set(SignatureHeader, gw.Sign(payload))
	}
	rec := httptest.NewRecorder()
	h.Webhook(rec, req)
	return rec
}

func TestWebhook_SignedTopUp(t *testing.T) {
	f, h, gw := webhookFixture()
	acc := uuid.New()
	pi := f.seedIntent(t, acc)

	rec := postEvent(t, h, gw, Event{ID: "evt_1", ExternalID: pi.ExternalID, Status: EventSucceeded}, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	if got := f.ledger.balance(acc); got != pi.Credits {
		t.Errorf("balance: got %d, want %d", got, pi.Credits)
	}
}

func TestWebhook_RejectsUnsignedAndTampered(t *testing.T) {
	f, h, gw := webhookFixture()
	acc := uuid.New()
	pi := f.seedIntent(t, acc)
	ev := Event{ID: "evt_1", ExternalID: pi.ExternalID, Status: EventSucceeded}

	// Missing signature.
	rec := postEvent(t, h, gw, ev, false)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unsigned: status %d, want 400", rec.Code)
	}

	// Signature from a different secret.
	payload, _ := json.Marshal(ev)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(payload))
	req.Header.Set(SignatureHeader, NewGateway("whsec_wrong", 5*time.Minute).Sign(payload))
	rec = httptest.NewRecorder()
	h.Webhook(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("wrong secret: status %d, want 400", rec.Code)
	}

	// No side effects from any rejected delivery.
	if got := f.ledger.balance(acc); got != 0 {
		t.Errorf("balance: got %d, want 0", got)
	}
	if got := f.intents.status(pi.ExternalID); got != models.IntentPending {
		t.Errorf("intent status: got %q, want %q", got, models.IntentPending)
	}
}

func TestWebhook_UnknownIntent(t *testing.T) {
	_, h, gw := webhookFixture()
	rec := postEvent(t, h, gw, Event{ID: "evt_1", ExternalID: "pi_missing", Status: EventSucceeded}, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rec.Code)
	}
}

func TestWebhook_MissingExternalID(t *testing.T) {
	_, h, gw := webhookFixture()
	payload := []byte(fmt.Sprintf(`{"id":"evt_1","status":%q}`, EventSucceeded))
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(payload))
	req.Header.Set(SignatureHeader, gw.Sign(payload))
	rec := httptest.NewRecorder()
	h.Webhook(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want 400", rec.Code)
	}
}
