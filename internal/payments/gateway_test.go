package payments

import (
	"errors"
	"testing"
	"time"
)

func TestVerifySignature(t *testing.T) {
	gw := NewGateway("whsec_test", 5*time.Minute)
	payload := []byte(`{"external_id":"pi_1","status":"succeeded"}`)

	header := gw.Sign(payload)
	if err := gw.VerifySignature(payload, header); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	// A different secret must not verify.
	other := NewGateway("whsec_other", 5*time.Minute)
	if err := other.VerifySignature(payload, header); !errors.Is(err, ErrSignatureVerification) {
		t.Errorf("wrong secret: got %v, want ErrSignatureVerification", err)
	}

	// Tampered payload must not verify.
	if err := gw.VerifySignature([]byte(`{"external_id":"pi_2"}`), header); !errors.Is(err, ErrSignatureVerification) {
		t.Errorf("tampered payload: got %v, want ErrSignatureVerification", err)
	}
}

func TestVerifySignature_StaleTimestamp(t *testing.T) {
	gw := NewGateway("whsec_test", 5*time.Minute)
	payload := []byte(`{}`)

	past := time.Now().Add(-time.Hour)
	gw.now = func() time.Time { return past }
	header := gw.Sign(payload)

	gw.now = time.Now
	if err := gw.VerifySignature(payload, header); !errors.Is(err, ErrSignatureVerification) {
		t.Fatalf("stale timestamp: got %v, want ErrSignatureVerification", err)
	}
}

func TestVerifySignature_MalformedHeader(t *testing.T) {
	gw := NewGateway("whsec_test", 5*time.Minute)
	payload := []byte(`{}`)

	for _, header := range []string{
		"",
		"t=123",
		"v1=deadbeef",
		"t=notanumber,v1=deadbeef",
		"t=123,v1=zz",
	} {
		if err := gw.VerifySignature(payload, header); !errors.Is(err, ErrSignatureVerification) {
			t.Errorf("header %q: got %v, want ErrSignatureVerification", header, err)
		}
	}
}
