package payments

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrSignatureVerification is returned when a payment event's signature
// header is missing, malformed, stale or does not match the payload. The
// event must be rejected before any side effect.
var ErrSignatureVerification = errors.New("signature verification failed")

// Gateway is the thin adapter to the external card processor: it mints
// intent identifiers and client secrets, and verifies the HMAC signature the
// processor attaches to webhook deliveries.
type Gateway struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

func NewGateway(secret string, tolerance time.Duration) *Gateway {
	return &Gateway{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

// NewIntentID returns a fresh processor-style intent identifier.
func (g *Gateway) NewIntentID() string {
	return "pi_" + randomHex(16)
}

// ClientSecret derives the one-time secret the frontend hands to the
// processor's card widget.
func (g *Gateway) ClientSecret(intentID string) string {
	return intentID + "_secret_" + randomHex(16)
}

// VerifySignature checks a "t=<unix>,v1=<hex hmac>" header against the raw
// payload. The signed string is "<t>.<payload>" so the timestamp cannot be
// swapped onto a replayed body.
func (g *Gateway) VerifySignature(payload []byte, header string) error {
	var ts int64
	var sig []byte
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			parsed, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return ErrSignatureVerification
			}
			ts = parsed
		case "v1":
			decoded, err := hex.DecodeString(v)
			if err != nil {
				return ErrSignatureVerification
			}
			sig = decoded
		}
	}
	if ts == 0 || sig == nil {
		return ErrSignatureVerification
	}

	age := g.now().Sub(time.Unix(ts, 0))
	if age > g.tolerance || age < -g.tolerance {
		return ErrSignatureVerification
	}

	mac := hmac.New(sha256.New, g.secret)
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	if !hmac.Equal(mac.Sum(nil), sig) {
		return ErrSignatureVerification
	}
	return nil
}

// Sign produces a valid signature header for payload at the current time.
// Used by tests and the local processor simulator.
func (g *Gateway) Sign(payload []byte) string {
	ts := g.now().Unix()
	mac := hmac.New(sha256.New, g.secret)
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
