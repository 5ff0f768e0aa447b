package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/beatforge/storefront/internal/apperr"
)

// SignatureHeader carries the hex HMAC-SHA256 of the webhook payload.
const SignatureHeader = "X-Payment-Signature"

// Event types delivered by the gateway.
const (
	EventCheckoutCompleted = "checkout.completed"
	EventCheckoutFailed    = "checkout.failed"
)

// Event is an asynchronous payment notification, keyed by the session
// reference returned at checkout time.
type Event struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	SessionID     string            `json:"session_id"`
	CustomerEmail string            `json:"customer_email"`
	AmountCents   int64             `json:"amount_cents"`
	Lines         []Line            `json:"lines"`
	Metadata      map[string]string `json:"metadata"`
}

// Sign computes the signature for a payload. Exposed for tests and for the
// local gateway stub.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseEvent verifies the payload signature and decodes the event. An invalid
// signature rejects the event outright; nothing is processed.
func ParseEvent(payload []byte, signature, secret string) (Event, error) {
	expected := Sign(payload, secret)
	if signature == "" || !hmac.Equal([]byte(expected), []byte(signature)) {
		return Event{}, apperr.ErrInvalidSignature
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, apperr.Validation("malformed webhook payload")
	}
	if event.SessionID == "" || event.Type == "" {
		return Event{}, apperr.Validation("webhook payload missing session or type")
	}
	return event, nil
}
