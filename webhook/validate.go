package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrMissingHeader    = errors.New("webhook: missing required header")
	ErrInvalidSignature = errors.New("webhook: invalid signature")
)

// Header names used by the host commerce platform's webhook deliveries.
const (
	HeaderTopic     = "X-Shopify-Topic"
	HeaderShop      = "X-Shopify-Shop-Domain"
	HeaderSignature = "X-Shopify-Hmac-Sha256"
)

// Event is a verified webhook delivery.
type Event struct {
	Topic   string
	Shop    string
	Payload []byte
}

// Validator authenticates webhook deliveries against the shared secret.
type Validator struct {
	secret []byte
}

func NewValidator(secret string) *Validator {
	return &Validator{secret: []byte(secret)}
}

// Validate checks the signature over the raw body and returns the event.
// The payload is never handed to callers unless the signature matched.
func (v *Validator) Validate(body []byte, topic, shop, signature string) (Event, error) {
	if topic == "" {
		return Event{}, fmt.Errorf("%w: %s", ErrMissingHeader, HeaderTopic)
	}
	if shop == "" {
		return Event{}, fmt.Errorf("%w: %s", ErrMissingHeader, HeaderShop)
	}
	if signature == "" {
		return Event{}, fmt.Errorf("%w: %s", ErrMissingHeader, HeaderSignature)
	}

	if subtle.ConstantTimeCompare([]byte(Sign(v.secret, body)), []byte(signature)) != 1 {
		return Event{}, ErrInvalidSignature
	}

	return Event{Topic: topic, Shop: shop, Payload: body}, nil
}

// ValidateRequest validates an incoming HTTP delivery. The caller has
// already read the body; reading it here would interfere with server
// middleware that also needs it.
func (v *Validator) ValidateRequest(r *http.Request, body []byte) (Event, error) {
	return v.Validate(body,
		r.Header.Get(HeaderTopic),
		r.Header.Get(HeaderShop),
		r.Header.Get(HeaderSignature))
}

// Sign computes the base64 HMAC-SHA256 signature the platform sends.
// Exported for tests and outbound verification tooling.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
