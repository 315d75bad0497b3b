package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureHeader is the processor's webhook signature header:
// "ts=<unix-ts>;h1=<hex-hmac>" where the HMAC-SHA256 covers
// "{ts}:{rawBody}" keyed by the webhook secret.
const SignatureHeader = "paddle-signature"

var (
	ErrMissingWebhookSecret = errors.New("payments: webhook secret required")
	ErrBadSignature         = errors.New("payments: invalid webhook signature")
)

// WebhookEvent is the pushed event envelope. Data carries the transaction so
// completed events never need a second processor fetch.
type WebhookEvent struct {
	EventType string      `json:"event_type"`
	Data      Transaction `json:"data"`
}

// VerifyWebhookSignature authenticates a raw webhook body against its
// signature header. Comparison is constant-time. Any parse failure degrades
// to ErrBadSignature; nothing about the failing part is leaked.
func VerifyWebhookSignature(secret []byte, header string, rawBody []byte) error {
	if len(secret) == 0 {
		return ErrMissingWebhookSecret
	}

	timestamp, signature := "", ""
	for _, part := range strings.Split(header, ";") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "ts":
			timestamp = value
		case "h1":
			signature = value
		}
	}
	if timestamp == "" || signature == "" {
		return ErrBadSignature
	}

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return ErrBadSignature
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte(":"))
	mac.Write(rawBody)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}

// SignWebhookPayload produces a signature header value for the given body,
// used by tests and local tooling to fabricate deliveries.
func SignWebhookPayload(secret []byte, timestamp string, rawBody []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte(":"))
	mac.Write(rawBody)
	return "ts=" + timestamp + ";h1=" + hex.EncodeToString(mac.Sum(nil))
}
