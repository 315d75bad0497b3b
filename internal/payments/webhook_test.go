package payments

import (
	"errors"
	"testing"
)

func TestVerifyWebhookSignatureAcceptsValidSignature(t *testing.T) {
	secret := []byte("whsec_test")
	body := []byte(`{"event_type":"transaction.completed","data":{"id":"txn_2"}}`)

	header := SignWebhookPayload(secret, "1700000000", body)
	if err := VerifyWebhookSignature(secret, header, body); err != nil {
		t.Fatalf("expected valid signature: %v", err)
	}
}

func TestVerifyWebhookSignatureRejectsTampering(t *testing.T) {
	secret := []byte("whsec_test")
	body := []byte(`{"event_type":"transaction.completed","data":{"id":"txn_2"}}`)
	header := SignWebhookPayload(secret, "1700000000", body)

	altered := append([]byte(nil), body...)
	altered[0] = '['
	if err := VerifyWebhookSignature(secret, header, altered); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature for altered body, got %v", err)
	}

	otherHeader := SignWebhookPayload([]byte("other-secret"), "1700000000", body)
	if err := VerifyWebhookSignature(secret, otherHeader, body); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature for wrong secret, got %v", err)
	}
}

func TestVerifyWebhookSignatureRejectsMalformedHeaders(t *testing.T) {
	secret := []byte("whsec_test")
	body := []byte(`{}`)

	for _, header := range []string{"", "ts=123", "h1=abcd", "ts=123;h1=zz-not-hex", "garbage"} {
		if err := VerifyWebhookSignature(secret, header, body); !errors.Is(err, ErrBadSignature) {
			t.Fatalf("expected ErrBadSignature for header %q, got %v", header, err)
		}
	}
}

func TestVerifyWebhookSignatureRequiresSecret(t *testing.T) {
	if err := VerifyWebhookSignature(nil, "ts=1;h1=ab", []byte("{}")); !errors.Is(err, ErrMissingWebhookSecret) {
		t.Fatalf("expected ErrMissingWebhookSecret, got %v", err)
	}
}
