package workflow

import (
	"testing"
	"time"
)

func TestSignPayload_RoundTrip(t *testing.T) {
	secret := "0123456789abcdef0123456789abcdef"
	payload := []byte(`{"event":"invoice.paid","amount":125000}`)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	timestamp := now.Unix()

	sig := SignPayload(secret, timestamp, payload)
	if !VerifySignature(secret, timestamp, payload, sig, now) {
		t.Fatal("freshly signed payload must verify")
	}
}

func TestVerifySignature_RejectsTamperedPayload(t *testing.T) {
	secret := "0123456789abcdef0123456789abcdef"
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	timestamp := now.Unix()

	sig := SignPayload(secret, timestamp, []byte(`{"amount":100}`))
	if VerifySignature(secret, timestamp, []byte(`{"amount":999}`), sig, now) {
		t.Fatal("tampered payload must not verify")
	}
}

func TestVerifySignature_RejectsWrongSecret(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	timestamp := now.Unix()
	payload := []byte(`{}`)

	sig := SignPayload("old-secret", timestamp, payload)
	if VerifySignature("new-secret", timestamp, payload, sig, now) {
		t.Fatal("signature under a rotated-out secret must not verify")
	}
}

func TestVerifySignature_RejectsStaleTimestamp(t *testing.T) {
	secret := "0123456789abcdef0123456789abcdef"
	payload := []byte(`{}`)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	stale := now.Add(-SignatureFreshness - time.Second).Unix()
	sig := SignPayload(secret, stale, payload)
	if VerifySignature(secret, stale, payload, sig, now) {
		t.Fatal("stale timestamp must not verify")
	}

	fresh := now.Add(-SignatureFreshness + time.Second).Unix()
	sig = SignPayload(secret, fresh, payload)
	if !VerifySignature(secret, fresh, payload, sig, now) {
		t.Fatal("timestamp within the freshness bound must verify")
	}
}
