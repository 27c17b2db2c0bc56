package workflow

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Signature headers carried by every outbound webhook request.
const (
	HeaderWebhookSignature = "X-Webhook-Signature"
	HeaderWebhookTimestamp = "X-Webhook-Timestamp"
	HeaderWebhookEvent     = "X-Webhook-Event"
	HeaderWebhookDelivery  = "X-Webhook-Delivery"

	// SignatureFreshness bounds the receiver-side timestamp check.
	SignatureFreshness = 5 * time.Minute
)

// SignPayload computes the hex HMAC-SHA256 of "{timestamp}.{payload}" under
// the endpoint secret.
func SignPayload(secret string, timestamp int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is the receiver-side check: constant-time comparison of the
// full HMAC plus a freshness bound on the signed timestamp.
func VerifySignature(secret string, timestamp int64, payload []byte, signature string, now time.Time) bool {
	drift := now.Unix() - timestamp
	if drift < 0 {
		drift = -drift
	}
	if drift > int64(SignatureFreshness/time.Second) {
		return false
	}
	expected := SignPayload(secret, timestamp, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
