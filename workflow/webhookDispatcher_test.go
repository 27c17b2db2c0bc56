package workflow

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/erp_backend/models"
)

func TestRetryDelay_ExponentialWithCap(t *testing.T) {
	policy := models.RetryPolicy{
		MaxAttempts:       5,
		InitialDelayMs:    1000,
		MaxDelayMs:        60000,
		BackoffMultiplier: 2.0,
	}
	cases := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{10, 60 * time.Second},
		{0, 1 * time.Second},
	}
	for _, tc := range cases {
		if got := RetryDelay(policy, tc.attempt); got != tc.expected {
			t.Fatalf("RetryDelay(attempt=%d) expected %v, got %v", tc.attempt, tc.expected, got)
		}
	}
}

func TestClassifyResponse(t *testing.T) {
	cases := []struct {
		name       string
		statusCode int
		attempt    int
		expected   DeliveryDecision
	}{
		{"2xx delivers", 200, 1, DecisionDeliver},
		{"204 delivers", 204, 5, DecisionDeliver},
		{"404 abandons immediately", 404, 1, DecisionAbandon},
		{"400 abandons immediately", 400, 1, DecisionAbandon},
		{"408 retries", 408, 1, DecisionRetry},
		{"429 retries", 429, 1, DecisionRetry},
		{"500 retries", 500, 1, DecisionRetry},
		{"503 retries", 503, 4, DecisionRetry},
		{"no response retries", 0, 1, DecisionRetry},
		{"500 at final attempt abandons", 500, 5, DecisionAbandon},
		{"no response at final attempt abandons", 0, 5, DecisionAbandon},
		{"429 at final attempt abandons", 429, 5, DecisionAbandon},
	}
	for _, tc := range cases {
		if got := ClassifyResponse(tc.statusCode, tc.attempt, 5); got != tc.expected {
			t.Fatalf("%s: ClassifyResponse(%d, %d, 5) expected %v, got %v",
				tc.name, tc.statusCode, tc.attempt, tc.expected, got)
		}
	}
}

func TestDeliveryDecision_Terminal(t *testing.T) {
	if !DecisionDeliver.Terminal() {
		t.Fatal("a delivered attempt is terminal")
	}
	if !DecisionAbandon.Terminal() {
		t.Fatal("an abandoned delivery is terminal")
	}
	if DecisionRetry.Terminal() {
		t.Fatal("a retry is not terminal; endpoint counters must not move")
	}
}

// A delivery that fails every attempt is one failed delivery, not one per
// attempt: exactly the final classification is terminal.
func TestExhaustedDeliveryYieldsOneTerminalDecision(t *testing.T) {
	const maxAttempts = 3
	terminal := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ClassifyResponse(500, attempt, maxAttempts).Terminal() {
			terminal++
		}
	}
	if terminal != 1 {
		t.Fatalf("expected exactly one terminal decision across %d failing attempts, got %d", maxAttempts, terminal)
	}
}
