package models

import (
	"sync"
	"testing"

	"gorm.io/gorm/schema"
)

func TestNextAttempt(t *testing.T) {
	cases := []struct {
		attempt     int
		maxAttempts int
		expected    int
	}{
		{0, 3, 1},
		{1, 3, 2},
		{2, 3, 3},
		// A reaped delivery re-enters the claim path at the budget; the
		// counter must not run past it.
		{3, 3, 3},
		{5, 3, 3},
	}
	for _, tc := range cases {
		if got := NextAttempt(tc.attempt, tc.maxAttempts); got != tc.expected {
			t.Fatalf("NextAttempt(%d, %d) expected %d, got %d", tc.attempt, tc.maxAttempts, tc.expected, got)
		}
	}
}

// One delivery row per (endpoint, event) pair: the schema itself must refuse
// a second row for the same pair.
func TestWebhookDeliveryEndpointEventUnique(t *testing.T) {
	s, err := schema.Parse(&WebhookDelivery{}, &sync.Map{}, schema.NamingStrategy{})
	if err != nil {
		t.Fatalf("parsing delivery schema: %v", err)
	}
	idx, ok := s.ParseIndexes()["uniq_endpoint_event"]
	if !ok {
		t.Fatal("expected the uniq_endpoint_event index")
	}
	if idx.Class != "UNIQUE" {
		t.Fatalf("expected a unique index, got class %q", idx.Class)
	}
	cols := make(map[string]bool, len(idx.Fields))
	for _, f := range idx.Fields {
		cols[f.DBName] = true
	}
	if !cols["endpoint_id"] || !cols["event_id"] {
		t.Fatalf("expected endpoint_id and event_id in the index, got %v", cols)
	}
}
