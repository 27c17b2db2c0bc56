package utils

import "testing"

func TestSharedTokenCount(t *testing.T) {
	cases := []struct {
		a, b     string
		expected int
	}{
		{"Acme Corp", "ACME CORP", 2},
		{"Acme Corp.", "acme corp ltd", 2},
		{"John Smith", "Smith, John", 2},
		{"Acme Corp", "Beta Ltd", 0},
		{"", "Acme", 0},
	}
	for _, tc := range cases {
		if got := SharedTokenCount(tc.a, tc.b); got != tc.expected {
			t.Fatalf("SharedTokenCount(%q, %q) expected %d, got %d", tc.a, tc.b, tc.expected, got)
		}
	}
}

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret(32)
	if err != nil {
		t.Fatalf("GenerateSecret error: %v", err)
	}
	if len(a) != 64 {
		t.Fatalf("32 bytes must hex-encode to 64 chars, got %d", len(a))
	}
	b, err := GenerateSecret(32)
	if err != nil {
		t.Fatalf("GenerateSecret error: %v", err)
	}
	if a == b {
		t.Fatal("two secrets must differ")
	}
}
