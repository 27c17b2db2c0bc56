package models

import "testing"

func TestEffectiveAmountTolerance_Default(t *testing.T) {
	cfg := &ReconciliationAccountConfig{}
	cases := []struct {
		amount          int64
		minorUnitFactor int64
		expected        int64
	}{
		// 1% of 50.00 is below one major unit.
		{5000, 100, 50},
		// 1% of 250.00 exceeds one major unit, so the major unit caps it.
		{25000, 100, 100},
		{-25000, 100, 100},
		{-5000, 100, 50},
		// Zero-decimal currency: factor 1.
		{5000, 1, 1},
		{50, 100, 0},
	}
	for _, tc := range cases {
		if got := cfg.EffectiveAmountTolerance(tc.amount, tc.minorUnitFactor); got != tc.expected {
			t.Fatalf("EffectiveAmountTolerance(%d, %d) expected %d, got %d",
				tc.amount, tc.minorUnitFactor, tc.expected, got)
		}
	}
}

func TestEffectiveAmountTolerance_Override(t *testing.T) {
	override := int64(500)
	cfg := &ReconciliationAccountConfig{AmountTolerance: &override}
	if got := cfg.EffectiveAmountTolerance(25000, 100); got != 500 {
		t.Fatalf("override must win: expected 500, got %d", got)
	}
}

func TestCompositeCursorRoundTrip(t *testing.T) {
	encoded := EncodeCompositeCursor("2026-03-10 09:00:00", "9f0a8a1e-0000-4000-8000-000000000001")
	ts, id := DecodeCompositeCursor(&encoded)
	if ts != "2026-03-10 09:00:00" || id != "9f0a8a1e-0000-4000-8000-000000000001" {
		t.Fatalf("round trip failed: %q %q", ts, id)
	}

	garbage := "not base64!!"
	ts, id = DecodeCompositeCursor(&garbage)
	if ts != "" || id != "" {
		t.Fatalf("garbage cursor must decode to empty pair, got %q %q", ts, id)
	}
	if ts, id = DecodeCompositeCursor(nil); ts != "" || id != "" {
		t.Fatal("nil cursor must decode to empty pair")
	}
}
