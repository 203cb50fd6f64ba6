package token

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestRegistryLookup_CaseInsensitive(t *testing.T) {
	r := DefaultRegistry()
	sol, ok := r.Lookup(" sol ")
	if !ok {
		t.Fatalf("expected SOL in default registry")
	}
	if sol.Decimals != 9 || !sol.Native {
		t.Errorf("unexpected SOL metadata: %+v", sol)
	}
	if _, ok := r.ByMint(sol.Mint); !ok {
		t.Errorf("expected lookup by mint to succeed")
	}
	if _, err := r.MustLookup("NOPE"); err == nil {
		t.Errorf("expected error for unknown token")
	}
}

func TestToAtomic(t *testing.T) {
	usdc, _ := DefaultRegistry().Lookup("USDC")

	got, err := usdc.ToAtomic(decimal.RequireFromString("95.1234567"))
	if err != nil {
		t.Fatalf("ToAtomic returned error: %v", err)
	}
	if got != 95123456 {
		t.Errorf("expected floor to 95123456, got %d", got)
	}
	if !usdc.FromAtomic(got).Equal(decimal.RequireFromString("95.123456")) {
		t.Errorf("FromAtomic mismatch: %s", usdc.FromAtomic(got))
	}

	if _, err := usdc.ToAtomic(decimal.RequireFromString("0.0000001")); err == nil {
		t.Errorf("expected dust amount to be rejected")
	}
	if _, err := usdc.ToAtomic(decimal.Zero); err == nil {
		t.Errorf("expected zero amount to be rejected")
	}
}
