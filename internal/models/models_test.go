// internal/models/models_test.go
package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestToFlakes(t *testing.T) {
	cases := []struct {
		amount string
		want   int64
	}{
		{"0", 0},
		{"0.25", 250_000_000},
		{"0.1", 100_000_000},
		{"1.5", 1_500_000_000},
		{"0.000000001", 1},
	}
	for _, tc := range cases {
		got := ToFlakes(decimal.RequireFromString(tc.amount))
		if got != tc.want {
			t.Errorf("ToFlakes(%s) = %d, want %d", tc.amount, got, tc.want)
		}
	}
}

func TestEscrowWalletsActiveAddr(t *testing.T) {
	w := EscrowWallets{AddrA: "E_A", AddrB: "E_B", Active: "A"}
	if w.ActiveAddr() != "E_A" {
		t.Fatalf("active = %s", w.ActiveAddr())
	}
	w.Active = "B"
	if w.ActiveAddr() != "E_B" {
		t.Fatalf("active = %s", w.ActiveAddr())
	}
	if got := w.Candidates(); len(got) != 2 || got[0] != "E_A" || got[1] != "E_B" {
		t.Fatalf("candidates = %v", got)
	}
}
