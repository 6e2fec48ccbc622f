package store

import (
	"testing"

	"github.com/atmx/staking-pool/internal/model"
)

func TestParseEntryAmounts(t *testing.T) {
	tests := []struct {
		name                      string
		requested, amount, reward string
		wantErr                   bool
	}{
		{"valid", "100", "97", "0", false},
		{"bad requested", "abc", "97", "0", true},
		{"bad amount", "100", "", "0", true},
		{"bad reward", "100", "97", "1e", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e model.LedgerEntry
			e.ID = "e1"
			err := parseEntryAmounts(&e, tt.requested, tt.amount, tt.reward)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if e.Amount.String() != "97" || e.Requested.String() != "100" {
				t.Errorf("unexpected amounts: %s / %s", e.Requested, e.Amount)
			}
		})
	}
}
