package chain

import "testing"

func TestIsValidAddress(t *testing.T) {
	tests := []struct {
		name    string
		chain   ID
		address string
		want    bool
	}{
		{"checksummed", Ethereum, "0x742d35Cc6634C0532925a3b844Bc454e4438f44e", true},
		{"lowercase", Polygon, "0x742d35cc6634c0532925a3b844bc454e4438f44e", true},
		{"no prefix", Ethereum, "742d35Cc6634C0532925a3b844Bc454e4438f44e", true},
		{"too short", Ethereum, "0x742d35", false},
		{"not hex", BSC, "0xZZZd35Cc6634C0532925a3b844Bc454e4438f44e", false},
		{"empty", Ethereum, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidAddress(tt.chain, tt.address); got != tt.want {
				t.Errorf("IsValidAddress(%d, %q) = %v, want %v", tt.chain, tt.address, got, tt.want)
			}
		})
	}
}

func TestDefaultRegistry(t *testing.T) {
	for _, id := range []ID{Ethereum, Optimism, BSC, Polygon, Arbitrum} {
		if !Default().Has(id) {
			t.Errorf("default registry should know chain %d", id)
		}
	}
	if Default().Has(ID(424242)) {
		t.Error("default registry should not know chain 424242")
	}
}
