// Package chain defines the supported chain identifiers and their metadata.
package chain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ID identifies a blockchain network by its canonical chain id.
type ID uint64

// Supported chain ids.
const (
	Ethereum ID = 1
	Optimism ID = 10
	BSC      ID = 56
	Polygon  ID = 137
	Arbitrum ID = 42161
)

// String returns the chain name when known, otherwise the numeric id.
func (id ID) String() string {
	if info, ok := Default().Get(id); ok {
		return info.Name
	}
	return fmt.Sprintf("chain-%d", uint64(id))
}

// Uint64 returns the raw chain id.
func (id ID) Uint64() uint64 { return uint64(id) }

// Info holds static metadata about a chain.
type Info struct {
	ID           ID
	Name         string
	NativeSymbol string
	BlockTime    time.Duration
	EIP1559      bool // supports base fee + priority fee
}

// IsValidAddress reports whether address is well-formed for the given chain.
// Every supported chain is EVM-compatible, so the rule is a 20-byte hex address.
func IsValidAddress(id ID, address string) bool {
	return common.IsHexAddress(address)
}
