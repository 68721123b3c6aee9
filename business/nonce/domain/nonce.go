// Package domain contains the core domain types for the nonce context.
package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/chain-gateway/internal/chain"
)

// Record is the cached nonce state for one (chain, address) key. The value is
// monotonically non-decreasing except on explicit reset or on-chain resync.
type Record struct {
	Chain      chain.ID
	Address    common.Address
	Value      uint64
	LastSynced time.Time
}
