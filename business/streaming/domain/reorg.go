package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fd1az/chain-gateway/internal/chain"
)

// DepthUnknown is recorded when a reorg is detected but the divergence point
// could not be established (provider unavailable during walk-back).
const DepthUnknown = -1

// ReorgEvent records one detected chain reorganization.
type ReorgEvent struct {
	Chain          chain.ID
	OldBlockNumber uint64
	OldBlockHash   common.Hash
	NewBlockNumber uint64
	NewBlockHash   common.Hash
	Depth          int // blocks back to the divergence point, or DepthUnknown
	Timestamp      time.Time
}

// TrackingStats summarizes the detector's view of one chain.
type TrackingStats struct {
	Chain      chain.ID
	LastHeight uint64
	LastHash   common.Hash
	EventsSeen uint64
}
