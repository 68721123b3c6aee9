// Package domain contains the core domain types for the streaming context.
package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/fd1az/chain-gateway/internal/chain"
)

// EventType names the kinds of upstream streams a subscription can attach to.
type EventType string

const (
	EventNewBlocks EventType = "new_blocks"
	EventLogs      EventType = "logs"
	EventPendingTx EventType = "pending_tx"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventNewBlocks, EventLogs, EventPendingTx:
		return true
	}
	return false
}

// Header is a decoded block header as observed on a stream.
type Header struct {
	Number     uint64
	Hash       common.Hash
	ParentHash common.Hash
	Timestamp  time.Time
}

// Event is one decoded upstream occurrence, fanned out to matching
// subscriptions. Exactly one payload field is set, per Type.
type Event struct {
	Chain chain.ID
	Type  EventType

	Header *Header      // EventNewBlocks
	Log    *types.Log   // EventLogs
	TxHash common.Hash  // EventPendingTx

	ReceivedAt time.Time
}

// LogFilter narrows a log subscription. Empty slices match everything;
// Topics are positional like an eth_getLogs filter, with a nil position
// acting as a wildcard and multiple hashes at a position OR-ed together.
type LogFilter struct {
	Addresses []common.Address
	Topics    [][]common.Hash
}

// Matches reports whether a log passes the filter.
func (f *LogFilter) Matches(log *types.Log) bool {
	if f == nil {
		return true
	}

	if len(f.Addresses) > 0 {
		found := false
		for _, a := range f.Addresses {
			if a == log.Address {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(f.Topics) > len(log.Topics) {
		return false
	}
	for i, alternatives := range f.Topics {
		if len(alternatives) == 0 {
			continue // wildcard position
		}
		found := false
		for _, want := range alternatives {
			if want == log.Topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Callback receives one event. Invoked at-most-once per event, in arrival
// order within a subscription.
type Callback func(Event)

// Subscription is a registered consumer of one (chain, type) stream.
type Subscription struct {
	ID       string
	Chain    chain.ID
	Type     EventType
	Filter   *LogFilter // only for EventLogs
	Callback Callback
}
