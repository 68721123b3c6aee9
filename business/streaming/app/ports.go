// Package app contains the subscription manager and reorg detector services.
package app

import (
	"context"
	"encoding/json"

	"github.com/fd1az/chain-gateway/business/streaming/domain"
	"github.com/fd1az/chain-gateway/internal/chain"
)

// Stream is one live upstream subscription stream.
type Stream interface {
	Close() error
}

// StreamOpener opens an upstream stream for a (chain, event type) pair and
// delivers raw notification payloads to the handler in arrival order.
// Satisfied by the ethws client.
type StreamOpener interface {
	Open(ctx context.Context, chainID chain.ID, typ domain.EventType, handler func(json.RawMessage)) (Stream, error)
}

// RequestExecutor routes raw JSON-RPC calls to a healthy endpoint of a chain.
// Satisfied by the provider manager.
type RequestExecutor interface {
	ExecuteRequest(ctx context.Context, chainID chain.ID, method string, params ...any) (json.RawMessage, error)
}
