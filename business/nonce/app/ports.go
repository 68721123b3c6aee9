// Package app contains the nonce manager application service.
package app

import (
	"context"
	"encoding/json"

	"github.com/fd1az/chain-gateway/internal/chain"
)

// RequestExecutor routes raw JSON-RPC calls to a healthy endpoint of a chain.
// Satisfied by the provider manager.
type RequestExecutor interface {
	ExecuteRequest(ctx context.Context, chainID chain.ID, method string, params ...any) (json.RawMessage, error)
}
