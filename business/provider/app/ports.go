// Package app contains application services and port definitions for the provider context.
package app

import (
	"context"

	"github.com/fd1az/chain-gateway/business/provider/domain"
)

// RPCClient is one dialed upstream JSON-RPC connection.
type RPCClient interface {
	// Call performs a JSON-RPC request, decoding the response into result.
	Call(ctx context.Context, result any, method string, params ...any) error

	// Close releases the connection.
	Close()
}

// ClientDialer dials an endpoint's HTTP transport.
type ClientDialer interface {
	Dial(ctx context.Context, ep domain.Endpoint) (RPCClient, error)
}
