// Package domain contains the core domain types for the provider context.
package domain

import (
	"time"

	"github.com/fd1az/chain-gateway/internal/chain"
)

// Endpoint is the configuration record for one upstream RPC endpoint.
// Endpoints are loaded once at startup and owned by the provider manager;
// the only mutation after that is explicit activate/deactivate.
type Endpoint struct {
	ID           string
	Chain        chain.ID
	ProviderType string // e.g. "alchemy", "infura", "public"
	HTTPURL      string
	WSURL        string
	APIKey       string
	Priority     int // lower is preferred
	Weight       int // relative weight within a priority tier
	MaxRetries   int
	Timeout      time.Duration
	RateLimit    int // client-side requests per second, 0 = unlimited
	IsActive     bool
}

// SupportsWebSocket reports whether the endpoint exposes a ws transport.
func (e Endpoint) SupportsWebSocket() bool {
	return e.WSURL != ""
}
