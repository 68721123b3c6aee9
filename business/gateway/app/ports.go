// Package app contains the chain gateway façade and the health checker.
package app

import (
	"context"
	"encoding/json"

	noncedomain "github.com/fd1az/chain-gateway/business/nonce/domain"
	oracledomain "github.com/fd1az/chain-gateway/business/oracle/domain"
	providerdomain "github.com/fd1az/chain-gateway/business/provider/domain"
	streamingapp "github.com/fd1az/chain-gateway/business/streaming/app"
	streamingdomain "github.com/fd1az/chain-gateway/business/streaming/domain"
	"github.com/fd1az/chain-gateway/internal/chain"
)

// ProviderService is the provider manager as the gateway consumes it.
type ProviderService interface {
	Initialize(ctx context.Context) error
	ExecuteRequest(ctx context.Context, chainID chain.ID, method string, params ...any) (json.RawMessage, error)
	GetProviderHealth(chainID chain.ID) ([]providerdomain.HealthRecord, error)
	GetAllProviderHealth() map[chain.ID][]providerdomain.HealthRecord
	ActivateEndpoint(id string) error
	DeactivateEndpoint(id string) error
	Stop()
}

// GasService is the gas oracle as the gateway consumes it.
type GasService interface {
	GetGasPrice(ctx context.Context, chainID chain.ID) (*oracledomain.Snapshot, error)
	RefreshGasPrice(ctx context.Context, chainID chain.ID) (*oracledomain.Snapshot, error)
	GetGasPriceHistory(chainID chain.ID, limit int) ([]*oracledomain.Snapshot, error)
	Close()
}

// NonceService is the nonce manager as the gateway consumes it.
type NonceService interface {
	GetNonce(ctx context.Context, chainID chain.ID, address string) (uint64, error)
	IncrementNonce(ctx context.Context, chainID chain.ID, address string) (uint64, error)
	ResetNonce(ctx context.Context, chainID chain.ID, address string) error
	SyncNonce(ctx context.Context, chainID chain.ID, address string) (uint64, error)
	Records() []noncedomain.Record
}

// SubscriptionService is the subscription manager as the gateway consumes it.
type SubscriptionService interface {
	Subscribe(ctx context.Context, input streamingapp.SubscribeInput) (string, error)
	Unsubscribe(ctx context.Context, id string) error
	GetActiveSubscriptions() []streamingdomain.Subscription
	ActiveCount() int
	Close() error
}

// ReorgService is the reorg detector as the gateway consumes it.
type ReorgService interface {
	Start(ctx context.Context, chains []chain.ID) error
	OnReorg(cb func(streamingdomain.ReorgEvent))
	GetReorgHistory(chainID chain.ID, limit int) ([]streamingdomain.ReorgEvent, error)
	Stats(chainID chain.ID) streamingdomain.TrackingStats
	Stop()
}
