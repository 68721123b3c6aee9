// Package provider implements the provider bounded context: the pool of RPC
// endpoints per chain, health tracking and request routing.
package provider

import (
	"context"

	"github.com/fd1az/chain-gateway/business/provider/app"
	providerDI "github.com/fd1az/chain-gateway/business/provider/di"
	"github.com/fd1az/chain-gateway/business/provider/domain"
	"github.com/fd1az/chain-gateway/business/provider/infra/ethrpc"
	"github.com/fd1az/chain-gateway/internal/chain"
	"github.com/fd1az/chain-gateway/internal/config"
	"github.com/fd1az/chain-gateway/internal/di"
	"github.com/fd1az/chain-gateway/internal/logger"
	"github.com/fd1az/chain-gateway/internal/monolith"
)

// Module implements the provider bounded context.
type Module struct{}

// RegisterServices registers all provider services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	// Register ClientDialer (private - internal dependency)
	di.RegisterToken(c, providerDI.ClientDialer, func(sr di.ServiceRegistry) app.ClientDialer {
		return ethrpc.NewDialer()
	})

	// Register ProviderManager (public - exposed to other modules)
	di.RegisterToken(c, providerDI.ProviderManager, func(sr di.ServiceRegistry) *app.Manager {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		dialer := providerDI.GetClientDialer(sr)

		mgrCfg := app.ManagerConfig{
			HealthInterval:     cfg.Provider.HealthInterval,
			DegradedThreshold:  cfg.Provider.DegradedThreshold,
			UnhealthyThreshold: cfg.Provider.UnhealthyThreshold,
			DefaultTimeout:     cfg.Provider.DefaultTimeout,
			DefaultMaxRetries:  cfg.Provider.DefaultMaxRetries,
		}

		mgr, err := app.NewManager(mgrCfg, endpointsFromConfig(cfg), dialer, log)
		if err != nil {
			panic("failed to create provider manager: " + err.Error())
		}
		return mgr
	})

	return nil
}

// Startup initializes the provider module. The manager itself is brought up
// by the gateway, which owns component lifecycle; construction here surfaces
// configuration problems at boot.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	providerDI.GetProviderManager(mono.Services())
	mono.Logger().Info(ctx, "provider module started")
	return nil
}

// endpointsFromConfig flattens the per-chain endpoint configuration into
// domain endpoints.
func endpointsFromConfig(cfg *config.Config) []domain.Endpoint {
	var endpoints []domain.Endpoint
	for _, cc := range cfg.Chains {
		for _, ec := range cc.Endpoints {
			endpoints = append(endpoints, domain.Endpoint{
				ID:           ec.ID,
				Chain:        chain.ID(cc.ChainID),
				ProviderType: ec.ProviderType,
				HTTPURL:      ec.HTTPURL,
				WSURL:        ec.WSURL,
				APIKey:       ec.APIKey,
				Priority:     ec.Priority,
				Weight:       ec.Weight,
				MaxRetries:   ec.MaxRetries,
				Timeout:      ec.Timeout,
				RateLimit:    ec.RateLimit,
				IsActive:     ec.IsActive,
			})
		}
	}
	return endpoints
}
