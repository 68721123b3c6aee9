// Package gateway implements the chain gateway façade bounded context.
package gateway

import (
	"context"

	"github.com/fd1az/chain-gateway/business/gateway/app"
	gatewayDI "github.com/fd1az/chain-gateway/business/gateway/di"
	nonceDI "github.com/fd1az/chain-gateway/business/nonce/di"
	oracleDI "github.com/fd1az/chain-gateway/business/oracle/di"
	providerDI "github.com/fd1az/chain-gateway/business/provider/di"
	streamingDI "github.com/fd1az/chain-gateway/business/streaming/di"
	"github.com/fd1az/chain-gateway/internal/chain"
	"github.com/fd1az/chain-gateway/internal/config"
	"github.com/fd1az/chain-gateway/internal/di"
	"github.com/fd1az/chain-gateway/internal/logger"
	"github.com/fd1az/chain-gateway/internal/monolith"
	"github.com/fd1az/chain-gateway/internal/ratelimit"
)

// Module implements the gateway bounded context. It depends on every other
// context and must be registered last.
type Module struct{}

// RegisterServices registers the gateway façade with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, gatewayDI.Gateway, func(sr di.ServiceRegistry) *app.Gateway {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		chains := make([]chain.ID, 0, len(cfg.Chains))
		for _, cc := range cfg.Chains {
			chains = append(chains, cc.ID())
		}

		gw, err := app.NewGateway(
			app.DefaultConfig(chains),
			providerDI.GetProviderManager(sr),
			oracleDI.GetGasOracle(sr),
			nonceDI.GetNonceManager(sr),
			streamingDI.GetSubscriptionManager(sr),
			streamingDI.GetReorgDetector(sr),
			ratelimit.New(cfg.RateLimit.Window, cfg.RateLimit.Max),
			log,
		)
		if err != nil {
			panic("failed to create gateway: " + err.Error())
		}
		return gw
	})

	return nil
}

// Startup brings the gateway up, which in turn initializes the components it
// coordinates.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	gw := gatewayDI.GetGateway(mono.Services())
	if err := gw.Initialize(ctx); err != nil {
		return err
	}
	mono.Logger().Info(ctx, "gateway module started")
	return nil
}
