// Package streaming implements the subscription and reorg detection context.
package streaming

import (
	"context"

	providerDI "github.com/fd1az/chain-gateway/business/provider/di"
	"github.com/fd1az/chain-gateway/business/streaming/app"
	streamingDI "github.com/fd1az/chain-gateway/business/streaming/di"
	"github.com/fd1az/chain-gateway/business/streaming/infra/ethws"
	"github.com/fd1az/chain-gateway/internal/chain"
	"github.com/fd1az/chain-gateway/internal/config"
	"github.com/fd1az/chain-gateway/internal/di"
	"github.com/fd1az/chain-gateway/internal/logger"
	"github.com/fd1az/chain-gateway/internal/monolith"
)

// Module implements the streaming bounded context.
type Module struct{}

// RegisterServices registers all streaming services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	// Register StreamOpener (private - internal dependency)
	di.RegisterToken(c, streamingDI.StreamOpener, func(sr di.ServiceRegistry) app.StreamOpener {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)

		return ethws.NewOpener(wsEndpoints(cfg), ethws.Config{
			BufferSize:     cfg.Streaming.BufferSize,
			ReconnectDelay: cfg.Streaming.ReconnectDelay,
		}, log)
	})

	// Register SubscriptionManager (public - exposed to other modules)
	di.RegisterToken(c, streamingDI.SubscriptionManager, func(sr di.ServiceRegistry) *app.SubscriptionManager {
		log := sr.Get("logger").(logger.LoggerInterface)
		opener := streamingDI.GetStreamOpener(sr)

		sm, err := app.NewSubscriptionManager(opener, log)
		if err != nil {
			panic("failed to create subscription manager: " + err.Error())
		}
		return sm
	})

	// Register ReorgDetector (public - exposed to other modules)
	di.RegisterToken(c, streamingDI.ReorgDetector, func(sr di.ServiceRegistry) *app.ReorgDetector {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		mgr := providerDI.GetProviderManager(sr)

		rd, err := app.NewReorgDetector(app.ReorgConfig{
			PollInterval: cfg.Reorg.PollInterval,
			TrackWindow:  cfg.Reorg.TrackWindow,
			HistorySize:  cfg.Reorg.HistorySize,
			MaxWalkback:  cfg.Reorg.MaxWalkback,
		}, mgr, log)
		if err != nil {
			panic("failed to create reorg detector: " + err.Error())
		}
		return rd
	})

	return nil
}

// Startup initializes the streaming module.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	streamingDI.GetSubscriptionManager(mono.Services())
	streamingDI.GetReorgDetector(mono.Services())
	mono.Logger().Info(ctx, "streaming module started")
	return nil
}

// wsEndpoints picks the best-priority active websocket URL per chain.
func wsEndpoints(cfg *config.Config) map[chain.ID]string {
	out := make(map[chain.ID]string)
	best := make(map[chain.ID]int)
	for _, cc := range cfg.Chains {
		for _, ec := range cc.Endpoints {
			if !ec.IsActive || ec.WSURL == "" {
				continue
			}
			id := chain.ID(cc.ChainID)
			if _, ok := out[id]; !ok || ec.Priority < best[id] {
				out[id] = ec.WSURL
				best[id] = ec.Priority
			}
		}
	}
	return out
}
