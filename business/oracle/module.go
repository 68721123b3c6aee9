// Package oracle implements the gas price oracle bounded context.
package oracle

import (
	"context"

	"github.com/fd1az/chain-gateway/business/oracle/app"
	oracleDI "github.com/fd1az/chain-gateway/business/oracle/di"
	providerDI "github.com/fd1az/chain-gateway/business/provider/di"
	"github.com/fd1az/chain-gateway/internal/config"
	"github.com/fd1az/chain-gateway/internal/di"
	"github.com/fd1az/chain-gateway/internal/logger"
	"github.com/fd1az/chain-gateway/internal/monolith"
)

// Module implements the oracle bounded context.
type Module struct{}

// RegisterServices registers all oracle services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, oracleDI.GasOracle, func(sr di.ServiceRegistry) *app.Oracle {
		cfg := sr.Get("config").(*config.Config)
		log := sr.Get("logger").(logger.LoggerInterface)
		mgr := providerDI.GetProviderManager(sr)

		oracle, err := app.NewOracle(app.Config{
			RefreshInterval: cfg.Oracle.RefreshInterval,
			HistorySize:     cfg.Oracle.HistorySize,
		}, mgr, log)
		if err != nil {
			panic("failed to create gas oracle: " + err.Error())
		}
		return oracle
	})

	return nil
}

// Startup initializes the oracle module.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	// Construction is lazy; force it so misconfiguration surfaces at boot.
	oracleDI.GetGasOracle(mono.Services())
	mono.Logger().Info(ctx, "oracle module started")
	return nil
}
