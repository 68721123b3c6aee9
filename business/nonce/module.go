// Package nonce implements the nonce management bounded context.
package nonce

import (
	"context"

	"github.com/fd1az/chain-gateway/business/nonce/app"
	nonceDI "github.com/fd1az/chain-gateway/business/nonce/di"
	providerDI "github.com/fd1az/chain-gateway/business/provider/di"
	"github.com/fd1az/chain-gateway/internal/di"
	"github.com/fd1az/chain-gateway/internal/logger"
	"github.com/fd1az/chain-gateway/internal/monolith"
)

// Module implements the nonce bounded context.
type Module struct{}

// RegisterServices registers all nonce services with the DI container.
func (m *Module) RegisterServices(c di.Container) error {
	di.RegisterToken(c, nonceDI.NonceManager, func(sr di.ServiceRegistry) *app.Manager {
		log := sr.Get("logger").(logger.LoggerInterface)
		mgr := providerDI.GetProviderManager(sr)

		nm, err := app.NewManager(mgr, log)
		if err != nil {
			panic("failed to create nonce manager: " + err.Error())
		}
		return nm
	})

	return nil
}

// Startup initializes the nonce module.
func (m *Module) Startup(ctx context.Context, mono monolith.Monolith) error {
	nonceDI.GetNonceManager(mono.Services())
	mono.Logger().Info(ctx, "nonce module started")
	return nil
}
