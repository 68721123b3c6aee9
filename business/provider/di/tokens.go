// Package di contains dependency injection tokens for the provider context.
package di

import (
	"github.com/fd1az/chain-gateway/business/provider/app"
	"github.com/fd1az/chain-gateway/internal/di"
)

// Public service tokens - exposed to other modules
var (
	ProviderManager = di.NewToken[*app.Manager]("provider.ProviderManager")
)

// Private dependency tokens - internal to provider module
var (
	ClientDialer = di.NewToken[app.ClientDialer]("provider:clientDialer")
)

// Helper functions for type-safe access
func GetProviderManager(c di.ServiceRegistry) *app.Manager {
	return di.GetToken(c, ProviderManager)
}

func GetClientDialer(c di.ServiceRegistry) app.ClientDialer {
	return di.GetToken(c, ClientDialer)
}
