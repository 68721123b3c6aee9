// Package di contains dependency injection tokens for the gateway context.
package di

import (
	"github.com/fd1az/chain-gateway/business/gateway/app"
	"github.com/fd1az/chain-gateway/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Gateway = di.NewToken[*app.Gateway]("gateway.Gateway")
)

// Helper functions for type-safe access
func GetGateway(c di.ServiceRegistry) *app.Gateway {
	return di.GetToken(c, Gateway)
}
