// Package di contains dependency injection tokens for the nonce context.
package di

import (
	"github.com/fd1az/chain-gateway/business/nonce/app"
	"github.com/fd1az/chain-gateway/internal/di"
)

// Public service tokens - exposed to other modules
var (
	NonceManager = di.NewToken[*app.Manager]("nonce.NonceManager")
)

// Helper functions for type-safe access
func GetNonceManager(c di.ServiceRegistry) *app.Manager {
	return di.GetToken(c, NonceManager)
}
