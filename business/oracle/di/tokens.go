// Package di contains dependency injection tokens for the oracle context.
package di

import (
	"github.com/fd1az/chain-gateway/business/oracle/app"
	"github.com/fd1az/chain-gateway/internal/di"
)

// Public service tokens - exposed to other modules
var (
	GasOracle = di.NewToken[*app.Oracle]("oracle.GasOracle")
)

// Helper functions for type-safe access
func GetGasOracle(c di.ServiceRegistry) *app.Oracle {
	return di.GetToken(c, GasOracle)
}
