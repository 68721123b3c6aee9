// Package di contains dependency injection tokens for the streaming context.
package di

import (
	"github.com/fd1az/chain-gateway/business/streaming/app"
	"github.com/fd1az/chain-gateway/internal/di"
)

// Public service tokens - exposed to other modules
var (
	SubscriptionManager = di.NewToken[*app.SubscriptionManager]("streaming.SubscriptionManager")
	ReorgDetector       = di.NewToken[*app.ReorgDetector]("streaming.ReorgDetector")
)

// Private dependency tokens - internal to streaming module
var (
	StreamOpener = di.NewToken[app.StreamOpener]("streaming:streamOpener")
)

// Helper functions for type-safe access
func GetSubscriptionManager(c di.ServiceRegistry) *app.SubscriptionManager {
	return di.GetToken(c, SubscriptionManager)
}

func GetReorgDetector(c di.ServiceRegistry) *app.ReorgDetector {
	return di.GetToken(c, ReorgDetector)
}

func GetStreamOpener(c di.ServiceRegistry) app.StreamOpener {
	return di.GetToken(c, StreamOpener)
}
