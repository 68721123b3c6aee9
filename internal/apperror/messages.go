package apperror

// messages maps error codes to human-readable messages
var messages = map[Code]string{
	// General validation
	CodeRequiredField:   "Required field is missing",
	CodeInvalidInput:    "Invalid input provided",
	CodeInvalidFormat:   "Invalid data format",
	CodeInvalidState:    "Invalid state for this operation",
	CodeNotFound:        "Resource not found",
	CodeValidationError: "Validation error",

	// Configuration
	CodeConfigurationError: "Configuration error",

	// External service errors
	CodeExternalServiceError: "External service error",
	CodeServiceTimeout:       "Service request timeout",
	CodeServiceUnavailable:   "Service temporarily unavailable",
	CodeRateLimitExceeded:    "Rate limit exceeded",

	// System errors
	CodeInternalError: "Internal server error",
	CodeUnknownError:  "An unknown error occurred",

	// Chain validation
	CodeInvalidChain: "Unsupported chain id",

	// Provider pool errors
	CodeNoHealthyProvider:      "No healthy provider available for chain",
	CodeProviderRequestFailed:  "Provider RPC request failed",
	CodeProviderTimeout:        "Provider request timed out",
	CodeEndpointNotFound:       "RPC endpoint not found",
	CodeProviderConnectionFail: "Failed to connect to provider",

	// Nonce errors
	CodeInvalidAddress:  "Malformed account address",
	CodeNonceSyncFailed: "Failed to sync nonce from chain",

	// Gas oracle errors
	CodeGasPriceUnavailable: "Gas price signals unavailable",

	// Subscription / streaming errors
	CodeSubscriptionNotFound: "Subscription not found",
	CodeSubscribeFailed:      "Failed to open subscription stream",
	CodeStreamClosed:         "Subscription stream closed",

	// WebSocket errors
	CodeWebSocketConnectionError: "WebSocket connection error",
	CodeWebSocketReconnecting:    "WebSocket reconnecting",
	CodeWebSocketClosed:          "WebSocket connection closed",
	CodeWebSocketSendError:       "Failed to send WebSocket message",

	// Reorg detection errors
	CodeReorgWalkbackFailed: "Could not walk back to reorg divergence point",
	CodeBlockNotFound:       "Block not found",

	// Lifecycle errors
	CodeShuttingDown: "Gateway is shutting down",

	// Circuit breaker errors
	CodeCircuitOpen:     "Circuit breaker is open",
	CodeCircuitHalfOpen: "Circuit breaker is half-open",
}
