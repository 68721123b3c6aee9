package apperror

// Code represents a unique error code for the application
type Code string

// General error codes
const (
	// General validation
	CodeRequiredField   Code = "REQUIRED_FIELD"
	CodeInvalidInput    Code = "INVALID_INPUT"
	CodeInvalidFormat   Code = "INVALID_FORMAT"
	CodeInvalidState    Code = "INVALID_STATE"
	CodeNotFound        Code = "NOT_FOUND"
	CodeValidationError Code = "VALIDATION_ERROR"

	// Configuration
	CodeConfigurationError Code = "CONFIGURATION_ERROR"

	// External service errors
	CodeExternalServiceError Code = "EXTERNAL_SERVICE_ERROR"
	CodeServiceTimeout       Code = "SERVICE_TIMEOUT"
	CodeServiceUnavailable   Code = "SERVICE_UNAVAILABLE"
	CodeRateLimitExceeded    Code = "RATE_LIMIT_EXCEEDED"

	// System errors
	CodeInternalError Code = "INTERNAL_ERROR"
	CodeUnknownError  Code = "UNKNOWN_ERROR"
)

// Gateway-specific error codes
const (
	// Chain validation
	CodeInvalidChain Code = "INVALID_CHAIN"

	// Provider pool errors
	CodeNoHealthyProvider      Code = "NO_HEALTHY_PROVIDER"
	CodeProviderRequestFailed  Code = "PROVIDER_REQUEST_FAILED"
	CodeProviderTimeout        Code = "PROVIDER_TIMEOUT"
	CodeEndpointNotFound       Code = "ENDPOINT_NOT_FOUND"
	CodeProviderConnectionFail Code = "PROVIDER_CONNECTION_FAILED"

	// Nonce errors
	CodeInvalidAddress  Code = "INVALID_ADDRESS"
	CodeNonceSyncFailed Code = "NONCE_SYNC_FAILED"

	// Gas oracle errors
	CodeGasPriceUnavailable Code = "GAS_PRICE_UNAVAILABLE"

	// Subscription / streaming errors
	CodeSubscriptionNotFound Code = "SUBSCRIPTION_NOT_FOUND"
	CodeSubscribeFailed      Code = "SUBSCRIBE_FAILED"
	CodeStreamClosed         Code = "STREAM_CLOSED"

	// WebSocket errors
	CodeWebSocketConnectionError Code = "WEBSOCKET_CONNECTION_ERROR"
	CodeWebSocketReconnecting    Code = "WEBSOCKET_RECONNECTING"
	CodeWebSocketClosed          Code = "WEBSOCKET_CLOSED"
	CodeWebSocketSendError       Code = "WEBSOCKET_SEND_ERROR"

	// Reorg detection errors
	CodeReorgWalkbackFailed Code = "REORG_WALKBACK_FAILED"
	CodeBlockNotFound       Code = "BLOCK_NOT_FOUND"

	// Lifecycle errors
	CodeShuttingDown Code = "SHUTTING_DOWN"

	// Circuit breaker errors
	CodeCircuitOpen     Code = "CIRCUIT_OPEN"
	CodeCircuitHalfOpen Code = "CIRCUIT_HALF_OPEN"
)
