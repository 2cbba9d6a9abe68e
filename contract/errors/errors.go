package errors

// Error codes for the rpc and event bus contracts. Keep stable; used across transports, client, dispatcher and bus.
const (
	ErrCodeTimeout             = "rpc.timeout"
	ErrCodeClosed              = "rpc.closed"
	ErrCodePublishFailed       = "rpc.publish_failed"
	ErrCodeSerializationFailed = "rpc.serialization_failed"
	ErrCodeNotConnected        = "rpc.not_connected"
	ErrCodeConnectionLost      = "rpc.connection_lost"
	ErrCodeHandlerExists       = "rpc.handler_exists"
	ErrCodeRoutingKeyUnknown   = "rpc.routing_key_unknown"
	ErrCodeConfigInvalid       = "rpc.config_invalid"

	ErrCodeHandlerTypeMismatch    = "bus.handler_type_mismatch"
	ErrCodePublisherNotConfigured = "bus.publisher_not_configured"
)

// Code returns an error value that carries only a code string.
// It implements error by returning the code string in Error().
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

var (
	ErrTimeout             = Code(ErrCodeTimeout)
	ErrClosed              = Code(ErrCodeClosed)
	ErrPublishFailed       = Code(ErrCodePublishFailed)
	ErrSerializationFailed = Code(ErrCodeSerializationFailed)
	ErrNotConnected        = Code(ErrCodeNotConnected)
	ErrConnectionLost      = Code(ErrCodeConnectionLost)
	ErrHandlerExists       = Code(ErrCodeHandlerExists)
	ErrRoutingKeyUnknown   = Code(ErrCodeRoutingKeyUnknown)
	ErrConfigInvalid       = Code(ErrCodeConfigInvalid)

	ErrHandlerTypeMismatch    = Code(ErrCodeHandlerTypeMismatch)
	ErrPublisherNotConfigured = Code(ErrCodePublisherNotConfigured)
)
