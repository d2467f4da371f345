package cnst

import "errors"

var (
	// ErrUnknownTransportType is returned when the configured transport type is not supported
	ErrUnknownTransportType = errors.New("unknown transport type")
	// ErrUnknownTokenType is returned when the configured token provider type is not supported
	ErrUnknownTokenType = errors.New("unknown token provider type")
	// ErrMissingTokenEndpoint is returned when the http token provider has no endpoint
	ErrMissingTokenEndpoint = errors.New("token endpoint is required")
)
