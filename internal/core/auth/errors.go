package auth

import "errors"

// Missing, malformed, unknown and invalid keys all map to UNAUTHENTICATED so
// a caller cannot discover which keys exist. Revoked keys map to
// PERMISSION_DENIED.
var (
	ErrMissingKey       = errors.New("API key required in x-api-key metadata")
	ErrInvalidKeyFormat = errors.New("invalid API key format")
	ErrUnknownKey       = errors.New("unknown secret ID")
	ErrInvalidKey       = errors.New("invalid API key")
	ErrKeyRevoked       = errors.New("API key has been revoked")
	ErrStore            = errors.New("api key store unavailable")
)
