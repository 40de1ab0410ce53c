// Package config provides configuration management for the segmentd service.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"
)

const envPrefix = "SEGMENTD"

// ServiceConfig holds configuration for the gRPC segment service.
type ServiceConfig struct {
	Host           string
	Port           int
	MetricsAddr    string
	RequestTimeout time.Duration

	// MaxConditions bounds the number of conditions in one rules document.
	MaxConditions int

	// RecalcConcurrency bounds parallel segment recalculations.
	RecalcConcurrency int
}

// DefaultServiceConfig returns configuration with default values.
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Host:              "0.0.0.0",
		Port:              50061,
		MetricsAddr:       ":9108",
		RequestTimeout:    30 * time.Second,
		MaxConditions:     64,
		RecalcConcurrency: 4,
	}
}

// Addr returns the host:port the gRPC listener binds.
func (c *ServiceConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// HMACSecrets extracts API key HMAC secrets from the environment.
// SEGMENTD_HMAC_SECRET holds a single secret; SEGMENTD_HMAC_SECRET_1,
// SEGMENTD_HMAC_SECRET_2, ... hold rotation sets and are read until the
// first gap. Returns secret_id -> decoded secret.
func HMACSecrets() (map[string][]byte, error) {
	secrets := make(map[string][]byte)

	add := func(key, val string) error {
		secretID, decoded, err := ParseHMACSecretWithID(val)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if _, exists := secrets[secretID]; exists {
			return fmt.Errorf("duplicate secret_id '%s' found in environment variables (check %s_HMAC_SECRET and %s_HMAC_SECRET_* for conflicts)", secretID, envPrefix, envPrefix)
		}
		secrets[secretID] = decoded
		return nil
	}

	single := envPrefix + "_HMAC_SECRET"
	if val := os.Getenv(single); val != "" {
		if err := add(single, val); err != nil {
			return nil, err
		}
	}

	for i := 1; ; i++ {
		key := fmt.Sprintf("%s_HMAC_SECRET_%d", envPrefix, i)
		val := os.Getenv(key)
		if val == "" {
			break
		}
		if err := add(key, val); err != nil {
			return nil, err
		}
	}

	return secrets, nil
}

// ParseHMACSecret decodes a bare base64 secret.
func ParseHMACSecret(envValue string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(envValue))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	if len(decoded) < 32 {
		return nil, fmt.Errorf("secret must be at least 32 bytes, got %d", len(decoded))
	}
	return decoded, nil
}

// ParseHMACSecretWithID parses the secret_id:base64_secret form.
// The secret id is 32 lowercase hex chars, the same shape API keys embed.
func ParseHMACSecretWithID(envValue string) (secretID string, secret []byte, err error) {
	id, encoded, ok := strings.Cut(strings.TrimSpace(envValue), ":")
	if !ok {
		return "", nil, fmt.Errorf("format must be <secret_id>:<base64_secret>")
	}
	if len(id) != 32 {
		return "", nil, fmt.Errorf("secret_id must be 32 hex chars")
	}
	for _, c := range id {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return "", nil, fmt.Errorf("secret_id must be hex chars only")
		}
	}

	secret, err = ParseHMACSecret(encoded)
	if err != nil {
		return "", nil, err
	}
	return id, secret, nil
}
