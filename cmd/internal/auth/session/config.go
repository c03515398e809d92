package session

import (
	"os"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Config defines runtime configuration for the session subsystem.
type Config struct {
	// Issuer is the value set in the "iss" claim of access tokens.
	Issuer string

	// SessionTTL is the lifetime of a session and of its access token.
	SessionTTL time.Duration

	// ClockSkew defines the allowed time skew during token validation.
	ClockSkew time.Duration

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key
	// used to sign PASETO v4.public access tokens.
	PasetoV4SecretKeyHex string
}

// DefaultConfig returns defaults suitable for development.
func DefaultConfig() Config {
	return Config{
		Issuer:     "portal",
		SessionTTL: 7 * 24 * time.Hour,
		ClockSkew:  30 * time.Second,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional (durations must be valid Go duration strings):
//   - PORTAL_PASETO_V4_SECRET_KEY_HEX
//   - PORTAL_AUTH_ISSUER
//   - PORTAL_AUTH_SESSION_TTL
//   - PORTAL_AUTH_CLOCK_SKEW
//
// An absent key is not an error here; the caller decides whether an ephemeral
// key is acceptable (in-memory mode) or not. A malformed key is ErrConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("PORTAL_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("PORTAL_AUTH_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < time.Minute {
			return Config{}, ErrConfig
		}
		cfg.SessionTTL = d
	}

	if v := os.Getenv("PORTAL_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 || d > 5*time.Minute {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	cfg.PasetoV4SecretKeyHex = os.Getenv("PORTAL_PASETO_V4_SECRET_KEY_HEX")
	if cfg.PasetoV4SecretKeyHex != "" {
		if _, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoV4SecretKeyHex); err != nil {
			return Config{}, ErrConfig
		}
	}

	return cfg, nil
}

// GenerateSecretKeyHex returns a fresh Ed25519 key in the format PORTAL_PASETO_V4_SECRET_KEY_HEX expects.
// Tokens signed with it do not survive a restart.
func GenerateSecretKeyHex() string {
	return paseto.NewV4AsymmetricSecretKey().ExportHex()
}
