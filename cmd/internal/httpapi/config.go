package httpapi

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
)

var ErrConfig = errors.New("httpapi: invalid config")

// Config controls request limits of the HTTP API.
type Config struct {
	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP.
	TrustProxy   bool
	MaxBodyBytes int64

	// Per-IP sign-in token bucket.
	SignInRPS   rate.Limit
	SignInBurst int
}

func DefaultConfig() Config {
	return Config{
		MaxBodyBytes: 64 << 10,
		SignInRPS:    rate.Limit(0.5),
		SignInBurst:  5,
	}
}

// LoadConfigFromEnv reads PORTAL_TRUST_PROXY, PORTAL_API_MAX_BODY_BYTES,
// PORTAL_SIGNIN_RPS and PORTAL_SIGNIN_BURST on top of DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v, ok := lookup("PORTAL_TRUST_PROXY"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: PORTAL_TRUST_PROXY: %v", ErrConfig, err)
		}
		cfg.TrustProxy = b
	}
	if v, ok := lookup("PORTAL_API_MAX_BODY_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1024 || n > 16<<20 {
			return Config{}, fmt.Errorf("%w: PORTAL_API_MAX_BODY_BYTES must be in [1024..16777216]", ErrConfig)
		}
		cfg.MaxBodyBytes = n
	}
	if v, ok := lookup("PORTAL_SIGNIN_RPS"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 || f > 1000 {
			return Config{}, fmt.Errorf("%w: PORTAL_SIGNIN_RPS must be in (0..1000]", ErrConfig)
		}
		cfg.SignInRPS = rate.Limit(f)
	}
	if v, ok := lookup("PORTAL_SIGNIN_BURST"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			return Config{}, fmt.Errorf("%w: PORTAL_SIGNIN_BURST must be in [1..1000]", ErrConfig)
		}
		cfg.SignInBurst = n
	}
	return cfg, nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}
