package identity

import (
	"errors"
	"strings"
	"time"

	"portal/cmd/identity/ids"
	"portal/cmd/security/password"
)

// Hasher hashes and verifies account passwords.
// password.Config satisfies it; tests pass password.Cheap().
type Hasher interface {
	Hash(plain string) (string, error)
	Verify(encodedHash, plain string) (bool, error)
	NeedsRehash(encodedHash string) bool
}

// DefaultHasher returns the env-configured Argon2id config, falling back to defaults.
func DefaultHasher() Hasher {
	cfg, err := password.FromEnv()
	if err != nil {
		return password.DefaultConfig()
	}
	return cfg
}

// IsPasswordPolicyError reports whether err came from the password policy
// (too short, too long, too weak) rather than from infrastructure.
func IsPasswordPolicyError(err error) bool {
	return errors.Is(err, password.ErrPasswordTooShort) ||
		errors.Is(err, password.ErrPasswordTooLong) ||
		errors.Is(err, password.ErrWeakPassword)
}

func newUserID(now time.Time) (string, error) { return ids.New(now) }

func trimPtr(p *string) *string {
	if p == nil {
		return nil
	}
	s := strings.TrimSpace(*p)
	if s == "" {
		return nil
	}
	return &s
}
