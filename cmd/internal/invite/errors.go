package invite

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("invitation not found")
	// ErrNotActive means the invitation was accepted or expired before the write landed.
	ErrNotActive = errors.New("invitation not active")
	// ErrTokenConflict is a token_hash unique violation; Issue retries with a fresh token.
	ErrTokenConflict = errors.New("invitation token conflict")
)
