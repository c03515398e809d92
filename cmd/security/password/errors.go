package password

import (
	"errors"
	"fmt"
)

// Policy rejections come back as *PolicyError and match these with errors.Is.
var (
	ErrPasswordTooShort = errors.New("password: too short")
	ErrPasswordTooLong  = errors.New("password: too long")
	ErrWeakPassword     = errors.New("password: too common")
	ErrInvalidHash      = errors.New("password: invalid hash")
)

// PolicyError is a password the policy refused, with the limit it broke.
type PolicyError struct {
	Kind  error
	Limit int
}

func (e *PolicyError) Error() string {
	if e.Limit > 0 {
		return fmt.Sprintf("%v (limit %d characters)", e.Kind, e.Limit)
	}
	return e.Kind.Error()
}

func (e *PolicyError) Unwrap() error { return e.Kind }

// UserMessage is the sentence shown to the person who typed the password.
func (e *PolicyError) UserMessage() string {
	switch e.Kind {
	case ErrPasswordTooShort:
		return fmt.Sprintf("Password must be at least %d characters.", e.Limit)
	case ErrPasswordTooLong:
		return fmt.Sprintf("Password must be at most %d characters.", e.Limit)
	default:
		return "That password is too easy to guess. Please choose another."
	}
}

// UserMessage returns the message of a policy rejection anywhere in err's
// chain, or "" when err is not one.
func UserMessage(err error) string {
	var pe *PolicyError
	if errors.As(err, &pe) {
		return pe.UserMessage()
	}
	return ""
}
