package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validate checks a new account password (invitation acceptance, admin
// bootstrap) against the policy. Length is counted in characters. A
// rejection is a *PolicyError.
func (c Config) Validate(password string) error {
	n := utf8.RuneCountInString(password)

	switch {
	case n < c.Policy.MinLength:
		return &PolicyError{Kind: ErrPasswordTooShort, Limit: c.Policy.MinLength}
	case n > c.Policy.MaxLength:
		return &PolicyError{Kind: ErrPasswordTooLong, Limit: c.Policy.MaxLength}
	case c.Policy.RejectVeryWeak && looksVeryWeak(password):
		return &PolicyError{Kind: ErrWeakPassword}
	}
	return nil
}

// looksVeryWeak is opt-in via Policy.RejectVeryWeak: one repeated
// character, a PIN under twelve digits, or a listed common password.
func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}
	runes := []rune(s)
	if strings.Count(s, string(runes[0])) == len(runes) {
		return true
	}
	if len(runes) < 12 && strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 {
		return true
	}
	_, common := commonPasswords[strings.ToLower(s)]
	return common
}

// commonPasswords holds six-character-and-up entries that top public leak
// lists, plus the product name.
var commonPasswords = map[string]struct{}{
	"password": {}, "password1": {}, "123456": {}, "1234567": {}, "123456789": {},
	"qwerty": {}, "qwerty1": {}, "letmein": {}, "welcome": {}, "abc123": {},
	"iloveyou": {}, "admin123": {}, "portal": {}, "portal1": {}, "portal123": {},
}
