package invite

import (
	"crypto/rand"
	"io"
)

const (
	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	tokenLength   = 24 // ~142 bits
)

// TokenSource yields a fresh plain invitation token.
type TokenSource func() (string, error)

// RandomToken returns tokenLength alphanumeric characters from crypto/rand.
func RandomToken() (string, error) {
	return randomToken(rand.Reader, tokenLength)
}

func randomToken(r io.Reader, n int) (string, error) {
	const limit = 256 - (256 % len(tokenAlphabet)) // reject bytes that would bias the modulo

	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, tokenAlphabet[int(b)%len(tokenAlphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

// validTokenShape rejects input that no generated token could match before touching the store.
func validTokenShape(tok string) bool {
	if tok == "" || len(tok) > 128 {
		return false
	}
	for i := 0; i < len(tok); i++ {
		c := tok[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
