// Package token hashes opaque tokens (invitation tokens) before they are stored.
//
// Output is always a 64-char hex string so stores can index it and compare in constant time.
// When PORTAL_TOKEN_HMAC_KEY is set the digest is HMAC-SHA256 keyed with it; otherwise plain SHA-256.
// Deployments that set PORTAL_REQUIRE_TOKEN_HMAC=true must provide a key of at least 32 bytes.
package token
