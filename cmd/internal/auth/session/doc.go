// Package session issues, validates and revokes sign-in sessions.
//
// A session is a row in the sessions table plus a PASETO v4.public access token
// whose expiry equals the session's. Validation is server-authoritative: a valid
// signature is not enough, the backing row must still be active.
//
// Sign-in and sign-out are published on a Broker so long-lived holders of session
// state (the session context, realtime connections) can react without polling.
package session
