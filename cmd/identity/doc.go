// Package identity is the account store: users, their Argon2id credentials and
// the profile row written alongside every new account.
//
// Sessions live in cmd/internal/auth/session; this package only answers
// "who is this user" and "does this password match".
package identity
