// Package password hashes and verifies account passwords with Argon2id.
//
// Hashes use the PHC string format ($argon2id$v=19$m=..,t=..,p=..$salt$key). Verify treats the
// stored string as untrusted input: it is decoded strictly and refused when its cost parameters
// exceed twice the configured ones.
package password
