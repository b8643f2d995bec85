// Package session provides Redis-backed server-side sessions.
//
// A session is addressed by the SHA-256 of its bearer token; the token
// itself is never stored. Records are a small versioned binary blob carrying
// the user id, issue time and absolute expiry. Expiry is enforced both by the
// Redis TTL and lazily on read.
//
// # What this package must NOT do
//
//   - Import fleetauth, jwt, or permission.
//   - Make authorization decisions.
package session
