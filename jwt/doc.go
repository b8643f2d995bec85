// Package jwt signs and verifies the MFA challenge tokens handed to clients
// between the password step and the code step.
//
// A token only proves that the server issued it. Whether the challenge is
// still live is decided by the server-side record its jti points at, and
// expiry is judged against the engine clock. Parse checks signature, method,
// kid and issuer; it does not validate time claims.
package jwt
