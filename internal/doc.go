// Package internal contains helper utilities private to fleetauth.
//
// # Sub-packages
//
//   - audit: single-writer audit append path and mirror sinks
//   - flows: pure-function orchestrators for every Engine operation
//   - limiters: Redis-backed progressive lockout
//   - stores: Redis-backed MFA challenge records
//
// # What this package must NOT do
//
//   - Export types that appear in the public fleetauth API.
package internal
