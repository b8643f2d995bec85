// Package stores provides Redis-backed, short-lived record stores for the
// MFA login step.
//
// # Design
//
// Each challenge is a small Redis hash with a TTL. Records are single-use:
// Take reads and deletes inside one Lua script so two concurrent
// verifications can never both observe the same challenge.
//
// # What this package must NOT do
//
//   - Import fleetauth or any sibling internal package.
//   - Verify codes or sign tokens. Those belong to the MFA manager.
package stores
