// Package limiters provides the Redis-backed progressive lockout tracker.
//
// # Semantics
//
// [LockoutTracker] keeps one hash per (kind, identifier): failure count,
// window start and block deadline. A failure outside the window restarts the
// count; reaching the threshold sets a block deadline. A success deletes the
// record. All mutation runs inside one Lua script so concurrent failures on
// one identifier cannot lose updates, while distinct identifiers never share
// a key.
//
// # What this package must NOT do
//
//   - Import fleetauth or any sibling internal package.
//   - Decide what a block means for the caller. Flow functions do that.
package limiters
