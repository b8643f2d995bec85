// Package permission maps account roles to permission bitmasks.
//
// [NewRegistry] fixes a bit of a [Mask64] for every permission name, and
// [NewRoleManager] compiles role definitions against it. Both are immutable
// once built. The highest bit is reserved for the root wildcard "*", which
// grants every permission.
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Import fleetauth, jwt, or session.
package permission
