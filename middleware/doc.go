// Package middleware exposes echo middleware that puts a fleetauth.Engine in
// front of HTTP handlers.
//
// # Guards
//
//   - [RequireBearer] extracts the session token and rejects requests without one.
//   - [RequireSession] additionally resolves the token to the live account.
//   - [ClientContext] copies the caller's IP and User-Agent into the request
//     context so the Engine can record them on audit events.
//   - [RequestLogger] logs each request through zap with the bearer token masked.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// authenticate anything itself: sessions are resolved by Engine.CurrentUser
// and privileged decisions stay inside the Engine.
//
// # What this package must NOT do
//
//   - Access Redis or the stores directly.
//   - Make authorization decisions beyond pass/reject from the Engine.
//   - Log session tokens, passwords or codes.
package middleware
