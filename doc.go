// Package fleetauth is the authentication and audit core of the fleet
// tracking service.
//
// An [Engine], assembled once through [Builder], verifies passwords against
// a [CredentialStore], locks identifiers out after repeated failures, runs a
// TOTP second factor behind single-use signed challenges, issues opaque
// server-side sessions and records every security decision in an
// append-only audit log. Engine methods are safe for concurrent use.
//
// # Architecture boundaries
//
// fleetauth is the public surface. Orchestration of each operation lives in
// internal/flows, which never imports this package; the append path of the
// audit log lives in internal/audit; Redis-backed lockout and challenge
// state live in internal/limiters and internal/stores. Durable stores are
// supplied by the caller, see store/memory and store/postgres.
//
// # What this package must NOT do
//
//   - Return password verifiers or MFA secrets to callers, or log them.
//   - Tell an unknown email apart from a wrong password in its errors.
//   - Truncate the audit log outside an explicit retention call.
//   - Import any sub-package that re-imports fleetauth.
package fleetauth
