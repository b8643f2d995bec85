// Package flows holds the orchestration behind every Engine operation.
//
// Each Run function takes a dependency struct of plain funcs, so a flow can
// be driven by the engine or by a test without Redis or a database. Flows own
// no state and never import the root package; sentinel errors, metric ids
// and audit event names arrive through the dependency struct.
//
// Mutations that follow a final decision (lockout bookkeeping, sessions,
// audit records) run on the context returned by Deps.Detach so a caller that
// goes away mid-request cannot leave them half applied.
package flows
