// Package postgres implements fleetauth's CredentialStore and AuditStore on
// PostgreSQL through pgx.
//
// The schema ships embedded and is applied with [Migrate]. Audit appends
// from any number of processes share one order: each insert takes a
// transaction-scoped advisory lock before reading the previous timestamp.
package postgres
