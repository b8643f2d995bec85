// Package memory provides in-process implementations of fleetauth's
// CredentialStore and AuditStore.
//
// They back tests, the load tool and the daemon's demo mode. State is lost
// when the process exits; use store/postgres for anything durable.
package memory
