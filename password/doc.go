// Package password verifies and produces account password verifiers.
//
// # Formats
//
// New verifiers are Argon2id PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Legacy bcrypt verifiers ($2a$, $2b$, $2y$) are accepted for verification
// when the [Hasher] is configured to, and are always reported as needing a
// rehash. An Argon2id verifier produced with weaker parameters than the
// current config is reported the same way.
//
// # What this package must NOT do
//
//   - Store or retrieve accounts.
//   - Import any other fleetauth package.
//   - Log plaintext passwords.
package password
