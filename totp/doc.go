// Package totp verifies RFC 6238 codes and protects enrolled secrets at rest.
//
// Codes are SHA1, 6 digits, with a configurable period and skew. Verification
// runs through github.com/pquerna/otp against the enrolled secret only; there
// is no bypass code of any kind.
//
// [Sealer] wraps secrets with XChaCha20-Poly1305 bound to the owning account
// id, so a sealed secret copied onto another account fails to open.
package totp
