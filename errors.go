package fleetauth

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is returned for any failed primary credential check.
	// It never distinguishes an unknown email from a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while the identifier is inside a lockout block.
	ErrAccountLocked = errors.New("account locked")
	// ErrMFARequired is returned by operations that need a completed MFA step.
	ErrMFARequired = errors.New("mfa required")
	// ErrMFAExpired is returned when a challenge is presented after its expiry.
	ErrMFAExpired = errors.New("mfa challenge expired")
	// ErrMFAInvalidCode is returned for a wrong code or an unknown, forged or
	// already consumed challenge.
	ErrMFAInvalidCode = errors.New("mfa code invalid")
	// ErrSessionExpired is returned when a session token does not resolve to a live session.
	ErrSessionExpired = errors.New("session expired")
	// ErrPermissionDenied is returned when the caller may not perform a privileged call.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrStorage wraps every backend I/O failure, including storage timeouts.
	ErrStorage = errors.New("storage unavailable")
	// ErrNotFound is returned by stores when an account does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest is returned for malformed input such as an empty identifier.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrEngineNotReady is returned when an Engine was not produced by Builder.Build.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// errMFANotEnrolled refuses enabling MFA for someone else's account before
// its owner has enrolled an authenticator.
var errMFANotEnrolled = fmt.Errorf("%w: no enrolled authenticator", ErrInvalidRequest)

const (
	publicMsgCredentials = "invalid email or password"
	publicMsgLocked      = "too many failed attempts, try again later"
	publicMsgMFA         = "verification failed"
	publicMsgMFARequired = "additional verification required"
	publicMsgSession     = "session expired"
	publicMsgDenied      = "permission denied"
	publicMsgUnavailable = "service unavailable"
	publicMsgBadRequest  = "invalid request"
	publicMsgInternal    = "internal error"
)

// PublicMessage returns the caller-facing text for err.
//
// ErrMFAExpired and ErrMFAInvalidCode share one message so a client cannot
// tell an expired challenge from a wrong code. Audit records keep the
// precise reason.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return publicMsgCredentials
	case errors.Is(err, ErrAccountLocked):
		return publicMsgLocked
	case errors.Is(err, ErrMFAExpired), errors.Is(err, ErrMFAInvalidCode):
		return publicMsgMFA
	case errors.Is(err, ErrMFARequired):
		return publicMsgMFARequired
	case errors.Is(err, ErrSessionExpired):
		return publicMsgSession
	case errors.Is(err, ErrPermissionDenied):
		return publicMsgDenied
	case errors.Is(err, ErrStorage):
		return publicMsgUnavailable
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrNotFound):
		return publicMsgBadRequest
	default:
		return publicMsgInternal
	}
}
