package fleetauth

import (
	"context"
	"strings"
	"time"

	"github.com/lrgov/fleetauth/internal/audit"
)

// ClearanceLevel is an ordered classification attached to an account.
type ClearanceLevel uint8

const (
	ClearanceUnclassified ClearanceLevel = iota
	ClearanceRestricted
	ClearanceConfidential
	ClearanceSecret
	ClearanceTopSecret
)

var clearanceNames = [...]string{
	"unclassified",
	"restricted",
	"confidential",
	"secret",
	"top_secret",
}

func (c ClearanceLevel) String() string {
	if int(c) < len(clearanceNames) {
		return clearanceNames[c]
	}
	return "unknown"
}

// ParseClearanceLevel maps a clearance name to its level.
func ParseClearanceLevel(name string) (ClearanceLevel, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range clearanceNames {
		if n == name {
			return ClearanceLevel(i), true
		}
	}
	return ClearanceUnclassified, false
}

// AtLeast reports whether c is equal to or above min.
func (c ClearanceLevel) AtLeast(min ClearanceLevel) bool {
	return c >= min
}

// MarshalText implements encoding.TextMarshaler.
func (c ClearanceLevel) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ClearanceLevel) UnmarshalText(b []byte) error {
	level, ok := ParseClearanceLevel(string(b))
	if !ok {
		return ErrInvalidRequest
	}
	*c = level
	return nil
}

// Account is the stored record for one principal.
//
// PasswordVerifier and MFASecret never leave the process through JSON.
type Account struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	PasswordVerifier string         `json:"-"`
	Roles            []string       `json:"roles"`
	Department       string         `json:"department,omitempty"`
	Clearance        ClearanceLevel `json:"clearance"`
	MFAEnabled       bool           `json:"mfa_enabled"`
	MFASecret        string         `json:"-"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// HasRole reports whether the account carries role.
func (a *Account) HasRole(role string) bool {
	if a == nil {
		return false
	}
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (a *Account) clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	out.Roles = append([]string(nil), a.Roles...)
	return &out
}

// redacted is the copy handed to callers: no verifier, no secret.
func (a *Account) redacted() *Account {
	out := a.clone()
	if out != nil {
		out.PasswordVerifier = ""
		out.MFASecret = ""
	}
	return out
}

// AccountPatch carries the fields Upsert merges into an account. Nil fields
// are left untouched.
type AccountPatch struct {
	Email            *string
	PasswordVerifier *string
	Roles            *[]string
	Department       *string
	Clearance        *ClearanceLevel
	MFAEnabled       *bool
	MFASecret        *string
}

// Apply merges p into a and stamps UpdatedAt. Store implementations share it.
func (p AccountPatch) Apply(a *Account, now time.Time) {
	if p.Email != nil {
		a.Email = NormalizeEmail(*p.Email)
	}
	if p.PasswordVerifier != nil {
		a.PasswordVerifier = *p.PasswordVerifier
	}
	if p.Roles != nil {
		a.Roles = append([]string(nil), (*p.Roles)...)
	}
	if p.Department != nil {
		a.Department = *p.Department
	}
	if p.Clearance != nil {
		a.Clearance = *p.Clearance
	}
	if p.MFAEnabled != nil {
		a.MFAEnabled = *p.MFAEnabled
	}
	if p.MFASecret != nil {
		a.MFASecret = *p.MFASecret
	}
	a.UpdatedAt = now.UTC()
}

// CanCreate reports whether p holds enough to provision a new account.
func (p AccountPatch) CanCreate() bool {
	return p.Email != nil && strings.TrimSpace(*p.Email) != "" &&
		p.PasswordVerifier != nil && *p.PasswordVerifier != ""
}

// NormalizeEmail is the canonical form used for lookups and lockout keys.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CredentialStore persists accounts. It holds no authentication logic.
//
// GetAccount and FindByEmail return ErrNotFound for unknown keys. Backend
// failures wrap ErrStorage. Upsert reports whether a new account was created.
type CredentialStore interface {
	GetAccount(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	Upsert(ctx context.Context, id string, patch AccountPatch) (bool, error)
}

// LockoutState is the failure bookkeeping for one identifier.
type LockoutState struct {
	FailureCount int
	WindowStart  time.Time
	BlockedUntil time.Time
}

// Blocked reports whether the state blocks attempts at now.
func (s LockoutState) Blocked(now time.Time) bool {
	return !s.BlockedUntil.IsZero() && s.BlockedUntil.After(now)
}

// LockoutTracker counts failed attempts per identifier. Operations on one
// identifier are serialized; different identifiers never contend.
type LockoutTracker interface {
	RecordFailure(ctx context.Context, identifier string) (LockoutState, error)
	RecordSuccess(ctx context.Context, identifier string) error
	IsBlocked(ctx context.Context, identifier string) (bool, error)
}

// AttemptReserver is implemented by trackers that can bound concurrent
// attempts. ReserveAttempt admits an attempt only while recorded failures
// plus attempts still in flight stay below the threshold; the returned state
// carries BlockedUntil when the refusal comes from an active block.
// ReleaseAttempt settles an admitted attempt after its outcome is recorded.
type AttemptReserver interface {
	ReserveAttempt(ctx context.Context, identifier string) (bool, LockoutState, error)
	ReleaseAttempt(ctx context.Context, identifier string) error
}

// AuditEventType enumerates the security events the engine records.
type AuditEventType = audit.EventType

const (
	EventLoginSuccess   AuditEventType = "login_success"
	EventLoginFailure   AuditEventType = "login_failure"
	EventLoginBlocked   AuditEventType = "login_blocked"
	EventMFARequired    AuditEventType = "mfa_required"
	EventMFASuccess     AuditEventType = "mfa_success"
	EventMFAFailure     AuditEventType = "mfa_failure"
	EventMFAExpired     AuditEventType = "mfa_expired"
	EventMFAEnabled     AuditEventType = "mfa_enabled"
	EventMFADisabled    AuditEventType = "mfa_disabled"
	EventLogout         AuditEventType = "logout"
	EventAccessDenied   AuditEventType = "access_denied"
	EventAuditRetention AuditEventType = "audit_retention"
)

// AuditOutcome is the result recorded with an event.
type AuditOutcome = audit.Outcome

const (
	OutcomeSuccess AuditOutcome = "success"
	OutcomeFailure AuditOutcome = "failure"
)

// AuditEvent is one immutable record of the security audit trail.
type AuditEvent = audit.Event

// AuditFilter narrows AuditEvents. Zero fields match everything.
type AuditFilter = audit.Filter

// AuditStore is the durable backend of the audit log.
//
// Insert persists an event whose ID and Timestamp are already assigned and
// returns it as stored, with Seq set and Timestamp raised to its
// predecessor's when needed. Query returns matches most recent first. Prune
// removes events older than cutoff (when non-zero) and all but the newest
// keep events (when keep > 0). Only explicit retention operations call it.
type AuditStore = audit.Store

// LoginResult is the outcome of a successful Login call.
type LoginResult struct {
	Success      bool     `json:"success"`
	RequiresMFA  bool     `json:"requires_mfa,omitempty"`
	MFAToken     string   `json:"mfa_token,omitempty"`
	SessionToken string   `json:"session_token,omitempty"`
	User         *Account `json:"user,omitempty"`
}

// MFASetup is returned to an account owner so an authenticator app can be enrolled.
type MFASetup struct {
	SecretBase32 string `json:"secret"`
	URI          string `json:"uri"`
}
