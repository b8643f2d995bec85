package flows

import (
	"context"
	"time"
)

// Deps groups flow dependency sets. The engine builds this once and
// delegates each request to the matching flow.
type Deps struct {
	Login     LoginDeps
	MFA       MFADeps
	Logout    LogoutDeps
	MFAToggle MFAToggleDeps
}

// Principal is the flow-local view of an account.
type Principal struct {
	ID               string
	Email            string
	PasswordVerifier string
	MFAEnabled       bool
	MFASecret        string
	// Value is the host's own account record, handed back untouched.
	Value interface{}
}

// AuditRecord is one event a flow asks the host to append.
type AuditRecord struct {
	EventType    string
	ActorID      string
	TargetUserID string
	Action       string
	Success      bool
	Reason       string
	Metadata     map[string]string
}

// DetachFunc returns a context that survives caller cancellation but is still
// bounded by the storage timeout.
type DetachFunc func(context.Context) (context.Context, context.CancelFunc)

func defaultDetach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
}

func noopMetric(int) {}

func noopWarn(string, error) {}
