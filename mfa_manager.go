package fleetauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lrgov/fleetauth/internal"
	"github.com/lrgov/fleetauth/internal/flows"
	"github.com/lrgov/fleetauth/internal/stores"
	"github.com/lrgov/fleetauth/jwt"
	"github.com/lrgov/fleetauth/totp"
	"go.uber.org/zap"
)

// Challenge kinds. WebAuthn shares the TOTP state machine and only differs
// in the kind recorded on the challenge.
const (
	challengeKindTOTP     uint8 = 1
	challengeKindWebAuthn uint8 = 2
)

var challengeKindNames = map[uint8]string{
	challengeKindTOTP:     "totp",
	challengeKindWebAuthn: "webauthn",
}

// Reasons recorded on mfa_failure and mfa_expired events.
const (
	mfaReasonForged    = "forged_token"
	mfaReasonReplay    = flows.ReasonReplay
	mfaReasonCorrupt   = "corrupt_record"
	mfaReasonBinding   = "binding_mismatch"
	mfaReasonExpired   = "expired"
	mfaReasonUnknown   = "unknown_account"
	mfaReasonNoSecret  = flows.ReasonNotEnrolled
	mfaReasonSealed    = "secret_unavailable"
	mfaReasonWrongCode = "wrong_code"
	mfaReasonMalformed = "malformed_code"
)

type mfaManager struct {
	config      MFAConfig
	challenges  *stores.MFAChallengeStore
	tokens      *jwt.Manager
	verifier    *totp.Verifier
	sealer      *totp.Sealer
	credentials CredentialStore
	now         func() time.Time
	timeout     time.Duration
	logger      *zap.Logger
}

// issueChallenge stores a fresh challenge for acct and returns the signed
// token the client presents with its code.
func (m *mfaManager) issueChallenge(ctx context.Context, acct *Account, kind uint8) (string, error) {
	id, err := internal.NewChallengeID()
	if err != nil {
		return "", err
	}

	issuedAt := m.now().UTC()
	expiresAt := issuedAt.Add(m.config.ChallengeTTL)

	token, err := m.tokens.Sign(id, acct.ID, challengeKindNames[kind], issuedAt, expiresAt)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err = m.challenges.Save(ctx, id, &stores.MFAChallenge{
		UserID:    acct.ID,
		Kind:      kind,
		IssuedAt:  issuedAt.UnixMilli(),
		ExpiresAt: expiresAt.UnixMilli(),
	}, m.config.ChallengeTTL+m.config.RecordGrace)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return token, nil
}

// verifyChallenge consumes the challenge behind token and checks code
// against the enrolled secret. The returned reason is set on every failure
// and names the precise cause for the audit trail.
func (m *mfaManager) verifyChallenge(ctx context.Context, token, code string) (*Account, string, string, error) {
	now := m.now()

	claims, err := m.tokens.Parse(token)
	if err != nil {
		return nil, "", mfaReasonForged, ErrMFAInvalidCode
	}
	userID := claims.Subject

	takeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	rec, err := m.challenges.Take(takeCtx, claims.ID)
	cancel()
	switch {
	case errors.Is(err, stores.ErrMFAChallengeNotFound):
		// Records outlive their expiry by RecordGrace; once that is gone the
		// signed expiry still tells a late client from a replay.
		if claims.ExpiresAt != nil && now.After(claims.ExpiresAt.Time) {
			return nil, userID, mfaReasonExpired, ErrMFAExpired
		}
		return nil, userID, mfaReasonReplay, ErrMFAInvalidCode
	case errors.Is(err, stores.ErrMFAChallengeCorrupt):
		m.logger.Warn("mfa challenge record corrupt", zap.String("user_id", userID), zap.Error(err))
		return nil, userID, mfaReasonCorrupt, ErrMFAInvalidCode
	case err != nil:
		return nil, userID, "", fmt.Errorf("%w: %v", ErrStorage, err)
	}

	if rec.UserID != claims.Subject || challengeKindNames[rec.Kind] != claims.Kind {
		return nil, userID, mfaReasonBinding, ErrMFAInvalidCode
	}
	if now.UnixMilli() > rec.ExpiresAt {
		return nil, userID, mfaReasonExpired, ErrMFAExpired
	}

	// The challenge is spent; the rest must finish even if the caller leaves.
	readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	acct, err := m.credentials.GetAccount(readCtx, rec.UserID)
	cancel()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, userID, mfaReasonUnknown, ErrMFAInvalidCode
		}
		return nil, userID, "", asStorageError(err)
	}
	// MFA may have been switched off while the challenge was outstanding.
	if !acct.MFAEnabled {
		return nil, userID, mfaReasonNoSecret, ErrMFAInvalidCode
	}

	secret, err := m.openSecret(acct)
	if err != nil {
		m.logger.Error("mfa secret cannot be opened", zap.String("user_id", acct.ID), zap.Error(err))
		return nil, userID, mfaReasonSealed, ErrMFAInvalidCode
	}
	if secret == "" {
		return nil, userID, mfaReasonNoSecret, ErrMFAInvalidCode
	}

	ok, err := m.verifier.Validate(code, secret, now)
	if err != nil {
		m.logger.Warn("totp validation error", zap.String("user_id", acct.ID), zap.Error(err))
		return nil, userID, mfaReasonMalformed, ErrMFAInvalidCode
	}
	if !ok {
		return nil, userID, mfaReasonWrongCode, ErrMFAInvalidCode
	}

	return acct, userID, "", nil
}

// provision returns acct's secret, creating one when the account has none.
// sealed is the at-rest form to persist when created is true.
func (m *mfaManager) provision(acct *Account) (setup MFASetup, sealed string, created bool, err error) {
	secret, err := m.openSecret(acct)
	if err != nil {
		return MFASetup{}, "", false, err
	}

	label := acct.Email
	if label == "" {
		label = acct.ID
	}

	if secret != "" {
		uri, err := m.verifier.URI(label, secret)
		if err != nil {
			return MFASetup{}, "", false, err
		}
		return MFASetup{SecretBase32: secret, URI: uri}, "", false, nil
	}

	enrollment, err := m.verifier.Generate(label)
	if err != nil {
		return MFASetup{}, "", false, err
	}
	sealed, err = m.sealer.Seal(acct.ID, enrollment.Secret)
	if err != nil {
		return MFASetup{}, "", false, err
	}
	return MFASetup{SecretBase32: enrollment.Secret, URI: enrollment.URI}, sealed, true, nil
}

func (m *mfaManager) openSecret(acct *Account) (string, error) {
	if acct.MFASecret == "" {
		return "", nil
	}
	return m.sealer.Open(acct.ID, acct.MFASecret)
}
