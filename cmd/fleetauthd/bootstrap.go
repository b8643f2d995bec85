package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lrgov/fleetauth"
	"github.com/lrgov/fleetauth/password"
	"go.uber.org/zap"
)

// bootstrapAdmin creates the configured admin account when no account holds
// its email yet. An existing account is left untouched.
func bootstrapAdmin(ctx context.Context, cfg bootstrapConfig, pw fleetauth.PasswordConfig, store fleetauth.CredentialStore, logger *zap.Logger) error {
	if cfg.AdminEmail == "" {
		return nil
	}
	if cfg.AdminPassword == "" {
		return errors.New("bootstrap.admin_password required with bootstrap.admin_email")
	}

	_, err := store.FindByEmail(ctx, cfg.AdminEmail)
	switch {
	case err == nil:
		logger.Info("bootstrap admin already present", zap.String("email", fleetauth.NormalizeEmail(cfg.AdminEmail)))
		return nil
	case !errors.Is(err, fleetauth.ErrNotFound):
		return fmt.Errorf("look up bootstrap admin: %w", err)
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      pw.Memory,
		Time:        pw.Time,
		Parallelism: pw.Parallelism,
		SaltLength:  pw.SaltLength,
		KeyLength:   pw.KeyLength,
	})
	if err != nil {
		return err
	}
	verifier, err := hasher.Hash(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("hash bootstrap admin password: %w", err)
	}

	id := uuid.NewString()
	email := cfg.AdminEmail
	roles := []string{"admin"}
	clearance := fleetauth.ClearanceSecret
	if _, err := store.Upsert(ctx, id, fleetauth.AccountPatch{
		Email:            &email,
		PasswordVerifier: &verifier,
		Roles:            &roles,
		Clearance:        &clearance,
	}); err != nil {
		return fmt.Errorf("create bootstrap admin: %w", err)
	}

	logger.Info("bootstrap admin created", zap.String("user_id", id))
	return nil
}
