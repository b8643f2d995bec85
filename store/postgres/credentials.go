package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lrgov/fleetauth"
)

const uniqueViolation = "23505"

const accountColumns = `id, email, password_verifier, roles, department, clearance, mfa_enabled, mfa_secret, updated_at`

// CredentialStore keeps accounts in the accounts table.
type CredentialStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ fleetauth.CredentialStore = (*CredentialStore)(nil)

// NewCredentialStore returns a store over pool. now may be nil.
func NewCredentialStore(pool *pgxpool.Pool, now func() time.Time) *CredentialStore {
	if now == nil {
		now = time.Now
	}
	return &CredentialStore{pool: pool, now: now}
}

func (s *CredentialStore) GetAccount(ctx context.Context, id string) (*fleetauth.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// FindByEmail matches on lower(email), which the unique index covers.
func (s *CredentialStore) FindByEmail(ctx context.Context, email string) (*fleetauth.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE lower(email) = $1`,
		fleetauth.NormalizeEmail(email),
	)
	return scanAccount(row)
}

// Upsert merges patch into the row under id inside one transaction. The
// row is locked with SELECT FOR UPDATE, so concurrent patches to one
// account apply one after the other.
func (s *CredentialStore) Upsert(ctx context.Context, id string, patch fleetauth.AccountPatch) (bool, error) {
	if id == "" {
		return false, fleetauth.ErrInvalidRequest
	}

	created, retry, err := s.upsertOnce(ctx, id, patch)
	if retry {
		// Lost a race to create the same id; the row exists now.
		created, _, err = s.upsertOnce(ctx, id, patch)
	}
	return created, err
}

func (s *CredentialStore) upsertOnce(ctx context.Context, id string, patch fleetauth.AccountPatch) (created, retry bool, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, false, storageError(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	acct, err := scanAccount(tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
	switch {
	case errors.Is(err, fleetauth.ErrNotFound):
		if !patch.CanCreate() {
			return false, false, fmt.Errorf("%w: new account needs email and password verifier", fleetauth.ErrInvalidRequest)
		}
		acct = &fleetauth.Account{ID: id}
		created = true
	case err != nil:
		return false, false, err
	}

	patch.Apply(acct, s.now())
	if acct.Roles == nil {
		acct.Roles = []string{}
	}

	if created {
		tag, err := tx.Exec(ctx, `
			INSERT INTO accounts (`+accountColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING`,
			acct.ID, acct.Email, acct.PasswordVerifier, acct.Roles, acct.Department,
			int16(acct.Clearance), acct.MFAEnabled, acct.MFASecret, acct.UpdatedAt,
		)
		if err != nil {
			return false, false, writeError(err)
		}
		if tag.RowsAffected() == 0 {
			return false, true, nil
		}
	} else {
		_, err := tx.Exec(ctx, `
			UPDATE accounts SET
				email = $2, password_verifier = $3, roles = $4, department = $5,
				clearance = $6, mfa_enabled = $7, mfa_secret = $8, updated_at = $9
			WHERE id = $1`,
			acct.ID, acct.Email, acct.PasswordVerifier, acct.Roles, acct.Department,
			int16(acct.Clearance), acct.MFAEnabled, acct.MFASecret, acct.UpdatedAt,
		)
		if err != nil {
			return false, false, writeError(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, false, storageError(err)
	}
	return created, false, nil
}

// Ping checks the pool.
func (s *CredentialStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return storageError(err)
	}
	return nil
}

func scanAccount(row pgx.Row) (*fleetauth.Account, error) {
	var (
		acct      fleetauth.Account
		clearance int16
	)
	err := row.Scan(
		&acct.ID, &acct.Email, &acct.PasswordVerifier, &acct.Roles, &acct.Department,
		&clearance, &acct.MFAEnabled, &acct.MFASecret, &acct.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fleetauth.ErrNotFound
		}
		return nil, storageError(err)
	}
	acct.Clearance = fleetauth.ClearanceLevel(clearance)
	acct.UpdatedAt = acct.UpdatedAt.UTC()
	return &acct, nil
}

func writeError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: email already registered", fleetauth.ErrInvalidRequest)
	}
	return storageError(err)
}

func storageError(err error) error {
	return fmt.Errorf("%w: %v", fleetauth.ErrStorage, err)
}
