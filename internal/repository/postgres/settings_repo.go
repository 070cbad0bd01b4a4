package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/and161185/pinlock/internal/errs"
	"github.com/and161185/pinlock/internal/model"
	"github.com/and161185/pinlock/internal/repository"
)

var _ repository.SettingsRepository = (*SettingsRepo)(nil)

// SettingsRepo implements SettingsRepository using PostgreSQL.
type SettingsRepo struct{ db *DB }

// NewSettingsRepo constructs a settings repository.
func NewSettingsRepo(db *DB) *SettingsRepo { return &SettingsRepo{db: db} }

const settingsColumns = `account_id, secret_hash, secret_salt, failed_attempts, max_failed_attempts,
locked_until, last_successful_auth, session_timeout_minutes, auto_lock_enabled, created_at, updated_at`

// Create inserts a new settings row.
func (r *SettingsRepo) Create(ctx context.Context, s *model.SecuritySettings) error {
	const q = `
INSERT INTO security_settings (account_id, secret_hash, secret_salt, failed_attempts, max_failed_attempts,
  locked_until, last_successful_auth, session_timeout_minutes, auto_lock_enabled)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.Pool.Exec(ctx, q,
		s.AccountID, s.SecretHash, s.SecretSalt, s.FailedAttempts, s.MaxFailedAttempts,
		s.LockedUntil, s.LastSuccessfulAuth, s.SessionTimeoutMinutes, s.AutoLockEnabled)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert security settings: %w", err)
	}
	return nil
}

// Get selects settings by account ID.
func (r *SettingsRepo) Get(ctx context.Context, accountID uuid.UUID) (*model.SecuritySettings, error) {
	q := `SELECT ` + settingsColumns + ` FROM security_settings WHERE account_id=$1`
	return scanSettings(r.db.Pool.QueryRow(ctx, q, accountID))
}

// Put overwrites the mutable columns of an existing row. The salt is never rewritten.
func (r *SettingsRepo) Put(ctx context.Context, s *model.SecuritySettings) error {
	return putSettings(ctx, r.db.Pool, s)
}

// Update performs fn inside a transaction holding the row lock (SELECT ... FOR UPDATE).
func (r *SettingsRepo) Update(
	ctx context.Context, accountID uuid.UUID, fn func(*model.SecuritySettings) error,
) (out *model.SecuritySettings, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			out, err = nil, e
		}
	}()

	q := `SELECT ` + settingsColumns + ` FROM security_settings WHERE account_id=$1 FOR UPDATE`
	cur, err := scanSettings(tx.QueryRow(ctx, q, accountID))
	if err != nil {
		return nil, err
	}
	if err = fn(cur); err != nil {
		return nil, err
	}
	cur.AccountID = accountID
	if err = putSettings(ctx, tx, cur); err != nil {
		return nil, err
	}
	return cur, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func putSettings(ctx context.Context, db execer, s *model.SecuritySettings) error {
	const q = `
UPDATE security_settings
SET secret_hash=$2, failed_attempts=$3, max_failed_attempts=$4, locked_until=$5,
    last_successful_auth=$6, session_timeout_minutes=$7, auto_lock_enabled=$8, updated_at=now()
WHERE account_id=$1`
	tag, err := db.Exec(ctx, q,
		s.AccountID, s.SecretHash, s.FailedAttempts, s.MaxFailedAttempts, s.LockedUntil,
		s.LastSuccessfulAuth, s.SessionTimeoutMinutes, s.AutoLockEnabled)
	if err != nil {
		return fmt.Errorf("update security settings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func scanSettings(row pgx.Row) (*model.SecuritySettings, error) {
	var s model.SecuritySettings
	err := row.Scan(
		&s.AccountID, &s.SecretHash, &s.SecretSalt, &s.FailedAttempts, &s.MaxFailedAttempts,
		&s.LockedUntil, &s.LastSuccessfulAuth, &s.SessionTimeoutMinutes, &s.AutoLockEnabled,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select security settings: %w", err)
	}
	return &s, nil
}
