package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/pinlock/internal/errs"
	"github.com/and161185/pinlock/internal/model"
	"github.com/and161185/pinlock/internal/repository"
)

var _ repository.SettingsRepository = (*SettingsRepo)(nil)

// SettingsRepo implements SettingsRepository on SQLite.
type SettingsRepo struct{ db *sql.DB }

// NewSettingsRepo constructs a settings repository.
func NewSettingsRepo(db *sql.DB) *SettingsRepo { return &SettingsRepo{db: db} }

const selectSettings = `
SELECT account_id, secret_hash, secret_salt, failed_attempts, max_failed_attempts,
       locked_until, last_successful_auth, session_timeout_minutes, auto_lock_enabled,
       created_at, updated_at
FROM security_settings WHERE account_id=?`

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Create inserts a new settings row.
func (r *SettingsRepo) Create(ctx context.Context, s *model.SecuritySettings) error {
	const q = `
INSERT INTO security_settings (account_id, secret_hash, secret_salt, failed_attempts, max_failed_attempts,
  locked_until, last_successful_auth, session_timeout_minutes, auto_lock_enabled, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UnixNano()
	_, err := r.db.ExecContext(ctx, q,
		s.AccountID.String(), s.SecretHash, s.SecretSalt, s.FailedAttempts, s.MaxFailedAttempts,
		toNanos(s.LockedUntil), toNanos(s.LastSuccessfulAuth), s.SessionTimeoutMinutes, s.AutoLockEnabled,
		now, now)
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
	return getSettings(ctx, r.db, accountID)
}

// Put overwrites the mutable columns of an existing row.
func (r *SettingsRepo) Put(ctx context.Context, s *model.SecuritySettings) error {
	return putSettings(ctx, r.db, s)
}

// Update performs fn inside a transaction. The store runs on a single connection,
// so the transaction excludes every other writer for its duration.
func (r *SettingsRepo) Update(
	ctx context.Context, accountID uuid.UUID, fn func(*model.SecuritySettings) error,
) (out *model.SecuritySettings, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if e := tx.Commit(); e != nil {
			out, err = nil, e
		}
	}()

	cur, err := getSettings(ctx, tx, accountID)
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

func getSettings(ctx context.Context, db queryer, accountID uuid.UUID) (*model.SecuritySettings, error) {
	var (
		s                model.SecuritySettings
		id               string
		locked, lastOK   sql.NullInt64
		created, updated int64
	)
	err := db.QueryRowContext(ctx, selectSettings, accountID.String()).Scan(
		&id, &s.SecretHash, &s.SecretSalt, &s.FailedAttempts, &s.MaxFailedAttempts,
		&locked, &lastOK, &s.SessionTimeoutMinutes, &s.AutoLockEnabled,
		&created, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select security settings: %w", err)
	}
	if s.AccountID, err = uuid.FromString(id); err != nil {
		return nil, fmt.Errorf("decode account id: %w", err)
	}
	s.LockedUntil = fromNanos(locked)
	s.LastSuccessfulAuth = fromNanos(lastOK)
	s.CreatedAt = time.Unix(0, created).UTC()
	s.UpdatedAt = time.Unix(0, updated).UTC()
	return &s, nil
}

func putSettings(ctx context.Context, db queryer, s *model.SecuritySettings) error {
	const q = `
UPDATE security_settings
SET secret_hash=?, failed_attempts=?, max_failed_attempts=?, locked_until=?,
    last_successful_auth=?, session_timeout_minutes=?, auto_lock_enabled=?, updated_at=?
WHERE account_id=?`
	res, err := db.ExecContext(ctx, q,
		s.SecretHash, s.FailedAttempts, s.MaxFailedAttempts, toNanos(s.LockedUntil),
		toNanos(s.LastSuccessfulAuth), s.SessionTimeoutMinutes, s.AutoLockEnabled, time.Now().UnixNano(),
		s.AccountID.String())
	if err != nil {
		return fmt.Errorf("update security settings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}
