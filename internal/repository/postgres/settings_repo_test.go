package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/pinlock/internal/errs"
	"github.com/and161185/pinlock/internal/model"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

var settingsCols = []string{
	"account_id", "secret_hash", "secret_salt", "failed_attempts", "max_failed_attempts",
	"locked_until", "last_successful_auth", "session_timeout_minutes", "auto_lock_enabled",
	"created_at", "updated_at",
}

func settingsRow(id uuid.UUID, failed int, lockedUntil *time.Time) *pgxmock.Rows {
	now := time.Now().UTC()
	return pgxmock.NewRows(settingsCols).AddRow(
		id, []byte("hash"), []byte("salt"), failed, 0,
		lockedUntil, (*time.Time)(nil), 30, true,
		now, now,
	)
}

func TestSettingsRepo_Create_OK_and_UniqueViolation(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewSettingsRepo(db)
	ctx := context.Background()

	s := &model.SecuritySettings{
		AccountID:             uuid.Must(uuid.NewV4()),
		SecretHash:            []byte("h"),
		SecretSalt:            []byte("s"),
		SessionTimeoutMinutes: 30,
		AutoLockEnabled:       true,
	}
	args := []any{s.AccountID, s.SecretHash, s.SecretSalt, 0, 0, (*time.Time)(nil), (*time.Time)(nil), 30, true}

	mock.ExpectExec(`INSERT INTO security_settings`).
		WithArgs(args...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, r.Create(ctx, s))

	mock.ExpectExec(`INSERT INTO security_settings`).
		WithArgs(args...).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	require.ErrorIs(t, r.Create(ctx, s), errs.ErrAlreadyExists)

	mock.ExpectExec(`INSERT INTO security_settings`).
		WithArgs(args...).
		WillReturnError(errors.New("conn reset"))
	err := r.Create(ctx, s)
	require.Error(t, err)
	require.NotErrorIs(t, err, errs.ErrAlreadyExists)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsRepo_Get(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewSettingsRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	until := time.Now().Add(time.Minute).UTC()

	mock.ExpectQuery(`SELECT .+ FROM security_settings WHERE account_id=\$1`).
		WithArgs(id).
		WillReturnRows(settingsRow(id, 3, &until))
	s, err := r.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, id, s.AccountID)
	require.Equal(t, 3, s.FailedAttempts)
	require.NotNil(t, s.LockedUntil)
	require.True(t, until.Equal(*s.LockedUntil))
	require.Nil(t, s.LastSuccessfulAuth)

	mock.ExpectQuery(`SELECT .+ FROM security_settings WHERE account_id=\$1`).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)
	_, err = r.Get(ctx, id)
	require.ErrorIs(t, err, errs.ErrNotFound)

	// transport failures must not look like a missing account
	mock.ExpectQuery(`SELECT .+ FROM security_settings WHERE account_id=\$1`).
		WithArgs(id).
		WillReturnError(context.DeadlineExceeded)
	_, err = r.Get(ctx, id)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsRepo_Put(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewSettingsRepo(db)
	ctx := context.Background()
	s := &model.SecuritySettings{AccountID: uuid.Must(uuid.NewV4()), SecretHash: []byte("h"), FailedAttempts: 2}

	mock.ExpectExec(`UPDATE security_settings SET`).
		WithArgs(s.AccountID, s.SecretHash, 2, 0, (*time.Time)(nil), (*time.Time)(nil), 0, false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.Put(ctx, s))

	mock.ExpectExec(`UPDATE security_settings SET`).
		WithArgs(s.AccountID, s.SecretHash, 2, 0, (*time.Time)(nil), (*time.Time)(nil), 0, false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.Put(ctx, s), errs.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsRepo_Update_CommitsUnderRowLock(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewSettingsRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM security_settings WHERE account_id=\$1 FOR UPDATE`).
		WithArgs(id).
		WillReturnRows(settingsRow(id, 1, nil))
	mock.ExpectExec(`UPDATE security_settings SET`).
		WithArgs(id, []byte("hash"), 2, 0, (*time.Time)(nil), (*time.Time)(nil), 30, true).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	out, err := r.Update(ctx, id, func(s *model.SecuritySettings) error {
		s.FailedAttempts++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, out.FailedAttempts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsRepo_Update_RollsBackOnCallbackError(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewSettingsRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM security_settings WHERE account_id=\$1 FOR UPDATE`).
		WithArgs(id).
		WillReturnRows(settingsRow(id, 1, nil))
	mock.ExpectRollback()

	_, err := r.Update(ctx, id, func(*model.SecuritySettings) error { return boom })
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsRepo_Update_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewSettingsRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	called := false
	_, err := r.Update(ctx, id, func(*model.SecuritySettings) error { called = true; return nil })
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.False(t, called)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsRepo_Update_BeginError(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewSettingsRepo(db)

	mock.ExpectBegin().WillReturnError(errors.New("pool closed"))
	_, err := r.Update(context.Background(), uuid.Must(uuid.NewV4()), func(*model.SecuritySettings) error { return nil })
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
