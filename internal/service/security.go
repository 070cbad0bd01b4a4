// Package service contains the application service behind the transport layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/pinlock/internal/errs"
	"github.com/and161185/pinlock/internal/gate"
	"github.com/and161185/pinlock/internal/model"
	"github.com/and161185/pinlock/internal/repository"
	"github.com/and161185/pinlock/internal/session"
)

// MaxListLimit caps ListEvents.
const MaxListLimit = 500

// SecurityService defines the account- and session-scoped operations exposed to callers.
// accountID always comes from the authenticated caller.
type SecurityService interface {
	// Enroll sets the secret and preferences of a new account.
	Enroll(ctx context.Context, accountID uuid.UUID, secret string, p model.Preferences) error
	// Configure replaces the account's preferences.
	Configure(ctx context.Context, accountID uuid.UUID, p model.Preferences) (*model.SecuritySettings, error)
	// OpenSession starts a session using the account's timeout and auto-lock preference.
	OpenSession(ctx context.Context, accountID uuid.UUID) (session.Snapshot, error)
	// CloseSession ends a session.
	CloseSession(ctx context.Context, accountID, sessionID uuid.UUID) error
	// Lock locks a session on request.
	Lock(ctx context.Context, accountID, sessionID uuid.UUID) (session.Snapshot, error)
	// Touch records activity on an unlocked session.
	Touch(ctx context.Context, accountID, sessionID uuid.UUID) (session.Snapshot, error)
	// SessionStatus returns the session state.
	SessionStatus(ctx context.Context, accountID, sessionID uuid.UUID) (session.Snapshot, error)
	// Authorize runs one attempt through the gate.
	Authorize(ctx context.Context, a gate.Attempt) (model.Decision, error)
	// ListEvents returns the newest security events of the account.
	ListEvents(ctx context.Context, accountID uuid.UUID, limit int) ([]model.SecurityEvent, error)
}

type SecurityServiceImpl struct {
	gate         *gate.Gate
	settings     repository.SettingsRepository
	events       repository.EventRepository
	sessions     *session.Manager
	storeTimeout time.Duration
	now          func() time.Time
}

var _ SecurityService = (*SecurityServiceImpl)(nil)

// NewSecurityService constructs SecurityService with required dependencies.
func NewSecurityService(
	g *gate.Gate,
	settings repository.SettingsRepository,
	events repository.EventRepository,
	sessions *session.Manager,
	storeTimeout time.Duration,
) *SecurityServiceImpl {
	if storeTimeout <= 0 {
		storeTimeout = gate.DefaultStoreTimeout
	}
	return &SecurityServiceImpl{
		gate:         g,
		settings:     settings,
		events:       events,
		sessions:     sessions,
		storeTimeout: storeTimeout,
		now:          time.Now,
	}
}

// Enroll delegates to the gate.
func (s *SecurityServiceImpl) Enroll(ctx context.Context, accountID uuid.UUID, secret string, p model.Preferences) error {
	if accountID == uuid.Nil {
		return errors.New("validation: empty accountID")
	}
	return s.gate.Enroll(ctx, accountID, secret, p)
}

// Configure stores the new preferences and applies them to the account's live sessions.
func (s *SecurityServiceImpl) Configure(ctx context.Context, accountID uuid.UUID, p model.Preferences) (*model.SecuritySettings, error) {
	if accountID == uuid.Nil {
		return nil, errors.New("validation: empty accountID")
	}
	st, err := s.gate.Configure(ctx, accountID, p)
	if err != nil {
		return nil, err
	}
	s.sessions.Reconfigure(accountID, st.SessionTimeout(), st.AutoLockEnabled)
	return st, nil
}

// OpenSession requires an enrolled account: a session that can never be unlocked is useless.
func (s *SecurityServiceImpl) OpenSession(ctx context.Context, accountID uuid.UUID) (session.Snapshot, error) {
	if accountID == uuid.Nil {
		return session.Snapshot{}, errors.New("validation: empty accountID")
	}
	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	st, err := s.settings.Get(sctx, accountID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return session.Snapshot{}, err
		}
		return session.Snapshot{}, fmt.Errorf("%w: %v", errs.ErrUnavailable, err)
	}
	return s.sessions.Open(accountID, st.SessionTimeout(), st.AutoLockEnabled)
}

// CloseSession ends a session owned by accountID.
func (s *SecurityServiceImpl) CloseSession(_ context.Context, accountID, sessionID uuid.UUID) error {
	return s.sessions.Close(accountID, sessionID)
}

// Lock locks a session owned by accountID.
func (s *SecurityServiceImpl) Lock(_ context.Context, accountID, sessionID uuid.UUID) (session.Snapshot, error) {
	return s.sessions.Lock(accountID, sessionID, session.ReasonManual)
}

// Touch records activity; a locked session yields errs.ErrSessionLocked.
func (s *SecurityServiceImpl) Touch(_ context.Context, accountID, sessionID uuid.UUID) (session.Snapshot, error) {
	return s.sessions.Touch(accountID, sessionID)
}

// SessionStatus returns a session owned by accountID.
func (s *SecurityServiceImpl) SessionStatus(_ context.Context, accountID, sessionID uuid.UUID) (session.Snapshot, error) {
	return s.sessions.Status(accountID, sessionID)
}

// Authorize checks session ownership before the attempt is counted.
func (s *SecurityServiceImpl) Authorize(ctx context.Context, a gate.Attempt) (model.Decision, error) {
	if a.AccountID == uuid.Nil {
		return model.Decision{}, errors.New("validation: empty accountID")
	}
	if a.SessionID != uuid.Nil {
		if _, err := s.sessions.Status(a.AccountID, a.SessionID); err != nil {
			return model.Decision{}, err
		}
	}
	return s.gate.Authorize(ctx, a, s.now()), nil
}

// ListEvents returns at most limit events, newest first.
func (s *SecurityServiceImpl) ListEvents(ctx context.Context, accountID uuid.UUID, limit int) ([]model.SecurityEvent, error) {
	if accountID == uuid.Nil {
		return nil, errors.New("validation: empty accountID")
	}
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	sctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.events.ListByAccount(sctx, accountID, limit)
}
