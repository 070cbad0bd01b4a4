// Package gate is the single authorization point for guarded operations.
// It owns the read-verify-decide-write cycle on an account's security settings.
package gate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/pinlock/internal/audit"
	pkgcrypto "github.com/and161185/pinlock/internal/crypto"
	"github.com/and161185/pinlock/internal/errs"
	"github.com/and161185/pinlock/internal/lockout"
	"github.com/and161185/pinlock/internal/model"
	"github.com/and161185/pinlock/internal/repository"
	"github.com/and161185/pinlock/internal/session"
)

// DefaultStoreTimeout bounds every settings read-modify-write.
const DefaultStoreTimeout = 3 * time.Second

// ErrDenied is returned by Guard when the attempt was not allowed.
var ErrDenied = errors.New("gate: denied")

// errUnchanged rolls back a transaction whose evaluation did not alter the settings.
var errUnchanged = errors.New("settings unchanged")

// Factor identifies the credential presented.
type Factor string

// Supported factors. Both share one failure counter.
const (
	FactorPIN       Factor = "pin"
	FactorBiometric Factor = "biometric"
)

// ParseFactor maps a wire value to a Factor. Empty means PIN.
func ParseFactor(s string) (Factor, error) {
	switch Factor(s) {
	case "", FactorPIN:
		return FactorPIN, nil
	case FactorBiometric:
		return FactorBiometric, nil
	default:
		return "", fmt.Errorf("%w: unknown factor %q", errs.ErrInvalidFormat, s)
	}
}

// Attempt is one authorization request.
type Attempt struct {
	AccountID uuid.UUID
	SessionID uuid.UUID // optional; unlocked on success
	Factor    Factor
	Secret    string // PIN factor only
	// BiometricVerified is the platform's verdict for FactorBiometric.
	BiometricVerified bool
}

// Option configures a Gate.
type Option func(*Gate)

// WithSessions lets the gate unlock sessions after a successful attempt.
func WithSessions(m *session.Manager) Option { return func(g *Gate) { g.sessions = m } }

// WithStoreTimeout overrides DefaultStoreTimeout.
func WithStoreTimeout(d time.Duration) Option { return func(g *Gate) { g.storeTimeout = d } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(g *Gate) { g.log = l } }

// WithClock overrides time.Now for enrollment and configuration events.
func WithClock(now func() time.Time) Option { return func(g *Gate) { g.now = now } }

// Gate authorizes guarded operations.
type Gate struct {
	settings repository.SettingsRepository
	hasher   *pkgcrypto.Hasher
	policy   lockout.Policy
	events   audit.Sink
	sessions *session.Manager
	locks    *lockout.KeyedMutex

	storeTimeout time.Duration
	log          *zap.Logger
	now          func() time.Time
}

// New constructs a Gate.
func New(settings repository.SettingsRepository, hasher *pkgcrypto.Hasher, policy lockout.Policy, events audit.Sink, opts ...Option) *Gate {
	g := &Gate{
		settings:     settings,
		hasher:       hasher,
		policy:       policy,
		events:       events,
		locks:        lockout.NewKeyedMutex(),
		storeTimeout: DefaultStoreTimeout,
		log:          zap.NewNop(),
		now:          time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	if g.storeTimeout <= 0 {
		g.storeTimeout = DefaultStoreTimeout
	}
	if g.log == nil {
		g.log = zap.NewNop()
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// Authorize evaluates one attempt at instant now. It never returns an error:
// every failure, including storage trouble, is a denial.
// Cancelling ctx does not abort an attempt in progress.
func (g *Gate) Authorize(ctx context.Context, a Attempt, now time.Time) model.Decision {
	ctx = context.WithoutCancel(ctx)
	if a.Factor == "" {
		a.Factor = FactorPIN
	}

	if err := g.checkFormat(a); err != nil {
		d := model.Deny(model.ReasonInvalidFormat)
		g.record(ctx, a, model.EventVerifyFailed, g.details(a, d, nil), now)
		return d
	}

	unlock := g.locks.Lock(a.AccountID)
	d, next, err := g.evaluate(ctx, a, now)
	unlock()

	switch {
	case errors.Is(err, errs.ErrNotFound):
		d = model.Deny(model.ReasonNotEnrolled)
	case err != nil:
		g.log.Error("settings store failure, denying",
			zap.String("account_id", a.AccountID.String()),
			zap.Error(err))
		d = model.Deny(model.ReasonServiceUnavailable)
	}

	typ := model.EventVerifyFailed
	switch {
	case d.Allowed():
		typ = model.EventVerifySucceeded
	case d.Reason == model.ReasonAccountLockedOut:
		typ = model.EventAccountLockedOut
	}
	g.record(ctx, a, typ, g.details(a, d, next), now)

	g.log.Info("authorization",
		zap.String("account_id", a.AccountID.String()),
		zap.String("factor", string(a.Factor)),
		zap.Stringer("decision", d))

	if d.Allowed() && a.SessionID != uuid.Nil && g.sessions != nil {
		if _, err := g.sessions.Unlock(a.AccountID, a.SessionID, now); err != nil {
			g.log.Warn("session not unlocked",
				zap.String("session_id", a.SessionID.String()),
				zap.Error(err))
		}
	}
	return d
}

// Guard runs op only when the attempt is allowed. A denial is reported as ErrDenied.
func (g *Gate) Guard(ctx context.Context, a Attempt, now time.Time, op func(ctx context.Context) error) (model.Decision, error) {
	d := g.Authorize(ctx, a, now)
	if !d.Allowed() {
		return d, fmt.Errorf("%w: %s", ErrDenied, d.Reason)
	}
	return d, op(ctx)
}

// Enroll sets the account's secret and preferences. It fails with
// errs.ErrAlreadyExists if the account is already enrolled.
func (g *Gate) Enroll(ctx context.Context, accountID uuid.UUID, secret string, p model.Preferences) error {
	if accountID == uuid.Nil {
		return fmt.Errorf("%w: empty account id", errs.ErrInvalidFormat)
	}
	if err := pkgcrypto.ValidateSecret(secret); err != nil {
		return err
	}
	if err := validatePreferences(p); err != nil {
		return err
	}
	salt, err := pkgcrypto.NewSalt()
	if err != nil {
		return err
	}
	s := &model.SecuritySettings{
		AccountID:             accountID,
		SecretHash:            g.hasher.Hash(secret, salt),
		SecretSalt:            salt,
		MaxFailedAttempts:     p.MaxFailedAttempts,
		SessionTimeoutMinutes: p.SessionTimeoutMinutes,
		AutoLockEnabled:       p.AutoLockEnabled,
	}
	if s.SessionTimeoutMinutes == 0 {
		s.SessionTimeoutMinutes = model.DefaultSessionTimeoutMinutes
	}

	unlock := g.locks.Lock(accountID)
	defer unlock()

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.storeTimeout)
	defer cancel()
	if err := g.settings.Create(sctx, s); err != nil {
		return err
	}
	g.record(ctx, Attempt{AccountID: accountID}, model.EventEnrolled, preferenceDetails(s), g.now())
	return nil
}

// Configure updates the account's preferences. Secret, salt, counter and lockout are untouched.
func (g *Gate) Configure(ctx context.Context, accountID uuid.UUID, p model.Preferences) (*model.SecuritySettings, error) {
	if err := validatePreferences(p); err != nil {
		return nil, err
	}

	unlock := g.locks.Lock(accountID)
	defer unlock()

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.storeTimeout)
	defer cancel()
	out, err := g.settings.Update(sctx, accountID, func(s *model.SecuritySettings) error {
		s.SessionTimeoutMinutes = p.SessionTimeoutMinutes
		if s.SessionTimeoutMinutes == 0 {
			s.SessionTimeoutMinutes = model.DefaultSessionTimeoutMinutes
		}
		s.AutoLockEnabled = p.AutoLockEnabled
		s.MaxFailedAttempts = p.MaxFailedAttempts
		return nil
	})
	if err != nil {
		return nil, err
	}
	g.record(ctx, Attempt{AccountID: accountID}, model.EventSettingsChanged, preferenceDetails(out), g.now())
	return out, nil
}

func (g *Gate) checkFormat(a Attempt) error {
	switch a.Factor {
	case FactorPIN:
		return pkgcrypto.ValidateSecret(a.Secret)
	case FactorBiometric:
		return nil
	default:
		return fmt.Errorf("%w: unknown factor %q", errs.ErrInvalidFormat, a.Factor)
	}
}

// evaluate runs verification and the lockout policy inside one settings transaction.
func (g *Gate) evaluate(ctx context.Context, a Attempt, now time.Time) (model.Decision, *model.SecuritySettings, error) {
	sctx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	defer cancel()

	var d model.Decision
	var snapshot model.SecuritySettings
	next, err := g.settings.Update(sctx, a.AccountID, func(s *model.SecuritySettings) error {
		ok := false
		if s.LockedUntil == nil || !now.Before(*s.LockedUntil) {
			ok = g.verify(a, s)
		}
		var n model.SecuritySettings
		n, d = g.policy.Evaluate(*s, ok, now)
		if d.Reason == model.ReasonAccountLocked {
			snapshot = n
			return errUnchanged
		}
		*s = n
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return d, &snapshot, nil
	}
	if err != nil {
		return model.Decision{}, nil, err
	}
	return d, next, nil
}

func (g *Gate) verify(a Attempt, s *model.SecuritySettings) bool {
	if a.Factor == FactorBiometric {
		return a.BiometricVerified
	}
	return g.hasher.Verify(a.Secret, s.SecretSalt, s.SecretHash)
}

func (g *Gate) details(a Attempt, d model.Decision, s *model.SecuritySettings) map[string]string {
	m := map[string]string{model.DetailFactor: string(a.Factor)}
	if !d.Allowed() {
		m[model.DetailReason] = string(d.Reason)
	}
	if d.LockedUntil != nil {
		m[model.DetailLockedUntil] = d.LockedUntil.UTC().Format(time.RFC3339)
	}
	if s != nil {
		m[model.DetailFailedAttempts] = strconv.Itoa(s.FailedAttempts)
	}
	return m
}

func (g *Gate) record(ctx context.Context, a Attempt, typ model.EventType, details map[string]string, now time.Time) {
	if g.events == nil {
		return
	}
	ev := model.NewEvent(a.AccountID, a.SessionID, typ, details, now)
	if err := g.events.Append(ctx, ev); err != nil {
		g.log.Warn("security event not queued",
			zap.String("account_id", a.AccountID.String()),
			zap.String("type", string(typ)),
			zap.Error(err))
	}
}

func validatePreferences(p model.Preferences) error {
	if p.SessionTimeoutMinutes < 0 {
		return fmt.Errorf("%w: negative session timeout", errs.ErrInvalidFormat)
	}
	if p.MaxFailedAttempts < 0 {
		return fmt.Errorf("%w: negative max failed attempts", errs.ErrInvalidFormat)
	}
	return nil
}

func preferenceDetails(s *model.SecuritySettings) map[string]string {
	return map[string]string{
		model.DetailSessionTimeout:    strconv.Itoa(s.SessionTimeoutMinutes),
		model.DetailAutoLock:          strconv.FormatBool(s.AutoLockEnabled),
		model.DetailMaxFailedAttempts: strconv.Itoa(s.MaxFailedAttempts),
	}
}
