// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Defaults shipped with every account unless overridden.
const (
	DefaultMaxFailedAttempts     = 5
	DefaultLockoutDuration       = 30 * time.Minute
	DefaultSessionTimeoutMinutes = 30
	SecretSaltMinBits            = 128
)

// SecuritySettings is the per-account lock state. Only the authorization gate mutates it.
type SecuritySettings struct {
	AccountID             uuid.UUID  // PK
	SecretHash            []byte     // Argon2id(secret, SecretSalt)
	SecretSalt            []byte     // random, immutable after enrollment
	FailedAttempts        int        // consecutive counted failures
	MaxFailedAttempts     int        // 0 means policy default
	LockedUntil           *time.Time // refuse all attempts while in the future
	LastSuccessfulAuth    *time.Time
	SessionTimeoutMinutes int
	AutoLockEnabled       bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// SessionTimeout returns the idle timeout, falling back to the default for unset values.
func (s SecuritySettings) SessionTimeout() time.Duration {
	m := s.SessionTimeoutMinutes
	if m <= 0 {
		m = DefaultSessionTimeoutMinutes
	}
	return time.Duration(m) * time.Minute
}

// Clone returns a deep copy so callers can mutate without aliasing stored values.
func (s SecuritySettings) Clone() SecuritySettings {
	c := s
	c.SecretHash = append([]byte(nil), s.SecretHash...)
	c.SecretSalt = append([]byte(nil), s.SecretSalt...)
	c.LockedUntil = cloneTime(s.LockedUntil)
	c.LastSuccessfulAuth = cloneTime(s.LastSuccessfulAuth)
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Preferences are the account-tunable parts of SecuritySettings.
type Preferences struct {
	SessionTimeoutMinutes int
	AutoLockEnabled       bool
	MaxFailedAttempts     int
}

// DefaultPreferences returns the safe defaults for a new account.
func DefaultPreferences() Preferences {
	return Preferences{
		SessionTimeoutMinutes: DefaultSessionTimeoutMinutes,
		AutoLockEnabled:       true,
	}
}

// Preferences extracts the account-tunable fields.
func (s SecuritySettings) Preferences() Preferences {
	return Preferences{
		SessionTimeoutMinutes: s.SessionTimeoutMinutes,
		AutoLockEnabled:       s.AutoLockEnabled,
		MaxFailedAttempts:     s.MaxFailedAttempts,
	}
}
