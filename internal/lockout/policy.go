// Package lockout decides how failed verification attempts escalate into a timed account lockout.
package lockout

import (
	"time"

	"github.com/and161185/pinlock/internal/model"
)

// Policy holds the lockout thresholds.
type Policy struct {
	MaxFailedAttempts int           // default threshold when the account has none
	LockoutDuration   time.Duration // fixed lockout window
}

// DefaultPolicy returns 5 attempts / 30 minutes.
func DefaultPolicy() Policy {
	return Policy{
		MaxFailedAttempts: model.DefaultMaxFailedAttempts,
		LockoutDuration:   model.DefaultLockoutDuration,
	}
}

// Threshold returns the effective failure threshold for s.
func (p Policy) Threshold(s model.SecuritySettings) int {
	if s.MaxFailedAttempts > 0 {
		return s.MaxFailedAttempts
	}
	if p.MaxFailedAttempts > 0 {
		return p.MaxFailedAttempts
	}
	return model.DefaultMaxFailedAttempts
}

func (p Policy) lockoutDuration() time.Duration {
	if p.LockoutDuration > 0 {
		return p.LockoutDuration
	}
	return model.DefaultLockoutDuration
}

// Evaluate applies one verification outcome to s at instant now.
// It is pure: the input is not modified and the result depends only on the arguments.
func (p Policy) Evaluate(s model.SecuritySettings, ok bool, now time.Time) (model.SecuritySettings, model.Decision) {
	next := s.Clone()

	if next.LockedUntil != nil {
		if now.Before(*next.LockedUntil) {
			return next, model.DenyUntil(model.ReasonAccountLocked, *next.LockedUntil)
		}
		// expired window: clear it in this same transition so a stale read cannot revive it
		next.LockedUntil = nil
		next.FailedAttempts = 0
	}

	if ok {
		at := now
		next.FailedAttempts = 0
		next.LastSuccessfulAuth = &at
		next.LockedUntil = nil
		return next, model.Allow()
	}

	if next.FailedAttempts < 0 {
		next.FailedAttempts = 0
	}
	next.FailedAttempts++
	if next.FailedAttempts >= p.Threshold(next) {
		until := now.Add(p.lockoutDuration())
		next.LockedUntil = &until
		return next, model.DenyUntil(model.ReasonAccountLockedOut, until)
	}
	return next, model.Deny(model.ReasonInvalidSecret)
}
