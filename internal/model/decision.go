package model

import "time"

// Reason is a machine-readable denial code. None of them reveal how close a secret was.
type Reason string

// Denial reasons.
const (
	ReasonNone               Reason = ""
	ReasonInvalidFormat      Reason = "invalid_format"
	ReasonInvalidSecret      Reason = "invalid_secret"
	ReasonAccountLocked      Reason = "account_locked"
	ReasonAccountLockedOut   Reason = "account_locked_out"
	ReasonNotEnrolled        Reason = "not_enrolled"
	ReasonServiceUnavailable Reason = "service_unavailable"
)

// Decision is the outcome of an authorization attempt.
type Decision struct {
	Reason      Reason     // ReasonNone when allowed
	LockedUntil *time.Time // set for lockout reasons: retry after this instant
}

// Allow is the positive decision.
func Allow() Decision { return Decision{} }

// Deny builds a negative decision with the given reason.
func Deny(r Reason) Decision { return Decision{Reason: r} }

// DenyUntil builds a lockout decision carrying the retry-after instant.
func DenyUntil(r Reason, until time.Time) Decision {
	u := until
	return Decision{Reason: r, LockedUntil: &u}
}

// Allowed reports whether the guarded operation may proceed.
func (d Decision) Allowed() bool { return d.Reason == ReasonNone }

// String implements fmt.Stringer.
func (d Decision) String() string {
	if d.Allowed() {
		return "allowed"
	}
	return "denied(" + string(d.Reason) + ")"
}
