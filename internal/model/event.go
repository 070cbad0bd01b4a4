package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// EventType names a security-relevant occurrence.
type EventType string

// Event types recorded by the security event log.
const (
	EventLocked           EventType = "locked"
	EventUnlocked         EventType = "unlocked"
	EventVerifyFailed     EventType = "verify_failed"
	EventVerifySucceeded  EventType = "verify_succeeded"
	EventAccountLockedOut EventType = "account_locked_out"
	EventAutoLocked       EventType = "auto_locked"
	EventEnrolled         EventType = "enrolled"
	EventSettingsChanged  EventType = "settings_changed"
)

// Detail keys used in SecurityEvent.Details.
const (
	DetailReason         = "reason"
	DetailFactor         = "factor"
	DetailFailedAttempts = "failed_attempts"
	DetailLockedUntil    = "locked_until"
	DetailIdleFor        = "idle_for"

	DetailSessionTimeout    = "session_timeout_minutes"
	DetailAutoLock          = "auto_lock_enabled"
	DetailMaxFailedAttempts = "max_failed_attempts"
)

// SecurityEvent is an immutable audit record.
type SecurityEvent struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	SessionID uuid.UUID // uuid.Nil when not bound to a session
	Type      EventType
	Details   map[string]string
	CreatedAt time.Time
}

// NewEvent builds an event with a fresh ID.
func NewEvent(accountID, sessionID uuid.UUID, typ EventType, details map[string]string, at time.Time) SecurityEvent {
	if details == nil {
		details = map[string]string{}
	}
	return SecurityEvent{
		ID:        uuid.Must(uuid.NewV4()),
		AccountID: accountID,
		SessionID: sessionID,
		Type:      typ,
		Details:   details,
		CreatedAt: at.UTC(),
	}
}
