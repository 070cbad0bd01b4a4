// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/pinlock/internal/model"
)

// SettingsRepository provides access to per-account security settings.
type SettingsRepository interface {
	// Create inserts settings for a newly enrolled account.
	Create(ctx context.Context, s *model.SecuritySettings) error
	// Get loads settings by account ID.
	Get(ctx context.Context, accountID uuid.UUID) (*model.SecuritySettings, error)
	// Put overwrites settings of an existing account.
	Put(ctx context.Context, s *model.SecuritySettings) error
	// Update runs fn against the current settings inside one transaction holding
	// the account row lock, and stores the result. If fn returns an error nothing is written.
	Update(ctx context.Context, accountID uuid.UUID, fn func(*model.SecuritySettings) error) (*model.SecuritySettings, error)
}

// EventRepository is the append-only security event store.
type EventRepository interface {
	// Append stores one event.
	Append(ctx context.Context, ev model.SecurityEvent) error
	// ListByAccount returns the newest events of an account, newest first.
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]model.SecurityEvent, error)
}
