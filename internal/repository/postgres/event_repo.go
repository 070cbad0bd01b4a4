package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/pinlock/internal/model"
	"github.com/and161185/pinlock/internal/repository"
)

var _ repository.EventRepository = (*EventRepo)(nil)

// DefaultListLimit caps ListByAccount when the caller passes a non-positive limit.
const DefaultListLimit = 100

// EventRepo implements EventRepository using PostgreSQL. The table rejects UPDATE and DELETE.
type EventRepo struct{ db *DB }

// NewEventRepo constructs an event repository.
func NewEventRepo(db *DB) *EventRepo { return &EventRepo{db: db} }

// Append inserts one event. Re-delivery of the same event ID is a no-op.
func (r *EventRepo) Append(ctx context.Context, ev model.SecurityEvent) error {
	details, err := json.Marshal(ev.Details)
	if err != nil {
		return fmt.Errorf("marshal event details: %w", err)
	}
	const q = `
INSERT INTO security_events (id, account_id, session_id, event_type, details, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING`
	sid := uuid.NullUUID{UUID: ev.SessionID, Valid: ev.SessionID != uuid.Nil}
	if _, err := r.db.Pool.Exec(ctx, q, ev.ID, ev.AccountID, sid, string(ev.Type), details, ev.CreatedAt); err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}

// ListByAccount returns the newest events for an account.
func (r *EventRepo) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]model.SecurityEvent, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	const q = `
SELECT id, account_id, COALESCE(session_id::text, ''), event_type, details, created_at
FROM security_events
WHERE account_id=$1
ORDER BY created_at DESC
LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("select security events: %w", err)
	}
	defer rows.Close()

	var out []model.SecurityEvent
	for rows.Next() {
		var (
			ev      model.SecurityEvent
			sid     string
			typ     string
			details []byte
		)
		if err = rows.Scan(&ev.ID, &ev.AccountID, &sid, &typ, &details, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if sid != "" {
			if ev.SessionID, err = uuid.FromString(sid); err != nil {
				return nil, fmt.Errorf("decode session id: %w", err)
			}
		}
		ev.Type = model.EventType(typ)
		if len(details) > 0 {
			if err = json.Unmarshal(details, &ev.Details); err != nil {
				return nil, fmt.Errorf("decode event details: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
