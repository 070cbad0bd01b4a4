package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/pinlock/internal/model"
	"github.com/and161185/pinlock/internal/repository"
)

var _ repository.EventRepository = (*EventRepo)(nil)

// DefaultListLimit caps ListByAccount when the caller passes a non-positive limit.
const DefaultListLimit = 100

// EventRepo implements EventRepository on SQLite. Triggers reject UPDATE and DELETE.
type EventRepo struct{ db *sql.DB }

// NewEventRepo constructs an event repository.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

// Append inserts one event. Re-delivery of the same event ID is a no-op.
func (r *EventRepo) Append(ctx context.Context, ev model.SecurityEvent) error {
	details, err := json.Marshal(ev.Details)
	if err != nil {
		return fmt.Errorf("marshal event details: %w", err)
	}
	var sid string
	if ev.SessionID != uuid.Nil {
		sid = ev.SessionID.String()
	}
	const q = `
INSERT INTO security_events (id, account_id, session_id, event_type, details, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, q,
		ev.ID.String(), ev.AccountID.String(), sid, string(ev.Type), string(details), ev.CreatedAt.UnixNano(),
	); err != nil {
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
SELECT id, account_id, session_id, event_type, details, created_at
FROM security_events
WHERE account_id=?
ORDER BY created_at DESC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, q, accountID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("select security events: %w", err)
	}
	defer rows.Close()

	var out []model.SecurityEvent
	for rows.Next() {
		var (
			id, acc, sid, typ, details string
			created                    int64
		)
		if err = rows.Scan(&id, &acc, &sid, &typ, &details, &created); err != nil {
			return nil, err
		}
		ev := model.SecurityEvent{Type: model.EventType(typ), CreatedAt: time.Unix(0, created).UTC()}
		if ev.ID, err = uuid.FromString(id); err != nil {
			return nil, fmt.Errorf("decode event id: %w", err)
		}
		if ev.AccountID, err = uuid.FromString(acc); err != nil {
			return nil, fmt.Errorf("decode account id: %w", err)
		}
		if sid != "" {
			if ev.SessionID, err = uuid.FromString(sid); err != nil {
				return nil, fmt.Errorf("decode session id: %w", err)
			}
		}
		if err = json.Unmarshal([]byte(details), &ev.Details); err != nil {
			return nil, fmt.Errorf("decode event details: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
