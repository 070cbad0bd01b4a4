// Package session tracks interactive sessions and locks them when idle.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/pinlock/internal/audit"
	"github.com/and161185/pinlock/internal/errs"
	"github.com/and161185/pinlock/internal/model"
)

// DefaultTickInterval is how often each session checks for inactivity.
const DefaultTickInterval = 10 * time.Second

// ReasonManual is recorded for user-requested locks.
const ReasonManual = "manual"

// ErrShutdown is returned by Open after Shutdown.
var ErrShutdown = fmt.Errorf("%w: session manager shut down", errs.ErrUnavailable)

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	ID           uuid.UUID
	AccountID    uuid.UUID
	Locked       bool
	StartedAt    time.Time
	LastActivity time.Time
	Timeout      time.Duration
	AutoLock     bool
}

// IdleFor reports the inactivity at now.
func (s Snapshot) IdleFor(now time.Time) time.Duration { return now.Sub(s.LastActivity) }

type entry struct {
	Snapshot
	cancel context.CancelFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithTickInterval sets the idle check period.
func WithTickInterval(d time.Duration) Option { return func(m *Manager) { m.tick = d } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.log = l } }

// WithEventSink routes lock/unlock events to s.
func WithEventSink(s audit.Sink) Option { return func(m *Manager) { m.sink = s } }

// Manager owns all live sessions. Every session has its own idle watcher
// which is cancelled when the session is closed.
type Manager struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*entry
	closed   bool

	now  func() time.Time
	tick time.Duration
	log  *zap.Logger
	sink audit.Sink

	wg sync.WaitGroup
}

// NewManager builds a Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[uuid.UUID]*entry),
		now:      time.Now,
		tick:     DefaultTickInterval,
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(m)
	}
	if m.tick <= 0 {
		m.tick = DefaultTickInterval
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	return m
}

// Open starts an unlocked session for accountID.
func (m *Manager) Open(accountID uuid.UUID, timeout time.Duration, autoLock bool) (Snapshot, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return Snapshot{}, err
	}
	if timeout <= 0 {
		timeout = time.Duration(model.DefaultSessionTimeoutMinutes) * time.Minute
	}
	now := m.now()
	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{
		Snapshot: Snapshot{
			ID:           id,
			AccountID:    accountID,
			StartedAt:    now,
			LastActivity: now,
			Timeout:      timeout,
			AutoLock:     autoLock,
		},
		cancel: cancel,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return Snapshot{}, ErrShutdown
	}
	m.sessions[id] = e
	m.wg.Add(1)
	m.mu.Unlock()

	go m.watch(ctx, id)
	m.log.Info("session opened",
		zap.String("session_id", id.String()),
		zap.String("account_id", accountID.String()),
		zap.Duration("timeout", timeout),
		zap.Bool("auto_lock", autoLock))
	return e.Snapshot, nil
}

// Lock locks the session. Locking is always permitted, including an already locked session.
func (m *Manager) Lock(accountID, id uuid.UUID, reason string) (Snapshot, error) {
	m.mu.Lock()
	e, err := m.lookup(accountID, id)
	if err != nil {
		m.mu.Unlock()
		return Snapshot{}, err
	}
	e.Locked = true
	snap := e.Snapshot
	m.mu.Unlock()

	m.emit(snap, model.EventLocked, map[string]string{model.DetailReason: reason})
	return snap, nil
}

// Touch records activity on an unlocked session. A locked session, or one that
// has been idle past its timeout, returns errs.ErrSessionLocked.
func (m *Manager) Touch(accountID, id uuid.UUID) (Snapshot, error) {
	now := m.now()
	m.mu.Lock()
	e, err := m.lookup(accountID, id)
	if err != nil {
		m.mu.Unlock()
		return Snapshot{}, err
	}
	if e.Locked {
		m.mu.Unlock()
		return e.Snapshot, errs.ErrSessionLocked
	}
	if idle, ok := expired(e.Snapshot, now); ok {
		e.Locked = true
		snap := e.Snapshot
		m.mu.Unlock()
		m.emitAutoLock(snap, idle)
		return snap, errs.ErrSessionLocked
	}
	e.LastActivity = now
	snap := e.Snapshot
	m.mu.Unlock()
	return snap, nil
}

// Unlock clears the lock after a successful authorization.
func (m *Manager) Unlock(accountID, id uuid.UUID, now time.Time) (Snapshot, error) {
	m.mu.Lock()
	e, err := m.lookup(accountID, id)
	if err != nil {
		m.mu.Unlock()
		return Snapshot{}, err
	}
	was := e.Locked
	e.Locked = false
	e.LastActivity = now
	snap := e.Snapshot
	m.mu.Unlock()

	if was {
		m.emit(snap, model.EventUnlocked, nil)
	}
	return snap, nil
}

// Status returns a copy of the session.
func (m *Manager) Status(accountID, id uuid.UUID) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookup(accountID, id)
	if err != nil {
		return Snapshot{}, err
	}
	return e.Snapshot, nil
}

// CheckIdle locks the session if auto-lock is on and it has been idle for at
// least its timeout. It reports whether the session was locked by this call.
func (m *Manager) CheckIdle(id uuid.UUID) bool {
	now := m.now()
	m.mu.Lock()
	e, ok := m.sessions[id]
	if !ok || e.Locked {
		m.mu.Unlock()
		return false
	}
	idle, ok := expired(e.Snapshot, now)
	if !ok {
		m.mu.Unlock()
		return false
	}
	e.Locked = true
	snap := e.Snapshot
	m.mu.Unlock()

	m.emitAutoLock(snap, idle)
	return true
}

// Close discards the session and stops its idle watcher.
func (m *Manager) Close(accountID, id uuid.UUID) error {
	m.mu.Lock()
	e, err := m.lookup(accountID, id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	e.cancel()
	m.log.Info("session closed", zap.String("session_id", id.String()))
	return nil
}

// CloseAccount closes every session of accountID and returns how many were closed.
func (m *Manager) CloseAccount(accountID uuid.UUID) int {
	m.mu.Lock()
	var closed []*entry
	for id, e := range m.sessions {
		if e.AccountID == accountID {
			closed = append(closed, e)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, e := range closed {
		e.cancel()
	}
	return len(closed)
}

// Reconfigure applies new timeout and auto-lock preferences to every live
// session of accountID and returns how many were updated. Idle time already
// accrued counts against the new timeout on the next check.
func (m *Manager) Reconfigure(accountID uuid.UUID, timeout time.Duration, autoLock bool) int {
	if timeout <= 0 {
		timeout = time.Duration(model.DefaultSessionTimeoutMinutes) * time.Minute
	}
	m.mu.Lock()
	n := 0
	for _, e := range m.sessions {
		if e.AccountID == accountID {
			e.Timeout = timeout
			e.AutoLock = autoLock
			n++
		}
	}
	m.mu.Unlock()

	if n > 0 {
		m.log.Info("sessions reconfigured",
			zap.String("account_id", accountID.String()),
			zap.Int("sessions", n),
			zap.Duration("timeout", timeout),
			zap.Bool("auto_lock", autoLock))
	}
	return n
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown closes all sessions and waits for their watchers to exit.
// Open fails with ErrShutdown afterwards.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	all := m.sessions
	m.sessions = make(map[uuid.UUID]*entry)
	m.mu.Unlock()

	for _, e := range all {
		e.cancel()
	}
	m.wg.Wait()
}

func (m *Manager) lookup(accountID, id uuid.UUID) (*entry, error) {
	e, ok := m.sessions[id]
	if !ok || e.AccountID != accountID {
		return nil, errs.ErrSessionNotFound
	}
	return e, nil
}

func (m *Manager) watch(ctx context.Context, id uuid.UUID) {
	defer m.wg.Done()
	t := time.NewTicker(m.tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.CheckIdle(id)
		}
	}
}

func expired(s Snapshot, now time.Time) (time.Duration, bool) {
	if !s.AutoLock || s.Timeout <= 0 {
		return 0, false
	}
	idle := s.IdleFor(now)
	return idle, idle >= s.Timeout
}

func (m *Manager) emitAutoLock(s Snapshot, idle time.Duration) {
	m.log.Info("session auto-locked",
		zap.String("session_id", s.ID.String()),
		zap.Duration("idle", idle))
	m.emit(s, model.EventAutoLocked, map[string]string{model.DetailIdleFor: idle.String()})
}

func (m *Manager) emit(s Snapshot, typ model.EventType, details map[string]string) {
	if m.sink == nil {
		return
	}
	ev := model.NewEvent(s.AccountID, s.ID, typ, details, m.now())
	if err := m.sink.Append(context.Background(), ev); err != nil {
		m.log.Warn("session event not queued",
			zap.String("session_id", s.ID.String()),
			zap.String("type", string(typ)),
			zap.Error(err))
	}
}
