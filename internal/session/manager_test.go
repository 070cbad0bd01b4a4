package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/pinlock/internal/errs"
	"github.com/and161185/pinlock/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	events []model.SecurityEvent
}

func (r *recorder) Append(_ context.Context, ev model.SecurityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []model.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func newTestManager(t *testing.T, tick time.Duration) (*Manager, *fakeClock, *recorder) {
	t.Helper()
	clk := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	rec := &recorder{}
	m := NewManager(
		WithClock(clk.Now),
		WithTickInterval(tick),
		WithLogger(zaptest.NewLogger(t)),
		WithEventSink(rec),
	)
	t.Cleanup(m.Shutdown)
	return m, clk, rec
}

func TestManager_AutoLockAfterIdleTimeout(t *testing.T) {
	m, clk, rec := newTestManager(t, time.Millisecond)
	acc := uuid.Must(uuid.NewV4())

	s, err := m.Open(acc, 5*time.Minute, true)
	require.NoError(t, err)
	require.False(t, s.Locked)

	clk.Advance(4 * time.Minute)
	_, err = m.Touch(acc, s.ID)
	require.NoError(t, err)

	// 4m59s since the touch: still unlocked
	clk.Advance(4*time.Minute + 59*time.Second)
	require.False(t, m.CheckIdle(s.ID))

	clk.Advance(time.Second)
	require.Eventually(t, func() bool {
		st, err := m.Status(acc, s.ID)
		return err == nil && st.Locked
	}, time.Second, time.Millisecond)

	_, err = m.Touch(acc, s.ID)
	require.ErrorIs(t, err, errs.ErrSessionLocked)
	require.Equal(t, []model.EventType{model.EventAutoLocked}, rec.types())

	_, err = m.Unlock(acc, s.ID, clk.Now())
	require.NoError(t, err)
	_, err = m.Touch(acc, s.ID)
	require.NoError(t, err)
	require.Equal(t, []model.EventType{model.EventAutoLocked, model.EventUnlocked}, rec.types())
}

func TestManager_AutoLockDisabled(t *testing.T) {
	m, clk, _ := newTestManager(t, time.Hour)
	acc := uuid.Must(uuid.NewV4())

	s, err := m.Open(acc, time.Minute, false)
	require.NoError(t, err)
	clk.Advance(time.Hour)
	require.False(t, m.CheckIdle(s.ID))
	_, err = m.Touch(acc, s.ID)
	require.NoError(t, err)
}

func TestManager_TouchAfterTimeoutLocksBeforeTick(t *testing.T) {
	m, clk, rec := newTestManager(t, time.Hour)
	acc := uuid.Must(uuid.NewV4())

	s, err := m.Open(acc, time.Minute, true)
	require.NoError(t, err)
	clk.Advance(2 * time.Minute)

	_, err = m.Touch(acc, s.ID)
	require.ErrorIs(t, err, errs.ErrSessionLocked)
	require.Equal(t, []model.EventType{model.EventAutoLocked}, rec.types())
}

func TestManager_ExplicitLock(t *testing.T) {
	m, _, rec := newTestManager(t, time.Hour)
	acc := uuid.Must(uuid.NewV4())

	s, err := m.Open(acc, 0, true)
	require.NoError(t, err)
	require.Equal(t, time.Duration(model.DefaultSessionTimeoutMinutes)*time.Minute, s.Timeout)

	locked, err := m.Lock(acc, s.ID, ReasonManual)
	require.NoError(t, err)
	require.True(t, locked.Locked)

	// locking a locked session is allowed and logged again
	_, err = m.Lock(acc, s.ID, ReasonManual)
	require.NoError(t, err)
	require.Equal(t, []model.EventType{model.EventLocked, model.EventLocked}, rec.types())

	_, err = m.Touch(acc, s.ID)
	require.ErrorIs(t, err, errs.ErrSessionLocked)
}

func TestManager_UnlockOfUnlockedSessionIsSilent(t *testing.T) {
	m, clk, rec := newTestManager(t, time.Hour)
	acc := uuid.Must(uuid.NewV4())

	s, err := m.Open(acc, time.Minute, true)
	require.NoError(t, err)
	clk.Advance(30 * time.Second)
	out, err := m.Unlock(acc, s.ID, clk.Now())
	require.NoError(t, err)
	require.Equal(t, clk.Now(), out.LastActivity)
	require.Empty(t, rec.types())
}

func TestManager_OwnershipIsEnforced(t *testing.T) {
	m, clk, _ := newTestManager(t, time.Hour)
	owner := uuid.Must(uuid.NewV4())
	other := uuid.Must(uuid.NewV4())

	s, err := m.Open(owner, time.Minute, true)
	require.NoError(t, err)

	_, err = m.Status(other, s.ID)
	require.ErrorIs(t, err, errs.ErrSessionNotFound)
	_, err = m.Lock(other, s.ID, ReasonManual)
	require.ErrorIs(t, err, errs.ErrSessionNotFound)
	_, err = m.Unlock(other, s.ID, clk.Now())
	require.ErrorIs(t, err, errs.ErrSessionNotFound)
	require.ErrorIs(t, m.Close(other, s.ID), errs.ErrSessionNotFound)

	_, err = m.Status(owner, uuid.Must(uuid.NewV4()))
	require.ErrorIs(t, err, errs.ErrSessionNotFound)
}

func TestManager_CloseStopsWatcher(t *testing.T) {
	m, clk, rec := newTestManager(t, time.Millisecond)
	acc := uuid.Must(uuid.NewV4())

	s, err := m.Open(acc, time.Minute, true)
	require.NoError(t, err)
	require.NoError(t, m.Close(acc, s.ID))
	require.Zero(t, m.Len())

	clk.Advance(time.Hour)
	time.Sleep(10 * time.Millisecond)
	require.Empty(t, rec.types())
	require.False(t, m.CheckIdle(s.ID))

	_, err = m.Status(acc, s.ID)
	require.ErrorIs(t, err, errs.ErrSessionNotFound)
}

func TestManager_CloseAccount(t *testing.T) {
	m, _, _ := newTestManager(t, time.Hour)
	acc := uuid.Must(uuid.NewV4())
	other := uuid.Must(uuid.NewV4())

	for i := 0; i < 3; i++ {
		_, err := m.Open(acc, time.Minute, true)
		require.NoError(t, err)
	}
	keep, err := m.Open(other, time.Minute, true)
	require.NoError(t, err)

	require.Equal(t, 3, m.CloseAccount(acc))
	require.Equal(t, 1, m.Len())
	_, err = m.Status(other, keep.ID)
	require.NoError(t, err)
}

func TestManager_ReconfigureAppliesToLiveSessions(t *testing.T) {
	m, clk, rec := newTestManager(t, time.Hour)
	acc := uuid.Must(uuid.NewV4())
	other := uuid.Must(uuid.NewV4())

	s, err := m.Open(acc, time.Minute, true)
	require.NoError(t, err)
	o, err := m.Open(other, time.Minute, true)
	require.NoError(t, err)

	require.Equal(t, 1, m.Reconfigure(acc, time.Hour, false))

	got, err := m.Status(acc, s.ID)
	require.NoError(t, err)
	require.False(t, got.AutoLock)
	require.Equal(t, time.Hour, got.Timeout)

	clk.Advance(2 * time.Minute)
	require.False(t, m.CheckIdle(s.ID))
	_, err = m.Touch(acc, s.ID)
	require.NoError(t, err)
	require.True(t, m.CheckIdle(o.ID), "other accounts keep their settings")

	require.Equal(t, 1, m.Reconfigure(acc, 30*time.Second, true))
	clk.Advance(time.Minute)
	require.True(t, m.CheckIdle(s.ID))
	require.Equal(t, []model.EventType{model.EventAutoLocked, model.EventAutoLocked}, rec.types())
}

func TestManager_OpenAfterShutdown(t *testing.T) {
	m, _, _ := newTestManager(t, time.Millisecond)
	acc := uuid.Must(uuid.NewV4())

	_, err := m.Open(acc, time.Minute, true)
	require.NoError(t, err)
	m.Shutdown()
	require.Zero(t, m.Len())

	_, err = m.Open(acc, time.Minute, true)
	require.ErrorIs(t, err, ErrShutdown)
	require.ErrorIs(t, err, errs.ErrUnavailable)
	require.Zero(t, m.Len())
}
