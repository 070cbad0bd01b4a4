package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/and161185/pinlock/internal/model"
)

type memRepo struct {
	mu       sync.Mutex
	events   []model.SecurityEvent
	failN    int
	failAll  bool
	release  chan struct{}
	calls    atomic.Int32
	appended chan struct{}
}

func (r *memRepo) Append(ctx context.Context, ev model.SecurityEvent) error {
	r.calls.Add(1)
	if r.appended != nil {
		select {
		case r.appended <- struct{}{}:
		default:
		}
	}
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAll {
		return errors.New("store down")
	}
	if r.failN > 0 {
		r.failN--
		return errors.New("transient")
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *memRepo) ListByAccount(context.Context, uuid.UUID, int) ([]model.SecurityEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.SecurityEvent(nil), r.events...), nil
}

func event(typ model.EventType) model.SecurityEvent {
	return model.NewEvent(uuid.Must(uuid.NewV4()), uuid.Nil, typ, nil, time.Now())
}

type alerts struct {
	mu   sync.Mutex
	errs []error
}

func (a *alerts) fn(_ context.Context, _ model.SecurityEvent, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errs = append(a.errs, err)
}

func (a *alerts) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.errs)
}

func TestLog_WritesInOrder(t *testing.T) {
	repo := &memRepo{}
	l := New(repo, WithLogger(zaptest.NewLogger(t)))

	var want []model.SecurityEvent
	for i := 0; i < 10; i++ {
		ev := event(model.EventVerifyFailed)
		want = append(want, ev)
		require.NoError(t, l.Append(context.Background(), ev))
	}
	require.NoError(t, l.Close(context.Background()))

	got, _ := repo.ListByAccount(context.Background(), uuid.Nil, 0)
	require.Equal(t, want, got)

	st := l.Stats()
	require.EqualValues(t, 10, st.Enqueued)
	require.EqualValues(t, 10, st.Written)
	require.Zero(t, st.Failed)
	require.Zero(t, st.Pending)
}

func TestLog_RetriesUntilWritten(t *testing.T) {
	repo := &memRepo{failN: 3}
	var a alerts
	l := New(repo,
		WithRetry(time.Millisecond, 5*time.Millisecond),
		WithAlerter(a.fn),
		WithAlertInterval(0),
	)

	require.NoError(t, l.Append(context.Background(), event(model.EventLocked)))
	require.NoError(t, l.Close(context.Background()))

	st := l.Stats()
	require.EqualValues(t, 1, st.Written)
	require.EqualValues(t, 3, st.Failed)
	require.Equal(t, 3, a.len())
	require.EqualValues(t, 4, repo.calls.Load())
}

func TestLog_QueueFullIsReportedAndAlerted(t *testing.T) {
	repo := &memRepo{release: make(chan struct{}), appended: make(chan struct{}, 1)}
	var a alerts
	l := New(repo,
		WithQueueSize(1),
		WithEnqueueTimeout(10*time.Millisecond),
		WithAlerter(a.fn),
		WithAlertInterval(0),
	)

	require.NoError(t, l.Append(context.Background(), event(model.EventLocked)))
	<-repo.appended // worker holds the first event

	require.NoError(t, l.Append(context.Background(), event(model.EventUnlocked)))
	err := l.Append(context.Background(), event(model.EventAutoLocked))
	require.ErrorIs(t, err, ErrQueueFull)
	require.Equal(t, 1, a.len())
	require.EqualValues(t, 1, l.Stats().Dropped)

	close(repo.release)
	require.NoError(t, l.Close(context.Background()))
	require.EqualValues(t, 2, l.Stats().Written)
}

func TestLog_CloseDeadlineDeadLettersPending(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	repo := &memRepo{failAll: true}
	l := New(repo,
		WithLogger(zap.New(core)),
		WithRetry(time.Millisecond, 2*time.Millisecond),
		WithAlerter(func(context.Context, model.SecurityEvent, error) {}),
	)

	first, second := event(model.EventVerifyFailed), event(model.EventAccountLockedOut)
	require.NoError(t, l.Append(context.Background(), first))
	require.NoError(t, l.Append(context.Background(), second))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := l.Close(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "2 events")

	dead := logs.FilterMessage("security event not persisted").All()
	require.Len(t, dead, 2)
	require.Equal(t, first.ID.String(), dead[0].ContextMap()["event_id"])
	require.Equal(t, string(model.EventAccountLockedOut), dead[1].ContextMap()["type"])

	require.ErrorIs(t, l.Append(context.Background(), event(model.EventLocked)), ErrClosed)
}

func TestLog_EventsRejectedWhileStoreIsDownAreLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	repo := &memRepo{failAll: true}
	l := New(repo,
		WithLogger(zap.New(core)),
		WithQueueSize(1),
		WithEnqueueTimeout(5*time.Millisecond),
		WithRetry(time.Millisecond, time.Millisecond),
		WithAlertInterval(time.Hour),
	)

	sent := make([]model.SecurityEvent, 0, 10)
	for range 10 {
		ev := event(model.EventAccountLockedOut)
		sent = append(sent, ev)
		if err := l.Append(context.Background(), ev); err != nil {
			require.ErrorIs(t, err, ErrQueueFull)
		}
	}
	require.Positive(t, l.Stats().Dropped)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.Error(t, l.Close(ctx))

	logged := map[string]bool{}
	for _, e := range logs.FilterMessage("security event not persisted").All() {
		logged[e.ContextMap()["event_id"].(string)] = true
	}
	for _, ev := range sent {
		require.True(t, logged[ev.ID.String()], "event %s left no trace", ev.ID)
	}
	require.EqualValues(t, 10, l.Stats().Dropped)

	late := event(model.EventLocked)
	require.ErrorIs(t, l.Append(context.Background(), late), ErrClosed)
	require.Len(t, logs.FilterMessage("security event not persisted").FilterField(zap.String("event_id", late.ID.String())).All(), 1)
}

func TestLog_AlertsAreThrottled(t *testing.T) {
	repo := &memRepo{failAll: true}
	var a alerts
	l := New(repo,
		WithRetry(time.Millisecond, time.Millisecond),
		WithAlerter(a.fn),
		WithAlertInterval(time.Hour),
	)

	require.NoError(t, l.Append(context.Background(), event(model.EventLocked)))
	require.Eventually(t, func() bool { return l.Stats().Failed >= 5 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, l.Close(ctx))
	require.Equal(t, 1, a.len())
}

func TestLog_DefaultAlerterLogsFailure(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	repo := &memRepo{failN: 1}
	l := New(repo, WithLogger(zap.New(core)), WithRetry(time.Millisecond, time.Millisecond))

	ev := event(model.EventVerifyFailed)
	require.NoError(t, l.Append(context.Background(), ev))
	require.NoError(t, l.Close(context.Background()))

	entries := logs.FilterMessage("security event log failure").All()
	require.Len(t, entries, 1)
	require.Equal(t, ev.AccountID.String(), entries[0].ContextMap()["account_id"])
}
