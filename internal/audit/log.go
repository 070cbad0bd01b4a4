// Package audit persists security events asynchronously.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/and161185/pinlock/internal/model"
	"github.com/and161185/pinlock/internal/repository"
)

var (
	// ErrQueueFull is returned when an event could not be queued within the enqueue timeout.
	ErrQueueFull = errors.New("audit: event queue full")
	// ErrClosed is returned by Append after Close.
	ErrClosed = errors.New("audit: log closed")
)

// Sink accepts security events.
type Sink interface {
	Append(ctx context.Context, ev model.SecurityEvent) error
}

// Alerter is notified about events that could not be queued or written.
type Alerter func(ctx context.Context, ev model.SecurityEvent, err error)

// Stats is a snapshot of the log counters.
type Stats struct {
	Enqueued uint64
	Written  uint64
	Failed   uint64
	Dropped  uint64
	Pending  int
}

// Defaults applied by New.
const (
	// DefaultQueueSize is the number of events buffered ahead of the writer.
	DefaultQueueSize = 1024
	// DefaultEnqueueTimeout is how long Append waits for space in a full queue.
	DefaultEnqueueTimeout = 100 * time.Millisecond
	// DefaultWriteTimeout bounds one repository write.
	DefaultWriteTimeout = 3 * time.Second
	// DefaultRetryBase is the first backoff delay after a failed write.
	DefaultRetryBase = 50 * time.Millisecond
	// DefaultRetryCap is the largest backoff delay.
	DefaultRetryCap = 5 * time.Second
	// DefaultAlertInterval is the minimum spacing between alerts.
	DefaultAlertInterval = time.Second
)

// Option configures a Log.
type Option func(*Log)

// WithLogger sets the operational logger.
func WithLogger(l *zap.Logger) Option { return func(g *Log) { g.log = l } }

// WithQueueSize sets the queue capacity.
func WithQueueSize(n int) Option { return func(g *Log) { g.queueSize = n } }

// WithEnqueueTimeout bounds how long Append waits for queue space.
func WithEnqueueTimeout(d time.Duration) Option { return func(g *Log) { g.enqueueTimeout = d } }

// WithWriteTimeout bounds a single repository write.
func WithWriteTimeout(d time.Duration) Option { return func(g *Log) { g.writeTimeout = d } }

// WithRetry sets the exponential backoff base and cap.
func WithRetry(base, maxDelay time.Duration) Option {
	return func(g *Log) { g.retryBase, g.retryCap = base, maxDelay }
}

// WithAlerter replaces the default alerter.
func WithAlerter(a Alerter) Option { return func(g *Log) { g.alert = a } }

// WithAlertInterval sets the minimum spacing between alerts. Zero disables throttling.
func WithAlertInterval(d time.Duration) Option { return func(g *Log) { g.alertInterval = d } }

// Log is an asynchronous, retrying writer in front of an EventRepository.
// Events are written by a single worker in enqueue order.
type Log struct {
	repo repository.EventRepository
	log  *zap.Logger

	queueSize      int
	enqueueTimeout time.Duration
	writeTimeout   time.Duration
	retryBase      time.Duration
	retryCap       time.Duration
	alertInterval  time.Duration

	alert   Alerter
	limiter *rate.Limiter

	queue  chan model.SecurityEvent
	mu     sync.RWMutex
	closed bool

	ctx   context.Context
	abort context.CancelFunc
	done  chan struct{}

	enqueued atomic.Uint64
	written  atomic.Uint64
	failed   atomic.Uint64
	dropped  atomic.Uint64
}

var _ Sink = (*Log)(nil)

// New starts a Log writing to repo.
func New(repo repository.EventRepository, opts ...Option) *Log {
	l := &Log{
		repo:           repo,
		log:            zap.NewNop(),
		queueSize:      DefaultQueueSize,
		enqueueTimeout: DefaultEnqueueTimeout,
		writeTimeout:   DefaultWriteTimeout,
		retryBase:      DefaultRetryBase,
		retryCap:       DefaultRetryCap,
		alertInterval:  DefaultAlertInterval,
	}
	for _, o := range opts {
		o(l)
	}
	if l.log == nil {
		l.log = zap.NewNop()
	}
	if l.queueSize <= 0 {
		l.queueSize = DefaultQueueSize
	}
	if l.retryBase <= 0 {
		l.retryBase = DefaultRetryBase
	}
	if l.retryCap < l.retryBase {
		l.retryCap = l.retryBase
	}
	if l.alert == nil {
		l.alert = l.logAlert
	}
	if l.alertInterval > 0 {
		l.limiter = rate.NewLimiter(rate.Every(l.alertInterval), 1)
	}

	l.queue = make(chan model.SecurityEvent, l.queueSize)
	l.ctx, l.abort = context.WithCancel(context.Background())
	l.done = make(chan struct{})
	go l.run()
	return l
}

// Append queues ev for persistence. It does not wait for the write.
// An event that cannot be queued is written to the operational log in full
// before the error is returned.
func (l *Log) Append(ctx context.Context, ev model.SecurityEvent) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		l.deadLetter(ev, ErrClosed)
		l.raise(ctx, ev, ErrClosed)
		return ErrClosed
	}

	select {
	case l.queue <- ev:
		l.enqueued.Add(1)
		return nil
	default:
	}

	t := time.NewTimer(l.enqueueTimeout)
	defer t.Stop()
	select {
	case l.queue <- ev:
		l.enqueued.Add(1)
		return nil
	case <-t.C:
		l.deadLetter(ev, ErrQueueFull)
		l.raise(ctx, ev, ErrQueueFull)
		return ErrQueueFull
	}
}

// Stats returns the current counters.
func (l *Log) Stats() Stats {
	return Stats{
		Enqueued: l.enqueued.Load(),
		Written:  l.written.Load(),
		Failed:   l.failed.Load(),
		Dropped:  l.dropped.Load(),
		Pending:  len(l.queue),
	}
}

// Close stops accepting events and waits for the queue to drain. If ctx expires
// first, the remaining events are logged individually and an error is returned.
func (l *Log) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	before := l.dropped.Load()
	select {
	case <-l.done:
		l.abort()
		return nil
	case <-ctx.Done():
	}

	l.abort()
	<-l.done
	if n := l.dropped.Load() - before; n > 0 {
		return fmt.Errorf("audit: %d events not persisted at shutdown", n)
	}
	return nil
}

func (l *Log) run() {
	defer close(l.done)
	for ev := range l.queue {
		if err := l.write(ev); err != nil {
			l.deadLetter(ev, err)
			continue
		}
		l.written.Add(1)
	}
}

// write retries until the repository accepts ev or the log is aborted.
func (l *Log) write(ev model.SecurityEvent) error {
	b := retry.NewExponential(l.retryBase)
	b = retry.WithCappedDuration(l.retryCap, b)
	b = retry.WithJitterPercent(10, b)

	return retry.Do(l.ctx, b, func(ctx context.Context) error {
		wctx, cancel := context.WithTimeout(ctx, l.writeTimeout)
		defer cancel()
		if err := l.repo.Append(wctx, ev); err != nil {
			l.failed.Add(1)
			l.raise(ctx, ev, err)
			return retry.RetryableError(err)
		}
		return nil
	})
}

// deadLetter records an event that will not reach the repository. It is never throttled.
func (l *Log) deadLetter(ev model.SecurityEvent, err error) {
	l.dropped.Add(1)
	l.log.Error("security event not persisted",
		zap.String("event_id", ev.ID.String()),
		zap.String("account_id", ev.AccountID.String()),
		zap.String("session_id", ev.SessionID.String()),
		zap.String("type", string(ev.Type)),
		zap.Any("details", ev.Details),
		zap.Time("created_at", ev.CreatedAt),
		zap.Error(err),
	)
}

func (l *Log) raise(ctx context.Context, ev model.SecurityEvent, err error) {
	if l.limiter != nil && !l.limiter.Allow() {
		return
	}
	l.alert(ctx, ev, err)
}

func (l *Log) logAlert(_ context.Context, ev model.SecurityEvent, err error) {
	l.log.Error("security event log failure",
		zap.String("event_id", ev.ID.String()),
		zap.String("account_id", ev.AccountID.String()),
		zap.String("type", string(ev.Type)),
		zap.Uint64("failed_writes", l.failed.Load()),
		zap.Int("pending", len(l.queue)),
		zap.Error(err),
	)
}
