// Package keepalive keeps a session alive by reloading the target page once
// more than a fixed interval has passed since the last recorded reload.
package keepalive

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultInterval matches the twenty minute cadence the tool was built around.
const DefaultInterval = 20 * time.Minute

// Reloader triggers a full reload of the page being kept alive.
type Reloader interface {
	Reload(ctx context.Context) error
}

// ReloaderFunc adapts a function to Reloader.
type ReloaderFunc func(ctx context.Context) error

// Reload implements Reloader.
func (f ReloaderFunc) Reload(ctx context.Context) error { return f(ctx) }

// State is the persisted reload bookkeeping the loop reads and writes.
// *settings.Settings satisfies it.
type State interface {
	LastRefresh(ctx context.Context) (time.Time, bool, error)
	SetLastRefresh(ctx context.Context, t time.Time) error
}

// Decision describes the outcome of one check.
type Decision struct {
	CheckedAt time.Time
	// LastRefresh is the persisted value read at check time; zero when absent.
	LastRefresh time.Time
	Elapsed     time.Duration
	Reloaded    bool
}

// Loop is a reload check bound to an interval. The zero value is not usable;
// construct with NewLoop.
type Loop struct {
	state    State
	reloader Reloader
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithClock overrides the time source used for elapsed-time comparisons.
func WithClock(now func() time.Time) LoopOption {
	return func(l *Loop) { l.now = now }
}

// NewLoop builds a loop that reloads through r once interval has elapsed.
// A non-positive interval falls back to DefaultInterval.
func NewLoop(state State, r Reloader, interval time.Duration, logger *zap.Logger, opts ...LoopOption) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loop{
		state:    state,
		reloader: r,
		interval: interval,
		now:      time.Now,
		logger:   logger.Named("keepalive"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Interval returns the configured reload interval.
func (l *Loop) Interval() time.Duration { return l.interval }

// Check runs one invocation: if no reload was ever recorded, or strictly more
// than the interval has elapsed since the last one, it persists the current
// time and then reloads. The timestamp is written first so a reload that
// tears down the page cannot lose it.
func (l *Loop) Check(ctx context.Context) (Decision, error) {
	now := l.now()
	d := Decision{CheckedAt: now}

	last, ok, err := l.state.LastRefresh(ctx)
	if err != nil {
		return d, err
	}
	if ok {
		d.LastRefresh = last
		d.Elapsed = now.Sub(last)
		if d.Elapsed <= l.interval {
			return d, nil
		}
	}

	if err := l.state.SetLastRefresh(ctx, now); err != nil {
		return d, err
	}
	if err := l.reloader.Reload(ctx); err != nil {
		return d, err
	}
	d.Reloaded = true
	return d, nil
}

// Start runs Check immediately and then again every interval after the
// previous check finished, whether or not it reloaded or failed. Failures are
// logged and never stop the chain. The chain ends when Stop is called or ctx
// is cancelled.
func (l *Loop) Start(ctx context.Context) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	h.setNext(l.now())
	go l.run(ctx, h)
	return h
}

func (l *Loop) run(ctx context.Context, h *Handle) {
	defer close(h.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	l.logger.Info("Keepalive loop started.", zap.Duration("interval", l.interval))
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Keepalive loop stopped.")
			return
		case <-timer.C:
			l.tick(ctx)
			h.setNext(l.now().Add(l.interval))
			timer.Reset(l.interval)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	d, err := l.Check(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		l.logger.Error("Keepalive check failed.", zap.Error(err))
		return
	}
	if d.Reloaded {
		fields := []zap.Field{zap.Time("at", d.CheckedAt)}
		if !d.LastRefresh.IsZero() {
			fields = append(fields, zap.Duration("elapsed", d.Elapsed))
		}
		l.logger.Info("Page reloaded.", fields...)
		return
	}
	l.logger.Debug("Reload not due.", zap.Duration("elapsed", d.Elapsed))
}

// Handle controls a running chain started by Loop.Start.
type Handle struct {
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	mu   sync.Mutex
	next time.Time
}

// Stop cancels the pending check and waits for the loop goroutine to exit.
// It is safe to call more than once and from several goroutines.
func (h *Handle) Stop() {
	h.stopOnce.Do(h.cancel)
	<-h.done
}

// Done is closed once the loop goroutine has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// NextCheck reports when the next check is scheduled.
func (h *Handle) NextCheck() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.next
}

func (h *Handle) setNext(t time.Time) {
	h.mu.Lock()
	h.next = t
	h.mu.Unlock()
}
