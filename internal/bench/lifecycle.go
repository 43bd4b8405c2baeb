package bench

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Lifecycle bounds a run: it owns the run context, the nominal deadline and
// an optional watchdog that ends the run if workers overstay.
//
// Cancelling the run context is cooperative. Only the watchdog also ends the
// Expired context, which workers use to force blocked calls to return.
type Lifecycle struct {
	ctx      context.Context
	cancel   context.CancelFunc
	expired  context.Context
	expire   context.CancelFunc
	deadline time.Time

	mu    sync.Mutex
	timer *time.Timer
	fired atomic.Bool
}

// NewLifecycle starts a run of the given duration under parent.
func NewLifecycle(parent context.Context, duration time.Duration) *Lifecycle {
	ctx, cancel := context.WithCancel(parent)
	expired, expire := context.WithCancel(context.Background())
	return &Lifecycle{
		ctx:      ctx,
		cancel:   cancel,
		expired:  expired,
		expire:   expire,
		deadline: time.Now().Add(duration),
	}
}

// Context returns the run context. It is done after Stop, a parent
// cancellation or the watchdog firing. Workers observe it between calls.
func (l *Lifecycle) Context() context.Context {
	return l.ctx
}

// Expired is done once the watchdog fires or the lifecycle is stopped.
func (l *Lifecycle) Expired() context.Context {
	return l.expired
}

// Deadline returns the nominal end of the run.
func (l *Lifecycle) Deadline() time.Time {
	return l.deadline
}

// StartWatchdog cancels the run after d unless Stop is called first.
// Calling it again re-arms the timer.
func (l *Lifecycle) StartWatchdog(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = time.AfterFunc(d, func() {
		l.fired.Store(true)
		l.cancel()
		l.expire()
	})
}

// WatchdogFired reports whether the watchdog ended the run.
func (l *Lifecycle) WatchdogFired() bool {
	return l.fired.Load()
}

// Stop disarms the watchdog and releases both contexts.
func (l *Lifecycle) Stop() {
	l.mu.Lock()
	if l.timer != nil {
		l.timer.Stop()
	}
	l.mu.Unlock()
	l.cancel()
	l.expire()
}
