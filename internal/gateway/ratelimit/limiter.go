// Package ratelimit implements sliding-window admission control and daily
// cost tracking for metered services.
package ratelimit

import (
	"sync"
	"time"
)

// DefaultWindow is the admission window size.
const DefaultWindow = time.Minute

// gcGraceFactor controls how long an idle key's window is retained.
const gcGraceFactor = 5

// Result reports an admission decision.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Check pairs a quota key with its per-window limit.
type Check struct {
	Key   string
	Limit int
}

// window holds the timestamp log for a single key.
type window struct {
	mu         sync.Mutex
	timestamps []time.Time
	lastSeen   time.Time
}

// prune drops timestamps older than the window. Caller holds w.mu.
func (w *window) prune(now time.Time, size time.Duration) {
	cutoff := now.Add(-size)
	i := 0
	for i < len(w.timestamps) && !w.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.timestamps = append(w.timestamps[:0], w.timestamps[i:]...)
	}
}

// Limiter is a sliding-window admission controller. State is keyed, so
// unrelated keys never contend on the same window lock.
type Limiter struct {
	mu         sync.RWMutex
	windows    map[string]*window
	windowSize time.Duration

	sweepMu   sync.Mutex
	lastSweep time.Time

	now func() time.Time
}

// NewLimiter creates a limiter with the given window size.
func NewLimiter(windowSize time.Duration) *Limiter {
	if windowSize <= 0 {
		windowSize = DefaultWindow
	}
	return &Limiter{
		windows:    make(map[string]*window),
		windowSize: windowSize,
		now:        time.Now,
	}
}

// Check reports whether one more event fits under limit for key. When
// consume is true and the event is allowed, it is recorded; when consume
// is false the call is a non-mutating peek. A peek may race with a
// concurrent consume from another caller; slight over/under-admission at
// the margin is accepted in exchange for not locking across calls.
func (l *Limiter) Check(key string, limit int, consume bool) Result {
	now := l.now()
	l.maybeSweep(now)

	w := l.getOrCreate(key)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now, l.windowSize)
	w.lastSeen = now

	used := len(w.timestamps)
	if used >= limit {
		return Result{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: l.retryAfter(w, now),
		}
	}

	if consume {
		w.timestamps = append(w.timestamps, now)
		used++
	}

	return Result{Allowed: true, Remaining: limit - used}
}

// CheckAll requires every quota to pass; the first failing quota denies
// the whole request and its key is returned. On success all quotas are
// consumed.
func (l *Limiter) CheckAll(checks []Check) (Result, string) {
	for _, c := range checks {
		if res := l.Check(c.Key, c.Limit, false); !res.Allowed {
			return res, c.Key
		}
	}

	last := Result{Allowed: true}
	for _, c := range checks {
		last = l.Check(c.Key, c.Limit, true)
	}
	return last, ""
}

// Reset clears all recorded events for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.windows, key)
	l.mu.Unlock()
}

// retryAfter is the time until the oldest event exits the window.
// Caller holds w.mu and the window is known to be full.
func (l *Limiter) retryAfter(w *window, now time.Time) time.Duration {
	if len(w.timestamps) == 0 {
		return 0
	}
	wait := w.timestamps[0].Add(l.windowSize).Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait
}

func (l *Limiter) getOrCreate(key string) *window {
	l.mu.RLock()
	w, ok := l.windows[key]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.windows[key]; ok {
		return w
	}
	w = &window{}
	l.windows[key] = w
	return w
}

// maybeSweep garbage-collects windows idle for more than gcGraceFactor
// window sizes. Runs at most once per window size.
func (l *Limiter) maybeSweep(now time.Time) {
	l.sweepMu.Lock()
	if now.Sub(l.lastSweep) < l.windowSize {
		l.sweepMu.Unlock()
		return
	}
	l.lastSweep = now
	l.sweepMu.Unlock()

	grace := time.Duration(gcGraceFactor) * l.windowSize

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		w.mu.Lock()
		idle := now.Sub(w.lastSeen) > grace
		w.mu.Unlock()
		if idle {
			delete(l.windows, key)
		}
	}
}
