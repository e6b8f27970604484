package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Config describes one rate-limited endpoint.
type Config struct {
	// Endpoint identifier (e.g. "/api/v1/rewrite/charge")
	Endpoint string
	// Maximum number of requests allowed in the window
	Limit int
	// Window duration in seconds
	WindowSeconds int
	// Optional identifier override (defaults to userID, then IP)
	Identifier string
}

// Result reports the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// Unix timestamp when the current window resets
	Reset int64
}

// RetryAfterSeconds returns the seconds a rejected caller should wait.
func (r Result) RetryAfterSeconds(now time.Time) int64 {
	wait := r.Reset - now.Unix()
	if wait < 0 {
		wait = 0
	}
	return wait
}

type entry struct {
	count       int
	windowStart time.Time
}

// Limiter is a fixed-window request counter keyed by
// (identifier, endpoint). Windows are anchored at the first request;
// once the window elapses the next request starts a fresh one, so
// bursts across a window boundary are possible. State is process-local
// and deliberately does not survive restarts.
type Limiter struct {
	mu        sync.Mutex
	entries   map[string]*entry
	retention time.Duration
	now       func() time.Time
}

// Default retention for idle entries before Cleanup removes them.
const defaultRetention = 24 * time.Hour

// New creates a limiter with the default 24h entry retention.
func New() *Limiter {
	return &Limiter{
		entries:   make(map[string]*entry),
		retention: defaultRetention,
		now:       time.Now,
	}
}

// WithClock replaces the limiter's time source. For tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Check applies the fixed-window rule for one request. The identifier
// is resolved as override > userID > ip > "anonymous". The
// read-check-increment runs under the limiter's lock so concurrent
// requests sharing a key cannot exceed the limit.
func (l *Limiter) Check(cfg Config, userID, ip string) Result {
	identifier := cfg.Identifier
	if identifier == "" {
		identifier = userID
	}
	if identifier == "" {
		identifier = ip
	}
	if identifier == "" {
		identifier = "anonymous"
	}
	key := fmt.Sprintf("%s:%s", identifier, cfg.Endpoint)

	window := time.Duration(cfg.WindowSeconds) * time.Second

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	e, ok := l.entries[key]
	if ok && now.Sub(e.windowStart) > window {
		// Window expired; the next request starts a fresh one.
		ok = false
	}

	if !ok {
		l.entries[key] = &entry{count: 1, windowStart: now}
		return Result{
			Allowed:   true,
			Limit:     cfg.Limit,
			Remaining: maxInt(0, cfg.Limit-1),
			Reset:     now.Add(window).Unix(),
		}
	}

	reset := e.windowStart.Add(window).Unix()

	if e.count >= cfg.Limit {
		return Result{
			Allowed:   false,
			Limit:     cfg.Limit,
			Remaining: 0,
			Reset:     reset,
		}
	}

	e.count++
	return Result{
		Allowed:   true,
		Limit:     cfg.Limit,
		Remaining: maxInt(0, cfg.Limit-e.count),
		Reset:     reset,
	}
}

// Cleanup removes entries idle longer than the retention threshold and
// returns how many were deleted. Best-effort housekeeping; meant to be
// driven by a ticker.
func (l *Limiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	deleted := 0
	for key, e := range l.entries {
		if now.Sub(e.windowStart) > l.retention {
			delete(l.entries, key)
			deleted++
		}
	}
	return deleted
}

// Clear removes all entries. For tests.
func (l *Limiter) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]*entry)
}

// Size returns the number of tracked keys. For monitoring.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
