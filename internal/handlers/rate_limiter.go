package handlers

import (
	"strings"
	"sync"
	"time"
)

type rateLimiter interface {
	Allow(key string) bool
}

// windowLimiter counts hits per key inside a fixed window. Windows are
// lazily opened on first hit and swept whenever a new one opens.
type windowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]*hitWindow
}

type hitWindow struct {
	hits      int
	expiresAt time.Time
}

func newSimpleRateLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]*hitWindow),
	}
}

func (l *windowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	if key = strings.TrimSpace(key); key == "" {
		key = "anonymous"
	}

	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	current := l.windows[key]
	if current == nil || !now.Before(current.expiresAt) {
		l.sweepLocked(now)
		l.windows[key] = &hitWindow{hits: 1, expiresAt: now.Add(l.window)}
		return true
	}

	if current.hits >= l.limit {
		return false
	}
	current.hits++
	return true
}

func (l *windowLimiter) sweepLocked(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.expiresAt) {
			delete(l.windows, key)
		}
	}
}
