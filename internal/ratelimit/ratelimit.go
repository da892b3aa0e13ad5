// Package ratelimit provides in-process sliding-window admission control.
// State is deliberately not persisted: limits reset on restart, which is
// acceptable for a soft defense.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter refuses events past maxEvents per window. A refused event is not
// recorded, so hammering a full window does not extend the lockout.
type Limiter struct {
	mu     sync.Mutex
	events map[string][]time.Time
	now    func() time.Time
}

func NewLimiter() *Limiter {
	return &Limiter{events: make(map[string][]time.Time), now: time.Now}
}

// WithClock replaces the time source so tests can control the window.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

func (l *Limiter) Allow(key string, maxEvents int, period time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	kept := prune(l.events[key], now.Add(-period))

	if len(kept) >= maxEvents {
		l.events[key] = kept
		return false
	}

	l.events[key] = append(kept, now)
	return true
}

// Tracker counts events in a rolling window. Unlike Limiter it always
// records, so callers can drive escalating responses off the count.
type Tracker struct {
	mu     sync.Mutex
	events map[string][]time.Time
	now    func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{events: make(map[string][]time.Time), now: time.Now}
}

func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Record adds an event and returns how many events fall inside the window.
func (t *Tracker) Record(key string, period time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	kept := append(prune(t.events[key], now.Add(-period)), now)
	t.events[key] = kept
	return len(kept)
}

func prune(events []time.Time, windowStart time.Time) []time.Time {
	i := 0
	for i < len(events) && events[i].Before(windowStart) {
		i++
	}
	return events[i:]
}
