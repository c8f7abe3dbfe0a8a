// Package ratelimit is a keyed fixed-window limiter for the local API.
//
// Every session login and presence toggle makes the agent hit the upstream
// REST API and redial a socket. The limiter keeps a misbehaving UI (a toggle
// bound to a render loop, a retry storm) from turning into a reconnect storm
// upstream.
//
//	limiter := ratelimit.New(clock.New(), 10, 30*time.Second)
//	defer limiter.Stop()
//	if !limiter.Allow("PUT /api/presence") { return 429 }
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// cleanupInterval is how often expired buckets are dropped.
const cleanupInterval = time.Minute

type bucket struct {
	count       int
	windowStart time.Time
}

// Limiter allows at most maxHits calls per key within one window.
type Limiter struct {
	mu      sync.Mutex
	clock   clock.Clock
	buckets map[string]*bucket
	maxHits int
	window  time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a limiter and starts its cleanup goroutine. Call Stop to end it.
func New(clk clock.Clock, maxHits int, window time.Duration) *Limiter {
	if clk == nil {
		clk = clock.New()
	}
	l := &Limiter{
		clock:   clk,
		buckets: make(map[string]*bucket),
		maxHits: maxHits,
		window:  window,
		stop:    make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow counts one call for key and reports whether it is within the limit.
func (l *Limiter) Allow(key string) bool {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || now.Sub(b.windowStart) >= l.window {
		l.buckets[key] = &bucket{count: 1, windowStart: now}
		return true
	}

	b.count++
	return b.count <= l.maxHits
}

// Reset forgets key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// RetryAfterSeconds returns the seconds until key's window ends, rounded up.
// Used for the Retry-After header.
func (l *Limiter) RetryAfterSeconds(key string) int {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		return 0
	}
	remaining := l.window - now.Sub(b.windowStart)
	if remaining <= 0 {
		return 0
	}
	seconds := int(remaining / time.Second)
	if remaining%time.Second != 0 {
		seconds++
	}
	return seconds
}

// FormatRetryMessage renders a retry delay for an error message.
func FormatRetryMessage(seconds int) string {
	if seconds >= 60 {
		return fmt.Sprintf("%d minute(s)", seconds/60)
	}
	return fmt.Sprintf("%d second(s)", seconds)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Stop ends the cleanup goroutine. Safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Limiter) cleanupLoop() {
	ticker := l.clock.Ticker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) cleanup() {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, b := range l.buckets {
		if now.Sub(b.windowStart) >= l.window {
			delete(l.buckets, key)
		}
	}
}
