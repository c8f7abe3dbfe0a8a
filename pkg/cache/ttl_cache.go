// Package cache is a generic in-memory TTL cache.
//
// The offer machine uses it to remember booking ids it has already resolved
// (accepted, rejected, expired, claimed) for the length of one offer window,
// so a duplicated or late new_booking_request for the same booking does not
// start a second countdown.
//
// Time comes from a clock.Clock, which lets tests move time forward with
// clock.NewMock() instead of sleeping.
package cache

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache is safe for concurrent use.
//
//	c := cache.New[int64, string](clock.New(), 2*time.Minute)
//	c.Set(42, "expired")
//	v, ok := c.Get(42)
//
// Expired entries are never returned. They are physically removed on the
// next Set, which keeps the map bounded without a background goroutine.
type TTLCache[K comparable, V any] struct {
	mu      sync.RWMutex
	clock   clock.Clock
	entries map[K]entry[V]
	ttl     time.Duration
}

// New creates a cache whose entries live for ttl.
func New[K comparable, V any](clk clock.Clock, ttl time.Duration) *TTLCache[K, V] {
	if clk == nil {
		clk = clock.New()
	}
	return &TTLCache[K, V]{
		clock:   clk,
		entries: make(map[K]entry[V]),
		ttl:     ttl,
	}
}

// Get returns (value, true) when key is present and not expired.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || !c.clock.Now().Before(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Has reports whether key is present and not expired.
func (c *TTLCache[K, V]) Has(key K) bool {
	_, ok := c.Get(key)
	return ok
}

// Set stores value under key for one TTL and evicts expired entries.
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[key] = entry[V]{value: value, expiresAt: now.Add(c.ttl)}
}

// Delete removes key.
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear empties the cache.
func (c *TTLCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]entry[V])
}

// Len returns the number of stored entries, expired ones included.
func (c *TTLCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
