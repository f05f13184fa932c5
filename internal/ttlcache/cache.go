// Package ttlcache provides an in-memory map whose entries expire a fixed
// duration after their last access.
package ttlcache

import (
	"sync"
	"time"

	"github.com/facebookgo/clock"
)

// Cache keeps items for a fixed length of time after their last access.
// Reading an item resets its expiration clock. Expired items are invisible
// to readers and are swept from the map during writes.
//
// Cache is safe for concurrent use.
type Cache[K comparable, V any] struct {
	ttl   time.Duration
	clock clock.Clock

	mu        sync.Mutex
	items     map[K]entry[V]
	lastSweep time.Time
}

type entry[V any] struct {
	value   V
	expires time.Time
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	clock clock.Clock
}

// WithClock sets the clock used for expiry. Defaults to the wall clock.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// New returns a cache whose items live for ttl after their last access.
func New[K comparable, V any](ttl time.Duration, opts ...Option) *Cache[K, V] {
	o := options{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[K, V]{
		ttl:       ttl,
		clock:     o.clock,
		items:     make(map[K]entry[V]),
		lastSweep: o.clock.Now(),
	}
}

// TTL returns the time-to-live of entries.
func (c *Cache[K, V]) TTL() time.Duration {
	return c.ttl
}

// Get returns the value stored at key and extends its lifetime.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	e, ok := c.items[key]
	if !ok || !now.Before(e.expires) {
		if ok {
			delete(c.items, key)
		}
		var zero V
		return zero, false
	}
	e.expires = now.Add(c.ttl)
	c.items[key] = e
	return e.value, true
}

// Set stores value at key, replacing any previous value.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	c.items[key] = entry[V]{value: value, expires: now.Add(c.ttl)}
	if now.Sub(c.lastSweep) >= c.ttl/4 {
		c.sweep(now)
	}
}

// Delete removes key.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Clear removes every item.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	clear(c.items)
	c.lastSweep = c.clock.Now()
	c.mu.Unlock()
}

// Len returns the number of unexpired items.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweep(c.clock.Now())
	return len(c.items)
}

// sweep drops expired items. Caller must hold mu.
func (c *Cache[K, V]) sweep(now time.Time) {
	for k, e := range c.items {
		if !now.Before(e.expires) {
			delete(c.items, k)
		}
	}
	c.lastSweep = now
}
