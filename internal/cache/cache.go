// Package cache provides a small generic in-memory cache with per-entry TTL.
package cache

import (
	"sync"
	"time"

	"github.com/buildlearn/learning-session/internal/logger"
)

// Cache stores values with an optional expiry
type Cache[K comparable, V any] interface {
	// Set stores value under key; a non-positive ttl never expires
	Set(key K, value V, ttl time.Duration)
	// Get returns the value and whether a live entry was found
	Get(key K) (V, bool)
	Delete(key K)
	Clear()
	Len() int
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

func (e entry[V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

type memoryCache[K comparable, V any] struct {
	mu    sync.Mutex
	items map[K]entry[V]
	now   func() time.Time
	log   *logger.Logger
}

// NewMemoryCache creates an empty in-memory cache
func NewMemoryCache[K comparable, V any](log *logger.Logger) Cache[K, V] {
	return newMemoryCache[K, V](log, time.Now)
}

func newMemoryCache[K comparable, V any](log *logger.Logger, now func() time.Time) *memoryCache[K, V] {
	if log == nil {
		log = logger.Get()
	}
	return &memoryCache[K, V]{
		items: make(map[K]entry[V]),
		now:   now,
		log:   log.Component("cache"),
	}
}

func (c *memoryCache[K, V]) Set(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := entry[V]{value: value}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.items[key] = e
}

func (c *memoryCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if e.expired(c.now()) {
		delete(c.items, key)
		c.log.Debug("Cache entry expired", map[string]interface{}{"key": key})
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *memoryCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

func (c *memoryCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]entry[V])
}

// Len counts live entries
func (c *memoryCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for _, e := range c.items {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// WithTTL wraps cache so that every Set uses ttl regardless of the argument
func WithTTL[K comparable, V any](cache Cache[K, V], ttl time.Duration) Cache[K, V] {
	return &ttlCache[K, V]{Cache: cache, ttl: ttl}
}

type ttlCache[K comparable, V any] struct {
	Cache[K, V]
	ttl time.Duration
}

func (c *ttlCache[K, V]) Set(key K, value V, _ time.Duration) {
	c.Cache.Set(key, value, c.ttl)
}
