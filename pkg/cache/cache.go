// Package cache provides a small TTL cache for OpenStreetMap API responses.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value   V
	expires time.Time
	added   uint64
}

// TTLCache is a thread-safe map whose entries expire after a fixed TTL.
// When maxItems is exceeded the earliest inserted entry is dropped.
type TTLCache[V any] struct {
	mu       sync.Mutex
	items    map[string]entry[V]
	ttl      time.Duration
	maxItems int
	seq      uint64
	now      func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewTTLCache creates a cache. A positive cleanupInterval starts a janitor
// goroutine that Stop ends.
func NewTTLCache[V any](ttl, cleanupInterval time.Duration, maxItems int) *TTLCache[V] {
	c := &TTLCache[V]{
		items:    make(map[string]entry[V]),
		ttl:      ttl,
		maxItems: maxItems,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go c.janitor(cleanupInterval)
	}
	return c
}

// Set stores value under key
func (c *TTLCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	c.items[key] = entry[V]{value: value, expires: c.now().Add(c.ttl), added: c.seq}

	if c.maxItems > 0 && len(c.items) > c.maxItems {
		c.evictOldest()
	}
}

// Get returns the value for key if present and not expired
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !c.now().Before(e.expires) {
		delete(c.items, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Delete removes key
func (c *TTLCache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Count returns the number of stored entries, expired ones included until
// they are swept
func (c *TTLCache[V]) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// evictOldest drops the earliest inserted entry. Caller holds mu.
func (c *TTLCache[V]) evictOldest() {
	var (
		oldestKey string
		oldestSeq uint64
		found     bool
	)
	for k, e := range c.items {
		if !found || e.added < oldestSeq {
			oldestKey, oldestSeq, found = k, e.added, true
		}
	}
	if found {
		delete(c.items, oldestKey)
	}
}

// DeleteExpired sweeps every expired entry
func (c *TTLCache[V]) DeleteExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.items {
		if !now.Before(e.expires) {
			delete(c.items, k)
		}
	}
}

func (c *TTLCache[V]) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.DeleteExpired()
		case <-c.stop:
			return
		}
	}
}

// Stop ends the janitor goroutine. It is safe to call more than once.
func (c *TTLCache[V]) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}
