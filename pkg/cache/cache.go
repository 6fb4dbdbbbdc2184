package cache

import (
	"container/list"
	"sync"
	"time"
)

// Cache is a bounded in-process cache with TTL expiry and LRU eviction.
// It replaces ad hoc FIFO/TTL maps; one abstraction, explicit capacity and expiry.
//
// Concurrency: safe for use from multiple goroutines.
type Cache[V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	clock    func() time.Time

	entries map[string]*list.Element
	order   *list.List // front = most recently used
}

type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// New returns a cache holding at most capacity entries, each expiring ttl after insert.
// capacity <= 0 and ttl <= 0 fall back to conservative defaults.
func New[V any](capacity int, ttl time.Duration) *Cache[V] {
	if capacity <= 0 {
		capacity = 1024
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache[V]{
		capacity: capacity,
		ttl:      ttl,
		clock:    time.Now,
		entries:  make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Get returns the cached value for key, if present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*entry[V])
	if c.clock().After(e.expiresAt) {
		c.removeLocked(el)
		return zero, false
	}
	c.order.MoveToFront(el)
	return e.value, true
}

// Set stores value under key, evicting the least recently used entry when full.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.clock().Add(c.ttl)
	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry[V])
		e.value = value
		e.expiresAt = expires
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.capacity {
		if back := c.order.Back(); back != nil {
			c.removeLocked(back)
		}
	}
	el := c.order.PushFront(&entry[V]{key: key, value: value, expiresAt: expires})
	c.entries[key] = el
}

// Delete removes key, if present.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeLocked(el)
	}
}

// Len returns the number of entries, including any not yet swept expired ones.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache[V]) removeLocked(el *list.Element) {
	e := el.Value.(*entry[V])
	delete(c.entries, e.key)
	c.order.Remove(el)
}
