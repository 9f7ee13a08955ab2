package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRU is a bounded, TTL-expiring cache evicting the least recently used entry at capacity.
// It is safe for concurrent use.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time
	order    *list.List // front = most recently used
	items    map[K]*list.Element
}

type lruItem[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// NewLRU creates an LRU holding at most capacity entries, each valid for ttl.
// A nil clock uses time.Now.
func NewLRU[K comparable, V any](capacity int, ttl time.Duration, now func() time.Time) *LRU[K, V] {
	if now == nil {
		now = time.Now
	}
	return &LRU[K, V]{
		capacity: max(capacity, 1),
		ttl:      ttl,
		now:      now,
		order:    list.New(),
		items:    make(map[K]*list.Element),
	}
}

// Get returns the value for key if present and unexpired, marking it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		return zero, false
	}
	item := el.Value.(*lruItem[K, V])
	if !c.now().Before(item.expiresAt) {
		c.removeElement(el)
		return zero, false
	}
	c.order.MoveToFront(el)
	return item.value, true
}

// Put stores value under key, evicting the least recently used entry when full.
func (c *LRU[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)
	if el, ok := c.items[key]; ok {
		item := el.Value.(*lruItem[K, V])
		item.value = value
		item.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.capacity {
		c.removeElement(c.order.Back())
	}
	c.items[key] = c.order.PushFront(&lruItem[K, V]{key: key, value: value, expiresAt: expiresAt})
}

// Remove deletes key.
func (c *LRU[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Purge deletes every entry.
func (c *LRU[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[K]*list.Element)
}

// Len returns the number of stored entries, expired ones included until touched.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *LRU[K, V]) removeElement(el *list.Element) {
	item := c.order.Remove(el).(*lruItem[K, V])
	delete(c.items, item.key)
}
