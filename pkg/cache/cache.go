// Package cache provides a thread-safe in-memory cache with LRU eviction and
// optional expiry after write.
package cache

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

var ErrEmptyKey = errors.New("cache key cannot be empty")

// Stats are cumulative counters of a cache.
type Stats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Puts        int64 `json:"puts"`
	Deletes     int64 `json:"deletes"`
	Evictions   int64 `json:"evictions"`
	Expirations int64 `json:"expirations"`
	Size        int   `json:"size"`
}

// HitRatio is hits over lookups, zero when nothing was looked up.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// Cache combines LRU and TTL eviction. A zero maxSize means unbounded and a
// zero ttl means entries never expire.
type Cache[V any] struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	items   map[string]*list.Element
	order   *list.List
	stats   Stats
	now     func() time.Time
}

func New[V any](maxSize int, ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		maxSize: maxSize,
		ttl:     ttl,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

func (c *Cache[V]) expired(e *entry[V]) bool {
	return c.ttl > 0 && c.now().After(e.expiresAt)
}

// Get returns the value for key and marks it as recently used.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(key)
}

func (c *Cache[V]) get(key string) (V, bool) {
	var zero V
	el, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}
	e := el.Value.(*entry[V])
	if c.expired(e) {
		c.remove(el)
		c.stats.Expirations++
		c.stats.Misses++
		return zero, false
	}
	c.order.MoveToFront(el)
	c.stats.Hits++
	return e.value, true
}

// Put stores value under key and returns the value it replaced, if any.
func (c *Cache[V]) Put(key string, value V) (old V, replaced bool, err error) {
	if key == "" {
		return old, false, ErrEmptyKey
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	old, replaced = c.put(key, value)
	return old, replaced, nil
}

func (c *Cache[V]) put(key string, value V) (V, bool) {
	c.stats.Puts++
	expiresAt := c.now().Add(c.ttl)
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[V])
		old, live := e.value, !c.expired(e)
		e.value = value
		e.expiresAt = expiresAt
		c.order.MoveToFront(el)
		if !live {
			var zero V
			return zero, false
		}
		return old, true
	}

	c.items[key] = c.order.PushFront(&entry[V]{key: key, value: value, expiresAt: expiresAt})
	if c.maxSize > 0 && len(c.items) > c.maxSize {
		if oldest := c.order.Back(); oldest != nil {
			c.remove(oldest)
			c.stats.Evictions++
		}
	}
	var zero V
	return zero, false
}

// PutAll stores every entry of values.
func (c *Cache[V]) PutAll(values map[string]V) error {
	if _, ok := values[""]; ok {
		return ErrEmptyKey
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range values {
		c.put(k, v)
	}
	return nil
}

// GetAll returns the live values for keys. Missing keys are left out.
func (c *Cache[V]) GetAll(keys []string) map[string]V {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]V, len(keys))
	for _, k := range keys {
		if v, ok := c.get(k); ok {
			out[k] = v
		}
	}
	return out
}

// Delete removes key and reports whether it was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.remove(el)
	c.stats.Deletes++
	return true
}

// Clear removes every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Deletes += int64(len(c.items))
	c.items = make(map[string]*list.Element)
	c.order.Init()
}

// Cleanup drops expired entries and returns how many were removed.
func (c *Cache[V]) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if c.expired(el.Value.(*entry[V])) {
			c.remove(el)
			removed++
		}
		el = prev
	}
	c.stats.Expirations += int64(removed)
	return removed
}

// AsMap returns a copy of the live entries.
func (c *Cache[V]) AsMap() map[string]V {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]V, len(c.items))
	for k, el := range c.items {
		e := el.Value.(*entry[V])
		if !c.expired(e) {
			out[k] = e.value
		}
	}
	return out
}

// Keys returns keys from most to least recently used.
func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.items))
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry[V]).key)
	}
	return keys
}

func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.items)
	return s
}

// remove must be called with mu held.
func (c *Cache[V]) remove(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*entry[V]).key)
}
