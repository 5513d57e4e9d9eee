package secrets

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cacheEntry[T any] struct {
	value   T
	known   bool
	expires time.Time
}

// Cache remembers API-key lookups for a bounded time. Keys that resolved are
// kept for the TTL; keys the provider did not know are kept for the shorter
// miss TTL so repeated bad keys do not reach the provider. The LRU bounds
// memory when many distinct keys are presented.
type Cache[T any] struct {
	entries *lru.Cache[string, cacheEntry[T]]
	ttl     time.Duration
	missTTL time.Duration
	now     func() time.Time
}

type cacheConfig struct {
	capacity int
	missTTL  time.Duration
}

type CacheOption func(*cacheConfig)

// WithCapacity bounds the number of remembered keys.
func WithCapacity(n int) CacheOption {
	return func(c *cacheConfig) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithMissTTL sets how long an unknown key is remembered; zero disables it.
func WithMissTTL(d time.Duration) CacheOption {
	return func(c *cacheConfig) { c.missTTL = d }
}

func NewCache[T any](ttl time.Duration, opts ...CacheOption) *Cache[T] {
	cfg := cacheConfig{capacity: 10_000, missTTL: 30 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}
	entries, err := lru.New[string, cacheEntry[T]](cfg.capacity)
	if err != nil {
		panic(err) // capacity is always positive
	}
	return &Cache[T]{entries: entries, ttl: ttl, missTTL: cfg.missTTL, now: time.Now}
}

func (c *Cache[T]) live(key string) (cacheEntry[T], bool) {
	e, ok := c.entries.Get(key)
	if !ok {
		return e, false
	}
	if c.now().After(e.expires) {
		c.entries.Remove(key)
		return e, false
	}
	return e, true
}

// Get returns the value stored for key by Put.
func (c *Cache[T]) Get(key string) (T, bool) {
	e, ok := c.live(key)
	if !ok || !e.known {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Unknown reports whether key was recently recorded with PutUnknown.
func (c *Cache[T]) Unknown(key string) bool {
	e, ok := c.live(key)
	return ok && !e.known
}

func (c *Cache[T]) Put(key string, value T) {
	c.entries.Add(key, cacheEntry[T]{value: value, known: true, expires: c.now().Add(c.ttl)})
}

// PutUnknown records that the provider has no secret for key.
func (c *Cache[T]) PutUnknown(key string) {
	if c.missTTL <= 0 {
		return
	}
	c.entries.Add(key, cacheEntry[T]{expires: c.now().Add(c.missTTL)})
}

// Bust forgets key, e.g. after it was issued or revoked.
func (c *Cache[T]) Bust(key string) {
	c.entries.Remove(key)
}

// Len returns the number of entries, expired ones included.
func (c *Cache[T]) Len() int {
	return c.entries.Len()
}

// StartCleaner drops expired entries every interval until stop is closed.
func (c *Cache[T]) StartCleaner(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-stop:
			return
		}
	}
}

func (c *Cache[T]) sweep() {
	now := c.now()
	for _, k := range c.entries.Keys() {
		if e, ok := c.entries.Peek(k); ok && now.After(e.expires) {
			c.entries.Remove(k)
		}
	}
}
