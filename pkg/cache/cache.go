// Package cache is a small TTL cache over an LRU core, used for routing
// assessments and partner match results. A disabled cache degrades to
// misses; callers never branch on whether caching is on.
package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/climatepath/pendo/pkg/config"
)

const (
	defaultSize = 1024
	defaultTTL  = 5 * time.Minute
)

type entry struct {
	value   any
	expires time.Time
}

// Cache is a fixed-size LRU with per-entry expiry.
type Cache struct {
	lru *lru.Cache[string, entry]
	ttl time.Duration
	now func() time.Time
}

// New builds a cache from config. A disabled config returns a nil-backed
// cache whose operations are all misses.
func New(cfg *config.CacheConfig) (*Cache, error) {
	c := &Cache{ttl: defaultTTL, now: time.Now}
	if cfg == nil || !cfg.Enabled {
		return c, nil
	}
	size := cfg.Size
	if size <= 0 {
		size = defaultSize
	}
	if cfg.TTL > 0 {
		c.ttl = cfg.TTL
	}
	core, err := lru.New[string, entry](size)
	if err != nil {
		return nil, err
	}
	c.lru = core
	return c, nil
}

// Get returns the cached value when present and unexpired. Expired entries
// are evicted on read.
func (c *Cache) Get(key string) (any, bool) {
	if c.lru == nil {
		return nil, false
	}
	e, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if c.now().After(e.expires) {
		c.lru.Remove(key)
		return nil, false
	}
	return e.value, true
}

// Set stores a value under the default TTL.
func (c *Cache) Set(key string, value any) {
	c.SetTTL(key, value, c.ttl)
}

// SetTTL stores a value with an explicit TTL.
func (c *Cache) SetTTL(key string, value any, ttl time.Duration) {
	if c.lru == nil {
		return
	}
	c.lru.Add(key, entry{value: value, expires: c.now().Add(ttl)})
}

// Delete removes a key.
func (c *Cache) Delete(key string) {
	if c.lru != nil {
		c.lru.Remove(key)
	}
}

// Len returns the number of resident entries, expired or not.
func (c *Cache) Len() int {
	if c.lru == nil {
		return 0
	}
	return c.lru.Len()
}

// Ping reports whether the cache is actually storing entries.
func (c *Cache) Ping() bool { return c.lru != nil }
