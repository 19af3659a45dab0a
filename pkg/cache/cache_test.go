package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climatepath/pendo/pkg/config"
)

func newTestCache(t *testing.T, cfg *config.CacheConfig) (*Cache, *time.Time) {
	t.Helper()
	c, err := New(cfg)
	require.NoError(t, err)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestSetGetRoundTrip(t *testing.T) {
	c, _ := newTestCache(t, &config.CacheConfig{Enabled: true, Size: 8})

	c.Set("routing:hello", "lauren")
	v, ok := c.Get("routing:hello")
	require.True(t, ok)
	assert.Equal(t, "lauren", v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestEntriesExpire(t *testing.T) {
	c, now := newTestCache(t, &config.CacheConfig{Enabled: true, Size: 8, TTL: time.Minute})

	c.Set("k", "v")
	_, ok := c.Get("k")
	require.True(t, ok)

	*now = now.Add(2 * time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "expired entries are evicted on read")
}

func TestExplicitTTLOverridesDefault(t *testing.T) {
	c, now := newTestCache(t, &config.CacheConfig{Enabled: true, Size: 8, TTL: time.Minute})

	c.SetTTL("k", "v", time.Hour)
	*now = now.Add(30 * time.Minute)
	_, ok := c.Get("k")
	assert.True(t, ok)
}

func TestLRUEvictsOldest(t *testing.T) {
	c, _ := newTestCache(t, &config.CacheConfig{Enabled: true, Size: 2})

	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestDisabledCacheDegradesToMisses(t *testing.T) {
	c, _ := newTestCache(t, &config.CacheConfig{Enabled: false})

	c.Set("k", "v")
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.False(t, c.Ping())
	assert.Equal(t, 0, c.Len())
	c.Delete("k")
}
