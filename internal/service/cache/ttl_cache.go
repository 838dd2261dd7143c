package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// TTLCache is the in-process Cache used when Redis is not configured.
type TTLCache struct {
	values *gocache.Cache
	locks  *gocache.Cache
}

var _ Cache = (*TTLCache)(nil)

func NewTTLCache() *TTLCache {
	return &TTLCache{
		values: gocache.New(gocache.NoExpiration, 10*time.Minute),
		locks:  gocache.New(gocache.NoExpiration, time.Minute),
	}
}

// expiry maps a non-positive ttl to "never expires".
func expiry(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return gocache.NoExpiration
	}
	return ttl
}

func (c *TTLCache) GetBytes(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.values.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, ok := v.([]byte)
	return b, ok, nil
}

func (c *TTLCache) SetBytes(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.values.Set(key, value, expiry(ttl))
	return nil
}

func (c *TTLCache) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		c.values.Delete(k)
	}
	return nil
}

// TryLock succeeds when no unexpired holder exists. Add is atomic in go-cache.
func (c *TTLCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	return c.locks.Add(key, struct{}{}, expiry(ttl)) == nil, nil
}

func (c *TTLCache) Unlock(_ context.Context, key string) error {
	c.locks.Delete(key)
	return nil
}
