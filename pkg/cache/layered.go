package cache

import (
	"context"
	"time"
)

// LayeredCache reads through a local LRU to a shared store and writes through both.
// Locks always go to the shared store.
type LayeredCache struct {
	local  *MemoryCache
	shared Service
	// localTTL caps how long a local copy may outlive a change in the shared store.
	localTTL time.Duration
}

// NewLayeredCache keeps up to maxEntries local copies for at most localTTL each.
func NewLayeredCache(shared Service, maxEntries int, localTTL time.Duration, opts ...MemoryOption) *LayeredCache {
	if localTTL <= 0 {
		localTTL = time.Minute
	}
	return &LayeredCache{local: NewMemoryCache(maxEntries, opts...), shared: shared, localTTL: localTTL}
}

func (c *LayeredCache) Get(ctx context.Context, key string) (string, error) {
	if v, err := c.local.Get(ctx, key); err == nil {
		return v, nil
	}
	v, err := c.shared.Get(ctx, key)
	if err != nil {
		return "", err
	}
	_ = c.local.Set(ctx, key, v, c.localTTL)
	return v, nil
}

func (c *LayeredCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.shared.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	local := c.localTTL
	if ttl > 0 && ttl < local {
		local = ttl
	}
	return c.local.Set(ctx, key, value, local)
}

func (c *LayeredCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.shared.TryLock(ctx, key, ttl)
}

func (c *LayeredCache) Close() error {
	_ = c.local.Close()
	return c.shared.Close()
}

var (
	_ Service = (*MemoryCache)(nil)
	_ Service = (*RedisCache)(nil)
	_ Service = (*LayeredCache)(nil)
)
