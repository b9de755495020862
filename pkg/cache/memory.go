package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const lockValue = "1"

type entry struct {
	value    string
	expireAt time.Time
}

// MemoryCache is a bounded LRU. Entries expire lazily on read.
type MemoryCache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, entry]
	now func() time.Time
}

// MemoryOption configures a MemoryCache.
type MemoryOption func(*MemoryCache)

// WithMemoryClock replaces time.Now.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *MemoryCache) { m.now = now }
}

// NewMemoryCache holds at most maxEntries keys; non-positive means 1000.
func NewMemoryCache(maxEntries int, opts ...MemoryOption) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	// only fails for a non-positive size
	c, _ := lru.New[string, entry](maxEntries)
	m := &MemoryCache{lru: c, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryCache) Get(_ context.Context, key string) (string, error) {
	e, ok := m.live(key)
	if !ok {
		return "", ErrCacheMiss
	}
	return e.value, nil
}

func (m *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.lru.Add(key, entry{value: value, expireAt: m.now().Add(ttl)})
	return nil
}

// TryLock is not atomic across processes; use RedisCache for shared claims.
func (m *MemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(key); ok {
		return false, nil
	}
	m.lru.Add(key, entry{value: lockValue, expireAt: m.now().Add(ttl)})
	return true, nil
}

// Len counts entries including expired ones not yet read.
func (m *MemoryCache) Len() int { return m.lru.Len() }

func (m *MemoryCache) Close() error {
	m.lru.Purge()
	return nil
}

func (m *MemoryCache) live(key string) (entry, bool) {
	e, ok := m.lru.Get(key)
	if !ok {
		return entry{}, false
	}
	if !m.now().Before(e.expireAt) {
		m.lru.Remove(key)
		return entry{}, false
	}
	return e, true
}
