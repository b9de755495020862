package repository

import (
	"context"
	"time"

	domrepo "LevPair/internal/domain/repository"
	"LevPair/pkg/cache"
)

// CacheDeduplicator claims trade ids with a TTL lock in a shared cache, so replicas
// reading the same outcome stream apply each trade once.
type CacheDeduplicator struct {
	c      cache.Service
	prefix string
	ttl    time.Duration
}

var _ domrepo.Deduplicator = (*CacheDeduplicator)(nil)

// NewCacheDeduplicator namespaces keys under prefix:outcome.
func NewCacheDeduplicator(c cache.Service, prefix string, ttl time.Duration) *CacheDeduplicator {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &CacheDeduplicator{c: c, prefix: cache.Key(prefix, "outcome"), ttl: ttl}
}

// Claim returns false when another caller already claimed tradeID within the TTL.
func (d *CacheDeduplicator) Claim(ctx context.Context, tradeID string) (bool, error) {
	return d.c.TryLock(ctx, cache.Key(d.prefix, tradeID), d.ttl)
}
