package ratelimit

import (
    "context"
    "sync"

    "golang.org/x/time/rate"
)

// Limiter keeps one token bucket per key.
type Limiter struct {
    mu    sync.Mutex
    m     map[string]*rate.Limiter
    rps   float64
    burst int
}

// New returns a keyed limiter refilling rps tokens per second up to burst.
func New(rps float64, burst int) *Limiter {
    if burst < 1 {
        burst = 1
    }
    return &Limiter{m: make(map[string]*rate.Limiter), rps: rps, burst: burst}
}

func (l *Limiter) get(key string) *rate.Limiter {
    l.mu.Lock()
    defer l.mu.Unlock()
    b, ok := l.m[key]
    if !ok {
        lim := rate.Inf
        if l.rps > 0 {
            lim = rate.Limit(l.rps)
        }
        b = rate.NewLimiter(lim, l.burst)
        l.m[key] = b
    }
    return b
}

// Allow returns true if one token can be consumed for key.
func (l *Limiter) Allow(key string) bool {
    return l.get(key).Allow()
}

// Wait blocks until a token for key is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context, key string) error {
    return l.get(key).Wait(ctx)
}
