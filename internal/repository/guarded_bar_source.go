package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"LevPair/internal/domain/models"
	domrepo "LevPair/internal/domain/repository"
	"LevPair/internal/service/ratelimit"
	"LevPair/pkg/cache"
	applogger "LevPair/pkg/logger"
)

// GuardConfig tunes GuardedBarSource.
type GuardConfig struct {
	Name        string
	RateLimit   float64 // requests per second per symbol, 0 = unlimited
	CacheTTL    time.Duration
	MaxFailures uint32
	OpenTimeout time.Duration
}

// GuardedBarSource puts a short-lived cache, a per-symbol rate limit and a circuit breaker
// in front of a remote BarSource. When the breaker is open calls fail fast with
// DataUnavailable so the cycle holds instead of hammering a dead upstream.
type GuardedBarSource struct {
	inner   domrepo.BarSource
	cache   cache.Service
	limiter *ratelimit.Limiter
	breaker *gobreaker.CircuitBreaker
	ttl     time.Duration
	l       *applogger.Logger
}

var _ domrepo.BarSource = (*GuardedBarSource)(nil)

// NewGuardedBarSource wraps inner. A nil cache disables caching.
func NewGuardedBarSource(inner domrepo.BarSource, c cache.Service, cfg GuardConfig, l *applogger.Logger) *GuardedBarSource {
	if cfg.Name == "" {
		cfg.Name = "bars"
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if l == nil {
		l = applogger.Nop()
	}
	st := gobreaker.Settings{Name: cfg.Name, Timeout: cfg.OpenTimeout}
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= cfg.MaxFailures
	}
	// a bad request on our side says nothing about upstream health
	st.IsSuccessful = func(err error) bool {
		return err == nil || models.KindOf(err) == models.KindConfigInconsistency
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		l.Warn("bar source breaker state changed",
			applogger.String("breaker", name),
			applogger.String("from", from.String()),
			applogger.String("to", to.String()))
	}
	return &GuardedBarSource{
		inner:   inner,
		cache:   c,
		limiter: ratelimit.New(cfg.RateLimit, 1),
		breaker: gobreaker.NewCircuitBreaker(st),
		ttl:     cfg.CacheTTL,
		l:       l,
	}
}

// BreakerState reports the breaker state, e.g. for health checks.
func (g *GuardedBarSource) BreakerState() string { return g.breaker.State().String() }

func (g *GuardedBarSource) GetBars(ctx context.Context, symbol string, interval domrepo.Interval, limit int) ([]models.Bar, error) {
	key := cache.Key("bars", symbol, interval, limit)
	if bars, ok := g.cached(ctx, key); ok {
		return bars, nil
	}

	if err := g.limiter.Wait(ctx, symbol); err != nil {
		return nil, models.DataUnavailable("rate limit", models.InstrumentNone, err)
	}
	res, err := g.breaker.Execute(func() (interface{}, error) {
		return g.inner.GetBars(ctx, symbol, interval, limit)
	})
	if err != nil {
		var ce *models.CoreError
		if errors.As(err, &ce) {
			return nil, err
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, models.DataUnavailable("bar source breaker", models.InstrumentNone, err)
		}
		return nil, models.DataUnavailable("get bars", models.InstrumentNone, err)
	}
	bars, _ := res.([]models.Bar)
	g.store(ctx, key, bars)
	return bars, nil
}

func (g *GuardedBarSource) cached(ctx context.Context, key string) ([]models.Bar, bool) {
	if g.cache == nil || g.ttl <= 0 {
		return nil, false
	}
	raw, err := g.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			g.l.Debug("bar cache read failed", applogger.String("key", key), applogger.Error(err))
		}
		return nil, false
	}
	var bars []models.Bar
	if err := json.Unmarshal([]byte(raw), &bars); err != nil {
		return nil, false
	}
	return bars, true
}

func (g *GuardedBarSource) store(ctx context.Context, key string, bars []models.Bar) {
	if g.cache == nil || g.ttl <= 0 || len(bars) == 0 {
		return
	}
	b, err := json.Marshal(bars)
	if err != nil {
		return
	}
	if err := g.cache.Set(ctx, key, string(b), g.ttl); err != nil {
		g.l.Debug("bar cache write failed", applogger.String("key", key), applogger.Error(fmt.Errorf("set: %w", err)))
	}
}
