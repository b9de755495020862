package repository

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"LevPair/internal/domain/models"
	domrepo "LevPair/internal/domain/repository"
	"LevPair/internal/services/synthetic"
	xutil "LevPair/pkg/util"
)

// SyntheticBarSource replays a seeded random walk of the pair as live data. The walk is
// generated once at one-minute resolution; coarser intervals are aggregated from it.
// The visible end of the series advances one bar per elapsed minute of the clock and
// stops at the end of the generated walk.
type SyntheticBarSource struct {
	symbols map[string]models.Instrument
	bars    map[models.Instrument][]models.Bar
	warmup  int
	now     func() time.Time

	mu      sync.Mutex
	started time.Time
}

var _ domrepo.BarSource = (*SyntheticBarSource)(nil)

// NewSyntheticBarSource generates capacity one-minute bars per instrument and exposes
// the first warmup of them immediately. now defaults to time.Now.
func NewSyntheticBarSource(gen *synthetic.Generator, symbols map[models.Instrument]string, capacity, warmup int, now func() time.Time) (*SyntheticBarSource, error) {
	if capacity < 2 {
		return nil, models.NewCoreError(models.KindConfigInconsistency, "synthetic bars", "",
			fmt.Errorf("capacity %d too small", capacity))
	}
	if warmup < 1 || warmup > capacity {
		warmup = capacity
	}
	if now == nil {
		now = time.Now
	}
	a, b := gen.PairBars(gen.Underlying(capacity))
	s := &SyntheticBarSource{
		symbols: make(map[string]models.Instrument, len(symbols)),
		bars:    map[models.Instrument][]models.Bar{models.InstrumentA: a, models.InstrumentB: b},
		warmup:  warmup,
		now:     now,
	}
	for inst, sym := range symbols {
		s.symbols[sym] = inst
	}
	return s, nil
}

// visible returns how many base bars are observable at the current clock.
func (s *SyntheticBarSource) visible(total int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if s.started.IsZero() {
		s.started = now
	}
	n := s.warmup + int(now.Sub(s.started)/time.Minute)
	if n > total {
		n = total
	}
	return n
}

// GetBars returns up to limit bars ending at the current cursor.
func (s *SyntheticBarSource) GetBars(_ context.Context, symbol string, interval domrepo.Interval, limit int) ([]models.Bar, error) {
	inst, ok := s.symbols[symbol]
	if !ok {
		return nil, models.NewCoreError(models.KindConfigInconsistency, "synthetic bars", "",
			fmt.Errorf("unknown symbol %q", symbol))
	}
	if limit <= 0 {
		return nil, nil
	}
	base := s.bars[inst]
	end := s.visible(len(base))
	k := int(xutil.IntervalDuration(string(interval)) / time.Minute)
	if k < 1 {
		k = 1
	}

	out := make([]models.Bar, 0, limit)
	for hi := end; hi-k >= 0 && len(out) < limit; hi -= k {
		out = append(out, aggregate(base[hi-k:hi], symbol, string(interval)))
	}
	reverseBars(out)
	return out, nil
}

func aggregate(chunk []models.Bar, symbol, interval string) models.Bar {
	agg := models.Bar{
		Bucket:   chunk[0].Bucket,
		Symbol:   symbol,
		Interval: interval,
		Open:     chunk[0].Open,
		High:     chunk[0].High,
		Low:      chunk[0].Low,
		Close:    chunk[len(chunk)-1].Close,
	}
	for _, b := range chunk {
		agg.High = math.Max(agg.High, b.High)
		agg.Low = math.Min(agg.Low, b.Low)
		agg.Volume += b.Volume
	}
	return agg
}

func sortBars(bars []models.Bar) {
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Bucket.Before(bars[j].Bucket) })
}
