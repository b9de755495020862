package synthetic

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"LevPair/internal/domain/models"
	"LevPair/internal/services/features"
	xutil "LevPair/pkg/util"
)

// Config shapes the random walk of the underlying and how windows are labelled.
type Config struct {
	Seed        int64
	Window      int     // bars handed to the feature store per pattern
	Horizon     int     // forward bars that settle the trade
	Stride      int     // bars between consecutive patterns
	StartPrice  float64
	DriftPct    float64 // absolute per-bar drift of the underlying, in percent
	VolPct      float64 // per-bar volatility of the underlying, in percent
	RegimeBars  int     // mean length of a drift regime
	Interval    string
	Leverage    map[models.Instrument]float64
	FeatureFrom models.Instrument
	Start       time.Time
}

// DefaultConfig is a 1m walk with trending regimes of about two hours.
func DefaultConfig() Config {
	return Config{
		Seed:        7,
		Window:      40,
		Horizon:     15,
		Stride:      5,
		StartPrice:  100,
		DriftPct:    0.04,
		VolPct:      0.25,
		RegimeBars:  120,
		Interval:    "1m",
		Leverage:    map[models.Instrument]float64{models.InstrumentA: 3, models.InstrumentB: 2},
		FeatureFrom: models.InstrumentA,
		Start:       time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC),
	}
}

// Generator emits Provenance=synthetic patterns from a seeded random walk.
// The same seed always produces the same patterns.
type Generator struct {
	cfg Config
	rng *rand.Rand
}

// New validates cfg and seeds the walk.
func New(cfg Config) (*Generator, error) {
	if cfg.Window < features.MinBars {
		return nil, models.NewCoreError(models.KindConfigInconsistency, "synthetic", models.InstrumentNone,
			fmt.Errorf("window %d below %d bars", cfg.Window, features.MinBars))
	}
	if cfg.Horizon < 1 || cfg.StartPrice <= 0 {
		return nil, models.NewCoreError(models.KindConfigInconsistency, "synthetic", models.InstrumentNone,
			fmt.Errorf("horizon %d / start price %.2f invalid", cfg.Horizon, cfg.StartPrice))
	}
	if cfg.Stride < 1 {
		cfg.Stride = 1
	}
	if cfg.RegimeBars < 1 {
		cfg.RegimeBars = 1
	}
	if !cfg.FeatureFrom.Valid() {
		cfg.FeatureFrom = models.InstrumentA
	}
	if cfg.Interval == "" {
		cfg.Interval = "1m"
	}
	return &Generator{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}, nil
}

// Underlying returns n closes of the underlying. Drift flips sign at random regime boundaries.
func (g *Generator) Underlying(n int) []float64 {
	out := make([]float64, n)
	price := g.cfg.StartPrice
	sign := 1.0
	for i := range out {
		if g.rng.Float64() < 1/float64(g.cfg.RegimeBars) {
			sign = -sign
		}
		step := sign*g.cfg.DriftPct + g.rng.NormFloat64()*g.cfg.VolPct
		price *= 1 + step/100
		if price < 0.01 {
			price = 0.01
		}
		out[i] = price
	}
	return out
}

// PairBars derives A and B bars from the underlying closes. A follows the underlying's
// bar-to-bar move times its leverage, B follows the inverse move times its own.
func (g *Generator) PairBars(under []float64) (a, b []models.Bar) {
	levA, levB := g.leverage(models.InstrumentA), g.leverage(models.InstrumentB)
	a = make([]models.Bar, len(under))
	b = make([]models.Bar, len(under))
	pa, pb := g.cfg.StartPrice, g.cfg.StartPrice
	prev := g.cfg.StartPrice
	step := xutil.IntervalDuration(g.cfg.Interval)
	for i, u := range under {
		move := (u - prev) / prev
		prev = u
		openA, openB := pa, pb
		pa = math.Max(0.01, pa*(1+move*levA))
		pb = math.Max(0.01, pb*(1-move*levB))
		ts := g.cfg.Start.Add(time.Duration(i) * step)
		vol := 1000 + g.rng.Float64()*500
		a[i] = g.bar(models.InstrumentA, ts, openA, pa, vol)
		b[i] = g.bar(models.InstrumentB, ts, openB, pb, vol)
	}
	return a, b
}

func (g *Generator) bar(inst models.Instrument, ts time.Time, open, close, vol float64) models.Bar {
	wick := math.Abs(close-open) * 0.25
	return models.Bar{
		Bucket:   ts,
		Symbol:   string(inst),
		Interval: g.cfg.Interval,
		Open:     open,
		High:     math.Max(open, close) + wick,
		Low:      math.Max(0.001, math.Min(open, close)-wick),
		Close:    close,
		Volume:   vol,
	}
}

// Generate produces n synthetic patterns. Each window trades the instrument its short-term
// momentum points to and is settled by the leveraged return over the following horizon.
func (g *Generator) Generate(n int) ([]models.Pattern, error) {
	if n <= 0 {
		return nil, nil
	}
	total := g.cfg.Window + g.cfg.Horizon + (n-1)*g.cfg.Stride
	a, b := g.PairBars(g.Underlying(total))
	bars := map[models.Instrument][]models.Bar{models.InstrumentA: a, models.InstrumentB: b}
	src := bars[g.cfg.FeatureFrom]

	out := make([]models.Pattern, 0, n)
	for i := 0; i < n; i++ {
		end := g.cfg.Window + i*g.cfg.Stride
		window := src[end-g.cfg.Window : end]
		fv := features.Compute(window, g.leverage(g.cfg.FeatureFrom))

		traded := models.InstrumentA
		if a[end-1].Close < a[end-6].Close {
			traded = models.InstrumentB
		}
		side := bars[traded]
		entry, exit := side[end-1], side[end-1+g.cfg.Horizon]

		id, err := uuid.NewRandomFromReader(g.rng)
		if err != nil {
			return nil, fmt.Errorf("synthetic id: %w", err)
		}
		out = append(out, models.Pattern{
			SchemaVersion:     models.PatternSchemaVersion,
			ID:                "syn-" + id.String(),
			Features:          fv,
			Label:             traded,
			RealizedReturnPct: models.LeveragedReturnPct(entry.Close, exit.Close, g.leverage(traded)),
			InstrumentTraded:  traded,
			Timestamp:         exit.Bucket,
			ConfidenceAtEntry: 0.5,
			Provenance:        models.ProvenanceSynthetic,
		})
	}
	return out, nil
}

func (g *Generator) leverage(inst models.Instrument) float64 {
	if l := g.cfg.Leverage[inst]; l > 0 {
		return l
	}
	return 1
}
