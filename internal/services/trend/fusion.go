package trend

import (
	"math"

	"LevPair/internal/domain/models"
	"LevPair/internal/services/features"
)

// Timeframe configures one lookback evaluation.
type Timeframe struct {
	Name             string
	Interval         string
	Window           int     // bars considered
	Checks           int     // most recent changes counted
	MoveThresholdPct float64 // a change beyond +/- this many percent counts as a move
	Weight           float64
	Cap              float64 // strength ceiling
	Amplification    float64
}

// Config tunes the fusion rules shared by all timeframes.
type Config struct {
	Timeframes       []Timeframe
	DominanceMargin  float64 // 0.3 means UP must beat DOWN by more than 30%
	MajorityFraction float64 // share of checks that must move; 0.3
	WeakThresholdPct float64 // mean-change threshold of the weak-signal fallback
	WeakStrength     float64
	MinimalStrength  float64 // strength given to SIDEWAYS
}

// DefaultConfig returns the short/medium/long setup on 1m/5m/15m bars.
func DefaultConfig() Config {
	return Config{
		Timeframes: []Timeframe{
			{Name: "short", Interval: "1m", Window: 20, Checks: 5, MoveThresholdPct: 0.1, Weight: 0.2, Cap: 0.95, Amplification: 1.2},
			{Name: "medium", Interval: "5m", Window: 20, Checks: 8, MoveThresholdPct: 0.2, Weight: 0.3, Cap: 0.95, Amplification: 1.2},
			{Name: "long", Interval: "15m", Window: 30, Checks: 10, MoveThresholdPct: 0.3, Weight: 0.5, Cap: 0.95, Amplification: 1.2},
		},
		DominanceMargin:  0.3,
		MajorityFraction: 0.3,
		WeakThresholdPct: 0.02,
		WeakStrength:     0.2,
		MinimalStrength:  0.05,
	}
}

// Fuser evaluates timeframes independently and combines them into one consensus.
type Fuser struct {
	cfg Config
}

// NewFuser normalizes timeframe weights to sum to 1.
func NewFuser(cfg Config) *Fuser {
	total := 0.0
	for _, tf := range cfg.Timeframes {
		total += math.Max(0, tf.Weight)
	}
	tfs := make([]Timeframe, len(cfg.Timeframes))
	copy(tfs, cfg.Timeframes)
	for i := range tfs {
		if total > 0 {
			tfs[i].Weight = math.Max(0, tfs[i].Weight) / total
		}
		if tfs[i].Cap <= 0 {
			tfs[i].Cap = 1
		}
		if tfs[i].Amplification <= 0 {
			tfs[i].Amplification = 1
		}
	}
	cfg.Timeframes = tfs
	if cfg.MajorityFraction <= 0 {
		cfg.MajorityFraction = 0.3
	}
	return &Fuser{cfg: cfg}
}

// Timeframes returns the normalized timeframe set.
func (f *Fuser) Timeframes() []Timeframe { return f.cfg.Timeframes }

// Fuse implements service.TrendFuser. A timeframe with no bars contributes nothing.
func (f *Fuser) Fuse(inst models.Instrument, bars map[string][]models.Bar) models.TrendReport {
	rep := models.TrendReport{
		Instrument: inst,
		Consensus:  models.DirectionNone,
		Timeframes: make([]models.TrendState, 0, len(f.cfg.Timeframes)),
	}
	signalled := 0
	for _, tf := range f.cfg.Timeframes {
		st := f.Evaluate(tf, bars[tf.Name])
		rep.Timeframes = append(rep.Timeframes, st)
		if !st.Signalled() {
			continue
		}
		signalled++
		contrib := st.Strength * st.Weight
		rep.Confidence += contrib
		switch st.Direction {
		case models.DirectionUp:
			rep.UpScore += contrib
		case models.DirectionDown:
			rep.DownScore += contrib
		}
	}
	if signalled == 0 {
		rep.Confidence = 0
		return rep
	}

	margin := 1 + f.cfg.DominanceMargin
	switch {
	case rep.UpScore > 0 && rep.UpScore > rep.DownScore*margin:
		rep.Consensus = models.DirectionUp
	case rep.DownScore > 0 && rep.DownScore > rep.UpScore*margin:
		rep.Consensus = models.DirectionDown
	default:
		rep.Consensus = models.DirectionSideways
	}
	return rep
}

// Evaluate labels a single timeframe from its bars.
func (f *Fuser) Evaluate(tf Timeframe, bars []models.Bar) models.TrendState {
	st := models.TrendState{Timeframe: tf.Name, Direction: models.DirectionNone, Weight: tf.Weight}
	changes := features.PctChanges(bars, tf.Window)
	if len(changes) == 0 {
		return st
	}
	if tf.Checks > 0 && len(changes) > tf.Checks {
		changes = changes[len(changes)-tf.Checks:]
	}
	n := len(changes)
	st.Samples = n

	var up, down int
	var sum float64
	for _, c := range changes {
		sum += c
		switch {
		case c > tf.MoveThresholdPct:
			up++
		case c < -tf.MoveThresholdPct:
			down++
		}
	}
	need := math.Max(1, f.cfg.MajorityFraction*float64(n))

	switch {
	case float64(up) >= need && up > down:
		st.Direction = models.DirectionUp
		st.Strength = math.Min(tf.Cap, float64(up)/float64(n)*tf.Amplification)
	case float64(down) >= need && down > up:
		st.Direction = models.DirectionDown
		st.Strength = math.Min(tf.Cap, float64(down)/float64(n)*tf.Amplification)
	default:
		mean := sum / float64(n)
		switch {
		case mean > f.cfg.WeakThresholdPct:
			st.Direction = models.DirectionUp
			st.Strength = f.cfg.WeakStrength
		case mean < -f.cfg.WeakThresholdPct:
			st.Direction = models.DirectionDown
			st.Strength = f.cfg.WeakStrength
		default:
			st.Direction = models.DirectionSideways
			st.Strength = f.cfg.MinimalStrength
		}
	}
	return st
}
