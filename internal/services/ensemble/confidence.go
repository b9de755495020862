package ensemble

import (
	"math"

	"LevPair/internal/domain/models"
)

// ConfidenceMode selects how a blended probability becomes a per-instrument confidence.
type ConfidenceMode string

const (
	// ConfidenceProbability uses p for A and 1-p for B directly.
	ConfidenceProbability ConfidenceMode = "probability"
	// ConfidenceDistance uses the distance from 0.5, rescaled to [0,1].
	ConfidenceDistance ConfidenceMode = "distance"
)

// ConfidencePolicy turns P(A favorable) into confidence per instrument.
type ConfidencePolicy struct {
	Mode  ConfidenceMode
	Floor float64
	Scale float64
}

// For returns the confidence of inst given blended probability p.
func (c ConfidencePolicy) For(inst models.Instrument, p float64) float64 {
	if inst == models.InstrumentB {
		p = 1 - p
	}
	base := p
	if c.Mode == ConfidenceDistance {
		base = math.Max(0, 2*(p-0.5))
	}
	scale := c.Scale
	if scale <= 0 {
		scale = 1
	}
	return math.Max(0, math.Min(1, math.Max(c.Floor, base*scale)))
}

// Both returns the confidence of A and B.
func (c ConfidencePolicy) Both(p float64) map[models.Instrument]float64 {
	return map[models.Instrument]float64{
		models.InstrumentA: c.For(models.InstrumentA, p),
		models.InstrumentB: c.For(models.InstrumentB, p),
	}
}
