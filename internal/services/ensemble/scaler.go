package ensemble

import (
	"math"

	"LevPair/internal/domain/models"
)

// Scaler standardizes features to zero mean and unit variance.
// It is fitted once per training cycle and only applied at inference.
type Scaler struct {
	Mean   [models.FeatureCount]float64 `json:"mean"`
	Std    [models.FeatureCount]float64 `json:"std"`
	Fitted bool                         `json:"fitted"`
}

// Fit computes per-slot statistics over X. Constant slots get a unit std.
func (s *Scaler) Fit(X []models.FeatureVector) {
	*s = Scaler{}
	if len(X) == 0 {
		return
	}
	n := float64(len(X))
	for _, x := range X {
		for j, v := range x {
			s.Mean[j] += v
		}
	}
	for j := range s.Mean {
		s.Mean[j] /= n
	}
	for _, x := range X {
		for j, v := range x {
			d := v - s.Mean[j]
			s.Std[j] += d * d
		}
	}
	for j := range s.Std {
		s.Std[j] = math.Sqrt(s.Std[j] / n)
		if s.Std[j] < 1e-12 || math.IsNaN(s.Std[j]) {
			s.Std[j] = 1
		}
	}
	s.Fitted = true
}

// Transform returns the standardized copy of x. An unfitted scaler is the identity.
func (s *Scaler) Transform(x models.FeatureVector) []float64 {
	out := x.Slice()
	if !s.Fitted {
		return out
	}
	for j := range out {
		out[j] = (out[j] - s.Mean[j]) / s.Std[j]
	}
	return out
}

// TransformAll standardizes a batch.
func (s *Scaler) TransformAll(X []models.FeatureVector) [][]float64 {
	out := make([][]float64, len(X))
	for i, x := range X {
		out[i] = s.Transform(x)
	}
	return out
}
