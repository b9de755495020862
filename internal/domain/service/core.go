package service

import (
	"LevPair/internal/domain/models"
)

// FeatureExtractor converts ordered bars into a fixed-arity feature vector.
type FeatureExtractor interface {
	Compute(bars []models.Bar, leverage float64) models.FeatureVector
}

// TrendFuser labels one instrument across timeframes. Bars are keyed by timeframe name.
type TrendFuser interface {
	Fuse(inst models.Instrument, bars map[string][]models.Bar) models.TrendReport
}

// Predictor estimates P(instrument A favorable | features).
type Predictor interface {
	Predict(x models.FeatureVector) float64
}
