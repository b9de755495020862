package models

import (
	"encoding/json"
	"fmt"
	"math"
)

// FeatureCount is the fixed arity of every FeatureVector.
const FeatureCount = 18

// Feature slot indices. The order is part of the persisted format.
const (
	SlotSMARatio5 = iota
	SlotSMARatio10
	SlotSMARatio20
	SlotVolatility5
	SlotVolatility20
	SlotMomentum5
	SlotMomentum10
	SlotMomentum20
	SlotVolumeRatio
	SlotRSI14
	SlotBollingerPosition
	SlotPricePosition10
	SlotPricePosition20
	SlotHighLowRatio
	SlotOpenCloseRatio
	SlotLevVolatility
	SlotLevMomentum
	SlotLevPricePosition
)

// FeatureNames lists slot names in slot order.
var FeatureNames = [FeatureCount]string{
	"sma_ratio_5",
	"sma_ratio_10",
	"sma_ratio_20",
	"volatility_5",
	"volatility_20",
	"momentum_5",
	"momentum_10",
	"momentum_20",
	"volume_ratio",
	"rsi_14",
	"bollinger_position",
	"price_position_10",
	"price_position_20",
	"high_low_ratio",
	"open_close_ratio",
	"lev_volatility",
	"lev_momentum",
	"lev_price_position",
}

// NeutralFeatures holds the default of each slot when it cannot be determined.
var NeutralFeatures = FeatureVector{
	SlotVolumeRatio:       1,
	SlotRSI14:             0.5,
	SlotBollingerPosition: 0.5,
	SlotPricePosition10:   0.5,
	SlotPricePosition20:   0.5,
}

// FeatureVector is the fixed-arity numeric input of every model.
type FeatureVector [FeatureCount]float64

// Sanitize replaces NaN and Inf slots with their neutral default.
func (v FeatureVector) Sanitize() FeatureVector {
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			v[i] = NeutralFeatures[i]
		}
	}
	return v
}

// Slice returns a copy of the vector as a slice.
func (v FeatureVector) Slice() []float64 {
	out := make([]float64, FeatureCount)
	copy(out, v[:])
	return out
}

// Map returns the vector keyed by slot name.
func (v FeatureVector) Map() map[string]float64 {
	m := make(map[string]float64, FeatureCount)
	for i, name := range FeatureNames {
		m[name] = v[i]
	}
	return m
}

// VectorFromSlice converts an external slice into a sanitized FeatureVector.
// A length mismatch is a ConfigInconsistency.
func VectorFromSlice(xs []float64) (FeatureVector, error) {
	var v FeatureVector
	if len(xs) != FeatureCount {
		return v, NewCoreError(KindConfigInconsistency, "feature vector", "",
			fmt.Errorf("arity %d, want %d", len(xs), FeatureCount))
	}
	copy(v[:], xs)
	return v.Sanitize(), nil
}

// UnmarshalJSON rejects arrays of the wrong arity instead of silently padding them.
func (v *FeatureVector) UnmarshalJSON(b []byte) error {
	var xs []float64
	if err := json.Unmarshal(b, &xs); err != nil {
		return err
	}
	out, err := VectorFromSlice(xs)
	if err != nil {
		return err
	}
	*v = out
	return nil
}
