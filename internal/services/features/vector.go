package features

import (
	"math"

	"LevPair/internal/domain/models"
)

// MinBars is the window needed for every slot to be determined.
const MinBars = 21

// Store computes feature vectors from bars. It holds no state between calls.
type Store struct{}

// NewStore returns a Feature Store.
func NewStore() *Store { return &Store{} }

// Compute implements service.FeatureExtractor.
func (s *Store) Compute(bars []models.Bar, leverage float64) models.FeatureVector {
	return Compute(bars, leverage)
}

// Compute converts ordered bars (oldest first) into a sanitized FeatureVector.
// Slots whose window is not covered by bars keep their neutral default.
func Compute(bars []models.Bar, leverage float64) models.FeatureVector {
	v := models.NeutralFeatures
	bars = usable(bars)
	if len(bars) == 0 {
		return v
	}
	if leverage <= 0 {
		leverage = 1
	}
	last := bars[len(bars)-1]
	rets := ComputeLogReturns(bars)

	v[models.SlotSMARatio5] = smaRatio(bars, 5)
	v[models.SlotSMARatio10] = smaRatio(bars, 10)
	v[models.SlotSMARatio20] = smaRatio(bars, 20)
	v[models.SlotVolatility5] = RealizedVolatility(rets, 5, 1)
	v[models.SlotVolatility20] = RealizedVolatility(rets, 20, 1)
	v[models.SlotMomentum5] = momentum(bars, 5)
	v[models.SlotMomentum10] = momentum(bars, 10)
	v[models.SlotMomentum20] = momentum(bars, 20)
	v[models.SlotVolumeRatio] = volumeRatio(bars, 20)
	v[models.SlotRSI14] = rsi(bars, 14) / 100
	v[models.SlotBollingerPosition] = bollingerPosition(bars, 20)
	v[models.SlotPricePosition10] = pricePosition(bars, 10)
	v[models.SlotPricePosition20] = pricePosition(bars, 20)
	if last.Low > 0 {
		v[models.SlotHighLowRatio] = (last.High - last.Low) / last.Low
	}
	if last.Open > 0 {
		v[models.SlotOpenCloseRatio] = (last.Close - last.Open) / last.Open
	}
	v[models.SlotLevVolatility] = v[models.SlotVolatility20] * leverage
	v[models.SlotLevMomentum] = v[models.SlotMomentum5] * leverage
	v[models.SlotLevPricePosition] = (v[models.SlotPricePosition20] - 0.5) * leverage

	return v.Sanitize()
}

// usable drops bars without a positive close; they cannot anchor ratios.
func usable(bars []models.Bar) []models.Bar {
	for _, b := range bars {
		if !b.Valid() {
			out := make([]models.Bar, 0, len(bars))
			for _, b := range bars {
				if b.Valid() {
					out = append(out, b)
				}
			}
			return out
		}
	}
	return bars
}

func sma(bars []models.Bar, period int) float64 {
	sum := 0.0
	for _, b := range bars[len(bars)-period:] {
		sum += b.Close
	}
	return sum / float64(period)
}

func smaRatio(bars []models.Bar, period int) float64 {
	if len(bars) < period {
		return 0
	}
	m := sma(bars, period)
	if m == 0 {
		return 0
	}
	return bars[len(bars)-1].Close/m - 1
}

func momentum(bars []models.Bar, period int) float64 {
	if len(bars) < period+1 {
		return 0
	}
	past := bars[len(bars)-1-period].Close
	if past == 0 {
		return 0
	}
	return bars[len(bars)-1].Close/past - 1
}

func volumeRatio(bars []models.Bar, period int) float64 {
	if len(bars) < period {
		return 1
	}
	sum := 0.0
	for _, b := range bars[len(bars)-period:] {
		sum += b.Volume
	}
	avg := sum / float64(period)
	if avg <= 0 {
		return 1
	}
	return bars[len(bars)-1].Volume / avg
}

// rsi is the simple-average RSI over period changes; 50 when undetermined.
func rsi(bars []models.Bar, period int) float64 {
	if len(bars) < period+1 {
		return 50
	}
	var gain, loss float64
	for i := len(bars) - period; i < len(bars); i++ {
		ch := bars[i].Close - bars[i-1].Close
		if ch > 0 {
			gain += ch
		} else {
			loss -= ch
		}
	}
	if gain == 0 && loss == 0 {
		return 50
	}
	if loss == 0 {
		return 100
	}
	rs := gain / loss
	return 100 - 100/(1+rs)
}

func bollingerPosition(bars []models.Bar, period int) float64 {
	if len(bars) < period {
		return 0.5
	}
	m := sma(bars, period)
	var ss float64
	for _, b := range bars[len(bars)-period:] {
		d := b.Close - m
		ss += d * d
	}
	sd := math.Sqrt(ss / float64(period))
	if sd == 0 {
		return 0.5
	}
	lower, upper := m-2*sd, m+2*sd
	return clamp01((bars[len(bars)-1].Close - lower) / (upper - lower))
}

func pricePosition(bars []models.Bar, period int) float64 {
	if len(bars) < period {
		return 0.5
	}
	recent := bars[len(bars)-period:]
	hi, lo := recent[0].High, recent[0].Low
	for _, b := range recent {
		hi = math.Max(hi, b.High)
		lo = math.Min(lo, b.Low)
	}
	if hi == lo {
		return 0.5
	}
	return clamp01((bars[len(bars)-1].Close - lo) / (hi - lo))
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
