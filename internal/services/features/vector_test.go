package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LevPair/internal/domain/models"
)

func makeBars(closes ...float64) []models.Bar {
	t0 := time.Date(2024, 10, 10, 14, 30, 0, 0, time.UTC)
	out := make([]models.Bar, len(closes))
	for i, c := range closes {
		out[i] = models.Bar{
			Bucket: t0.Add(time.Duration(i) * time.Minute),
			Open:   c * 0.999,
			High:   c * 1.002,
			Low:    c * 0.997,
			Close:  c,
			Volume: 1000 + float64(i),
		}
	}
	return out
}

func rising(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start * math.Pow(1+step, float64(i))
	}
	return out
}

func TestComputeEmptyIsNeutral(t *testing.T) {
	got := Compute(nil, 3)
	assert.Equal(t, models.NeutralFeatures, got)
}

func TestComputeShortWindowFallsBack(t *testing.T) {
	got := Compute(makeBars(10, 10.1, 10.2), 3)

	assert.Equal(t, 0.0, got[models.SlotSMARatio20])
	assert.Equal(t, 0.0, got[models.SlotMomentum20])
	assert.Equal(t, 1.0, got[models.SlotVolumeRatio])
	assert.Equal(t, 0.5, got[models.SlotRSI14])
	assert.Equal(t, 0.5, got[models.SlotBollingerPosition])
	assert.Equal(t, 0.5, got[models.SlotPricePosition20])
	assert.Greater(t, got[models.SlotHighLowRatio], 0.0)
}

func TestComputeRisingSeries(t *testing.T) {
	bars := makeBars(rising(30, 100, 0.01)...)
	got := Compute(bars, 3)

	assert.Greater(t, got[models.SlotSMARatio5], 0.0)
	assert.Greater(t, got[models.SlotSMARatio20], got[models.SlotSMARatio5])
	assert.InDelta(t, math.Pow(1.01, 5)-1, got[models.SlotMomentum5], 1e-9)
	assert.Equal(t, 1.0, got[models.SlotRSI14])
	assert.InDelta(t, got[models.SlotMomentum5]*3, got[models.SlotLevMomentum], 1e-12)
	assert.InDelta(t, 0, got[models.SlotVolatility20], 1e-6)
	for i, x := range got {
		require.False(t, math.IsNaN(x) || math.IsInf(x, 0), "slot %s", models.FeatureNames[i])
	}
}

func TestComputeSkipsInvalidBars(t *testing.T) {
	bars := makeBars(rising(25, 50, 0.002)...)
	bars[10].Close = 0
	got := Compute(bars, 2)
	for _, x := range got {
		assert.False(t, math.IsNaN(x) || math.IsInf(x, 0))
	}
}

func TestSanitizeReplacesNonFinite(t *testing.T) {
	v := models.NeutralFeatures
	v[models.SlotRSI14] = math.NaN()
	v[models.SlotMomentum5] = math.Inf(1)
	got := v.Sanitize()
	assert.Equal(t, 0.5, got[models.SlotRSI14])
	assert.Equal(t, 0.0, got[models.SlotMomentum5])
}

func TestVectorFromSliceArity(t *testing.T) {
	_, err := models.VectorFromSlice([]float64{1, 2, 3})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrConfigInconsistency)

	v, err := models.VectorFromSlice(make([]float64, models.FeatureCount))
	require.NoError(t, err)
	assert.Len(t, v.Slice(), models.FeatureCount)
}

func TestPctChangesWindow(t *testing.T) {
	bars := makeBars(100, 101, 102.01, 100)
	got := PctChanges(bars, 3)
	require.Len(t, got, 2)
	assert.InDelta(t, 1.0, got[0], 1e-9)
	assert.Less(t, got[1], 0.0)
}
