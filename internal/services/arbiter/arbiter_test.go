package arbiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LevPair/internal/domain/models"
)

var t0 = time.Date(2024, 10, 10, 14, 30, 0, 0, time.UTC)

func trend(inst models.Instrument, dir models.Direction, conf float64) models.TrendReport {
	rep := models.TrendReport{Instrument: inst, Consensus: dir, Confidence: conf}
	switch dir {
	case models.DirectionUp:
		rep.UpScore = conf
	case models.DirectionDown:
		rep.DownScore = conf
	}
	return rep
}

func input(dirA, dirB models.Direction, confA, confB float64) Input {
	return Input{
		Now: t0,
		Trends: map[models.Instrument]models.TrendReport{
			models.InstrumentA: trend(models.InstrumentA, dirA, 0.8),
			models.InstrumentB: trend(models.InstrumentB, dirB, 0.8),
		},
		Confidence: map[models.Instrument]float64{models.InstrumentA: confA, models.InstrumentB: confB},
		Threshold:  0.6,
		Prices:     map[models.Instrument]float64{models.InstrumentA: 50, models.InstrumentB: 20},
	}
}

func TestEntryRequiresTrendAndConfidence(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want models.SignalState
	}{
		{"A qualifies", input(models.DirectionUp, models.DirectionDown, 0.7, 0.3), models.StateHoldingA},
		{"B qualifies", input(models.DirectionDown, models.DirectionUp, 0.35, 0.65), models.StateHoldingB},
		{"trend without confidence", input(models.DirectionUp, models.DirectionDown, 0.55, 0.45), models.StateHold},
		{"confidence without trend", input(models.DirectionSideways, models.DirectionDown, 0.9, 0.1), models.StateHold},
		{"both qualify, higher wins", input(models.DirectionUp, models.DirectionUp, 0.62, 0.8), models.StateHoldingB},
		{"no consensus", input(models.DirectionNone, models.DirectionNone, 0.9, 0.9), models.StateHold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(DefaultConfig())
			a.Step(tt.in)
			assert.Equal(t, tt.want, a.State().State())
		})
	}
}

func TestEntryRecordsPosition(t *testing.T) {
	a := New(DefaultConfig())
	in := input(models.DirectionUp, models.DirectionDown, 0.7, 0.3)
	in.Features = map[models.Instrument]models.FeatureVector{models.InstrumentA: {1, 2, 3}}

	trs := a.Step(in)

	require.Len(t, trs, 1)
	assert.Equal(t, models.StateHold, trs[0].From)
	assert.Equal(t, models.StateHoldingA, trs[0].To)
	assert.Equal(t, models.ReasonEntry, trs[0].Reason)
	st := a.State()
	assert.Equal(t, 50.0, st.EntryPrice)
	assert.Equal(t, t0, st.EntryTime)
	assert.Equal(t, 2.0, st.EntryFeatures[1])
}

func TestNoSelfTransition(t *testing.T) {
	a := New(DefaultConfig())
	in := input(models.DirectionUp, models.DirectionDown, 0.7, 0.3)
	require.Len(t, a.Step(in), 1)

	for i := 0; i < 5; i++ {
		in.Now = in.Now.Add(time.Minute)
		assert.Empty(t, a.Step(in))
		assert.Equal(t, models.StateHoldingA, a.State().State())
	}
}

func TestExitRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *Input)
		reason models.ExitReason
	}{
		{"stale price", func(in *Input) { delete(in.Prices, models.InstrumentA) }, models.ReasonStaleData},
		{"stop loss after leverage", func(in *Input) { in.Prices[models.InstrumentA] = 48.9 }, models.ReasonStopLoss},
		{"take profit after leverage", func(in *Input) { in.Prices[models.InstrumentA] = 51.6 }, models.ReasonTakeProfit},
		{"max hold", func(in *Input) { in.Now = in.Now.Add(5 * time.Hour) }, models.ReasonMaxHold},
		{"opposing signal", func(in *Input) {
			in.Trends[models.InstrumentB] = trend(models.InstrumentB, models.DirectionUp, 0.8)
			in.Confidence[models.InstrumentB] = 0.7
		}, models.ReasonOpposingSignal},
		{"trend reversal", func(in *Input) {
			in.Trends[models.InstrumentA] = trend(models.InstrumentA, models.DirectionDown, 0.7)
		}, models.ReasonTrendReversal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(DefaultConfig())
			in := input(models.DirectionUp, models.DirectionDown, 0.7, 0.3)
			require.Len(t, a.Step(in), 1)

			next := input(models.DirectionUp, models.DirectionDown, 0.7, 0.3)
			tt.mutate(&next)
			trs := a.Step(next)

			require.Len(t, trs, 1)
			assert.Equal(t, tt.reason, trs[0].Reason)
			assert.Equal(t, models.StateHoldingA, trs[0].From)
			assert.Equal(t, models.StateHold, trs[0].To)
			require.NotNil(t, trs[0].Closed)
			assert.Equal(t, 50.0, trs[0].Closed.EntryPrice)
			assert.True(t, a.State().Flat())
		})
	}
}

func TestSmallMoveWithinLeveragedBandHolds(t *testing.T) {
	a := New(DefaultConfig())
	a.Step(input(models.DirectionUp, models.DirectionDown, 0.7, 0.3))
	next := input(models.DirectionUp, models.DirectionDown, 0.7, 0.3)
	// -1.9% raw is -5.7% at 3x: inside the 6% stop
	next.Prices[models.InstrumentA] = 49.05
	assert.Empty(t, a.Step(next))
}

func TestReverseOnExit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReverseOnExit = true
	a := New(cfg)
	a.Step(input(models.DirectionUp, models.DirectionDown, 0.7, 0.3))

	trs := a.Step(input(models.DirectionDown, models.DirectionUp, 0.2, 0.8))

	require.Len(t, trs, 2)
	assert.Equal(t, models.ReasonOpposingSignal, trs[0].Reason)
	assert.Equal(t, models.StateHoldingB, trs[1].To)
	assert.Equal(t, models.StateHold, trs[1].From)
	assert.Equal(t, models.StateHoldingB, a.State().State())
}

func TestDegradedNeverEnters(t *testing.T) {
	a := New(DefaultConfig())
	in := input(models.DirectionUp, models.DirectionDown, 0.9, 0.1)
	in.Degraded = true
	assert.Empty(t, a.Step(in))
	assert.True(t, a.State().Flat())
}

func TestMutualExclusionOverRandomWalk(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReverseOnExit = true
	a := New(cfg)
	dirs := []models.Direction{models.DirectionUp, models.DirectionDown, models.DirectionSideways, models.DirectionNone}
	prev := a.State().State()
	for i := 0; i < 500; i++ {
		in := input(dirs[i%4], dirs[(i/3)%4], float64(i%10)/10, float64((i*7)%10)/10)
		in.Now = t0.Add(time.Duration(i) * time.Minute)
		in.Prices[models.InstrumentA] = 50 + float64(i%5)
		for _, tr := range a.Step(in) {
			require.NotEqual(t, tr.From, tr.To)
			require.Equal(t, prev, tr.From)
			prev = tr.To
		}
		st := a.State()
		require.Contains(t, []models.Instrument{models.InstrumentNone, models.InstrumentA, models.InstrumentB}, st.Position)
		require.Equal(t, prev, st.State())
	}
}

func TestRestoreRejectsUnknownPosition(t *testing.T) {
	a := New(DefaultConfig())
	a.Restore(models.TradingState{Position: "C", EntryPrice: 10})
	assert.True(t, a.State().Flat())

	a.Restore(models.TradingState{Position: models.InstrumentB, EntryPrice: 10, EntryTime: t0})
	assert.Equal(t, models.StateHoldingB, a.State().State())
}
