package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LevPair/internal/domain/models"
	"LevPair/pkg/metrics"
)

func outcome(id string, inst models.Instrument) models.TradeOutcome {
	return models.TradeOutcome{
		TradeID:    id,
		Instrument: inst,
		EntryPrice: 10,
		ExitPrice:  10.4,
		EntryTime:  time.Date(2024, 10, 10, 14, 30, 0, 0, time.UTC),
		ExitTime:   time.Date(2024, 10, 10, 15, 30, 0, 0, time.UTC),
	}
}

func TestSubmitAndDrainInOrder(t *testing.T) {
	in := NewOutcomeInbox(metrics.Nop{}, WithMaxRPS(0))
	ctx := context.Background()

	require.NoError(t, in.Submit(ctx, "http", outcome("t1", models.InstrumentA)))
	require.NoError(t, in.Command(CommandRetrain, "cli"))
	require.NoError(t, in.Submit(ctx, "kafka", outcome("t2", models.InstrumentB)))

	items := in.Drain(0)
	require.Len(t, items, 3)
	assert.Equal(t, "t1", items[0].Outcome.TradeID)
	assert.Equal(t, CommandRetrain, items[1].Command)
	assert.Nil(t, items[1].Outcome)
	assert.Equal(t, "kafka", items[2].Source)
	assert.Zero(t, in.Depth())
}

func TestDrainRespectsLimit(t *testing.T) {
	in := NewOutcomeInbox(metrics.Nop{}, WithMaxRPS(0))
	for i := 0; i < 5; i++ {
		require.NoError(t, in.Command(CommandRetrain, "cli"))
	}
	assert.Len(t, in.Drain(2), 2)
	assert.Equal(t, 3, in.Depth())
}

func TestSubmitRejectsInvalid(t *testing.T) {
	in := NewOutcomeInbox(metrics.Nop{})
	ctx := context.Background()

	bad := outcome("", models.InstrumentA)
	assert.ErrorIs(t, in.Submit(ctx, "http", bad), models.ErrConfigInconsistency)

	wrongArity := outcome("t1", models.InstrumentA)
	wrongArity.FeaturesAtEntry = []float64{1, 2, 3}
	assert.ErrorIs(t, in.Submit(ctx, "http", wrongArity), models.ErrConfigInconsistency)
	assert.Zero(t, in.Depth())
}

func TestBufferFullCountsDrops(t *testing.T) {
	in := NewOutcomeInbox(metrics.Nop{}, WithMaxRPS(0), WithBufferSize(2))
	ctx := context.Background()

	require.NoError(t, in.Submit(ctx, "kafka", outcome("t1", models.InstrumentA)))
	require.NoError(t, in.Submit(ctx, "kafka", outcome("t2", models.InstrumentA)))
	err := in.Submit(ctx, "kafka", outcome("t3", models.InstrumentA))

	assert.ErrorIs(t, err, ErrInboxFull)
	assert.Equal(t, int64(1), in.Dropped())
}

func TestThrottlePerInstrument(t *testing.T) {
	in := NewOutcomeInbox(metrics.Nop{}, WithMaxRPS(0.001))
	ctx := context.Background()

	require.NoError(t, in.Submit(ctx, "kafka", outcome("t1", models.InstrumentA)))
	assert.ErrorIs(t, in.Submit(ctx, "kafka", outcome("t2", models.InstrumentA)), ErrThrottled)
	assert.NoError(t, in.Submit(ctx, "kafka", outcome("t3", models.InstrumentB)))
}

func TestClosedInboxRejectsButDrains(t *testing.T) {
	in := NewOutcomeInbox(metrics.Nop{}, WithMaxRPS(0))
	require.NoError(t, in.Command(CommandRetrain, "cli"))
	in.Close()
	in.Close()

	assert.ErrorIs(t, in.Command(CommandRetrain, "cli"), ErrInboxClosed)
	assert.Len(t, in.Drain(0), 1)
}

type depthMetrics struct {
	metrics.Nop
	depths    []int
	latencies []string
}

func (d *depthMetrics) RecordInboxDepth(n int)             { d.depths = append(d.depths, n) }
func (d *depthMetrics) RecordLatency(op string, _ float64) { d.latencies = append(d.latencies, op) }

func TestDepthIsReportedAsGauge(t *testing.T) {
	m := &depthMetrics{}
	in := NewOutcomeInbox(m, WithMaxRPS(0))
	ctx := context.Background()

	require.NoError(t, in.Submit(ctx, "http", outcome("t1", models.InstrumentA)))
	require.NoError(t, in.Submit(ctx, "http", outcome("t2", models.InstrumentB)))
	require.Len(t, in.Drain(1), 1)
	require.Len(t, in.Drain(0), 1)
	assert.Empty(t, in.Drain(0))

	assert.Equal(t, []int{1, 2, 1, 0}, m.depths)
	assert.Empty(t, m.latencies)
}
