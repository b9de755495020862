package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LevPair/internal/domain/models"
	"LevPair/internal/middleware"
	"LevPair/internal/services/adaptive"
	pkgkafka "LevPair/pkg/kafka"
	"LevPair/pkg/metrics"
	"LevPair/pkg/natsx"
	"LevPair/pkg/queue"
)

type journalEntry struct {
	strategy string
	tradeID  string
	ret      float64
	win      bool
}

type recordingJournal struct {
	mu      sync.Mutex
	entries []journalEntry
	err     error
}

func (j *recordingJournal) RecordOutcome(_ context.Context, strategy string, o models.TradeOutcome, ret float64, win bool) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, journalEntry{strategy: strategy, tradeID: o.TradeID, ret: ret, win: win})
	return j.err
}

func TestApplyOutcomeIsIdempotent(t *testing.T) {
	journal := &recordingJournal{}
	fx := newFixture(t, func(_ *Config, c *Components) { c.Journal = journal })
	ctx := context.Background()
	o := outcome("t-1", models.InstrumentA, 100, 102, 0.02)

	first, err := fx.engine.ApplyOutcome(ctx, o)
	require.NoError(t, err)
	second, err := fx.engine.ApplyOutcome(ctx, o)
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
	assert.Equal(t, 1, fx.engine.Memory.Stats().Winners)
	assert.Equal(t, 1, fx.engine.Controller.Outcomes())
	require.Len(t, journal.entries, 1)
	assert.Equal(t, "test", journal.entries[0].strategy)
	assert.True(t, journal.entries[0].win)
	// 2% raw on a 3x instrument
	assert.InDelta(t, 6, journal.entries[0].ret, 1e-9)
}

func TestApplyOutcomeUsesLeverageForWinFlag(t *testing.T) {
	fx := newFixture(t)

	ok, err := fx.engine.ApplyOutcome(context.Background(), outcome("t-b", models.InstrumentB, 50, 49, 0))
	require.NoError(t, err)
	require.True(t, ok)

	stats := fx.engine.Memory.Stats()
	assert.Zero(t, stats.Winners)
	assert.Equal(t, 1, stats.Losers)
}

func TestApplyOutcomeRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		edit func(*models.TradeOutcome)
	}{
		{"missing id", func(o *models.TradeOutcome) { o.TradeID = "" }},
		{"unknown instrument", func(o *models.TradeOutcome) { o.Instrument = "C" }},
		{"zero exit", func(o *models.TradeOutcome) { o.ExitPrice = 0 }},
		{"short feature vector", func(o *models.TradeOutcome) { o.FeaturesAtEntry = []float64{1, 2, 3} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			o := outcome("t-bad", models.InstrumentA, 100, 101, 0)
			tt.edit(&o)

			ok, err := fx.engine.ApplyOutcome(context.Background(), o)

			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrConfigInconsistency))
			assert.False(t, ok)
			assert.Zero(t, fx.engine.Controller.Outcomes())
		})
	}
}

func TestApplyOutcomeHonorsSharedDedup(t *testing.T) {
	dedup := &stubDedup{claimed: false}
	fx := newFixture(t, func(_ *Config, c *Components) { c.Dedup = dedup })

	ok, err := fx.engine.ApplyOutcome(context.Background(), outcome("t-1", models.InstrumentA, 100, 102, 0))

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, dedup.calls)
	assert.Zero(t, fx.engine.Memory.Stats().Winners)
}

func TestApplyOutcomeFallsBackWhenDedupUnavailable(t *testing.T) {
	dedup := &stubDedup{err: errors.New("redis down")}
	fx := newFixture(t, func(_ *Config, c *Components) { c.Dedup = dedup })

	ok, err := fx.engine.ApplyOutcome(context.Background(), outcome("t-1", models.InstrumentA, 100, 102, 0))

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, fx.engine.Memory.Stats().Winners)
}

func TestApplyOutcomeJournalFailureIsNotFatal(t *testing.T) {
	fx := newFixture(t, func(_ *Config, c *Components) { c.Journal = &recordingJournal{err: errors.New("clickhouse down")} })

	ok, err := fx.engine.ApplyOutcome(context.Background(), outcome("t-1", models.InstrumentA, 100, 102, 0))

	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRetrainAfterOutcomeCount(t *testing.T) {
	fx := newFixture(t, func(cfg *Config, _ *Components) {
		cfg.RetrainOn = RetrainOnCount
		cfg.RetrainEvery = 3
	})
	ctx := context.Background()

	for _, o := range []models.TradeOutcome{
		outcome("t-1", models.InstrumentA, 100, 102, 0.02),
		outcome("t-2", models.InstrumentB, 50, 51, -0.02),
	} {
		_, err := fx.engine.ApplyOutcome(ctx, o)
		require.NoError(t, err)
	}
	assert.False(t, fx.engine.Bank.Fitted())
	assert.Equal(t, 2, fx.engine.Memory.SinceRetrain())

	_, err := fx.engine.ApplyOutcome(ctx, outcome("t-3", models.InstrumentA, 100, 99, -0.01))
	require.NoError(t, err)

	assert.True(t, fx.engine.Bank.Fitted())
	assert.Zero(t, fx.engine.Memory.SinceRetrain())
	done := fx.events.ofType(models.EventRetrainCompleted)
	require.Len(t, done, 1)
	assert.Equal(t, 7, done[0].Payload.(models.RetrainCompleted).SampleCount)
}

func TestRetrainOnEveryTradeWaitsForMinimumSample(t *testing.T) {
	fx := newFixture(t, func(cfg *Config, _ *Components) { cfg.RetrainOn = RetrainOnTrade })
	ctx := context.Background()

	_, err := fx.engine.ApplyOutcome(ctx, outcome("t-1", models.InstrumentA, 100, 102, 0.02))
	require.NoError(t, err)
	assert.False(t, fx.engine.Bank.Fitted(), "three oversampled rows are below the minimum")

	_, err = fx.engine.ApplyOutcome(ctx, outcome("t-2", models.InstrumentB, 50, 51, -0.02))
	require.NoError(t, err)
	assert.True(t, fx.engine.Bank.Fitted())
}

func TestThresholdUpdatedAfterEnoughOutcomes(t *testing.T) {
	fx := newFixture(t, func(_ *Config, c *Components) {
		cfg := adaptive.DefaultConfig()
		cfg.InitialThreshold = 0.4
		cfg.ThresholdEvery = 2
		cfg.MinTrades = 1
		c.Controller = adaptive.New(cfg)
	})
	ctx := context.Background()

	_, err := fx.engine.ApplyOutcome(ctx, outcome("t-1", models.InstrumentA, 100, 102, 0.02))
	require.NoError(t, err)
	assert.Empty(t, fx.events.ofType(models.EventThresholdUpdated))

	_, err = fx.engine.ApplyOutcome(ctx, outcome("t-2", models.InstrumentA, 100, 103, 0.03))
	require.NoError(t, err)

	updates := fx.events.ofType(models.EventThresholdUpdated)
	require.Len(t, updates, 1)
	ev := updates[0].Payload.(models.ThresholdUpdated)
	assert.Equal(t, 0.4, ev.From)
	assert.Equal(t, 0.55, ev.To)
	assert.Equal(t, 0.55, fx.engine.Status().Threshold)
}

func TestDrainInboxAppliesQueuedOutcomes(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.inbox.Submit(ctx, "http", outcome("t-1", models.InstrumentA, 100, 102, 0)))
	require.NoError(t, fx.inbox.Submit(ctx, "http", outcome("t-1", models.InstrumentA, 100, 102, 0)))

	n := fx.engine.DrainInbox(ctx)

	assert.Equal(t, 2, n)
	assert.Equal(t, 1, fx.engine.Memory.Stats().Winners)
	assert.Zero(t, fx.inbox.Depth())
}

func newInbox() *middleware.OutcomeInbox {
	return middleware.NewOutcomeInbox(metrics.Nop{}, middleware.WithMaxRPS(0), middleware.WithBufferSize(4))
}

func outcomeJSON(t *testing.T, o models.TradeOutcome) []byte {
	t.Helper()
	b, err := json.Marshal(o)
	require.NoError(t, err)
	return b
}

func TestKafkaOutcomesHandler(t *testing.T) {
	inbox := newInbox()
	h := NewKafkaOutcomesHandler("trade-outcomes", inbox, metrics.Nop{})
	ctx := context.Background()

	assert.Equal(t, "trade-outcomes", h.Topic())
	require.NoError(t, h.Handle(ctx, outcomeJSON(t, outcome("k-1", models.InstrumentA, 100, 101, 0))))
	assert.Equal(t, 1, inbox.Depth())

	err := h.Handle(ctx, []byte("{not json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgkafka.ErrPermanent)

	bad := outcome("", models.InstrumentA, 100, 101, 0)
	err = h.Handle(ctx, outcomeJSON(t, bad))
	assert.ErrorIs(t, err, pkgkafka.ErrPermanent)
	assert.Equal(t, 1, inbox.Depth())
}

func TestKafkaOutcomesHandlerRetriesFullInbox(t *testing.T) {
	inbox := middleware.NewOutcomeInbox(metrics.Nop{}, middleware.WithMaxRPS(0), middleware.WithBufferSize(1))
	h := NewKafkaOutcomesHandler("trade-outcomes", inbox, metrics.Nop{})
	ctx := context.Background()

	require.NoError(t, h.Handle(ctx, outcomeJSON(t, outcome("k-1", models.InstrumentA, 100, 101, 0))))
	err := h.Handle(ctx, outcomeJSON(t, outcome("k-2", models.InstrumentA, 100, 101, 0)))

	require.Error(t, err)
	assert.ErrorIs(t, err, middleware.ErrInboxFull)
	assert.NotErrorIs(t, err, pkgkafka.ErrPermanent)
}

func TestNATSOutcomesHandler(t *testing.T) {
	inbox := newInbox()
	h := NATSOutcomesHandler(inbox, metrics.Nop{})
	ctx := context.Background()

	require.NoError(t, h(ctx, "levpair.outcomes", outcomeJSON(t, outcome("n-1", models.InstrumentB, 50, 49, 0))))
	assert.Equal(t, 1, inbox.Depth())

	err := h(ctx, "levpair.outcomes", []byte("[]"))
	assert.ErrorIs(t, err, natsx.ErrPermanent)

	inbox.Close()
	err = h(ctx, "levpair.outcomes", outcomeJSON(t, outcome("n-2", models.InstrumentB, 50, 49, 0)))
	require.Error(t, err)
	assert.NotErrorIs(t, err, natsx.ErrPermanent)
}

func TestOutcomeJob(t *testing.T) {
	inbox := newInbox()
	job := NewOutcomeJob(inbox, metrics.Nop{})
	ctx := context.Background()

	assert.Equal(t, OutcomeJobType, job.Type())
	require.NoError(t, job.Handle(ctx, outcomeJSON(t, outcome("q-1", models.InstrumentA, 100, 101, 0))))
	assert.Equal(t, 1, inbox.Depth())

	// malformed and invalid payloads are permanent failures, not retries
	err := job.Handle(ctx, json.RawMessage(`42`))
	assert.ErrorIs(t, err, queue.ErrPermanent)
	err = job.Handle(ctx, outcomeJSON(t, outcome("", models.InstrumentA, 100, 101, 0)))
	assert.ErrorIs(t, err, queue.ErrPermanent)
	assert.Equal(t, 1, inbox.Depth())

	items := inbox.Drain(0)
	require.Len(t, items, 1)
	assert.Equal(t, "queue", items[0].Source)
	assert.Equal(t, "q-1", items[0].Outcome.TradeID)
}

func TestOutcomeJobRetriesFullInbox(t *testing.T) {
	inbox := middleware.NewOutcomeInbox(metrics.Nop{}, middleware.WithMaxRPS(0), middleware.WithBufferSize(1))
	job := NewOutcomeJob(inbox, metrics.Nop{})
	ctx := context.Background()

	require.NoError(t, job.Handle(ctx, outcomeJSON(t, outcome("q-1", models.InstrumentA, 100, 101, 0))))
	err := job.Handle(ctx, outcomeJSON(t, outcome("q-2", models.InstrumentA, 100, 101, 0)))

	require.ErrorIs(t, err, middleware.ErrInboxFull)
	assert.NotErrorIs(t, err, queue.ErrPermanent)
}
