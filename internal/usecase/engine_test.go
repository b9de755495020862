package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LevPair/internal/domain/models"
	domrepo "LevPair/internal/domain/repository"
	"LevPair/internal/middleware"
	"LevPair/internal/services/adaptive"
	"LevPair/internal/services/arbiter"
	"LevPair/internal/services/ensemble"
	"LevPair/internal/services/features"
	"LevPair/internal/services/memory"
	"LevPair/internal/services/synthetic"
	"LevPair/internal/services/trend"
	"LevPair/pkg/metrics"
)

// trendingBars serves a steady trend per symbol ending at a configurable price.
type trendingBars struct {
	mu    sync.Mutex
	step  map[string]float64 // per-bar change, 0.005 is +0.5%
	last  map[string]float64
	errs  map[string]error
	calls int
}

func newTrendingBars() *trendingBars {
	return &trendingBars{
		step: map[string]float64{"TQQQ": 0.005, "SQQQ": -0.005},
		last: map[string]float64{"TQQQ": 100, "SQQQ": 50},
		errs: map[string]error{},
	}
}

func (s *trendingBars) GetBars(_ context.Context, symbol string, iv domrepo.Interval, limit int) ([]models.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err := s.errs[symbol]; err != nil {
		return nil, err
	}
	last, ok := s.last[symbol]
	if !ok {
		return nil, fmt.Errorf("unknown symbol %s", symbol)
	}
	step := s.step[symbol]
	t0 := time.Date(2024, 10, 10, 14, 30, 0, 0, time.UTC)
	out := make([]models.Bar, limit)
	for i := range out {
		c := last / math.Pow(1+step, float64(limit-1-i))
		out[i] = models.Bar{
			Bucket:   t0.Add(time.Duration(i) * time.Minute),
			Symbol:   symbol,
			Interval: string(iv),
			Open:     c,
			High:     c * 1.001,
			Low:      c * 0.999,
			Close:    c,
			Volume:   1000,
		}
	}
	return out, nil
}

func (s *trendingBars) setLast(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[symbol] = price
}

type recordingEvents struct {
	mu     sync.Mutex
	events []models.Event
	err    error
}

func (r *recordingEvents) Publish(_ context.Context, ev models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingEvents) Close() error { return nil }

func (r *recordingEvents) ofType(typ models.EventType) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// memStore keeps documents as JSON so restores go through the same encoding as the file store.
type memStore struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func newMemStore() *memStore { return &memStore{docs: map[string][]byte{}} }

func (m *memStore) Save(name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[name] = b
	return nil
}

func (m *memStore) Load(name string, v any) (bool, error) {
	m.mu.Lock()
	b, ok := m.docs[name]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, v)
}

type stubDedup struct {
	claimed bool
	err     error
	calls   int
}

func (d *stubDedup) Claim(context.Context, string) (bool, error) {
	d.calls++
	return d.claimed, d.err
}

type engineFixture struct {
	engine *Engine
	bars   *trendingBars
	events *recordingEvents
	store  *memStore
	inbox  *middleware.OutcomeInbox
}

type fixtureOption func(*Config, *Components)

func newFixture(t *testing.T, opts ...fixtureOption) *engineFixture {
	t.Helper()
	return newFixtureWithStore(t, newMemStore(), opts...)
}

func newFixtureWithStore(t *testing.T, store *memStore, opts ...fixtureOption) *engineFixture {
	t.Helper()
	bankCfg := ensemble.DefaultConfig()
	bankCfg.Forest.Trees = 5
	bankCfg.ExtraTrees.Trees = 5
	bankCfg.Boosting.Rounds = 5
	bankCfg.Logistic.Epochs = 20
	bank, err := ensemble.NewBank(bankCfg)
	require.NoError(t, err)

	memCfg := memory.DefaultConfig()
	memCfg.MinSamples = 4
	memCfg.IncludeSynthetic = true

	ctrlCfg := adaptive.DefaultConfig()
	ctrlCfg.InitialThreshold = 0.4

	fx := &engineFixture{
		bars:   newTrendingBars(),
		events: &recordingEvents{},
		store:  store,
		inbox:  middleware.NewOutcomeInbox(metrics.Nop{}, middleware.WithMaxRPS(0)),
	}
	cfg := Config{
		Strategy:      "test",
		Symbols:       map[models.Instrument]string{models.InstrumentA: "TQQQ", models.InstrumentB: "SQQQ"},
		Leverage:      map[models.Instrument]float64{models.InstrumentA: 3, models.InstrumentB: 2},
		PaperOutcomes: true,
		RetrainOn:     RetrainOnCount,
		RetrainEvery:  100,
	}
	c := Components{
		Bars:       fx.bars,
		Features:   features.NewStore(),
		Trend:      trend.NewFuser(trend.DefaultConfig()),
		Bank:       bank,
		Policy:     ensemble.ConfidencePolicy{Mode: ensemble.ConfidenceProbability},
		Arbiter:    arbiter.New(arbiter.DefaultConfig()),
		Memory:     memory.New(memCfg),
		Controller: adaptive.New(ctrlCfg),
		Inbox:      fx.inbox,
		Events:     fx.events,
		Store:      store,
		Metrics:    metrics.Nop{},
	}
	for _, opt := range opts {
		opt(&cfg, &c)
	}
	n := 0
	e, err := NewEngine(cfg, c,
		WithClock(func() time.Time { return time.Date(2024, 10, 10, 15, 0, 0, 0, time.UTC) }),
		WithIDs(func() string { n++; return fmt.Sprintf("id-%d", n) }))
	require.NoError(t, err)
	fx.engine = e
	return fx
}

func outcome(id string, inst models.Instrument, entry, exit float64, momentum float64) models.TradeOutcome {
	fv := models.NeutralFeatures
	fv[models.SlotMomentum5] = momentum
	return models.TradeOutcome{
		TradeID:           id,
		Instrument:        inst,
		EntryPrice:        entry,
		ExitPrice:         exit,
		EntryTime:         time.Date(2024, 10, 10, 14, 0, 0, 0, time.UTC),
		ExitTime:          time.Date(2024, 10, 10, 14, 30, 0, 0, time.UTC),
		FeaturesAtEntry:   fv.Slice(),
		ConfidenceAtEntry: 0.7,
	}
}

func TestNewEngineRequiresComponents(t *testing.T) {
	_, err := NewEngine(Config{}, Components{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrFatal))
}

func TestCycleEntersTrendingInstrument(t *testing.T) {
	fx := newFixture(t)

	rec := fx.engine.Cycle(context.Background())

	assert.False(t, rec.Degraded)
	assert.Empty(t, rec.Errors)
	assert.Equal(t, models.DirectionUp, rec.Trends[models.InstrumentA].Consensus)
	assert.Equal(t, models.DirectionDown, rec.Trends[models.InstrumentB].Consensus)
	assert.Equal(t, 0.5, rec.Probability)
	require.Len(t, rec.Transitions, 1)
	assert.Equal(t, models.StateHold, rec.Transitions[0].From)
	assert.Equal(t, models.StateHoldingA, rec.Transitions[0].To)
	assert.Equal(t, models.StateHoldingA, rec.State)
	assert.InDelta(t, 100, rec.Transitions[0].Price, 1e-9)

	changed := fx.events.ofType(models.EventSignalChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, "test", changed[0].Strategy)

	st := fx.engine.Status()
	assert.Equal(t, models.StateHoldingA, st.State)
	require.NotNil(t, st.LastSignal)
	assert.Equal(t, int64(1), st.Cycles)
}

func TestCycleStaysInHoldWhenConfidenceBelowThreshold(t *testing.T) {
	fx := newFixture(t, func(_ *Config, c *Components) {
		c.Controller = adaptive.New(adaptive.DefaultConfig())
	})

	rec := fx.engine.Cycle(context.Background())

	assert.Empty(t, rec.Transitions)
	assert.Equal(t, models.StateHold, rec.State)
	assert.Empty(t, fx.events.ofType(models.EventSignalChanged))
}

func TestCycleDegradesOnMissingData(t *testing.T) {
	fx := newFixture(t)
	fx.bars.errs["SQQQ"] = errors.New("feed down")

	rec := fx.engine.Cycle(context.Background())

	assert.True(t, rec.Degraded)
	assert.Empty(t, rec.Transitions)
	assert.Equal(t, models.StateHold, rec.State)
	assert.Contains(t, rec.Errors, string(models.InstrumentB))
	assert.Contains(t, rec.Errors[string(models.InstrumentB)], string(models.KindDataUnavailable))
}

func TestCycleDegradesWhenFeatureInstrumentUnavailable(t *testing.T) {
	fx := newFixture(t)
	fx.bars.errs["TQQQ"] = errors.New("feed down")

	rec := fx.engine.Cycle(context.Background())

	assert.True(t, rec.Degraded)
	assert.Empty(t, rec.Confidence)
	assert.Equal(t, models.StateHold, rec.State)
}

func TestCycleIsolatesMisconfiguredInstrument(t *testing.T) {
	fx := newFixture(t, func(cfg *Config, _ *Components) {
		delete(cfg.Symbols, models.InstrumentB)
	})

	rec := fx.engine.Cycle(context.Background())

	assert.False(t, rec.Degraded)
	assert.Contains(t, rec.Errors, string(models.InstrumentB))
	assert.NotContains(t, rec.Confidence, models.InstrumentB)
	require.Len(t, rec.Transitions, 1)
	assert.Equal(t, models.StateHoldingA, rec.Transitions[0].To)
}

func TestCycleMisconfiguredFeatureInstrumentLeavesOtherLegTrading(t *testing.T) {
	fx := newFixture(t, func(cfg *Config, _ *Components) {
		delete(cfg.Symbols, models.InstrumentA)
	})
	fx.bars.step["SQQQ"] = 0.005

	rec := fx.engine.Cycle(context.Background())

	assert.False(t, rec.Degraded)
	assert.Contains(t, rec.Errors, string(models.InstrumentA))
	assert.Contains(t, rec.Errors[string(models.InstrumentA)], string(models.KindConfigInconsistency))
	assert.NotContains(t, rec.Confidence, models.InstrumentA)
	assert.Contains(t, rec.Confidence, models.InstrumentB)
	assert.Equal(t, models.DirectionUp, rec.Trends[models.InstrumentB].Consensus)
	require.Len(t, rec.Transitions, 1)
	assert.Equal(t, models.StateHoldingB, rec.Transitions[0].To)
	assert.Equal(t, models.StateHoldingB, rec.State)
}

func TestCycleBothLegsMisconfiguredHolds(t *testing.T) {
	fx := newFixture(t, func(cfg *Config, _ *Components) {
		cfg.Symbols = map[models.Instrument]string{}
	})

	rec := fx.engine.Cycle(context.Background())

	assert.True(t, rec.Degraded)
	assert.Empty(t, rec.Confidence)
	assert.Empty(t, rec.Transitions)
	assert.Equal(t, models.StateHold, rec.State)
}

func TestCycleExitRecordsPaperOutcome(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.engine.Cycle(ctx)
	require.Equal(t, models.StateHoldingA, fx.engine.Status().State)

	// -2% on a 3x instrument is a -6% leveraged move
	fx.bars.setLast("TQQQ", 97)
	rec := fx.engine.Cycle(ctx)

	require.Len(t, rec.Transitions, 1)
	tr := rec.Transitions[0]
	assert.Equal(t, models.StateHoldingA, tr.From)
	assert.Equal(t, models.StateHold, tr.To)
	assert.Equal(t, models.ReasonStopLoss, tr.Reason)
	require.NotNil(t, tr.Closed)

	stats := fx.engine.Memory.Stats()
	assert.Equal(t, 0, stats.Winners)
	assert.Equal(t, 1, stats.Losers)
	assert.Equal(t, 1, fx.engine.Controller.Outcomes())
	assert.Len(t, fx.events.ofType(models.EventSignalChanged), 2)
}

func TestCycleWithoutPaperOutcomesLeavesMemoryAlone(t *testing.T) {
	fx := newFixture(t, func(cfg *Config, _ *Components) { cfg.PaperOutcomes = false })
	ctx := context.Background()

	fx.engine.Cycle(ctx)
	fx.bars.setLast("TQQQ", 97)
	fx.engine.Cycle(ctx)

	stats := fx.engine.Memory.Stats()
	assert.Zero(t, stats.Winners+stats.Losers)
}

func TestEventSinkFailureDoesNotStopCycle(t *testing.T) {
	fx := newFixture(t)
	fx.events.err = errors.New("sink down")

	rec := fx.engine.Cycle(context.Background())

	require.Len(t, rec.Transitions, 1)
	assert.Equal(t, models.StateHoldingA, fx.engine.Status().State)
}

func TestSaveAndLoadStateRoundTrip(t *testing.T) {
	store := newMemStore()
	fx := newFixtureWithStore(t, store)
	ctx := context.Background()

	fx.engine.Cycle(ctx)
	ok, err := fx.engine.ApplyOutcome(ctx, outcome("t-1", models.InstrumentA, 100, 101, 0.01))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, fx.engine.SaveState())

	for _, name := range []string{domrepo.StateModelBank, domrepo.StatePatterns, domrepo.StateController, domrepo.StateTrading} {
		assert.Contains(t, store.docs, name)
	}

	restored := newFixtureWithStore(t, store)
	restored.engine.LoadState()

	st := restored.engine.Status()
	assert.Equal(t, models.StateHoldingA, st.State)
	assert.Equal(t, 1, st.Patterns.Winners)
	assert.True(t, restored.engine.Controller.Seen("t-1"))

	again, err := restored.engine.ApplyOutcome(ctx, outcome("t-1", models.InstrumentA, 100, 101, 0.01))
	require.NoError(t, err)
	assert.False(t, again)
}

func TestLoadStateIgnoresForeignTradingState(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Save(domrepo.StateTrading, tradingDoc{
		SchemaVersion: tradingSchemaVersion,
		Strategy:      "other",
		State:         models.TradingState{Position: models.InstrumentB, EntryPrice: 10},
	}))
	fx := newFixtureWithStore(t, store)

	fx.engine.LoadState()

	assert.Equal(t, models.StateHold, fx.engine.Status().State)
}

func TestLoadStatePinsMemberThatFailsRefit(t *testing.T) {
	store := newMemStore()
	fx := newFixtureWithStore(t, store)

	X := make([]models.FeatureVector, 40)
	y := make([]int, len(X))
	for i := range X {
		X[i] = models.NeutralFeatures
		X[i][models.SlotMomentum5] = -0.02
		if i%2 == 0 {
			X[i][models.SlotMomentum5] = 0.02
			y[i] = 1
		}
	}
	_, err := fx.engine.Bank.Fit(X, y)
	require.NoError(t, err)

	snap, err := fx.engine.Bank.Snapshot()
	require.NoError(t, err)
	for i := range snap.Members {
		if snap.Members[i].Kind == ensemble.LogisticModel {
			snap.Members[i].Model = json.RawMessage(`"garbage"`)
		}
	}
	// a single-class training set makes the automatic refit fail as well
	for i := range snap.LastY {
		snap.LastY[i] = 1
	}
	require.NoError(t, store.Save(domrepo.StateModelBank, snap))

	restored := newFixtureWithStore(t, store)
	restored.engine.LoadState()

	floor := restored.engine.Controller.MinWeight()
	for _, st := range restored.engine.Bank.States() {
		if st.Name == ensemble.LogisticModel {
			assert.False(t, st.IsFitted)
			assert.InDelta(t, floor, st.BlendWeight, 1e-12)
			continue
		}
		assert.True(t, st.IsFitted, st.Name)
		assert.Greater(t, st.BlendWeight, floor, st.Name)
	}
}

func TestLoadStateSurvivesCorruptDocument(t *testing.T) {
	store := newMemStore()
	store.docs[domrepo.StatePatterns] = []byte("{not json")
	fx := newFixtureWithStore(t, store)

	fx.engine.LoadState()

	assert.Zero(t, fx.engine.Status().Patterns.Winners)
}

func TestSeedRejectsRealPatterns(t *testing.T) {
	fx := newFixture(t)

	n, err := fx.engine.Seed([]models.Pattern{{
		ID:         "real-1",
		Label:      models.InstrumentA,
		Features:   models.NeutralFeatures,
		Provenance: models.ProvenanceReal,
	}})

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrConfigInconsistency))
	assert.Zero(t, n)
	assert.Zero(t, fx.engine.Memory.Stats().Winners+fx.engine.Memory.Stats().Losers)
}

func TestSeedThenRetrainFitsBank(t *testing.T) {
	fx := newFixture(t)
	gen, err := synthetic.New(synthetic.DefaultConfig())
	require.NoError(t, err)
	patterns, err := gen.Generate(20)
	require.NoError(t, err)

	n, err := fx.engine.Seed(patterns)
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	done, err := fx.engine.Retrain(context.Background())
	require.NoError(t, err)
	assert.Positive(t, done.SampleCount)
	assert.True(t, fx.engine.Bank.Fitted())
	assert.Len(t, fx.events.ofType(models.EventRetrainCompleted), 1)
	assert.False(t, fx.engine.Status().LastRetrainAt.IsZero())
}

func TestRetrainWithoutPatternsIsSkipped(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.engine.Retrain(context.Background())

	assert.ErrorIs(t, err, ErrNothingToLearn)
	assert.False(t, fx.engine.Bank.Fitted())
	assert.Empty(t, fx.events.ofType(models.EventRetrainCompleted))
}

func TestDrainInboxRunsRetrainCommand(t *testing.T) {
	fx := newFixture(t)
	gen, err := synthetic.New(synthetic.DefaultConfig())
	require.NoError(t, err)
	patterns, err := gen.Generate(12)
	require.NoError(t, err)
	_, err = fx.engine.Seed(patterns)
	require.NoError(t, err)

	require.NoError(t, fx.inbox.Command(middleware.CommandRetrain, "api"))
	n := fx.engine.DrainInbox(context.Background())

	assert.Equal(t, 1, n)
	assert.True(t, fx.engine.Bank.Fitted())
}

func TestRunStopsAndSavesOnCancel(t *testing.T) {
	store := newMemStore()
	fx := newFixtureWithStore(t, store, func(cfg *Config, _ *Components) {
		cfg.PollInterval = 5 * time.Millisecond
	})
	require.NoError(t, fx.inbox.Submit(context.Background(), "test", outcome("t-run", models.InstrumentA, 100, 102, 0.02)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fx.engine.Run(ctx) }()

	require.Eventually(t, func() bool { return fx.engine.Status().Cycles >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
	assert.Contains(t, store.docs, domrepo.StateTrading)
	assert.Equal(t, 1, fx.engine.Status().Patterns.Winners)
}
