package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"LevPair/internal/domain/models"
	domrepo "LevPair/internal/domain/repository"
	domservice "LevPair/internal/domain/service"
	"LevPair/internal/middleware"
	"LevPair/internal/services/adaptive"
	"LevPair/internal/services/arbiter"
	"LevPair/internal/services/ensemble"
	"LevPair/internal/services/memory"
	"LevPair/internal/services/trend"
	applogger "LevPair/pkg/logger"
)

// Retrain triggers.
const (
	RetrainOnTrade = "trade"
	RetrainOnCount = "count"
)

// Config holds the orchestration settings of one strategy.
type Config struct {
	Strategy          string
	Symbols           map[models.Instrument]string
	Leverage          map[models.Instrument]float64
	FeatureInstrument models.Instrument
	FeatureInterval   domrepo.Interval
	FeatureLookback   int
	PollInterval      time.Duration
	CycleTimeout      time.Duration
	MaxInboxDrain     int
	PaperOutcomes     bool
	SaveOnChange      bool
	RetrainOn         string
	RetrainEvery      int
}

// Components are the collaborators the engine owns or talks to. Journal and Dedup are optional.
type Components struct {
	Bars       domrepo.BarSource
	Features   domservice.FeatureExtractor
	Trend      *trend.Fuser
	Bank       *ensemble.Bank
	Policy     ensemble.ConfidencePolicy
	Arbiter    *arbiter.Arbiter
	Memory     *memory.Memory
	Controller *adaptive.Controller
	Inbox      *middleware.OutcomeInbox
	Events     domrepo.EventPublisher
	Journal    domrepo.OutcomeJournal
	Dedup      domrepo.Deduplicator
	Store      domrepo.StateStore
	Metrics    domrepo.Metrics
}

// Engine runs the poll cycle and the outcome feedback path. All core state is owned by
// the goroutine calling Run (or Cycle/ApplyOutcome directly); only Status is safe to call
// from elsewhere.
type Engine struct {
	cfg Config
	Components
	log   *applogger.Logger
	now   func() time.Time
	newID func() string

	cycles        int64
	lastRetrainAt time.Time
	dirty         bool

	statusMu sync.RWMutex
	status   models.EngineStatus
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *applogger.Logger) Option {
	return func(e *Engine) { e.log = l.With(applogger.String("component", "engine")) }
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDs overrides the id generator used for events and paper trades.
func WithIDs(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// NewEngine checks that every required collaborator is present.
func NewEngine(cfg Config, c Components, opts ...Option) (*Engine, error) {
	switch {
	case c.Bars == nil, c.Features == nil, c.Trend == nil, c.Bank == nil, c.Arbiter == nil,
		c.Memory == nil, c.Controller == nil, c.Inbox == nil, c.Events == nil, c.Store == nil, c.Metrics == nil:
		return nil, models.NewCoreError(models.KindFatal, "new engine", "", errors.New("missing component"))
	}
	if !cfg.FeatureInstrument.Valid() {
		cfg.FeatureInstrument = models.InstrumentA
	}
	if cfg.FeatureInterval == "" {
		cfg.FeatureInterval = domrepo.DefaultInterval()
	}
	if cfg.FeatureLookback <= 0 {
		cfg.FeatureLookback = 60
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = 30 * time.Second
	}
	if cfg.RetrainOn == "" {
		cfg.RetrainOn = RetrainOnCount
	}
	e := &Engine{
		cfg:        cfg,
		Components: c,
		log:        applogger.Nop(),
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.refreshStatus(nil)
	return e, nil
}

// Run polls until ctx is done. Inbox items are applied at the top of every iteration,
// then one cycle runs. State is saved once more after the loop exits.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("engine started",
		applogger.String("strategy", e.cfg.Strategy),
		applogger.Duration("poll_interval", e.cfg.PollInterval))
	if !e.Bank.Fitted() {
		e.retrain(ctx, "startup")
	}

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		e.DrainInbox(ctx)
		if ctx.Err() != nil {
			break
		}
		e.Cycle(ctx)
		e.flush()

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			break
		}
	}

	// Apply what is already queued so nothing accepted is lost, then persist.
	e.DrainInbox(context.Background())
	if err := e.SaveState(); err != nil {
		e.log.Warn("final save failed", applogger.Error(err))
	}
	e.log.Info("engine stopped", applogger.Int64("cycles", e.cycles))
	return nil
}

// DrainInbox applies queued outcomes and commands.
func (e *Engine) DrainInbox(ctx context.Context) int {
	items := e.Inbox.Drain(e.cfg.MaxInboxDrain)
	for _, it := range items {
		switch {
		case it.Outcome != nil:
			if _, err := e.ApplyOutcome(ctx, *it.Outcome); err != nil {
				e.log.Warn("outcome rejected",
					applogger.String("trade_id", it.Outcome.TradeID),
					applogger.String("source", it.Source),
					applogger.Error(err))
			}
		case it.Command == middleware.CommandRetrain:
			e.retrain(ctx, "command:"+it.Source)
		}
	}
	return len(items)
}

// Cycle runs one poll: fetch, features, trends, prediction, arbitration. It never
// returns an error; failures degrade the cycle to HOLD and are reported in the result.
func (e *Engine) Cycle(ctx context.Context) (rec models.Recommendation) {
	start := e.now()
	rec = models.Recommendation{
		At:         start,
		State:      e.Arbiter.State().State(),
		Confidence: make(map[models.Instrument]float64, 2),
		Trends:     make(map[models.Instrument]models.TrendReport, 2),
		Prices:     make(map[models.Instrument]float64, 2),
		Threshold:  e.Controller.Threshold(),
		Errors:     make(map[string]string),
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("cycle panic", applogger.Any("panic", r))
			e.Metrics.RecordError("cycle_panic")
			rec.Degraded = true
			rec.Errors["cycle"] = fmt.Sprint(r)
		}
		rec.State = e.Arbiter.State().State()
		rec.CycleLatency = e.now().Sub(start)
		e.cycles++
		e.Metrics.RecordCycle(string(rec.State), rec.CycleLatency.Seconds())
		e.refreshStatus(&rec)
	}()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.CycleTimeout)
	defer cancel()

	featureBars := make(map[models.Instrument][]models.Bar, 2)
	usable := make(map[models.Instrument]bool, 2)
	for _, inst := range models.Instruments {
		obs, err := e.observe(ctx, inst)
		if err != nil {
			e.noteError(&rec, inst, err)
			continue
		}
		usable[inst] = true
		rec.Trends[inst] = obs.trend
		if obs.price > 0 {
			rec.Prices[inst] = obs.price
			e.Metrics.RecordLastPrice(e.cfg.Symbols[inst], obs.price)
		}
		featureBars[inst] = obs.featureBars
	}

	fv := models.NeutralFeatures
	if src, ok := e.featureSource(usable, rec.Degraded); !ok {
		rec.Degraded = true
	} else {
		fv = e.Features.Compute(featureBars[src], e.leverage(src)).Sanitize()
		p := e.Bank.Predict(fv)
		if src != e.cfg.FeatureInstrument {
			// the legs move against each other, so the other leg reads the pair mirrored
			p = 1 - p
		}
		rec.Probability = p
		for inst, c := range e.Policy.Both(rec.Probability) {
			if usable[inst] {
				rec.Confidence[inst] = c
			}
		}
	}

	trs := e.Arbiter.Step(arbiter.Input{
		Now:        start,
		Trends:     rec.Trends,
		Confidence: rec.Confidence,
		Threshold:  rec.Threshold,
		Prices:     rec.Prices,
		Features:   map[models.Instrument]models.FeatureVector{models.InstrumentA: fv, models.InstrumentB: fv},
		Degraded:   rec.Degraded,
	})
	rec.Transitions = trs
	for _, tr := range trs {
		e.onTransition(ctx, tr, start)
	}
	if len(trs) > 0 {
		e.dirty = true
	}
	return rec
}

// featureSource picks the instrument whose bars feed the model. A misconfigured feature
// instrument hands over to the other leg; a data gap holds the cycle instead.
func (e *Engine) featureSource(usable map[models.Instrument]bool, degraded bool) (models.Instrument, bool) {
	primary := e.cfg.FeatureInstrument
	switch {
	case usable[primary]:
		return primary, true
	case !degraded && usable[primary.Other()]:
		return primary.Other(), true
	default:
		return primary, false
	}
}

type observation struct {
	trend       models.TrendReport
	price       float64
	featureBars []models.Bar
}

// observe fetches every interval one instrument needs and fuses its trend.
func (e *Engine) observe(ctx context.Context, inst models.Instrument) (observation, error) {
	var obs observation
	symbol := e.cfg.Symbols[inst]
	if symbol == "" {
		return obs, models.NewCoreError(models.KindConfigInconsistency, "observe", inst, errors.New("no symbol configured"))
	}
	if e.leverage(inst) <= 0 {
		return obs, models.NewCoreError(models.KindConfigInconsistency, "observe", inst, errors.New("leverage must be positive"))
	}

	limits := map[domrepo.Interval]int{e.cfg.FeatureInterval: e.cfg.FeatureLookback}
	for _, tf := range e.Trend.Timeframes() {
		iv := domrepo.NormalizeInterval(tf.Interval)
		if need := tf.Window + 1; need > limits[iv] {
			limits[iv] = need
		}
	}
	intervals := make([]string, 0, len(limits))
	for iv := range limits {
		intervals = append(intervals, string(iv))
	}
	sort.Strings(intervals)

	byInterval := make(map[domrepo.Interval][]models.Bar, len(limits))
	for _, s := range intervals {
		iv := domrepo.Interval(s)
		start := time.Now()
		bars, err := e.Bars.GetBars(ctx, symbol, iv, limits[iv])
		e.Metrics.RecordLatency("get_bars", time.Since(start).Seconds())
		if err != nil {
			var ce *models.CoreError
			if !errors.As(err, &ce) {
				err = models.DataUnavailable("get bars "+s, inst, err)
			}
			return obs, err
		}
		byInterval[iv] = bars
	}

	byTimeframe := make(map[string][]models.Bar, len(e.Trend.Timeframes()))
	for _, tf := range e.Trend.Timeframes() {
		byTimeframe[tf.Name] = byInterval[domrepo.NormalizeInterval(tf.Interval)]
	}
	obs.trend = e.Trend.Fuse(inst, byTimeframe)
	obs.featureBars = byInterval[e.cfg.FeatureInterval]
	obs.price = lastValidClose(obs.featureBars)
	return obs, nil
}

func lastValidClose(bars []models.Bar) float64 {
	for i := len(bars) - 1; i >= 0; i-- {
		if bars[i].Valid() {
			return bars[i].Close
		}
	}
	return 0
}

// noteError records a per-instrument failure. Data gaps hold the whole cycle; a config
// problem only removes the affected instrument.
func (e *Engine) noteError(rec *models.Recommendation, inst models.Instrument, err error) {
	kind := models.KindOf(err)
	rec.Errors[string(inst)] = err.Error()
	e.Metrics.RecordError(string(kind))
	if kind != models.KindConfigInconsistency {
		rec.Degraded = true
	}
	e.log.Warn("instrument unavailable this cycle",
		applogger.String("instrument", string(inst)),
		applogger.String("kind", string(kind)),
		applogger.Error(err))
}

func (e *Engine) onTransition(ctx context.Context, tr models.Transition, at time.Time) {
	e.Metrics.RecordSignal(string(tr.From), string(tr.To))
	e.log.Info("signal changed",
		applogger.String("from", string(tr.From)),
		applogger.String("to", string(tr.To)),
		applogger.String("reason", string(tr.Reason)),
		applogger.Float64("confidence", tr.Confidence),
		applogger.Float64("price", tr.Price))
	e.emit(ctx, models.EventSignalChanged, models.SignalChanged{
		From:       tr.From,
		To:         tr.To,
		Confidence: tr.Confidence,
		Reason:     tr.Reason,
		Price:      tr.Price,
	})

	if !e.cfg.PaperOutcomes || tr.Closed == nil || tr.Price <= 0 {
		return
	}
	closed := tr.Closed
	o := models.TradeOutcome{
		TradeID:           "paper-" + e.newID(),
		Instrument:        closed.Position,
		EntryPrice:        closed.EntryPrice,
		ExitPrice:         tr.Price,
		EntryTime:         closed.EntryTime,
		ExitTime:          at,
		FeaturesAtEntry:   closed.EntryFeatures.Slice(),
		ConfidenceAtEntry: closed.EntryConfidence,
	}
	if _, err := e.ApplyOutcome(ctx, o); err != nil {
		e.log.Warn("paper outcome rejected", applogger.String("trade_id", o.TradeID), applogger.Error(err))
	}
}

// emit publishes one event. Sink failures are logged and counted, never propagated.
func (e *Engine) emit(ctx context.Context, typ models.EventType, payload any) {
	ev := models.Event{
		ID:       e.newID(),
		Type:     typ,
		Strategy: e.cfg.Strategy,
		At:       e.now(),
		Payload:  payload,
	}
	if err := e.Events.Publish(ctx, ev); err != nil {
		e.Metrics.RecordError("event_publish")
		e.log.Warn("event publish failed", applogger.String("type", string(typ)), applogger.Error(err))
	}
}

func (e *Engine) leverage(inst models.Instrument) float64 {
	if l, ok := e.cfg.Leverage[inst]; ok {
		return l
	}
	return 1
}

// flush saves state when something changed and saving on change is enabled.
func (e *Engine) flush() {
	if !e.dirty || !e.cfg.SaveOnChange {
		return
	}
	if err := e.SaveState(); err != nil {
		e.log.Warn("state save skipped", applogger.Error(err))
	}
}

// Status returns the latest read-only snapshot. Safe for concurrent use.
func (e *Engine) Status() models.EngineStatus {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.status
}

func (e *Engine) refreshStatus(rec *models.Recommendation) {
	st := models.EngineStatus{
		Strategy:      e.cfg.Strategy,
		Trading:       e.Arbiter.State(),
		State:         e.Arbiter.State().State(),
		Threshold:     e.Controller.Threshold(),
		Members:       e.Bank.States(),
		Patterns:      e.Memory.Stats(),
		Cycles:        e.cycles,
		OutcomesSeen:  e.Controller.Outcomes(),
		LastRetrainAt: e.lastRetrainAt,
		UpdatedAt:     e.now(),
	}
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	if rec != nil {
		cp := *rec
		st.LastSignal = &cp
	} else {
		st.LastSignal = e.status.LastSignal
	}
	e.status = st
}
