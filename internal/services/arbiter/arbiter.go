package arbiter

import (
	"time"

	"LevPair/internal/domain/models"
)

// Config holds the entry and exit rules.
type Config struct {
	ReverseOnExit bool
	MaxHold       time.Duration
	StopLossPct   float64 // leverage-adjusted loss that forces an exit, e.g. 6 for -6%
	TakeProfitPct float64 // leverage-adjusted gain that forces an exit
	Leverage      map[models.Instrument]float64
	Favorable     map[models.Instrument]models.Direction
}

// DefaultConfig trades each instrument on its own uptrend.
func DefaultConfig() Config {
	return Config{
		MaxHold:       4 * time.Hour,
		StopLossPct:   6,
		TakeProfitPct: 9,
		Leverage:      map[models.Instrument]float64{models.InstrumentA: 3, models.InstrumentB: 2},
		Favorable: map[models.Instrument]models.Direction{
			models.InstrumentA: models.DirectionUp,
			models.InstrumentB: models.DirectionUp,
		},
	}
}

// Input is everything the Arbiter looks at in one cycle. A missing or non-positive
// price means the instrument's data is stale.
type Input struct {
	Now        time.Time
	Trends     map[models.Instrument]models.TrendReport
	Confidence map[models.Instrument]float64
	Threshold  float64
	Prices     map[models.Instrument]float64
	Features   map[models.Instrument]models.FeatureVector
	// Degraded cycles never open positions; held positions still obey risk exits.
	Degraded bool
}

// Arbiter is the HOLD / HOLDING_A / HOLDING_B state machine.
type Arbiter struct {
	cfg   Config
	state models.TradingState
}

// New returns an Arbiter in HOLD.
func New(cfg Config) *Arbiter {
	if cfg.Favorable == nil {
		cfg.Favorable = DefaultConfig().Favorable
	}
	return &Arbiter{cfg: cfg}
}

// State returns the live trading state.
func (a *Arbiter) State() models.TradingState { return a.state }

// Restore replaces the trading state, e.g. after a restart. Invalid positions reset to HOLD.
func (a *Arbiter) Restore(ts models.TradingState) {
	if ts.Position != models.InstrumentNone && !ts.Position.Valid() {
		ts = models.TradingState{}
	}
	a.state = ts
}

// Step evaluates one cycle and returns the transitions taken, oldest first.
func (a *Arbiter) Step(in Input) []models.Transition {
	if a.state.Flat() {
		if in.Degraded {
			return nil
		}
		if inst, ok := a.pickEntry(in); ok {
			return a.enter(inst, in, nil)
		}
		return nil
	}

	held := a.state.Position
	price := in.Prices[held]
	if price <= 0 {
		return []models.Transition{a.exit(models.ReasonStaleData, 0, in.Confidence[held])}
	}

	ret := models.LeveragedReturnPct(a.state.EntryPrice, price, a.leverage(held))
	switch {
	case a.cfg.StopLossPct > 0 && ret <= -a.cfg.StopLossPct:
		return []models.Transition{a.exit(models.ReasonStopLoss, price, in.Confidence[held])}
	case a.cfg.TakeProfitPct > 0 && ret >= a.cfg.TakeProfitPct:
		return []models.Transition{a.exit(models.ReasonTakeProfit, price, in.Confidence[held])}
	case a.cfg.MaxHold > 0 && !a.state.EntryTime.IsZero() && in.Now.Sub(a.state.EntryTime) >= a.cfg.MaxHold:
		return []models.Transition{a.exit(models.ReasonMaxHold, price, in.Confidence[held])}
	}
	if in.Degraded {
		return nil
	}

	other := held.Other()
	if a.qualifies(other, in) {
		out := []models.Transition{a.exit(models.ReasonOpposingSignal, price, in.Confidence[other])}
		if a.cfg.ReverseOnExit && in.Prices[other] > 0 {
			out = a.enter(other, in, out)
		}
		return out
	}
	if a.reversed(held, in) {
		return []models.Transition{a.exit(models.ReasonTrendReversal, price, in.Trends[held].Confidence)}
	}
	return nil
}

// qualifies reports whether inst trends its favorable way with enough confidence.
func (a *Arbiter) qualifies(inst models.Instrument, in Input) bool {
	rep, ok := in.Trends[inst]
	if !ok || rep.Consensus != a.cfg.Favorable[inst] {
		return false
	}
	return in.Confidence[inst] >= in.Threshold
}

// reversed reports trend evidence against the held instrument above the threshold.
func (a *Arbiter) reversed(inst models.Instrument, in Input) bool {
	rep, ok := in.Trends[inst]
	fav := a.cfg.Favorable[inst]
	if !ok || rep.Consensus == fav || rep.Consensus != fav.Opposite() {
		return false
	}
	against := rep.DownScore
	if fav == models.DirectionDown {
		against = rep.UpScore
	}
	return against >= in.Threshold
}

func (a *Arbiter) pickEntry(in Input) (models.Instrument, bool) {
	okA := a.qualifies(models.InstrumentA, in) && in.Prices[models.InstrumentA] > 0
	okB := a.qualifies(models.InstrumentB, in) && in.Prices[models.InstrumentB] > 0
	switch {
	case okA && okB:
		ca, cb := in.Confidence[models.InstrumentA], in.Confidence[models.InstrumentB]
		if ca == cb {
			return models.InstrumentNone, false
		}
		if ca > cb {
			return models.InstrumentA, true
		}
		return models.InstrumentB, true
	case okA:
		return models.InstrumentA, true
	case okB:
		return models.InstrumentB, true
	}
	return models.InstrumentNone, false
}

// enter moves to HOLDING_inst. It is a no-op when inst is already held.
func (a *Arbiter) enter(inst models.Instrument, in Input, out []models.Transition) []models.Transition {
	if a.state.Position == inst {
		return out
	}
	from := a.state.State()
	a.state = models.TradingState{
		Position:        inst,
		EntryTime:       in.Now,
		EntryPrice:      in.Prices[inst],
		EntryConfidence: in.Confidence[inst],
		EntryFeatures:   in.Features[inst],
	}
	return append(out, models.Transition{
		From:       from,
		To:         a.state.State(),
		Reason:     models.ReasonEntry,
		Confidence: in.Confidence[inst],
		Price:      in.Prices[inst],
	})
}

func (a *Arbiter) exit(reason models.ExitReason, price, conf float64) models.Transition {
	closed := a.state
	tr := models.Transition{
		From:       a.state.State(),
		To:         models.StateHold,
		Reason:     reason,
		Confidence: conf,
		Price:      price,
		Closed:     &closed,
	}
	a.state = models.TradingState{}
	return tr
}

func (a *Arbiter) leverage(inst models.Instrument) float64 {
	if l := a.cfg.Leverage[inst]; l > 0 {
		return l
	}
	return 1
}
