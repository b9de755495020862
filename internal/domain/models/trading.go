package models

import (
	"fmt"
	"time"
)

// Instrument identifies one side of the leveraged pair.
type Instrument string

const (
	InstrumentNone Instrument = ""
	InstrumentA    Instrument = "A"
	InstrumentB    Instrument = "B"
)

// Other returns the opposite side of the pair.
func (i Instrument) Other() Instrument {
	switch i {
	case InstrumentA:
		return InstrumentB
	case InstrumentB:
		return InstrumentA
	default:
		return InstrumentNone
	}
}

// Valid reports whether i is A or B.
func (i Instrument) Valid() bool { return i == InstrumentA || i == InstrumentB }

// ParseInstrument accepts "A"/"B" case-insensitively.
func ParseInstrument(s string) (Instrument, error) {
	switch s {
	case "A", "a":
		return InstrumentA, nil
	case "B", "b":
		return InstrumentB, nil
	}
	return InstrumentNone, fmt.Errorf("unknown instrument %q", s)
}

// Instruments is the fixed evaluation order of the pair.
var Instruments = [2]Instrument{InstrumentA, InstrumentB}

// SignalState is the Arbiter state.
type SignalState string

const (
	StateHold     SignalState = "HOLD"
	StateHoldingA SignalState = "HOLDING_A"
	StateHoldingB SignalState = "HOLDING_B"
)

// StateFor maps a held instrument to its Arbiter state.
func StateFor(i Instrument) SignalState {
	switch i {
	case InstrumentA:
		return StateHoldingA
	case InstrumentB:
		return StateHoldingB
	default:
		return StateHold
	}
}

// TradingState is the single live position of a strategy.
type TradingState struct {
	Position        Instrument    `json:"position"`
	EntryTime       time.Time     `json:"entry_time"`
	EntryPrice      float64       `json:"entry_price"`
	EntryConfidence float64       `json:"entry_confidence"`
	EntryFeatures   FeatureVector `json:"entry_features"`
}

// State returns the Arbiter state of ts.
func (ts TradingState) State() SignalState { return StateFor(ts.Position) }

// Flat reports whether nothing is held.
func (ts TradingState) Flat() bool { return ts.Position == InstrumentNone }

// TradeOutcome is a completed trade reported back to the core.
type TradeOutcome struct {
	TradeID           string     `json:"trade_id"`
	Instrument        Instrument `json:"instrument"`
	EntryPrice        float64    `json:"entry_price"`
	ExitPrice         float64    `json:"exit_price"`
	EntryTime         time.Time  `json:"entry_time"`
	ExitTime          time.Time  `json:"exit_time"`
	FeaturesAtEntry   []float64  `json:"features_at_entry"`
	ConfidenceAtEntry float64    `json:"confidence_at_entry"`
}

// Validate checks the fields the core cannot default.
func (o TradeOutcome) Validate() error {
	if o.TradeID == "" {
		return fmt.Errorf("trade_id empty")
	}
	if !o.Instrument.Valid() {
		return fmt.Errorf("instrument %q invalid", o.Instrument)
	}
	if o.EntryPrice <= 0 || o.ExitPrice <= 0 {
		return fmt.Errorf("prices must be positive")
	}
	return nil
}

// ReturnPct is the leverage-adjusted percentage move between entry and exit.
func (o TradeOutcome) ReturnPct(leverage float64) float64 {
	return LeveragedReturnPct(o.EntryPrice, o.ExitPrice, leverage)
}

// LeveragedReturnPct is the raw percentage move from entry to current scaled by leverage.
func LeveragedReturnPct(entry, current, leverage float64) float64 {
	if entry <= 0 || current <= 0 {
		return 0
	}
	if leverage <= 0 {
		leverage = 1
	}
	return (current - entry) / entry * 100 * leverage
}

// TradeRecord is the compact per-trade history kept by the Adaptive Controller.
type TradeRecord struct {
	TradeID    string     `json:"trade_id"`
	Instrument Instrument `json:"instrument"`
	ReturnPct  float64    `json:"return_pct"`
	Confidence float64    `json:"confidence"`
	Win        bool       `json:"win"`
	ClosedAt   time.Time  `json:"closed_at"`
}
