package models

import "time"

// ExitReason explains why a held position was closed.
type ExitReason string

const (
	ReasonEntry          ExitReason = "entry"
	ReasonOpposingSignal ExitReason = "opposing_signal"
	ReasonTrendReversal  ExitReason = "trend_reversal"
	ReasonMaxHold        ExitReason = "max_hold"
	ReasonStopLoss       ExitReason = "stop_loss"
	ReasonTakeProfit     ExitReason = "take_profit"
	ReasonStaleData      ExitReason = "stale_data"
	ReasonDegraded       ExitReason = "degraded"
)

// Transition is one Arbiter state change. Exits carry the position they closed.
type Transition struct {
	From       SignalState   `json:"from"`
	To         SignalState   `json:"to"`
	Reason     ExitReason    `json:"reason"`
	Confidence float64       `json:"confidence"`
	Price      float64       `json:"price"`
	Closed     *TradingState `json:"closed,omitempty"`
}

// Recommendation is the outcome of one poll cycle.
type Recommendation struct {
	At           time.Time                  `json:"at"`
	State        SignalState                `json:"state"`
	Probability  float64                    `json:"probability"`
	Confidence   map[Instrument]float64     `json:"confidence"`
	Threshold    float64                    `json:"threshold"`
	Trends       map[Instrument]TrendReport `json:"trends"`
	Prices       map[Instrument]float64     `json:"prices"`
	Transitions  []Transition               `json:"transitions,omitempty"`
	Degraded     bool                       `json:"degraded"`
	Errors       map[string]string          `json:"errors,omitempty"`
	CycleLatency time.Duration              `json:"cycle_latency"`
}

// ModelState is the blend weight and fit status of one ensemble member.
type ModelState struct {
	Name         string  `json:"name"`
	BlendWeight  float64 `json:"blend_weight"`
	IsFitted     bool    `json:"is_fitted"`
	Failed       bool    `json:"failed"`
	LastAccuracy float64 `json:"last_accuracy"`
}

// EngineStatus is the read-only snapshot exposed to the API.
type EngineStatus struct {
	Strategy      string          `json:"strategy"`
	Trading       TradingState    `json:"trading"`
	State         SignalState     `json:"state"`
	Threshold     float64         `json:"threshold"`
	Members       []ModelState    `json:"members"`
	Patterns      PatternStats    `json:"patterns"`
	LastSignal    *Recommendation `json:"last_signal,omitempty"`
	Cycles        int64           `json:"cycles"`
	OutcomesSeen  int             `json:"outcomes_seen"`
	LastRetrainAt time.Time       `json:"last_retrain_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
