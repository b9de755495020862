package models

import "time"

// Requests for the engine HTTP endpoints.

type TrendRequest struct {
	Instrument string `query:"instrument" json:"instrument" validate:"omitempty,oneof=A B a b"`
}

// OutcomeRequest is a completed trade reported over HTTP. A missing trade id is generated.
type OutcomeRequest struct {
	TradeID           string    `json:"trade_id" validate:"omitempty,max=128"`
	Instrument        string    `json:"instrument" validate:"required,oneof=A B a b"`
	EntryPrice        float64   `json:"entry_price" validate:"gt=0"`
	ExitPrice         float64   `json:"exit_price" validate:"gt=0"`
	EntryTime         time.Time `json:"entry_time"`
	ExitTime          time.Time `json:"exit_time"`
	FeaturesAtEntry   []float64 `json:"features_at_entry" validate:"omitempty,len=18"`
	ConfidenceAtEntry float64   `json:"confidence_at_entry" validate:"gte=0,lte=1"`
}

// Outcome converts the request; the instrument must already be validated.
func (r *OutcomeRequest) Outcome() TradeOutcome {
	inst, _ := ParseInstrument(r.Instrument)
	return TradeOutcome{
		TradeID:           r.TradeID,
		Instrument:        inst,
		EntryPrice:        r.EntryPrice,
		ExitPrice:         r.ExitPrice,
		EntryTime:         r.EntryTime,
		ExitTime:          r.ExitTime,
		FeaturesAtEntry:   r.FeaturesAtEntry,
		ConfidenceAtEntry: r.ConfidenceAtEntry,
	}
}

type RetrainRequest struct {
	Source string `json:"source" default:"api" validate:"max=64"`
}

// OutcomeAccepted acknowledges an enqueued outcome. Applying it happens on the next loop turn.
type OutcomeAccepted struct {
	TradeID string `json:"trade_id"`
	Queued  int    `json:"queued"`
}

type HealthResponse struct {
	Status     string      `json:"status"`
	State      SignalState `json:"state"`
	Fitted     bool        `json:"fitted"`
	Degraded   bool        `json:"degraded"`
	InboxDepth int         `json:"inbox_depth"`
	LastCycle  time.Time   `json:"last_cycle,omitempty"`
}
