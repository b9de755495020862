package models

import "time"

// EventType names a notification emitted by the core.
type EventType string

const (
	EventSignalChanged    EventType = "signal_changed"
	EventRetrainCompleted EventType = "retrain_completed"
	EventThresholdUpdated EventType = "threshold_updated"
)

// Event is the envelope handed to notification sinks. Payload is one of the typed events below.
type Event struct {
	ID       string    `json:"id"`
	Type     EventType `json:"type"`
	Strategy string    `json:"strategy"`
	At       time.Time `json:"at"`
	Payload  any       `json:"payload"`
}

// SignalChanged is emitted on every Arbiter transition.
type SignalChanged struct {
	From       SignalState `json:"from"`
	To         SignalState `json:"to"`
	Confidence float64     `json:"confidence"`
	Reason     ExitReason  `json:"reason,omitempty"`
	Price      float64     `json:"price,omitempty"`
}

// RetrainCompleted is emitted after each retraining cycle.
type RetrainCompleted struct {
	SampleCount      int                `json:"sample_count"`
	AccuracyByMember map[string]float64 `json:"accuracy_by_member"`
	FailedMembers    []string           `json:"failed_members,omitempty"`
}

// ThresholdUpdated is emitted when the Adaptive Controller moves the entry threshold.
type ThresholdUpdated struct {
	From   float64 `json:"from"`
	To     float64 `json:"to"`
	Score  float64 `json:"score"`
	Trades int     `json:"trades"`
}
