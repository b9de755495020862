package models

import "time"

// PatternSchemaVersion is bumped whenever the Pattern layout changes.
const PatternSchemaVersion = 2

// Provenance tells real trade outcomes apart from generated training data.
type Provenance string

const (
	ProvenanceReal      Provenance = "real"
	ProvenanceSynthetic Provenance = "synthetic"
)

// Pattern is a recorded (features, outcome) sample. It is immutable once created.
type Pattern struct {
	SchemaVersion     int           `json:"schema_version"`
	ID                string        `json:"id"`
	Features          FeatureVector `json:"features"`
	Label             Instrument    `json:"label"`
	RealizedReturnPct float64       `json:"realized_return_pct"`
	InstrumentTraded  Instrument    `json:"instrument_traded"`
	Timestamp         time.Time     `json:"timestamp"`
	ConfidenceAtEntry float64       `json:"confidence_at_entry"`
	Provenance        Provenance    `json:"provenance"`
}

// Win reports whether the pattern belongs to the winning pool.
func (p Pattern) Win() bool { return p.RealizedReturnPct > 0 }

// Synthetic reports whether the pattern was generated rather than traded.
func (p Pattern) Synthetic() bool { return p.Provenance == ProvenanceSynthetic }

// PatternStats summarizes Pattern Memory. Win rate counts real patterns only.
type PatternStats struct {
	Winners        int     `json:"winners"`
	Losers         int     `json:"losers"`
	RealWinners    int     `json:"real_winners"`
	RealLosers     int     `json:"real_losers"`
	Synthetic      int     `json:"synthetic"`
	WinRate        float64 `json:"win_rate"`
	SinceRetrain   int     `json:"since_retrain"`
	WinnerCapacity int     `json:"winner_capacity"`
	LoserCapacity  int     `json:"loser_capacity"`
}
