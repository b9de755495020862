package models

// Direction is a trend label.
type Direction string

const (
	DirectionNone     Direction = "NONE"
	DirectionUp       Direction = "UP"
	DirectionDown     Direction = "DOWN"
	DirectionSideways Direction = "SIDEWAYS"
)

// Opposite returns the reverse of UP/DOWN; other labels map to themselves.
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionUp:
		return DirectionDown
	case DirectionDown:
		return DirectionUp
	default:
		return d
	}
}

// TrendState is the label of one instrument on one timeframe. Never persisted.
type TrendState struct {
	Timeframe string    `json:"timeframe"`
	Direction Direction `json:"direction"`
	Strength  float64   `json:"strength"`
	Weight    float64   `json:"weight"`
	Samples   int       `json:"samples"`
}

// Signalled reports whether the timeframe produced any evidence.
func (t TrendState) Signalled() bool { return t.Samples > 0 }

// TrendReport is the fused multi-timeframe view of one instrument.
type TrendReport struct {
	Instrument Instrument   `json:"instrument"`
	Consensus  Direction    `json:"consensus"`
	Confidence float64      `json:"confidence"`
	UpScore    float64      `json:"up_score"`
	DownScore  float64      `json:"down_score"`
	Timeframes []TrendState `json:"timeframes"`
}
