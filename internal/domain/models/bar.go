package models

import "time"

// Bar is one OHLCV record of an instrument at a given interval.
type Bar struct {
	Bucket   time.Time `json:"t"`
	Symbol   string    `json:"symbol"`
	Interval string    `json:"interval"`
	Open     float64   `json:"o"`
	High     float64   `json:"h"`
	Low      float64   `json:"l"`
	Close    float64   `json:"c"`
	Volume   float64   `json:"v"`
}

// Valid reports whether the bar carries a usable close price.
func (b Bar) Valid() bool {
	return b.Close > 0 && b.High >= b.Low
}

// LastClose returns the close of the newest bar, or 0 if there is none.
func LastClose(bars []Bar) float64 {
	if len(bars) == 0 {
		return 0
	}
	return bars[len(bars)-1].Close
}
