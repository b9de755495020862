package repository

import (
	"context"

	"LevPair/internal/domain/models"
)

// BarSource pulls ordered OHLCV bars (oldest first). It may return fewer bars than asked for.
type BarSource interface {
	GetBars(ctx context.Context, symbol string, interval Interval, limit int) ([]models.Bar, error)
}

// EventPublisher delivers core events to a notification sink.
type EventPublisher interface {
	Publish(ctx context.Context, ev models.Event) error
	Close() error
}

// OutcomeJournal stores applied trade outcomes for later analysis.
type OutcomeJournal interface {
	RecordOutcome(ctx context.Context, strategy string, o models.TradeOutcome, returnPct float64, win bool) error
}

// Deduplicator claims a trade id across processes. Claim returns false if it was already claimed.
type Deduplicator interface {
	Claim(ctx context.Context, tradeID string) (bool, error)
}

type Metrics interface {
	RecordCycle(state string, seconds float64)
	RecordSignal(from, to string)
	RecordRetrain(samples int, failed int)
	RecordMemberWeight(member string, weight float64)
	RecordThreshold(v float64)
	RecordOutcome(instrument string, win bool)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
	RecordInboxDepth(depth int)
}
