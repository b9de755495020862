package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrPermanent wraps handler errors that retrying cannot fix. The message is
// dead-lettered without spending its remaining attempts.
var ErrPermanent = errors.New("queue: permanent failure")

// ErrUnknownType marks a message no handler is registered for. Such messages go
// straight to the dead-letter list.
var ErrUnknownType = errors.New("queue: no handler for message type")

// Message is the envelope stored in the Redis lists.
type Message struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Handler processes the payloads of one message type. A returned error schedules a
// retry until the attempt budget is spent.
type Handler interface {
	Type() string
	Handle(ctx context.Context, payload json.RawMessage) error
}

// Publisher pushes typed payloads onto a queue.
type Publisher interface {
	Publish(ctx context.Context, msgType string, payload any) error
}

// Keys names the lists and sorted set of one queue.
type Keys struct {
	Prefix string
}

// Messages is the list workers pop from.
func (k Keys) Messages() string { return k.Prefix + ":messages" }

// Retry is the sorted set of failed messages scored by due time in unix milliseconds.
func (k Keys) Retry() string { return k.Prefix + ":retry" }

// Dead holds messages that ran out of attempts or could not be decoded.
func (k Keys) Dead() string { return k.Prefix + ":dlq" }
