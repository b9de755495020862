package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"LevPair/internal/domain/models"
	domrepo "LevPair/internal/domain/repository"
	"LevPair/internal/service/ratelimit"
)

var (
	// ErrInboxFull is returned when the buffer cannot take another item.
	ErrInboxFull = errors.New("outcome inbox full")
	// ErrThrottled is returned when an instrument exceeds its submit rate.
	ErrThrottled = errors.New("outcome inbox throttled")
	// ErrInboxClosed is returned after Close.
	ErrInboxClosed = errors.New("outcome inbox closed")
)

// Command is a request for the engine loop that does not carry an outcome.
type Command string

const CommandRetrain Command = "retrain"

// Item is one unit of work for the engine loop: an outcome or a command.
type Item struct {
	Outcome    *models.TradeOutcome
	Command    Command
	Source     string
	ReceivedAt time.Time
}

// OutcomeInbox sits between the intake goroutines (Kafka workers, HTTP) and the engine loop.
// It validates, throttles per instrument and buffers; only the loop ever reads from it.
type OutcomeInbox struct {
	metrics domrepo.Metrics
	limiter *ratelimit.Limiter
	bufSize int
	bufCh   chan Item
	dropped atomic.Int64
	mu      sync.RWMutex
	closed  bool
	now     func() time.Time
}

type InboxOption func(*OutcomeInbox)

// WithMaxRPS sets the max outcomes per second per instrument. Zero disables throttling.
func WithMaxRPS(n float64) InboxOption {
	return func(p *OutcomeInbox) {
		if n >= 0 {
			p.limiter = ratelimit.New(n, int(n)+1)
		}
	}
}

// WithBufferSize sets the inbox capacity.
func WithBufferSize(n int) InboxOption {
	return func(p *OutcomeInbox) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// NewOutcomeInbox creates an inbox.
func NewOutcomeInbox(metrics domrepo.Metrics, opts ...InboxOption) *OutcomeInbox {
	p := &OutcomeInbox{
		metrics: metrics,
		limiter: ratelimit.New(20, 20), // default throttle per instrument
		bufSize: 1000,                  // default buffer
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan Item, p.bufSize)
	return p
}

// Submit validates o and enqueues it without blocking.
func (p *OutcomeInbox) Submit(ctx context.Context, source string, o models.TradeOutcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := o.Validate(); err != nil {
		p.metrics.RecordError("inbox_validate")
		return models.NewCoreError(models.KindConfigInconsistency, "inbox submit", o.Instrument, err)
	}
	if len(o.FeaturesAtEntry) > 0 {
		if _, err := models.VectorFromSlice(o.FeaturesAtEntry); err != nil {
			p.metrics.RecordError("inbox_validate")
			return err
		}
	}
	if !p.limiter.Allow(string(o.Instrument)) {
		p.metrics.RecordError("inbox_throttle_" + string(o.Instrument))
		return ErrThrottled
	}
	return p.push(Item{Outcome: &o, Source: source})
}

// Command enqueues a loop command.
func (p *OutcomeInbox) Command(cmd Command, source string) error {
	return p.push(Item{Command: cmd, Source: source})
}

func (p *OutcomeInbox) push(it Item) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrInboxClosed
	}
	it.ReceivedAt = p.now()
	select {
	case p.bufCh <- it:
		p.metrics.RecordInboxDepth(len(p.bufCh))
		return nil
	default:
		p.dropped.Add(1)
		p.metrics.RecordError("inbox_buffer_full")
		return fmt.Errorf("enqueue %s item: %w", it.Source, ErrInboxFull)
	}
}

// Drain returns up to limit queued items in arrival order without blocking. limit <= 0 drains everything.
func (p *OutcomeInbox) Drain(limit int) []Item {
	var out []Item
	defer func() {
		if len(out) > 0 {
			p.metrics.RecordInboxDepth(len(p.bufCh))
		}
	}()
	for limit <= 0 || len(out) < limit {
		select {
		case it, ok := <-p.bufCh:
			if !ok {
				return out
			}
			out = append(out, it)
		default:
			return out
		}
	}
	return out
}

// Depth is the number of queued items.
func (p *OutcomeInbox) Depth() int { return len(p.bufCh) }

// Dropped counts items rejected because the buffer was full.
func (p *OutcomeInbox) Dropped() int64 { return p.dropped.Load() }

// Close stops intake. Items already queued can still be drained.
func (p *OutcomeInbox) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.bufCh)
}
