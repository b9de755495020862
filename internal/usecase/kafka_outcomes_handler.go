package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"LevPair/internal/domain/models"
	domrepo "LevPair/internal/domain/repository"
	"LevPair/internal/middleware"
	pkgkafka "LevPair/pkg/kafka"
	"LevPair/pkg/natsx"
	"LevPair/pkg/queue"
)

// errRejected marks outcomes that will never be accepted, however often they are retried.
var errRejected = errors.New("outcome rejected")

// submitOutcome queues o for the engine loop. Malformed outcomes wrap errRejected;
// a full or throttled inbox returns the inbox error so the transport can retry.
func submitOutcome(ctx context.Context, inbox *middleware.OutcomeInbox, metrics domrepo.Metrics, source string, o models.TradeOutcome) error {
	if !o.ExitTime.IsZero() {
		// delay between the trade closing and the core hearing about it
		metrics.RecordLatency("outcome_e2e_seconds", time.Since(o.ExitTime).Seconds())
	}
	err := inbox.Submit(ctx, source, o)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrConfigInconsistency):
		metrics.RecordError(source + "_validate")
		return fmt.Errorf("%w: %v", errRejected, err)
	default:
		metrics.RecordError(source + "_enqueue")
		return err
	}
}

func decodeOutcome(metrics domrepo.Metrics, source string, b []byte) (models.TradeOutcome, error) {
	var o models.TradeOutcome
	if err := json.Unmarshal(b, &o); err != nil {
		metrics.RecordError(source + "_unmarshal")
		return o, fmt.Errorf("%w: %v", errRejected, err)
	}
	return o, nil
}

// KafkaOutcomesHandler consumes trade outcomes from Kafka and queues them for the engine loop.
type KafkaOutcomesHandler struct {
	topic   string
	inbox   *middleware.OutcomeInbox
	metrics domrepo.Metrics
}

func NewKafkaOutcomesHandler(topic string, inbox *middleware.OutcomeInbox, metrics domrepo.Metrics) *KafkaOutcomesHandler {
	return &KafkaOutcomesHandler{topic: topic, inbox: inbox, metrics: metrics}
}

func (h *KafkaOutcomesHandler) Topic() string { return h.topic }

// incoming message schema: models.TradeOutcome as JSON
func (h *KafkaOutcomesHandler) Handle(ctx context.Context, b []byte) error {
	o, err := decodeOutcome(h.metrics, "kafka", b)
	if err == nil {
		err = submitOutcome(ctx, h.inbox, h.metrics, "kafka", o)
	}
	if errors.Is(err, errRejected) {
		// straight to the DLQ
		return fmt.Errorf("%w: %v", pkgkafka.ErrPermanent, err)
	}
	return err
}

// NATSOutcomesHandler returns a JetStream handler with the same contract as the Kafka one.
func NATSOutcomesHandler(inbox *middleware.OutcomeInbox, metrics domrepo.Metrics) natsx.MessageHandler {
	return func(ctx context.Context, _ string, data []byte) error {
		o, err := decodeOutcome(metrics, "nats", data)
		if err == nil {
			err = submitOutcome(ctx, inbox, metrics, "nats", o)
		}
		if errors.Is(err, errRejected) {
			return fmt.Errorf("%w: %v", natsx.ErrPermanent, err)
		}
		return err
	}
}

// OutcomeJobType is the Redis queue message type carrying a trade outcome.
const OutcomeJobType = "trade_outcome"

// OutcomeJob feeds trade outcomes from the Redis work queue into the inbox.
type OutcomeJob struct {
	inbox   *middleware.OutcomeInbox
	metrics domrepo.Metrics
}

func NewOutcomeJob(inbox *middleware.OutcomeInbox, metrics domrepo.Metrics) *OutcomeJob {
	return &OutcomeJob{inbox: inbox, metrics: metrics}
}

func (j *OutcomeJob) Type() string { return OutcomeJobType }

// Handle dead-letters malformed outcomes; a full or throttled inbox is retried by the queue.
func (j *OutcomeJob) Handle(ctx context.Context, payload json.RawMessage) error {
	o, err := decodeOutcome(j.metrics, "queue", payload)
	if err == nil {
		err = submitOutcome(ctx, j.inbox, j.metrics, "queue", o)
	}
	if errors.Is(err, errRejected) {
		return fmt.Errorf("%w: %v", queue.ErrPermanent, err)
	}
	return err
}

var (
	_ pkgkafka.Handler       = (*KafkaOutcomesHandler)(nil)
	_ queue.Handler           = (*OutcomeJob)(nil)
)
