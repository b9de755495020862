package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"LevPair/internal/domain/models"
	domrepo "LevPair/internal/domain/repository"
	pkgkafka "LevPair/pkg/kafka"
	applogger "LevPair/pkg/logger"
	"LevPair/pkg/natsx"
	"LevPair/pkg/queue"
)

// LogPublisher writes every event to the structured log.
type LogPublisher struct {
	l *applogger.Logger
}

// NewLogPublisher logs events at info level.
func NewLogPublisher(l *applogger.Logger) *LogPublisher {
	if l == nil {
		l = applogger.Nop()
	}
	return &LogPublisher{l: l.With(applogger.String("sink", "log"))}
}

func (p *LogPublisher) Publish(_ context.Context, ev models.Event) error {
	p.l.Info("event",
		applogger.String("id", ev.ID),
		applogger.String("type", string(ev.Type)),
		applogger.String("strategy", ev.Strategy),
		applogger.Any("payload", ev.Payload))
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// KafkaEventPublisher sends events keyed by strategy so one strategy's events stay ordered.
type KafkaEventPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaEventPublisher publishes to topic.
func NewKafkaEventPublisher(producer *pkgkafka.Producer, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, ev models.Event) error {
	return p.producer.Publish(ctx, p.topic, pkgkafka.Message{
		Key:     []byte(ev.Strategy),
		Value:   ev,
		Headers: map[string]string{"event_type": string(ev.Type), "event_id": ev.ID},
	})
}

// Close leaves the shared producer open; the app closes it.
func (p *KafkaEventPublisher) Close() error { return nil }

// NATSEventPublisher publishes to <subject>.<type> on JetStream, deduplicated by event id.
type NATSEventPublisher struct {
	client  *natsx.Client
	subject string
}

// NewNATSEventPublisher publishes under the subject prefix.
func NewNATSEventPublisher(client *natsx.Client, subject string) *NATSEventPublisher {
	return &NATSEventPublisher{client: client, subject: subject}
}

func (p *NATSEventPublisher) Publish(ctx context.Context, ev models.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return models.NewCoreError(models.KindSerializationFailure, "encode event", "", err)
	}
	return p.client.Publish(ctx, p.subject+"."+string(ev.Type), b, ev.ID)
}

func (p *NATSEventPublisher) Close() error { return nil }

// QueueEventPublisher pushes events onto a Redis work queue, typed by event type.
type QueueEventPublisher struct {
	q queue.Publisher
}

// NewQueueEventPublisher wraps a queue publisher.
func NewQueueEventPublisher(q queue.Publisher) *QueueEventPublisher {
	return &QueueEventPublisher{q: q}
}

func (p *QueueEventPublisher) Publish(ctx context.Context, ev models.Event) error {
	return p.q.Publish(ctx, string(ev.Type), ev)
}

// Close is a no-op; the Redis client belongs to the cache.
func (p *QueueEventPublisher) Close() error { return nil }

// MultiPublisher fans an event out to every sink. All sinks are tried; their errors are joined.
type MultiPublisher struct {
	sinks []domrepo.EventPublisher
}

// NewMultiPublisher drops nil sinks.
func NewMultiPublisher(sinks ...domrepo.EventPublisher) *MultiPublisher {
	m := &MultiPublisher{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Len returns the number of sinks.
func (m *MultiPublisher) Len() int { return len(m.sinks) }

func (m *MultiPublisher) Publish(ctx context.Context, ev models.Event) error {
	var errs []error
	for i, s := range m.sinks {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("sink %d (%T): %w", i, s, err))
		}
	}
	return errors.Join(errs...)
}

func (m *MultiPublisher) Close() error {
	var errs []error
	for _, s := range m.sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

// KafkaLogSink ships log digests from the logger's collector to Kafka.
type KafkaLogSink struct {
	producer *pkgkafka.Producer
	source   string
}

// NewKafkaLogSink keys digests by source.
func NewKafkaLogSink(producer *pkgkafka.Producer, source string) *KafkaLogSink {
	return &KafkaLogSink{producer: producer, source: source}
}

func (s *KafkaLogSink) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return s.producer.Publish(ctx, topic, pkgkafka.Message{Key: []byte(s.source), Value: payload})
}

var (
	_ domrepo.EventPublisher = (*LogPublisher)(nil)
	_ domrepo.EventPublisher = (*KafkaEventPublisher)(nil)
	_ domrepo.EventPublisher = (*NATSEventPublisher)(nil)
	_ domrepo.EventPublisher = (*QueueEventPublisher)(nil)
	_ domrepo.EventPublisher = (*MultiPublisher)(nil)
	_ applogger.Publisher    = (*KafkaLogSink)(nil)
)
