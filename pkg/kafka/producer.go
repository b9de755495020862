package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// ProducerConfig tunes the kafka-go writer. Zero values take the writer's defaults
// except Compression, which defaults to snappy.
type ProducerConfig struct {
	Brokers      []string
	RequiredAcks int
	Compression  string
	MaxAttempts  int
	BatchSize    int
	BatchBytes   int
	Linger       time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	Async        bool
}

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes keyed messages; messages sharing a key land on one partition.
type Producer struct {
	w           writer
	compression string
	now         func() time.Time
}

// Message is sent as-is when Value is []byte or string and as JSON otherwise.
type Message struct {
	Key     []byte
	Value   any
	Headers map[string]string
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka producer: brokers are required")
	}
	if cfg.Compression == "" {
		cfg.Compression = "snappy"
	}
	codec, ok := compressions[cfg.Compression]
	if !ok {
		return nil, fmt.Errorf("kafka producer: unknown compression %q", cfg.Compression)
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  codec,
		MaxAttempts:  cfg.MaxAttempts,
		BatchSize:    cfg.BatchSize,
		BatchBytes:   int64(cfg.BatchBytes),
		BatchTimeout: cfg.Linger,
		WriteTimeout: cfg.WriteTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		Async:        cfg.Async,
	}
	return newProducer(w, cfg.Compression), nil
}

func newProducer(w writer, compression string) *Producer {
	registerProducerMetrics()
	return &Producer{w: w, compression: compression, now: time.Now}
}

var compressions = map[string]kafka.Compression{
	"none":   0,
	"gzip":   kafka.Gzip,
	"snappy": kafka.Snappy,
	"lz4":    kafka.Lz4,
	"zstd":   kafka.Zstd,
}

// Publish writes msgs to topic in one batch. Nothing is written if any value fails to encode.
func (p *Producer) Publish(ctx context.Context, topic string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	start := p.now()
	out := make([]kafka.Message, len(msgs))
	var size int
	for i, m := range msgs {
		v, err := encode(m.Value)
		if err != nil {
			return fmt.Errorf("kafka publish %s: %w", topic, err)
		}
		km := kafka.Message{Topic: topic, Key: m.Key, Value: v, Time: start.UTC()}
		for k, hv := range m.Headers {
			km.Headers = append(km.Headers, kafka.Header{Key: k, Value: []byte(hv)})
		}
		out[i] = km
		size += len(v)
	}

	err := p.w.WriteMessages(ctx, out...)
	result := "ok"
	if err != nil {
		result = "error"
	}
	producerMessages.WithLabelValues(topic, result).Add(float64(len(msgs)))
	producerBytes.WithLabelValues(topic, p.compression).Add(float64(size))
	producerLatency.WithLabelValues(topic).Observe(time.Since(start).Seconds())
	return err
}

func (p *Producer) Close() error { return p.w.Close() }

func encode(v any) ([]byte, error) {
	switch val := v.(type) {
	case []byte:
		return val, nil
	case string:
		return []byte(val), nil
	default:
		return json.Marshal(v)
	}
}

var (
	producerMessages *prometheus.CounterVec
	producerBytes    *prometheus.CounterVec
	producerLatency  *prometheus.HistogramVec
	producerOnce     sync.Once
)

func registerProducerMetrics() {
	producerOnce.Do(func() {
		producerMessages = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "levpair_kafka_producer_messages_total",
			Help: "Messages handed to Kafka by result.",
		}, []string{"topic", "result"})
		producerBytes = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "levpair_kafka_producer_bytes_total",
			Help: "Uncompressed payload bytes handed to Kafka.",
		}, []string{"topic", "compression"})
		producerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "levpair_kafka_producer_publish_seconds",
			Help:    "Publish call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"})
	})
}
