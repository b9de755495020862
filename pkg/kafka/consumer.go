package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	applogger "LevPair/pkg/logger"
)

// ErrPermanent marks a message that will fail however often it is retried.
// Such messages skip the remaining attempts and go to the DLQ.
var ErrPermanent = errors.New("permanent failure")

// Handler processes the values of one topic.
type Handler interface {
	Topic() string
	Handle(ctx context.Context, value []byte) error
}

// ConsumerConfig describes one consumer group member.
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	// Workers each own a fixed subset of partitions, so one partition is handled in order.
	Workers    int
	RetryMax   int
	BackoffMin time.Duration
	BackoffMax time.Duration
	// DLQTopic receives messages that exhausted their retries. Empty disables it, and
	// failed messages are then left uncommitted.
	DLQTopic string
	MinBytes int
	MaxBytes int
}

func (c *ConsumerConfig) setDefaults() {
	if c.GroupID == "" {
		c.GroupID = "levpair"
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.BackoffMin <= 0 {
		c.BackoffMin = 100 * time.Millisecond
	}
	if c.BackoffMax < c.BackoffMin {
		c.BackoffMax = c.BackoffMin
	}
	if c.MinBytes <= 0 {
		c.MinBytes = 1
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 << 20
	}
}

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer feeds one topic to a Handler through a partition-affine worker pool.
type Consumer struct {
	cfg       ConsumerConfig
	log       *applogger.Logger
	newReader func(topic string) reader
	dlq       writer

	handler Handler
	r       reader
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewConsumer(cfg ConsumerConfig, l *applogger.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka consumer: brokers are required")
	}
	cfg.setDefaults()
	if l == nil {
		l = applogger.Nop()
	}
	c := &Consumer{cfg: cfg, log: l}
	c.newReader = func(topic string) reader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			GroupID:  cfg.GroupID,
			Topic:    topic,
			MinBytes: cfg.MinBytes,
			MaxBytes: cfg.MaxBytes,
		})
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.Hash{}}
	}
	registerConsumerMetrics()
	return c, nil
}

// Start joins the group for h's topic and returns once the workers run.
func (c *Consumer) Start(h Handler) error {
	if c.r != nil {
		return errors.New("kafka consumer: already started")
	}
	c.handler = h
	c.r = c.newReader(h.Topic())

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	lanes := make([]chan kafka.Message, c.cfg.Workers)
	for i := range lanes {
		lanes[i] = make(chan kafka.Message)
		c.wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer c.wg.Done()
			for msg := range in {
				c.process(ctx, msg)
			}
		}(lanes[i])
	}
	c.wg.Add(1)
	go c.fetch(ctx, lanes)

	c.log.Info("kafka consumer started",
		applogger.String("topic", h.Topic()),
		applogger.String("group", c.cfg.GroupID),
		applogger.Int("workers", c.cfg.Workers))
	return nil
}

func (c *Consumer) fetch(ctx context.Context, lanes []chan kafka.Message) {
	defer c.wg.Done()
	defer func() {
		for _, l := range lanes {
			close(l)
		}
	}()
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("kafka fetch failed", applogger.String("topic", c.handler.Topic()), applogger.Error(err))
			select {
			case <-time.After(c.cfg.BackoffMin):
				continue
			case <-ctx.Done():
				return
			}
		}
		select {
		case lanes[msg.Partition%len(lanes)] <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// process handles msg with retries, dead-letters it on failure and commits it once
// it is either handled or safely in the DLQ.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	topic := c.handler.Topic()
	start := time.Now()
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := c.handle(ctx, msg.Value)
		if errors.Is(err, ErrPermanent) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(c.policy(), uint64(c.cfg.RetryMax)), ctx))
	consumerLatency.WithLabelValues(topic).Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			// shutting down; the message is fetched again after restart
			return
		}
		consumerFailures.WithLabelValues(topic).Inc()
		c.log.Error("kafka message failed",
			applogger.String("topic", topic),
			applogger.Int("partition", msg.Partition),
			applogger.Int64("offset", msg.Offset),
			applogger.Int("attempts", attempts),
			applogger.Error(err))
		if !c.deadLetter(ctx, msg, err) {
			return
		}
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.r.CommitMessages(cctx, msg); err != nil {
		c.log.Warn("kafka commit failed", applogger.String("topic", topic), applogger.Int64("offset", msg.Offset), applogger.Error(err))
	}
}

func (c *Consumer) handle(ctx context.Context, value []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: handler panic: %v", ErrPermanent, r)
		}
	}()
	return c.handler.Handle(ctx, value)
}

func (c *Consumer) policy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.BackoffMin
	b.MaxInterval = c.cfg.BackoffMax
	b.MaxElapsedTime = 0
	return b
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, cause error) bool {
	if c.dlq == nil {
		return false
	}
	headers := append([]kafka.Header{
		{Key: "source_topic", Value: []byte(msg.Topic)},
		{Key: "error", Value: []byte(cause.Error())},
	}, msg.Headers...)
	err := c.dlq.WriteMessages(ctx, kafka.Message{
		Topic:   c.cfg.DLQTopic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	})
	if err != nil {
		c.log.Error("kafka dlq write failed", applogger.String("dlq", c.cfg.DLQTopic), applogger.Error(err))
		return false
	}
	return true
}

// Stop cancels fetching, waits for in-flight messages and closes the reader.
func (c *Consumer) Stop(ctx context.Context) error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("kafka consumer stop: %w", ctx.Err())
	}
	if cerr := c.r.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if c.dlq != nil {
		if cerr := c.dlq.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	c.cancel = nil
	return err
}

var (
	consumerLatency  *prometheus.HistogramVec
	consumerFailures *prometheus.CounterVec
	consumerOnce     sync.Once
)

func registerConsumerMetrics() {
	consumerOnce.Do(func() {
		consumerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name: "levpair_kafka_consumer_handle_seconds",
			Help: "Time spent on one message including retries.",
		}, []string{"topic"})
		consumerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "levpair_kafka_consumer_failures_total",
			Help: "Messages that exhausted their retries.",
		}, []string{"topic"})
	})
}
