package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"LevPair/pkg/logger"
)

// DefaultPrefix is used when a queue is built without a key prefix.
const DefaultPrefix = "levpair:queue"

// RedisPublisher LPUSHes envelopes onto <prefix>:messages. It holds no goroutines.
type RedisPublisher struct {
	client redis.Cmdable
	keys   Keys
	newID  func() string
	now    func() time.Time
}

// NewRedisPublisher publishes under prefix.
func NewRedisPublisher(client redis.Cmdable, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &RedisPublisher{client: client, keys: Keys{Prefix: prefix}, newID: uuid.NewString, now: time.Now}
}

// Publish wraps payload in a Message and pushes it.
func (p *RedisPublisher) Publish(ctx context.Context, msgType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(Message{ID: p.newID(), Type: msgType, Payload: body, EnqueuedAt: p.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := p.client.LPush(ctx, p.keys.Messages(), string(data)).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", p.keys.Messages(), err)
	}
	return nil
}

// Config tunes a RedisConsumer.
type Config struct {
	Prefix       string
	Workers      int
	MaxRetries   int           // retries after the first attempt
	RetryDelay   time.Duration // delay before a failed message is due again
	BlockTimeout time.Duration // BRPOP wait per poll
	RetryPoll    time.Duration // how often due retries are moved back
}

func (c *Config) setDefaults() {
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 10 * time.Second
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = time.Second
	}
	if c.RetryPoll <= 0 {
		c.RetryPoll = 5 * time.Second
	}
}

// RedisConsumer pops messages with BRPOP and dispatches them by type. Failed messages
// wait in the retry set and end up in the dead-letter list once attempts run out.
type RedisConsumer struct {
	client   redis.Cmdable
	cfg      Config
	keys     Keys
	log      *logger.Logger
	handlers map[string]Handler
	now      func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRedisConsumer registers handlers by their type; a later handler for the same type wins.
func NewRedisConsumer(client redis.Cmdable, cfg Config, l *logger.Logger, handlers ...Handler) *RedisConsumer {
	cfg.setDefaults()
	if l == nil {
		l = logger.Nop()
	}
	c := &RedisConsumer{
		client:   client,
		cfg:      cfg,
		keys:     Keys{Prefix: cfg.Prefix},
		log:      l.With(logger.String("queue", cfg.Prefix)),
		handlers: make(map[string]Handler, len(handlers)),
		now:      time.Now,
	}
	for _, h := range handlers {
		c.handlers[h.Type()] = h
	}
	return c
}

// Start checks the connection and launches the workers and the retry mover.
func (c *RedisConsumer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return errors.New("queue consumer already running")
	}

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := c.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.running = true
	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go c.work(ctx, i)
	}
	c.wg.Add(1)
	go c.moveRetries(ctx)

	c.log.Info("queue consumer started", logger.Int("workers", c.cfg.Workers))
	return nil
}

// Stop cancels the workers and waits for in-flight messages until ctx expires.
func (c *RedisConsumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.cancel()
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		c.log.Info("queue consumer stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue consumer stop: %w", ctx.Err())
	}
}

func (c *RedisConsumer) work(ctx context.Context, id int) {
	defer c.wg.Done()
	for ctx.Err() == nil {
		res, err := c.client.BRPop(ctx, c.cfg.BlockTimeout, c.keys.Messages()).Result()
		switch {
		case err == nil && len(res) == 2:
			c.process(ctx, res[1])
		case err == nil, errors.Is(err, redis.Nil), ctx.Err() != nil:
		default:
			c.log.Warn("brpop failed", logger.Int("worker", id), logger.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(c.cfg.BlockTimeout):
			}
		}
	}
}

// process handles one raw envelope and decides its fate on failure.
func (c *RedisConsumer) process(ctx context.Context, raw string) {
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		c.log.Error("undecodable message", logger.Error(err))
		c.bury(ctx, raw)
		return
	}
	h, ok := c.handlers[msg.Type]
	if !ok {
		c.log.Error("message dropped", logger.String("id", msg.ID), logger.Error(fmt.Errorf("%w %q", ErrUnknownType, msg.Type)))
		c.bury(ctx, raw)
		return
	}

	err := h.Handle(ctx, msg.Payload)
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		// shutdown mid-message: put it back untouched
		c.retryAt(context.Background(), msg, c.now())
		return
	}

	msg.Attempts++
	if msg.Attempts > c.cfg.MaxRetries || errors.Is(err, ErrPermanent) {
		c.log.Error("message out of attempts",
			logger.String("id", msg.ID),
			logger.String("type", msg.Type),
			logger.Int("attempts", msg.Attempts),
			logger.Error(err))
		if data, mErr := json.Marshal(msg); mErr == nil {
			c.bury(ctx, string(data))
		}
		return
	}
	c.log.Warn("message failed, retry scheduled",
		logger.String("id", msg.ID),
		logger.String("type", msg.Type),
		logger.Int("attempt", msg.Attempts),
		logger.Error(err))
	c.retryAt(ctx, msg, c.now().Add(c.cfg.RetryDelay))
}

func (c *RedisConsumer) retryAt(ctx context.Context, msg Message, at time.Time) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("marshal retry", logger.Error(err))
		return
	}
	z := redis.Z{Score: float64(at.UnixMilli()), Member: string(data)}
	if err := c.client.ZAdd(ctx, c.keys.Retry(), z).Err(); err != nil {
		c.log.Error("schedule retry failed", logger.String("id", msg.ID), logger.Error(err))
	}
}

func (c *RedisConsumer) bury(ctx context.Context, raw string) {
	if err := c.client.LPush(ctx, c.keys.Dead(), raw).Err(); err != nil {
		c.log.Error("dead-letter push failed", logger.Error(err))
	}
}

func (c *RedisConsumer) moveRetries(ctx context.Context) {
	defer c.wg.Done()
	t := time.NewTicker(c.cfg.RetryPoll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := c.promoteDue(ctx); err != nil && ctx.Err() == nil {
				c.log.Warn("retry promotion failed", logger.Error(err))
			}
		}
	}
}

// promoteDue moves due retries back onto the message list. ZREM acts as the claim so
// two consumers never requeue the same entry.
func (c *RedisConsumer) promoteDue(ctx context.Context) (int, error) {
	due, err := c.client.ZRangeByScore(ctx, c.keys.Retry(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(c.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, m := range due {
		n, err := c.client.ZRem(ctx, c.keys.Retry(), m).Result()
		if err != nil {
			return moved, err
		}
		if n == 0 {
			continue
		}
		if err := c.client.LPush(ctx, c.keys.Messages(), m).Err(); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}
