package natsx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	applogger "LevPair/pkg/logger"
)

// Config holds NATS client configuration.
type Config struct {
	URL           string
	StreamName    string
	Subjects      []string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
	MaxAge        time.Duration
}

// DefaultConfig returns local defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		StreamName:    "LEVPAIR",
		Subjects:      []string{"levpair.>"},
		MaxReconnects: 10,
		ReconnectWait: time.Second,
		Timeout:       5 * time.Second,
		MaxAge:        7 * 24 * time.Hour,
	}
}

// Client wraps a NATS connection with JetStream.
type Client struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	cfg Config
	log *applogger.Logger
}

// NewClient connects and makes sure the stream exists.
func NewClient(ctx context.Context, cfg Config, l *applogger.Logger) (*Client, error) {
	if l == nil {
		l = applogger.Nop()
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("levpair"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				l.Warn("nats disconnected", applogger.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			l.Info("nats reconnected", applogger.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	c := &Client{nc: nc, js: js, cfg: cfg, log: l}
	if err := c.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) ensureStream(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       c.cfg.StreamName,
		Subjects:   c.cfg.Subjects,
		Retention:  jetstream.LimitsPolicy,
		Storage:    jetstream.FileStorage,
		MaxAge:     c.cfg.MaxAge,
		Duplicates: 10 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", c.cfg.StreamName, err)
	}
	return nil
}

// Publish sends data to subject. A non-empty msgID lets the server drop duplicates.
func (c *Client) Publish(ctx context.Context, subject string, data []byte, msgID string) error {
	var opts []jetstream.PublishOpt
	if msgID != "" {
		opts = append(opts, jetstream.WithMsgID(msgID))
	}
	if _, err := c.js.Publish(ctx, subject, data, opts...); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// ErrPermanent marks handler errors that must not be redelivered.
var ErrPermanent = errors.New("permanent failure")

// MessageHandler processes one message. Returning an error wrapping ErrPermanent
// terminates the message; any other error asks for redelivery.
type MessageHandler func(ctx context.Context, subject string, data []byte) error

// Subscribe consumes subject with a durable consumer until Stop is called on the result.
func (c *Client) Subscribe(ctx context.Context, subject, durable string, handler MessageHandler) (jetstream.ConsumeContext, error) {
	consumer, err := c.js.CreateOrUpdateConsumer(ctx, c.cfg.StreamName, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer %s: %w", durable, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		err := handler(ctx, msg.Subject(), msg.Data())
		switch {
		case err == nil:
			_ = msg.Ack()
		case errors.Is(err, ErrPermanent):
			c.log.Warn("nats message dropped", applogger.String("subject", msg.Subject()), applogger.Error(err))
			_ = msg.Term()
		default:
			_ = msg.NakWithDelay(time.Second)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", subject, err)
	}
	return cc, nil
}

// Close drains and closes the connection.
func (c *Client) Close() error {
	if c.nc == nil {
		return nil
	}
	if err := c.nc.Drain(); err != nil {
		c.nc.Close()
		return err
	}
	return nil
}

// IsConnected reports connection health.
func (c *Client) IsConnected() bool {
	return c.nc != nil && c.nc.IsConnected()
}
