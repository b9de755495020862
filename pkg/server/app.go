package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"LevPair/internal/middleware"
	"LevPair/internal/usecase"
	"LevPair/pkg/config"
	xhttp "LevPair/pkg/http"
	pkgkafka "LevPair/pkg/kafka"
	applogger "LevPair/pkg/logger"
	"LevPair/pkg/natsx"
	"LevPair/pkg/queue"
)

// closer releases one infrastructure client during shutdown.
type closer struct {
	name string
	fn   func() error
}

// App encapsulates the entire application lifecycle: outcome intake, the engine loop,
// the HTTP API and the infrastructure clients they share.
type App struct {
	cfg    *config.Config
	log    *applogger.Logger
	engine *usecase.Engine
	inbox  *middleware.OutcomeInbox

	consumer     *pkgkafka.Consumer
	kafkaHandler pkgkafka.Handler
	natsClient   *natsx.Client
	natsHandler  natsx.MessageHandler
	natsSub      jetstream.ConsumeContext
	outcomeQueue *queue.RedisConsumer

	httpServer  *xhttp.Server
	httpHandler xhttp.Routes

	closers []closer
}

// Option configures optional parts of the App.
type Option func(*App)

// WithKafkaOutcomes consumes trade outcomes from Kafka.
func WithKafkaOutcomes(c *pkgkafka.Consumer, h pkgkafka.Handler) Option {
	return func(a *App) { a.consumer, a.kafkaHandler = c, h }
}

// WithNATSOutcomes consumes trade outcomes from a JetStream subject.
func WithNATSOutcomes(c *natsx.Client, h natsx.MessageHandler) Option {
	return func(a *App) { a.natsClient, a.natsHandler = c, h }
}

// WithOutcomeQueue consumes trade outcomes from the Redis work queue.
func WithOutcomeQueue(q *queue.RedisConsumer) Option {
	return func(a *App) { a.outcomeQueue = q }
}

// WithHTTPHandler registers the API routes.
func WithHTTPHandler(h xhttp.Routes) Option {
	return func(a *App) { a.httpHandler = h }
}

// WithCloser adds a client to close on shutdown. Closers run in reverse order.
func WithCloser(name string, fn func() error) Option {
	return func(a *App) {
		if fn != nil {
			a.closers = append(a.closers, closer{name: name, fn: fn})
		}
	}
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, l *applogger.Logger, engine *usecase.Engine, inbox *middleware.OutcomeInbox, opts ...Option) *App {
	if l == nil {
		l = applogger.Nop()
	}
	a := &App{cfg: cfg, log: l, engine: engine, inbox: inbox}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Engine exposes the engine for one-shot commands.
func (a *App) Engine() *usecase.Engine { return a.engine }

// Logger returns the application logger.
func (a *App) Logger() *applogger.Logger { return a.log }

// Run restores state, starts intake and the engine loop, and blocks until interrupted
// or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.engine.LoadState()

	engineCtx, cancelEngine := context.WithCancel(context.Background())
	defer cancelEngine()
	engineDone := make(chan error, 1)
	go func() { engineDone <- a.engine.Run(engineCtx) }()

	if err := a.startIntake(ctx); err != nil {
		a.log.Error("intake start failed", applogger.Error(err))
		cancelEngine()
		<-engineDone
		a.closeAll()
		return err
	}

	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case err := <-engineDone:
		// the loop only returns on cancellation; anything else is fatal
		a.log.Error("engine loop exited", applogger.Error(err))
		a.stopIntake()
		a.closeAll()
		return err
	}

	a.stopIntake()
	cancelEngine()
	select {
	case err := <-engineDone:
		if err != nil {
			a.log.Warn("engine stop error", applogger.Error(err))
		}
	case <-time.After(a.cfg.Server.ShutdownTimeout):
		a.log.Warn("engine did not stop in time")
	}
	a.closeAll()
	a.log.Info("shutdown complete")
	return nil
}

func (a *App) startIntake(ctx context.Context) error {
	if a.cfg.Server.Enabled {
		scfg := xhttp.ServerConfig{
			Host:            a.cfg.Server.Host,
			Port:            a.cfg.Server.Port,
			ReadTimeout:     a.cfg.Server.ReadTimeout,
			WriteTimeout:    a.cfg.Server.WriteTimeout,
			ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
			CORSOrigins:     a.cfg.Server.CORSOrigins,
		}
		if a.cfg.Metrics.Enabled {
			scfg.MetricsPath = a.cfg.Metrics.Path
		}
		a.httpServer = xhttp.NewServer(scfg, a.httpHandler, a.log)
		if err := a.httpServer.Start(); err != nil {
			return err
		}
	}

	if a.consumer != nil && a.kafkaHandler != nil {
		if err := a.consumer.Start(a.kafkaHandler); err != nil {
			return err
		}
		a.log.Info("kafka outcome consumer started", applogger.String("topic", a.kafkaHandler.Topic()))
	}

	if a.natsClient != nil && a.natsHandler != nil {
		sub, err := a.natsClient.Subscribe(ctx, a.cfg.NATS.OutcomesSubject, a.cfg.NATS.Durable, a.natsHandler)
		if err != nil {
			return err
		}
		a.natsSub = sub
		a.log.Info("nats outcome consumer started", applogger.String("subject", a.cfg.NATS.OutcomesSubject))
	}

	if a.outcomeQueue != nil {
		if err := a.outcomeQueue.Start(); err != nil {
			return err
		}
		a.log.Info("redis outcome queue started", applogger.String("queue", a.cfg.Outcomes.QueueName))
	}
	return nil
}

// stopIntake stops every producer of inbox items, then closes the inbox so the loop
// can apply what is left.
func (a *App) stopIntake() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if a.natsSub != nil {
		a.natsSub.Stop()
	}
	if a.outcomeQueue != nil {
		if err := a.outcomeQueue.Stop(ctx); err != nil {
			a.log.Warn("outcome queue stop error", applogger.Error(err))
		}
	}
	a.inbox.Close()
}

// Close releases infrastructure clients without running the loop, for one-shot commands.
func (a *App) Close() error {
	a.inbox.Close()
	return a.closeAll()
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.log.Warn("close failed", applogger.String("client", c.name), applogger.Error(err))
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
