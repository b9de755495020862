package di

import (
	"context"
	"fmt"
	"time"

	"LevPair/internal/domain/models"
	"LevPair/internal/domain/repository"
	domservice "LevPair/internal/domain/service"
	api "LevPair/internal/handler/api"
	mid "LevPair/internal/middleware"
	internalrepo "LevPair/internal/repository"
	"LevPair/internal/services/adaptive"
	"LevPair/internal/services/arbiter"
	"LevPair/internal/services/ensemble"
	"LevPair/internal/services/features"
	"LevPair/internal/services/memory"
	"LevPair/internal/services/synthetic"
	"LevPair/internal/services/trend"
	"LevPair/internal/usecase"
	"LevPair/pkg/cache"
	pkgch "LevPair/pkg/clickhouse"
	"LevPair/pkg/config"
	pkgkafka "LevPair/pkg/kafka"
	applogger "LevPair/pkg/logger"
	"LevPair/pkg/metrics"
	"LevPair/pkg/natsx"
	"LevPair/pkg/queue"
	"LevPair/pkg/server"
	xutil "LevPair/pkg/util"
)

// syntheticHistory is how many one-minute bars the synthetic source generates past warmup.
const syntheticHistory = 7 * 24 * 60

// ProvideLogger builds the application logger. Digests go to Kafka when the collector is on.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(&cfg.Logger.Config)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Logger.Collector.Enabled && producer != nil {
		l.Collect(applogger.NewCollector(applogger.CollectorConfig{
			Source:    cfg.Logger.Collector.Source,
			Topic:     cfg.Logger.Collector.Topic,
			Interval:  cfg.Logger.Collector.Interval,
			Threshold: cfg.Logger.Collector.CountThreshold,
			Publisher: internalrepo.NewKafkaLogSink(producer, cfg.Logger.Collector.Source),
		}))
	}
	return l.With(applogger.String("strategy", cfg.Pair.Strategy)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient creates a ClickHouse client and its tables. Nil when disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(context.Background(), pkgch.Config{
		Host:             cfg.ClickHouse.Host,
		Port:             cfg.ClickHouse.Port,
		Database:         cfg.ClickHouse.Database,
		User:             cfg.ClickHouse.User,
		Password:         cfg.ClickHouse.Password,
		UseHTTP:          cfg.ClickHouse.UseHTTP,
		DialTimeout:      cfg.ClickHouse.DialTimeout,
		ReadTimeout:      cfg.ClickHouse.ReadTimeout,
		AsyncInsert:      cfg.ClickHouse.AsyncInsert,
		WaitForAsync:     cfg.ClickHouse.WaitForAsync,
		MaxExecutionTime: cfg.ClickHouse.MaxExecutionTime,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", cfg.ClickHouse.Database)}
	if cfg.Market.Source == "clickhouse" {
		stmts = append(stmts, internalrepo.CandlesSchema(cfg.ClickHouse.Database+"."+cfg.ClickHouse.CandlesTable))
	}
	if cfg.ClickHouse.Journal || cfg.Events.Journal {
		stmts = append(stmts, internalrepo.JournalSchema(cfg.ClickHouse.Database)...)
	}
	if err := client.Exec(ctx, stmts...); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideKafkaProducer creates a Kafka producer. Nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(pkgkafka.ProducerConfig{
		Brokers:      cfg.Kafka.Brokers,
		RequiredAcks: cfg.Kafka.RequiredAcks,
		Compression:  cfg.Kafka.Compression,
		MaxAttempts:  cfg.Kafka.Producer.MaxAttempts,
		BatchSize:    cfg.Kafka.Producer.BatchSize,
		BatchBytes:   cfg.Kafka.Producer.BatchBytes,
		Linger:       cfg.Kafka.Producer.Linger,
		WriteTimeout: cfg.Kafka.Producer.WriteTimeout,
		ReadTimeout:  cfg.Kafka.Producer.ReadTimeout,
		Async:        cfg.Kafka.Producer.Async,
	})
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaConsumer creates the outcome consumer configured from YAML. Nil when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
		Brokers:    cfg.Kafka.Brokers,
		GroupID:    cfg.Kafka.Consumer.GroupID,
		Workers:    cfg.Kafka.Consumer.Workers,
		RetryMax:   cfg.Kafka.Consumer.RetryMax,
		BackoffMin: cfg.Kafka.Consumer.BackoffMin,
		BackoffMax: cfg.Kafka.Consumer.BackoffMax,
		DLQTopic:   cfg.Kafka.Consumer.DLQTopic,
		MinBytes:   cfg.Kafka.Consumer.MinBytes,
		MaxBytes:   cfg.Kafka.Consumer.MaxBytes,
	}, l)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideNATSClient connects to JetStream. Nil when NATS is disabled.
func ProvideNATSClient(cfg *config.Config, l *applogger.Logger) (*natsx.Client, error) {
	if !cfg.NATS.Enabled {
		return nil, nil
	}
	ncfg := natsx.DefaultConfig()
	ncfg.URL = cfg.NATS.URL
	ncfg.StreamName = cfg.NATS.Stream
	ncfg.Subjects = []string{cfg.NATS.Subject + ".>", cfg.NATS.OutcomesSubject}
	ncfg.MaxReconnects = cfg.NATS.MaxReconnects
	ncfg.Timeout = cfg.NATS.Timeout

	ctx, cancel := context.WithTimeout(context.Background(), cfg.NATS.Timeout)
	defer cancel()
	client, err := natsx.NewClient(ctx, ncfg, l)
	if err != nil {
		return nil, fmt.Errorf("nats client: %w", err)
	}
	return client, nil
}

// ProvideRedisCache connects to Redis. Nil when Redis is disabled.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(context.Background(), cache.RedisConfig{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.PoolSize / 2,
		PoolTimeout:  5 * time.Second,
		Prefix:       cfg.Redis.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return rc, nil
}

// ProvideCache layers an in-process LRU over Redis when Redis is available.
func ProvideCache(cfg *config.Config, rc *cache.RedisCache) cache.Service {
	if rc != nil {
		return cache.NewLayeredCache(rc, cfg.Cache.MaxEntries, cfg.Cache.LocalTTL)
	}
	return cache.NewMemoryCache(cfg.Cache.MaxEntries)
}

func symbols(cfg *config.Config) map[models.Instrument]string {
	return map[models.Instrument]string{
		models.InstrumentA: cfg.Pair.SymbolA,
		models.InstrumentB: cfg.Pair.SymbolB,
	}
}

func leverage(cfg *config.Config) map[models.Instrument]float64 {
	return map[models.Instrument]float64{
		models.InstrumentA: cfg.Pair.LeverageA,
		models.InstrumentB: cfg.Pair.LeverageB,
	}
}

func featureInstrument(cfg *config.Config) models.Instrument {
	inst, err := models.ParseInstrument(cfg.Pair.FeatureInstrument)
	if err != nil {
		return models.InstrumentA
	}
	return inst
}

// warmupBars is the number of one-minute bars every timeframe and the feature window need.
func warmupBars(cfg *config.Config) int {
	need := cfg.Features.Lookback * int(xutil.IntervalDuration(cfg.Features.Interval)/time.Minute)
	for _, tf := range cfg.Trend.Timeframes {
		if n := (tf.Window + 1) * int(xutil.IntervalDuration(tf.Interval)/time.Minute); n > need {
			need = n
		}
	}
	return need
}

// ProvideSyntheticGenerator builds the generator used for seeding pattern memory.
func ProvideSyntheticGenerator(cfg *config.Config) (*synthetic.Generator, error) {
	return synthetic.New(syntheticConfig(cfg))
}

func syntheticConfig(cfg *config.Config) synthetic.Config {
	scfg := synthetic.DefaultConfig()
	scfg.Seed = cfg.Synthetic.Seed
	scfg.Window = cfg.Synthetic.Window
	scfg.Horizon = cfg.Synthetic.Horizon
	scfg.Stride = cfg.Synthetic.Stride
	scfg.StartPrice = cfg.Synthetic.StartPrice
	scfg.DriftPct = cfg.Synthetic.DriftPct
	scfg.VolPct = cfg.Synthetic.VolPct
	scfg.RegimeBars = cfg.Synthetic.RegimeBars
	scfg.Interval = cfg.Features.Interval
	scfg.Leverage = leverage(cfg)
	scfg.FeatureFrom = featureInstrument(cfg)
	return scfg
}

// ProvideBarSource selects the market data source and wraps it in the cache, rate limit
// and circuit breaker guard.
func ProvideBarSource(cfg *config.Config, ch *pkgch.Client, c cache.Service, l *applogger.Logger) (repository.BarSource, error) {
	var (
		inner repository.BarSource
		err   error
	)
	switch cfg.Market.Source {
	case "clickhouse":
		inner, err = internalrepo.NewCHBarSource(ch, cfg.ClickHouse.Database+"."+cfg.ClickHouse.CandlesTable, l)
	case "http":
		inner, err = internalrepo.NewHTTPBarSource(cfg.Market.BaseURL, cfg.Market.APIKey, cfg.Market.Timeout, 3, l)
	default:
		// the live walk is seeded apart from the seeding generator so it does not replay its patterns
		warmup := warmupBars(cfg)
		scfg := syntheticConfig(cfg)
		scfg.Seed++
		scfg.Interval = "1m"
		scfg.Start = time.Now().UTC().Truncate(time.Minute).Add(-time.Duration(warmup) * time.Minute)
		gen, gerr := synthetic.New(scfg)
		if gerr != nil {
			return nil, gerr
		}
		inner, err = internalrepo.NewSyntheticBarSource(gen, symbols(cfg), warmup+syntheticHistory, warmup, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("bar source %s: %w", cfg.Market.Source, err)
	}
	return internalrepo.NewGuardedBarSource(inner, c, internalrepo.GuardConfig{
		Name:        cfg.Market.Source,
		RateLimit:   cfg.Market.RateLimit,
		CacheTTL:    cfg.Market.CacheTTL,
		MaxFailures: cfg.Market.Breaker.MaxFailures,
		OpenTimeout: cfg.Market.Breaker.OpenTimeout,
	}, l), nil
}

// ProvideJournal returns the ClickHouse trade journal, or nil when it is off.
func ProvideJournal(cfg *config.Config, ch *pkgch.Client) (*internalrepo.CHJournal, error) {
	if ch == nil || !(cfg.ClickHouse.Journal || cfg.Events.Journal) {
		return nil, nil
	}
	return internalrepo.NewCHJournal(ch, cfg.ClickHouse.Database)
}

// ProvideOutcomeJournal exposes the journal as an OutcomeJournal without leaking a typed nil.
func ProvideOutcomeJournal(cfg *config.Config, j *internalrepo.CHJournal) repository.OutcomeJournal {
	if j == nil || !cfg.ClickHouse.Journal {
		return nil
	}
	return j
}

// ProvideEventPublisher fans events out to every configured sink.
func ProvideEventPublisher(
	cfg *config.Config,
	l *applogger.Logger,
	producer *pkgkafka.Producer,
	nc *natsx.Client,
	rc *cache.RedisCache,
	j *internalrepo.CHJournal,
) repository.EventPublisher {
	var sinks []repository.EventPublisher
	if cfg.Events.Log {
		sinks = append(sinks, internalrepo.NewLogPublisher(l))
	}
	if cfg.Events.Kafka && producer != nil {
		sinks = append(sinks, internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.EventsTopic))
	}
	if cfg.Events.NATS && nc != nil {
		sinks = append(sinks, internalrepo.NewNATSEventPublisher(nc, cfg.NATS.Subject))
	}
	if cfg.Events.Queue && rc != nil {
		sinks = append(sinks, internalrepo.NewQueueEventPublisher(queue.NewRedisPublisher(rc.Client(), cfg.Events.QueueName)))
	}
	if cfg.Events.Journal && j != nil {
		sinks = append(sinks, j)
	}
	return internalrepo.NewMultiPublisher(sinks...)
}

// ProvideDeduplicator claims trade ids in Redis so several engines never apply one outcome twice.
func ProvideDeduplicator(cfg *config.Config, rc *cache.RedisCache) repository.Deduplicator {
	if rc == nil {
		return nil
	}
	return internalrepo.NewCacheDeduplicator(rc, cfg.Pair.Strategy, cfg.Cache.DedupTTL)
}

// ProvideStateStore creates the atomic file store under persistence.dir.
func ProvideStateStore(cfg *config.Config) (repository.StateStore, error) {
	return internalrepo.NewFileStateStore(cfg.Persistence.Dir)
}

// ProvideOutcomeInbox builds the bounded, per-instrument throttled inbox.
func ProvideOutcomeInbox(cfg *config.Config, m repository.Metrics) *mid.OutcomeInbox {
	return mid.NewOutcomeInbox(m,
		mid.WithMaxRPS(cfg.Outcomes.MaxRPS),
		mid.WithBufferSize(cfg.Outcomes.BufferSize),
	)
}

func ProvideFeatureExtractor() domservice.FeatureExtractor {
	return features.NewStore()
}

func ProvideTrendFuser(cfg *config.Config) *trend.Fuser {
	tfs := make([]trend.Timeframe, 0, len(cfg.Trend.Timeframes))
	for _, tf := range cfg.Trend.Timeframes {
		tfs = append(tfs, trend.Timeframe{
			Name:             tf.Name,
			Interval:         tf.Interval,
			Window:           tf.Window,
			Checks:           tf.Checks,
			MoveThresholdPct: tf.MoveThresholdPct,
			Weight:           tf.Weight,
			Cap:              tf.Cap,
			Amplification:    tf.Amplification,
		})
	}
	return trend.NewFuser(trend.Config{
		Timeframes:       tfs,
		DominanceMargin:  cfg.Trend.DominanceMargin,
		MajorityFraction: cfg.Trend.MajorityFraction,
		WeakThresholdPct: cfg.Trend.WeakThresholdPct,
		WeakStrength:     cfg.Trend.WeakStrength,
		MinimalStrength:  cfg.Trend.MinimalStrength,
	})
}

func ProvideModelBank(cfg *config.Config, l *applogger.Logger) (*ensemble.Bank, error) {
	ec := cfg.Ensemble
	tree := ensemble.TreeConfig{Trees: ec.Trees, MaxDepth: ec.MaxDepth, MinLeaf: ec.MinLeaf}
	return ensemble.NewBank(ensemble.Config{
		Seed:          ec.Seed,
		Members:       ec.Members,
		InitialWeight: ec.InitialWeight,
		Forest:        tree,
		ExtraTrees:    tree,
		Boosting: ensemble.BoostingConfig{
			Rounds:       ec.Boosting.Rounds,
			MaxDepth:     ec.Boosting.MaxDepth,
			MinLeaf:      ec.MinLeaf,
			LearningRate: ec.Boosting.LearningRate,
		},
		Logistic: ensemble.LogisticConfig{
			LearningRate: ec.Logistic.LearningRate,
			Epochs:       ec.Logistic.Epochs,
			L2:           ec.Logistic.L2,
		},
	}, ensemble.WithLogger(l))
}

func ProvideConfidencePolicy(cfg *config.Config) ensemble.ConfidencePolicy {
	return ensemble.ConfidencePolicy{
		Mode:  ensemble.ConfidenceMode(cfg.Confidence.Mode),
		Floor: cfg.Confidence.Floor,
		Scale: cfg.Confidence.Scale,
	}
}

func ProvidePatternMemory(cfg *config.Config) *memory.Memory {
	mc := cfg.Memory
	return memory.New(memory.Config{
		WinnerCapacity:     mc.WinnerCapacity,
		LoserCapacity:      mc.LoserCapacity,
		RecentWinners:      mc.RecentWinners,
		RecentLosers:       mc.RecentLosers,
		Oversample:         mc.Oversample,
		MinSamples:         mc.MinSamples,
		MaxTrainingSamples: mc.MaxTrainingSamples,
		IncludeSynthetic:   mc.IncludeSynthetic,
	})
}

func ProvideController(cfg *config.Config) *adaptive.Controller {
	ac := cfg.Adaptive
	return adaptive.New(adaptive.Config{
		WinMultiplier:       ac.WinMultiplier,
		LossDivisor:         ac.LossDivisor,
		WeightCeiling:       ac.WeightCeiling,
		WeightFloor:         ac.WeightFloor,
		InitialThreshold:    ac.InitialThreshold,
		ThresholdCandidates: ac.ThresholdCandidates,
		EvalWindow:          ac.EvalWindow,
		MinTrades:           ac.MinTrades,
		ThresholdEvery:      ac.ThresholdEvery,
		WinRateWeight:       ac.WinRateWeight,
		FrequencyWeight:     ac.FrequencyWeight,
		MaxTrackedIDs:       ac.MaxTrackedIDs,
	})
}

func ProvideArbiter(cfg *config.Config) *arbiter.Arbiter {
	return arbiter.New(arbiter.Config{
		ReverseOnExit: cfg.Arbiter.ReverseOnExit,
		MaxHold:       cfg.Arbiter.MaxHold,
		StopLossPct:   cfg.Arbiter.StopLossPct,
		TakeProfitPct: cfg.Arbiter.TakeProfitPct,
		Leverage:      leverage(cfg),
		Favorable: map[models.Instrument]models.Direction{
			models.InstrumentA: models.Direction(cfg.Pair.FavorableA),
			models.InstrumentB: models.Direction(cfg.Pair.FavorableB),
		},
	})
}

// ProvideEngineConfig maps the YAML settings onto the engine.
func ProvideEngineConfig(cfg *config.Config) usecase.Config {
	return usecase.Config{
		Strategy:          cfg.Pair.Strategy,
		Symbols:           symbols(cfg),
		Leverage:          leverage(cfg),
		FeatureInstrument: featureInstrument(cfg),
		FeatureInterval:   repository.NormalizeInterval(cfg.Features.Interval),
		FeatureLookback:   cfg.Features.Lookback,
		PollInterval:      cfg.Engine.PollInterval,
		CycleTimeout:      cfg.Engine.CycleTimeout,
		MaxInboxDrain:     cfg.Engine.MaxInboxDrain,
		PaperOutcomes:     cfg.Engine.PaperOutcomes,
		SaveOnChange:      cfg.Persistence.SaveOnChange,
		RetrainOn:         cfg.Memory.RetrainOn,
		RetrainEvery:      cfg.Memory.RetrainEvery,
	}
}

func ProvideEngine(ecfg usecase.Config, c usecase.Components, l *applogger.Logger) (*usecase.Engine, error) {
	return usecase.NewEngine(ecfg, c, usecase.WithLogger(l))
}

// ProvideKafkaOutcomesHandler consumes the outcomes topic.
func ProvideKafkaOutcomesHandler(cfg *config.Config, inbox *mid.OutcomeInbox, m repository.Metrics) *usecase.KafkaOutcomesHandler {
	return usecase.NewKafkaOutcomesHandler(cfg.Outcomes.KafkaTopic, inbox, m)
}

// ProvideOutcomeQueue is the Redis work queue carrying outcomes. Nil unless enabled.
func ProvideOutcomeQueue(cfg *config.Config, l *applogger.Logger, rc *cache.RedisCache, inbox *mid.OutcomeInbox, m repository.Metrics) *queue.RedisConsumer {
	if rc == nil || !cfg.Outcomes.Queue {
		return nil
	}
	return queue.NewRedisConsumer(rc.Client(), queue.Config{
		Prefix:     cfg.Outcomes.QueueName,
		Workers:    cfg.Outcomes.QueueWorkers,
		MaxRetries: cfg.Outcomes.QueueRetries,
		RetryDelay: time.Second,
	}, l, usecase.NewOutcomeJob(inbox, m))
}

func ProvideEngineHandler(l *applogger.Logger, engine *usecase.Engine, inbox *mid.OutcomeInbox) *api.EngineHandler {
	return api.NewEngineHandler(l, engine, inbox)
}

// ProvideApp creates the application server and registers what it must close.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	engine *usecase.Engine,
	inbox *mid.OutcomeInbox,
	m repository.Metrics,
	handler *api.EngineHandler,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaOutcomesHandler,
	nc *natsx.Client,
	oq *queue.RedisConsumer,
	events repository.EventPublisher,
	producer *pkgkafka.Producer,
	c cache.Service,
	ch *pkgch.Client,
) *server.App {
	opts := []server.Option{server.WithHTTPHandler(handler)}
	if consumer != nil {
		opts = append(opts, server.WithKafkaOutcomes(consumer, kh))
	}
	if nc != nil && cfg.NATS.Outcomes {
		opts = append(opts, server.WithNATSOutcomes(nc, usecase.NATSOutcomesHandler(inbox, m)))
	}
	if oq != nil {
		opts = append(opts, server.WithOutcomeQueue(oq))
	}

	// closed in reverse: sinks first, then the clients they write through
	if ch != nil {
		opts = append(opts, server.WithCloser("clickhouse", ch.Close))
	}
	// the layered cache closes Redis as well
	opts = append(opts, server.WithCloser("cache", c.Close))
	if producer != nil {
		opts = append(opts, server.WithCloser("kafka producer", producer.Close))
	}
	if nc != nil {
		opts = append(opts, server.WithCloser("nats", nc.Close))
	}
	opts = append(opts, server.WithCloser("events", events.Close))
	// flushes pending log digests through the producer before it closes
	opts = append(opts, server.WithCloser("log collector", l.Close))
	return server.New(cfg, l, engine, inbox, opts...)
}
