package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"LevPair/pkg/logger"
	xutil "LevPair/pkg/util"
)

type TimeframeConfig struct {
	Name             string  `yaml:"name" validate:"required"`
	Interval         string  `yaml:"interval" validate:"oneof=1m 5m 15m 1h 1d"`
	Window           int     `yaml:"window" validate:"gte=2"`
	Checks           int     `yaml:"checks" validate:"gte=1"`
	MoveThresholdPct float64 `yaml:"move_threshold_pct" validate:"gte=0"`
	Weight           float64 `yaml:"weight" validate:"gte=0"`
	Cap              float64 `yaml:"cap" default:"0.95" validate:"gt=0,lte=1"`
	Amplification    float64 `yaml:"amplification" default:"1.2" validate:"gt=0"`
}

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"oneof=development staging production test"`
	Server      struct {
		Enabled         bool          `yaml:"enabled" default:"true"`
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080" validate:"gte=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		CORSOrigins     []string      `yaml:"cors_origins" default:"[\"*\"]"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Logger struct {
		logger.Config `yaml:",inline"`
		Collector     struct {
			Enabled        bool          `yaml:"enabled"`
			Source         string        `yaml:"source" default:"levpair"`
			Interval       time.Duration `yaml:"interval" default:"1m"`
			CountThreshold int           `yaml:"count_threshold" default:"50"`
			Topic          string        `yaml:"topic" default:"levpair.logs"`
		} `yaml:"collector"`
	} `yaml:"logger"`
	Pair struct {
		Strategy          string  `yaml:"strategy" default:"levpair" validate:"required"`
		SymbolA           string  `yaml:"symbol_a" default:"TQQQ" validate:"required"`
		SymbolB           string  `yaml:"symbol_b" default:"SQQQ" validate:"required,nefield=SymbolA"`
		LeverageA         float64 `yaml:"leverage_a" default:"3" validate:"gt=0"`
		LeverageB         float64 `yaml:"leverage_b" default:"3" validate:"gt=0"`
		FavorableA        string  `yaml:"favorable_a" default:"UP" validate:"oneof=UP DOWN"`
		FavorableB        string  `yaml:"favorable_b" default:"UP" validate:"oneof=UP DOWN"`
		FeatureInstrument string  `yaml:"feature_instrument" default:"A" validate:"oneof=A B"`
	} `yaml:"pair"`
	Features struct {
		Interval string `yaml:"interval" default:"1m" validate:"oneof=1m 5m 15m 1h 1d"`
		Lookback int    `yaml:"lookback" default:"60" validate:"gte=21"`
	} `yaml:"features"`
	Trend struct {
		Timeframes       []TimeframeConfig `yaml:"timeframes" validate:"dive"`
		DominanceMargin  float64           `yaml:"dominance_margin" default:"0.3" validate:"gte=0"`
		MajorityFraction float64           `yaml:"majority_fraction" default:"0.3" validate:"gt=0,lte=1"`
		WeakThresholdPct float64           `yaml:"weak_threshold_pct" default:"0.02" validate:"gte=0"`
		WeakStrength     float64           `yaml:"weak_strength" default:"0.2" validate:"gte=0,lte=1"`
		MinimalStrength  float64           `yaml:"minimal_strength" default:"0.05" validate:"gte=0,lte=1"`
	} `yaml:"trend"`
	Memory struct {
		WinnerCapacity     int    `yaml:"winner_capacity" default:"1000" validate:"gte=1"`
		LoserCapacity      int    `yaml:"loser_capacity" default:"100" validate:"gte=1"`
		RecentWinners      int    `yaml:"recent_winners" default:"50" validate:"gte=1"`
		RecentLosers       int    `yaml:"recent_losers" default:"20" validate:"gte=0"`
		Oversample         int    `yaml:"oversample" default:"3" validate:"gte=1"`
		MinSamples         int    `yaml:"min_samples" default:"30" validate:"gte=2"`
		MaxTrainingSamples int    `yaml:"max_training_samples" default:"500" validate:"gtefield=MinSamples"`
		IncludeSynthetic   bool   `yaml:"include_synthetic"`
		RetrainOn          string `yaml:"retrain_on" default:"count" validate:"oneof=trade count"`
		RetrainEvery       int    `yaml:"retrain_every" default:"10" validate:"gte=1"`
	} `yaml:"memory"`
	Ensemble struct {
		Seed          int64    `yaml:"seed" default:"42"`
		Members       []string `yaml:"members" validate:"dive,oneof=random_forest extra_trees gradient_boosting logistic"`
		InitialWeight float64  `yaml:"initial_weight" default:"1" validate:"gt=0"`
		Trees         int      `yaml:"trees" default:"30" validate:"gte=1"`
		MaxDepth      int      `yaml:"max_depth" default:"6" validate:"gte=1"`
		MinLeaf       int      `yaml:"min_leaf" default:"2" validate:"gte=1"`
		Boosting      struct {
			Rounds       int     `yaml:"rounds" default:"40" validate:"gte=1"`
			MaxDepth     int     `yaml:"max_depth" default:"3" validate:"gte=1"`
			LearningRate float64 `yaml:"learning_rate" default:"0.1" validate:"gt=0,lte=1"`
		} `yaml:"boosting"`
		Logistic struct {
			LearningRate float64 `yaml:"learning_rate" default:"0.05" validate:"gt=0"`
			Epochs       int     `yaml:"epochs" default:"150" validate:"gte=1"`
			L2           float64 `yaml:"l2" default:"0.001" validate:"gte=0"`
		} `yaml:"logistic"`
	} `yaml:"ensemble"`
	Adaptive struct {
		WinMultiplier       float64   `yaml:"win_multiplier" default:"1.5" validate:"gt=1"`
		LossDivisor         float64   `yaml:"loss_divisor" default:"2" validate:"gt=1"`
		WeightCeiling       float64   `yaml:"weight_ceiling" default:"5" validate:"gt=0"`
		WeightFloor         float64   `yaml:"weight_floor" default:"0.05" validate:"gt=0"`
		InitialThreshold    float64   `yaml:"initial_threshold" default:"0.6" validate:"gte=0,lte=1"`
		ThresholdCandidates []float64 `yaml:"threshold_candidates" validate:"dive,gte=0,lte=1"`
		EvalWindow          int       `yaml:"eval_window" default:"50" validate:"gte=1"`
		MinTrades           int       `yaml:"min_trades" default:"5" validate:"gte=1"`
		ThresholdEvery      int       `yaml:"threshold_every" default:"10" validate:"gte=1"`
		WinRateWeight       float64   `yaml:"win_rate_weight" default:"0.7" validate:"gte=0"`
		FrequencyWeight     float64   `yaml:"frequency_weight" default:"0.3" validate:"gte=0"`
		MaxTrackedIDs       int       `yaml:"max_tracked_ids" default:"10000" validate:"gte=1"`
	} `yaml:"adaptive"`
	Arbiter struct {
		ReverseOnExit bool          `yaml:"reverse_on_exit"`
		MaxHold       time.Duration `yaml:"max_hold" default:"4h"`
		StopLossPct   float64       `yaml:"stop_loss_pct" default:"6" validate:"gte=0"`
		TakeProfitPct float64       `yaml:"take_profit_pct" default:"9" validate:"gte=0"`
	} `yaml:"arbiter"`
	Confidence struct {
		Mode  string  `yaml:"mode" default:"probability" validate:"oneof=probability distance"`
		Floor float64 `yaml:"floor" validate:"gte=0,lte=1"`
		Scale float64 `yaml:"scale" default:"1" validate:"gt=0"`
	} `yaml:"confidence"`
	Engine struct {
		PollInterval  time.Duration `yaml:"poll_interval" default:"1m" validate:"gt=0"`
		CycleTimeout  time.Duration `yaml:"cycle_timeout" default:"30s" validate:"gt=0"`
		MaxInboxDrain int           `yaml:"max_inbox_drain" default:"256" validate:"gte=1"`
		PaperOutcomes bool          `yaml:"paper_outcomes"`
	} `yaml:"engine"`
	Persistence struct {
		Dir          string `yaml:"dir" default:"./state" validate:"required"`
		SaveOnChange bool   `yaml:"save_on_change" default:"true"`
	} `yaml:"persistence"`
	Market struct {
		Source    string        `yaml:"source" default:"synthetic" validate:"oneof=clickhouse http synthetic"`
		BaseURL   string        `yaml:"base_url"`
		APIKey    string        `yaml:"api_key"`
		Timeout   time.Duration `yaml:"timeout" default:"5s"`
		RateLimit float64       `yaml:"rate_limit" default:"10" validate:"gte=0"`
		CacheTTL  time.Duration `yaml:"cache_ttl" default:"15s"`
		Breaker   struct {
			MaxFailures uint32        `yaml:"max_failures" default:"5" validate:"gte=1"`
			OpenTimeout time.Duration `yaml:"open_timeout" default:"30s"`
		} `yaml:"breaker"`
	} `yaml:"market"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"levpair"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
		CandlesTable     string        `yaml:"candles_table" default:"candles"`
		Journal          bool          `yaml:"journal" default:"true"`
	} `yaml:"clickhouse"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
		EventsTopic  string   `yaml:"events_topic" default:"levpair.events"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"levpair-outcomes"`
			Workers    int           `yaml:"workers" default:"2" validate:"gte=1"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"levpair.outcomes.dlq"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	NATS struct {
		Enabled         bool          `yaml:"enabled"`
		URL             string        `yaml:"url" default:"nats://localhost:4222"`
		Stream          string        `yaml:"stream" default:"LEVPAIR"`
		Subject         string        `yaml:"subject" default:"levpair.events"`
		OutcomesSubject string        `yaml:"outcomes_subject" default:"levpair.outcomes"`
		Durable         string        `yaml:"durable" default:"levpair-engine"`
		Outcomes        bool          `yaml:"outcomes"`
		Timeout         time.Duration `yaml:"timeout" default:"5s"`
		MaxReconnects   int           `yaml:"max_reconnects" default:"10"`
	} `yaml:"nats"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size" default:"10"`
		Prefix   string `yaml:"prefix" default:"levpair"`
	} `yaml:"redis"`
	Cache struct {
		MaxEntries int           `yaml:"max_entries" default:"10000"`
		LocalTTL   time.Duration `yaml:"local_ttl" default:"30s"`
		DedupTTL   time.Duration `yaml:"dedup_ttl" default:"168h"`
	} `yaml:"cache"`
	Events struct {
		Log       bool   `yaml:"log" default:"true"`
		Kafka     bool   `yaml:"kafka"`
		NATS      bool   `yaml:"nats"`
		Queue     bool   `yaml:"queue"`
		QueueName string `yaml:"queue_name" default:"levpair:events"`
		Journal   bool   `yaml:"journal"`
	} `yaml:"events"`
	Outcomes struct {
		KafkaTopic   string  `yaml:"kafka_topic" default:"levpair.outcomes"`
		MaxRPS       float64 `yaml:"max_rps" default:"20" validate:"gte=0"`
		BufferSize   int     `yaml:"buffer_size" default:"1000" validate:"gte=1"`
		Queue        bool    `yaml:"queue"`
		QueueName    string  `yaml:"queue_name" default:"levpair:outcomes"`
		QueueWorkers int     `yaml:"queue_workers" default:"2" validate:"gte=1"`
		QueueRetries int     `yaml:"queue_retries" default:"3" validate:"gte=0"`
	} `yaml:"outcomes"`
	Synthetic struct {
		Seed       int64   `yaml:"seed" default:"7"`
		Patterns   int     `yaml:"patterns" default:"200" validate:"gte=1"`
		Window     int     `yaml:"window" default:"40" validate:"gte=21"`
		Horizon    int     `yaml:"horizon" default:"15" validate:"gte=1"`
		Stride     int     `yaml:"stride" default:"5" validate:"gte=1"`
		StartPrice float64 `yaml:"start_price" default:"100" validate:"gt=0"`
		DriftPct   float64 `yaml:"drift_pct" default:"0.04"`
		VolPct     float64 `yaml:"vol_pct" default:"0.25" validate:"gte=0"`
		RegimeBars int     `yaml:"regime_bars" default:"120" validate:"gte=1"`
	} `yaml:"synthetic"`
}

var validate = validator.New()

// Default returns a configuration holding only default values.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}
	c.fillDerived()
	return &c, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.fillDerived()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("LEVPAIR_ENV"); v != "" {
		c.Environment = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = xutil.SplitNonEmpty(v, ",")
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := getenv("MARKET_API_KEY"); v != "" {
		c.Market.APIKey = v
	}
	if v := getenv("STATE_DIR"); v != "" {
		c.Persistence.Dir = v
	}
	if v := getenv("HTTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
}

// fillDerived sets list defaults that struct tags cannot express.
func (c *Config) fillDerived() {
	if len(c.Trend.Timeframes) == 0 {
		c.Trend.Timeframes = []TimeframeConfig{
			{Name: "short", Interval: "1m", Window: 20, Checks: 5, MoveThresholdPct: 0.1, Weight: 0.2, Cap: 0.95, Amplification: 1.2},
			{Name: "medium", Interval: "5m", Window: 20, Checks: 8, MoveThresholdPct: 0.2, Weight: 0.3, Cap: 0.95, Amplification: 1.2},
			{Name: "long", Interval: "15m", Window: 30, Checks: 10, MoveThresholdPct: 0.3, Weight: 0.5, Cap: 0.95, Amplification: 1.2},
		}
	}
	for i := range c.Trend.Timeframes {
		_ = defaults.Set(&c.Trend.Timeframes[i])
	}
	if len(c.Ensemble.Members) == 0 {
		c.Ensemble.Members = []string{"random_forest", "extra_trees", "gradient_boosting", "logistic"}
	}
	if len(c.Adaptive.ThresholdCandidates) == 0 {
		c.Adaptive.ThresholdCandidates = []float64{0.55, 0.6, 0.65, 0.7, 0.75}
	}
}

// Validate runs tag validation and the cross-field checks.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	var errs []error
	total := 0.0
	for _, tf := range c.Trend.Timeframes {
		total += tf.Weight
	}
	if total <= 0 {
		errs = append(errs, errors.New("trend.timeframes weights must sum to a positive value"))
	}
	if c.Memory.WinnerCapacity < c.Memory.LoserCapacity {
		errs = append(errs, fmt.Errorf("memory.winner_capacity %d below loser_capacity %d",
			c.Memory.WinnerCapacity, c.Memory.LoserCapacity))
	}
	if c.Adaptive.WeightFloor >= c.Adaptive.WeightCeiling {
		errs = append(errs, fmt.Errorf("adaptive.weight_floor %.3f must be below weight_ceiling %.3f",
			c.Adaptive.WeightFloor, c.Adaptive.WeightCeiling))
	}
	seen := make(map[float64]bool, len(c.Adaptive.ThresholdCandidates))
	for _, v := range c.Adaptive.ThresholdCandidates {
		if seen[v] {
			errs = append(errs, fmt.Errorf("adaptive.threshold_candidates: duplicate %.3f", v))
		}
		seen[v] = true
	}
	members := make(map[string]bool, len(c.Ensemble.Members))
	for _, m := range c.Ensemble.Members {
		if members[m] {
			errs = append(errs, fmt.Errorf("ensemble.members: duplicate %s", m))
		}
		members[m] = true
	}
	if c.Market.Source == "clickhouse" && !c.ClickHouse.Enabled {
		errs = append(errs, errors.New("market.source clickhouse requires clickhouse.enabled"))
	}
	if c.Market.Source == "http" && c.Market.BaseURL == "" {
		errs = append(errs, errors.New("market.source http requires market.base_url"))
	}
	if (c.Kafka.Enabled || c.Events.Kafka) && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers cannot be empty when kafka is used"))
	}
	if c.Events.Kafka && !c.Kafka.Enabled {
		errs = append(errs, errors.New("events.kafka requires kafka.enabled"))
	}
	if c.NATS.Outcomes && !c.NATS.Enabled {
		errs = append(errs, errors.New("nats.outcomes requires nats.enabled"))
	}
	if c.Events.NATS && !c.NATS.Enabled {
		errs = append(errs, errors.New("events.nats requires nats.enabled"))
	}
	if c.Events.Queue && !c.Redis.Enabled {
		errs = append(errs, errors.New("events.queue requires redis.enabled"))
	}
	if c.Outcomes.Queue && !c.Redis.Enabled {
		errs = append(errs, errors.New("outcomes.queue requires redis.enabled"))
	}
	if c.Events.Journal && !c.ClickHouse.Enabled {
		errs = append(errs, errors.New("events.journal requires clickhouse.enabled"))
	}
	return errors.Join(errs...)
}
