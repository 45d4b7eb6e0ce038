package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		SlowRequest     time.Duration `yaml:"slow_request" default:"2s"`
		CORSOrigins     []string      `yaml:"cors_origins"`
		RateLimit       struct {
			Capacity     float64 `yaml:"capacity" default:"20"`
			RefillPerSec float64 `yaml:"refill_per_sec" default:"5"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Logging struct {
		Level   string `yaml:"level" default:"info"`
		Format  string `yaml:"format" default:"json"`
		Output  string `yaml:"output" default:"stdout"`
		Collect struct {
			Enabled   bool          `yaml:"enabled"`
			Interval  time.Duration `yaml:"interval" default:"30s"`
			Threshold int           `yaml:"threshold" default:"100"`
			Topic     string        `yaml:"topic" default:"logs.aggregated"`
		} `yaml:"collect"`
	} `yaml:"logging"`
	Storage struct {
		Backend string `yaml:"backend" default:"postgres"`
	} `yaml:"storage"`
	Postgres struct {
		DSN            string        `yaml:"dsn"`
		Host           string        `yaml:"host" default:"localhost"`
		Port           int           `yaml:"port" default:"5432"`
		User           string        `yaml:"user" default:"genesis"`
		Password       string        `yaml:"password"`
		Database       string        `yaml:"database" default:"genesis"`
		SSLMode        string        `yaml:"sslmode" default:"disable"`
		MaxConns       int32         `yaml:"max_conns" default:"10"`
		MinConns       int32         `yaml:"min_conns" default:"2"`
		ConnectTimeout time.Duration `yaml:"connect_timeout" default:"10s"`
		QueryTimeout   time.Duration `yaml:"query_timeout" default:"5s"`
	} `yaml:"postgres"`
	MarketData struct {
		Source      string        `yaml:"source" default:"oanda"`
		Timeframe   string        `yaml:"timeframe" default:"H1"`
		CandleCount int           `yaml:"candle_count" default:"100"`
		Timeout     time.Duration `yaml:"timeout" default:"5s"`
		Cache       string        `yaml:"cache" default:"memory"`
		CacheTTL    time.Duration `yaml:"cache_ttl" default:"60s"`
	} `yaml:"market_data"`
	OANDA struct {
		BaseURL   string        `yaml:"base_url" default:"https://api-fxpractice.oanda.com"`
		Token     string        `yaml:"token"`
		AccountID string        `yaml:"account_id"`
		Timeout   time.Duration `yaml:"timeout" default:"10s"`
	} `yaml:"oanda"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"genesis"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
		Archive          bool          `yaml:"archive"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"genesis"`
	} `yaml:"redis"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		SignalsTopic string   `yaml:"signals_topic" default:"genesis.signals.candidate"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"genesis-scorer"`
			Workers    int           `yaml:"workers" default:"1"`
			BufferSize int           `yaml:"buffer_size" default:"64"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"genesis.signals.dlq"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Broker struct {
		Transport string `yaml:"transport" default:"kafka"`
		Topic     string `yaml:"topic" default:"genesis.broker.commands"`
		Queue     struct {
			Workers    int           `yaml:"workers" default:"1"`
			RetryLimit int           `yaml:"retry_limit" default:"3"`
			RetryDelay time.Duration `yaml:"retry_delay" default:"15s"`
			KeyPrefix  string        `yaml:"key_prefix" default:"genesis:broker"`
		} `yaml:"queue"`
	} `yaml:"broker"`
	Scoring struct {
		MinTechnical         float64       `yaml:"min_technical" default:"0.60"`
		BaseConfidence       float64       `yaml:"base_confidence" default:"0.70"`
		CorrelationThreshold float64       `yaml:"correlation_threshold" default:"0.75"`
		PerformanceLookback  time.Duration `yaml:"performance_lookback" default:"2160h"`
		PerformanceCacheTTL  time.Duration `yaml:"performance_cache_ttl" default:"5m"`
		StoreTimeout         time.Duration `yaml:"store_timeout" default:"5s"`
		Tolerance            struct {
			Metals  float64 `yaml:"metals" default:"1.0"`
			JPY     float64 `yaml:"jpy" default:"0.10"`
			Default float64 `yaml:"default" default:"0.001"`
		} `yaml:"tolerance"`
	} `yaml:"scoring"`
	Tables struct {
		WeightsPath    string `yaml:"weights_path" default:"config/weights.json"`
		ThresholdsPath string `yaml:"thresholds_path" default:"config/thresholds.json"`
		Reload         string `yaml:"reload" default:"stale"`
	} `yaml:"tables"`
	Correlation struct {
		Pairs []CorrelationPair `yaml:"pairs"`
	} `yaml:"correlation"`
	ExitModel struct {
		Backend    string        `yaml:"backend" default:"file"`
		Dir        string        `yaml:"dir" default:"models"`
		ServiceURL string        `yaml:"service_url"`
		Timeout    time.Duration `yaml:"timeout" default:"2s"`
		Retries    int           `yaml:"retries" default:"1"`
	} `yaml:"exit_model"`
	Exit struct {
		Enabled        bool          `yaml:"enabled"`
		Interval       time.Duration `yaml:"interval" default:"5m"`
		HoldThreshold  float64       `yaml:"hold_threshold" default:"0.40"`
		BreakevenRatio float64       `yaml:"breakeven_ratio" default:"1.0"`
		Timeframe      string        `yaml:"timeframe" default:"H1"`
		PassTimeout    time.Duration `yaml:"pass_timeout" default:"2m"`
	} `yaml:"exit"`
	Quotes struct {
		Enabled        bool          `yaml:"enabled"`
		URL            string        `yaml:"url"`
		Token          string        `yaml:"token"`
		Symbols        []string      `yaml:"symbols"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"20s"`
		MaxAge         time.Duration `yaml:"max_age" default:"30s"`
	} `yaml:"quotes"`
	Calibrator struct {
		Days       int    `yaml:"days" default:"30"`
		MinSamples int    `yaml:"min_samples" default:"20"`
		Output     string `yaml:"output"`
	} `yaml:"calibrator"`
}

// CorrelationPair is one entry of the symmetric correlation table.
type CorrelationPair struct {
	A     string  `yaml:"a"`
	B     string  `yaml:"b"`
	Value float64 `yaml:"value"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	// Validate required fields
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
// A .env file in the working directory is read first when present.
func LoadWithEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables
	if v := os.Getenv("GENESIS_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("OANDA_TOKEN"); v != "" {
		c.OANDA.Token = v
	}
	if v := os.Getenv("OANDA_ACCOUNT_ID"); v != "" {
		c.OANDA.AccountID = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		c.Postgres.Password = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Redis.Port = port
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("MARKET_DATA_SOURCE"); v != "" {
		c.MarketData.Source = v
	}
	if v := os.Getenv("BROKER_TRANSPORT"); v != "" {
		c.Broker.Transport = v
	}
	if v := os.Getenv("QUOTES_TOKEN"); v != "" {
		c.Quotes.Token = v
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	switch c.Storage.Backend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("storage.backend must be 'postgres' or 'memory', got '%s'", c.Storage.Backend)
	}
	switch c.MarketData.Source {
	case "oanda", "clickhouse":
	default:
		return fmt.Errorf("market_data.source must be 'oanda' or 'clickhouse', got '%s'", c.MarketData.Source)
	}
	switch c.MarketData.Cache {
	case "none", "memory", "redis", "layered":
	default:
		return fmt.Errorf("market_data.cache must be one of none, memory, redis, layered, got '%s'", c.MarketData.Cache)
	}
	if (c.MarketData.Cache == "redis" || c.MarketData.Cache == "layered") && !c.Redis.Enabled {
		return fmt.Errorf("market_data.cache=%s requires redis.enabled", c.MarketData.Cache)
	}
	switch c.Broker.Transport {
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("broker.transport=kafka requires kafka.brokers")
		}
	case "queue":
		if !c.Redis.Enabled {
			return fmt.Errorf("broker.transport=queue requires redis.enabled")
		}
	default:
		return fmt.Errorf("broker.transport must be 'kafka' or 'queue', got '%s'", c.Broker.Transport)
	}
	switch c.ExitModel.Backend {
	case "file":
	case "http":
		if c.ExitModel.ServiceURL == "" {
			return fmt.Errorf("exit_model.service_url is required for the http backend")
		}
	default:
		return fmt.Errorf("exit_model.backend must be 'file' or 'http', got '%s'", c.ExitModel.Backend)
	}
	switch c.Tables.Reload {
	case "stale", "never":
	default:
		return fmt.Errorf("tables.reload must be 'stale' or 'never', got '%s'", c.Tables.Reload)
	}
	if c.MarketData.Source == "oanda" && c.OANDA.BaseURL == "" {
		return fmt.Errorf("oanda.base_url is required")
	}
	if c.Scoring.MinTechnical < 0 || c.Scoring.MinTechnical > 1 {
		return fmt.Errorf("scoring.min_technical must be within [0,1]")
	}
	if c.Scoring.CorrelationThreshold <= 0 || c.Scoring.CorrelationThreshold > 1 {
		return fmt.Errorf("scoring.correlation_threshold must be within (0,1]")
	}
	if c.Exit.HoldThreshold < 0 || c.Exit.HoldThreshold > 1 {
		return fmt.Errorf("exit.hold_threshold must be within [0,1]")
	}
	if c.Exit.Interval <= 0 {
		return fmt.Errorf("exit.interval must be positive")
	}
	if c.Quotes.Enabled && c.Quotes.URL == "" {
		return fmt.Errorf("quotes.url is required when quotes are enabled")
	}
	if c.Logging.Collect.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("logging.collect requires redis.enabled")
	}
	return nil
}

// PostgresDSN returns the explicit DSN or one built from the discrete fields.
func (c *Config) PostgresDSN() string {
	if c.Postgres.DSN != "" {
		return c.Postgres.DSN
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Postgres.Host, c.Postgres.Port, c.Postgres.User, c.Postgres.Password, c.Postgres.Database, c.Postgres.SSLMode)
}
