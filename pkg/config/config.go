package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Log         struct {
		Level   string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format  string `yaml:"format" default:"console" validate:"oneof=console json"`
		Output  string `yaml:"output" default:"stdout" validate:"required"`
		Collect struct {
			Enabled   bool          `yaml:"enabled"`
			Interval  time.Duration `yaml:"interval" default:"30s"`
			Threshold int           `yaml:"threshold" default:"100" validate:"gte=1"`
		} `yaml:"collect"`
	} `yaml:"log"`
	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		CORSOrigins     []string      `yaml:"cors_origins" default:"[\"*\"]"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Storage struct {
		Backend  string `yaml:"backend" default:"postgres" validate:"oneof=postgres memory"`
		Postgres struct {
			DSN             string        `yaml:"dsn"`
			MaxOpenConns    int           `yaml:"max_open_conns" default:"10"`
			MaxIdleConns    int           `yaml:"max_idle_conns" default:"5"`
			ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" default:"30m"`
			QueryTimeout    time.Duration `yaml:"query_timeout" default:"30s"`
		} `yaml:"postgres"`
		Retention struct {
			// Negative max_age disables age-based deletion.
			MaxAge             time.Duration `yaml:"max_age" default:"24h"`
			CleanupInterval    time.Duration `yaml:"cleanup_interval" default:"1h" validate:"gt=0"`
			AutoCleanup        bool          `yaml:"auto_cleanup" default:"true"`
			MaxStoreSizeMB     int64         `yaml:"max_store_size_mb" default:"100" validate:"gte=0"`
			MaxKlinesPerSymbol int           `yaml:"max_klines_per_symbol" default:"10000" validate:"gte=0"`
			VacuumThreshold    int64         `yaml:"vacuum_threshold" default:"100" validate:"gte=0"`
		} `yaml:"retention"`
	} `yaml:"storage"`
	Binance struct {
		RestURL      string        `yaml:"rest_url" default:"https://fapi.binance.com" validate:"url"`
		WSURL        string        `yaml:"ws_url" default:"wss://fstream.binance.com/stream" validate:"url"`
		Timeout      time.Duration `yaml:"timeout" default:"15s"`
		RateLimit    float64       `yaml:"rate_limit" default:"20" validate:"gt=0"`
		RateBurst    int           `yaml:"rate_burst" default:"5" validate:"gte=1"`
		PingInterval time.Duration `yaml:"ping_interval" default:"30s"`
		Retry        struct {
			MaxAttempts     int           `yaml:"max_attempts" default:"3" validate:"gte=1"`
			InitialInterval time.Duration `yaml:"initial_interval" default:"1s"`
			Multiplier      float64       `yaml:"multiplier" default:"2" validate:"gte=1"`
			MaxInterval     time.Duration `yaml:"max_interval" default:"10s"`
			Statuses        []int         `yaml:"statuses" default:"[429,500,502,503,504]"`
		} `yaml:"retry"`
		Breaker struct {
			MaxFailures uint32        `yaml:"max_failures" default:"5" validate:"gte=1"`
			OpenTimeout time.Duration `yaml:"open_timeout" default:"30s"`
		} `yaml:"breaker"`
	} `yaml:"binance"`
	Universe struct {
		QuoteAsset        string  `yaml:"quote_asset" default:"USDT" validate:"required"`
		MinQuoteVolume24h float64 `yaml:"min_quote_volume_24h" default:"5000" validate:"gte=0"`
		TopN              int     `yaml:"top_n" default:"150" validate:"gte=1"`
	} `yaml:"universe"`
	Ingestion struct {
		Interval          string        `yaml:"interval" default:"15m" validate:"oneof=15m"`
		HistoryKlines     int           `yaml:"history_klines" default:"16" validate:"gte=1,lte=1500"`
		ReconnectDelay    time.Duration `yaml:"reconnect_delay" default:"5s"`
		MaxReconnects     int           `yaml:"max_reconnects" default:"10" validate:"gte=0"`
		StartupRetryDelay time.Duration `yaml:"startup_retry_delay" default:"10s"`
		StatusInterval    time.Duration `yaml:"status_interval" default:"30s"`
		WriteTimeout      time.Duration `yaml:"write_timeout" default:"10s"`
		Pipeline          struct {
			MaxRPS     int `yaml:"max_rps" default:"2"`
			BufferSize int `yaml:"buffer_size" default:"2000" validate:"gte=1"`
		} `yaml:"pipeline"`
	} `yaml:"ingestion"`
	Scoring struct {
		Interval             time.Duration `yaml:"interval" default:"60s" validate:"gt=0"`
		Window               int           `yaml:"window" default:"150" validate:"gte=2"`
		MinKlines            int           `yaml:"min_klines" default:"16" validate:"gte=2"`
		MinHistoryReturns    int           `yaml:"min_history_returns" default:"5" validate:"gte=1"`
		PriceZThreshold      float64       `yaml:"price_z_threshold" default:"2.5"`
		PricePercentile      float64       `yaml:"price_percentile" default:"92" validate:"gte=0,lte=100"`
		VolumeZThreshold     float64       `yaml:"volume_z_threshold" default:"2.0"`
		VolatilityZThreshold float64       `yaml:"volatility_z_threshold" default:"2.0"`
		MinAbsReturn         float64       `yaml:"min_abs_return" default:"0.005" validate:"gte=0"`
		WeightPrice          float64       `yaml:"weight_price" default:"0.4" validate:"gte=0"`
		WeightVolume         float64       `yaml:"weight_volume" default:"0.3" validate:"gte=0"`
		WeightVolatility     float64       `yaml:"weight_volatility" default:"0.3" validate:"gte=0"`
		CompositeThreshold   float64       `yaml:"composite_threshold" default:"0.5"`
		VolumeCacheTTL       time.Duration `yaml:"volume_cache_ttl" default:"5m"`
	} `yaml:"scoring"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"finpulse"`
		PoolSize int    `yaml:"pool_size" default:"10"`
	} `yaml:"redis"`
	Kafka struct {
		Enabled       bool     `yaml:"enabled"`
		Brokers       []string `yaml:"brokers"`
		Topic         string   `yaml:"topic" default:"finpulse.anomalies"`
		LogsTopic     string   `yaml:"logs_topic" default:"finpulse.logs"`
		AnomaliesOnly bool     `yaml:"anomalies_only" default:"true"`
		RequiredAcks  int      `yaml:"required_acks" default:"-1"`
		Compression   string   `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
		Producer      struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"1s"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"finpulse"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
		CandlesTable     string        `yaml:"candles_table" default:"klines_archive"`
		AnomaliesTable   string        `yaml:"anomalies_table" default:"anomalies_archive"`
	} `yaml:"clickhouse"`
}

var validate = validator.New()

// Default returns a configuration populated only from struct defaults.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}
	return &c, nil
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
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
	c.ApplyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// ApplyEnv overrides selected fields from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("ENVIRONMENT"); v != "" {
		c.Environment = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := getenv("PG_DSN"); v != "" {
		c.Storage.Postgres.DSN = v
	}
	if v := getenv("UNIVERSE_TOP_N"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Universe.TopN = n
		}
	}
	if v := getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Storage.Backend == "postgres" && c.Storage.Postgres.DSN == "" {
		return fmt.Errorf("storage.postgres.dsn is required for the postgres backend")
	}
	if c.Scoring.MinKlines > c.Scoring.Window {
		return fmt.Errorf("scoring.min_klines (%d) exceeds scoring.window (%d)", c.Scoring.MinKlines, c.Scoring.Window)
	}
	sum := c.Scoring.WeightPrice + c.Scoring.WeightVolume + c.Scoring.WeightVolatility
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("scoring weights must sum to 1.0, got %.6f", sum)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	return nil
}

// MaxStoreSizeBytes returns the configured store size cap in bytes.
func (c *Config) MaxStoreSizeBytes() int64 {
	return c.Storage.Retention.MaxStoreSizeMB * 1024 * 1024
}
