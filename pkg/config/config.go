package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string           `yaml:"environment" default:"development"`
	Server      ServerConfig     `yaml:"server"`
	Logger      LoggerConfig     `yaml:"logger"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Auth        AuthConfig       `yaml:"auth"`
	RateLimit   RateLimitConfig  `yaml:"ratelimit"`
	Cascade     CascadeConfig    `yaml:"cascade"`
	Suggestions SuggestionConfig `yaml:"suggestions"`
	Signals     SignalConfig     `yaml:"signals"`
	Analytics   AnalyticsConfig  `yaml:"analytics"`
	Storage     StorageConfig    `yaml:"storage"`
	Audit       AuditConfig      `yaml:"audit"`
	Redis       RedisConfig      `yaml:"redis"`
	Queue       QueueConfig      `yaml:"queue"`
	Prices      PricesConfig     `yaml:"prices"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
	Finnhub     FinnhubConfig    `yaml:"finnhub"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"30s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
}

type LoggerConfig struct {
	Level  string `yaml:"level" default:"info"`
	Format string `yaml:"format" default:"json"`
	Output string `yaml:"output" default:"stdout"`
	// Errors logged repeatedly are batched and published to this queue topic.
	CollectorTopic    string        `yaml:"collector_topic" default:"logs.errors"`
	CollectorInterval time.Duration `yaml:"collector_interval" default:"1m"`
	CollectorCount    int           `yaml:"collector_count" default:"50"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer" default:"cascade-advisor"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" default:"10"`
	Burst int     `yaml:"burst" default:"20"`
}

type CascadeConfig struct {
	StageTimeout     time.Duration `yaml:"stage_timeout" default:"5s"`
	GlobalTTL        time.Duration `yaml:"global_ttl" default:"5m"`
	WatchlistTTL     time.Duration `yaml:"watchlist_ttl" default:"2m"`
	StalenessCeiling time.Duration `yaml:"staleness_ceiling" default:"1h"`
	Weights          []float64     `yaml:"weights" default:"[0.25,0.25,0.25,0.25]"`
	MemoryCacheSize  int           `yaml:"memory_cache_size" default:"1024"`
}

type SuggestionConfig struct {
	TTL                  time.Duration `yaml:"ttl" default:"72h"`
	AutoApproveThreshold float64       `yaml:"auto_approve_threshold" default:"0.85"`
	AutoApproveKinds     []string      `yaml:"auto_approve_kinds" default:"[\"add\",\"promote\"]"`
	SweepInterval        time.Duration `yaml:"sweep_interval" default:"1m"`
}

type SignalConfig struct {
	DefaultMaxPositionSize  string        `yaml:"default_max_position_size" default:"10000"`
	DefaultMaxPortfolioRisk string        `yaml:"default_max_portfolio_risk" default:"0.02"`
	SweepInterval           time.Duration `yaml:"sweep_interval" default:"1m"`
}

type AnalyticsConfig struct {
	ServiceURL    string        `yaml:"service_url" default:"http://localhost:8000"`
	Timeout       time.Duration `yaml:"timeout" default:"4s"`
	RetryAttempts int           `yaml:"retry_attempts" default:"3"`
}

type StorageConfig struct {
	Backend     string `yaml:"backend" default:"memory"`
	PostgresDSN string `yaml:"postgres_dsn"`
	MaxConns    int32  `yaml:"max_conns" default:"10"`
	// DefaultMaxAssets sizes the seeded default watchlist.
	DefaultMaxAssets int `yaml:"default_max_assets" default:"50"`
	// DefaultAssets seeds an empty default watchlist at startup.
	DefaultAssets []string `yaml:"default_assets" default:"[\"BTC\",\"ETH\"]"`
}

type AuditConfig struct {
	Backend string `yaml:"backend" default:"memory"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host" default:"localhost"`
	Port     int    `yaml:"port" default:"6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix" default:"cascade"`
	PoolSize int    `yaml:"pool_size" default:"10"`
}

type QueueConfig struct {
	Name       string        `yaml:"name" default:"cascade-jobs"`
	Workers    int           `yaml:"workers" default:"2"`
	RetryLimit int           `yaml:"retry_limit" default:"3"`
	RetryDelay time.Duration `yaml:"retry_delay" default:"2s"`
}

type PricesConfig struct {
	Enabled bool `yaml:"enabled"`
	// Transport is "kafka" (stream -> kafka -> price book) or "direct".
	Transport   string        `yaml:"transport" default:"direct"`
	BufferSize  int           `yaml:"buffer_size" default:"1000"`
	MinInterval time.Duration `yaml:"min_interval" default:"100ms"`
	// SymbolAssets maps feed symbols to asset ids; unmapped symbols are used as is.
	SymbolAssets map[string]string `yaml:"symbol_assets"`
}

type KafkaConfig struct {
	Brokers      []string `yaml:"brokers"`
	Topic        string   `yaml:"topic" default:"price-ticks"`
	RequiredAcks int      `yaml:"required_acks" default:"1"`
	Compression  string   `yaml:"compression" default:"snappy"`
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
		GroupID    string        `yaml:"group_id" default:"cascade-advisor"`
		Workers    int           `yaml:"workers" default:"2"`
		BufferSize int           `yaml:"buffer_size" default:"256"`
		RetryMax   int           `yaml:"retry_max" default:"3"`
		BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
		BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
		DLQTopic   string        `yaml:"dlq_topic"`
		MinBytes   int           `yaml:"min_bytes" default:"1"`
		MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
	} `yaml:"consumer"`
}

type ClickHouseConfig struct {
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"cascade"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
}

type FinnhubConfig struct {
	APIKey         string        `yaml:"api_key"`
	WebSocketURL   string        `yaml:"websocket_url" default:"wss://ws.finnhub.io"`
	Symbols        []string      `yaml:"symbols"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
	PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
}

const weightTolerance = 1e-6

// Default returns a configuration populated only from struct defaults.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c := Default()
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

// LoadWithEnv loads .env (if present), the YAML file, then applies
// environment overrides.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.ApplyEnv()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// ApplyEnv overrides selected fields from environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Storage.PostgresDSN = v
	}
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("AUDIT_BACKEND"); v != "" {
		c.Audit.Backend = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Redis.Port = p
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("ANALYTICS_SERVICE_URL"); v != "" {
		c.Analytics.ServiceURL = v
	}
	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		c.Finnhub.APIKey = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Finnhub.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logger.Level = v
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if err := ValidateWeights(c.Cascade.Weights); err != nil {
		return fmt.Errorf("cascade.weights: %w", err)
	}
	if c.Cascade.StageTimeout <= 0 {
		return fmt.Errorf("cascade.stage_timeout must be positive")
	}
	if c.Cascade.GlobalTTL <= 0 || c.Cascade.WatchlistTTL <= 0 {
		return fmt.Errorf("cascade ttls must be positive")
	}
	if c.Cascade.StalenessCeiling < c.Cascade.GlobalTTL || c.Cascade.StalenessCeiling < c.Cascade.WatchlistTTL {
		return fmt.Errorf("cascade.staleness_ceiling must not be shorter than the cache ttls")
	}
	if c.Suggestions.AutoApproveThreshold < 0 || c.Suggestions.AutoApproveThreshold > 1 {
		return fmt.Errorf("suggestions.auto_approve_threshold must be within [0,1]")
	}
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend must be 'memory' or 'postgres', got '%s'", c.Storage.Backend)
	}
	switch c.Audit.Backend {
	case "memory", "clickhouse":
	case "postgres":
		if c.Storage.Backend != "postgres" {
			return fmt.Errorf("audit.backend postgres requires storage.backend postgres")
		}
	default:
		return fmt.Errorf("audit.backend must be 'memory', 'postgres' or 'clickhouse', got '%s'", c.Audit.Backend)
	}
	if c.Prices.Enabled {
		if c.Prices.Transport != "kafka" && c.Prices.Transport != "direct" {
			return fmt.Errorf("prices.transport must be 'kafka' or 'direct', got '%s'", c.Prices.Transport)
		}
		if c.Prices.Transport == "kafka" && len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers cannot be empty when prices.transport is kafka")
		}
		if len(c.Finnhub.Symbols) == 0 {
			return fmt.Errorf("finnhub.symbols cannot be empty")
		}
		if c.Finnhub.APIKey == "" {
			return fmt.Errorf("finnhub.api_key is required")
		}
	}
	return nil
}

// ValidateWeights requires four non-negative weights summing to one.
func ValidateWeights(w []float64) error {
	if len(w) != 4 {
		return fmt.Errorf("expected 4 weights, got %d", len(w))
	}
	var sum float64
	for i, v := range w {
		if v < 0 {
			return fmt.Errorf("weight %d is negative", i+1)
		}
		sum += v
	}
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("weights sum to %v, want 1", sum)
	}
	return nil
}
