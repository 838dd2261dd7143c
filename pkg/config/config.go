package config

import (
	"fmt"
	"os"
	"time"

	domrepo "StockCast/internal/domain/repository"
	"StockCast/internal/scheduler"
	"StockCast/internal/services/forecast"
	applogger "StockCast/pkg/logger"
	xutil "StockCast/pkg/util"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string           `yaml:"environment"`
	Log         applogger.Config `yaml:"log"`
	Server      ServerConfig     `yaml:"server"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Forecast    ForecastConfig   `yaml:"forecast"`
	Data        DataConfig       `yaml:"data"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	Redis       RedisConfig      `yaml:"redis"`
	Schedule    scheduler.Config `yaml:"schedule"`
	Tickers     []string         `yaml:"tickers"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            bool          `yaml:"cors"`

	// UpdateBurst and UpdatePerMinute throttle POST /api/estimations/update per client.
	UpdateBurst     float64 `yaml:"update_burst"`
	UpdatePerMinute float64 `yaml:"update_per_minute"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type ForecastConfig struct {
	Workers    int                         `yaml:"workers"`
	RunTimeout time.Duration               `yaml:"run_timeout"`
	Short      forecast.ShortHorizonConfig `yaml:"short"`
	Long       forecast.LongHorizonConfig  `yaml:"long"`
}

type DataConfig struct {
	Period     string            `yaml:"period"`
	SQLitePath string            `yaml:"sqlite_path"`
	Yahoo      YahooConfig       `yaml:"yahoo"`
	SymbolMap  map[string]string `yaml:"symbol_map"`
}

type YahooConfig struct {
	Enabled bool          `yaml:"enabled"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type ClickHouseConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	Database         string        `yaml:"database"`
	User             string        `yaml:"user"`
	Password         string        `yaml:"password"`
	Table            string        `yaml:"table"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time"`
}

type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	RequiredAcks int      `yaml:"required_acks"`
	Compression  string   `yaml:"compression"`
	Topics       struct {
		Predictions string `yaml:"predictions"`
		Update      string `yaml:"update"`
		Tickers     string `yaml:"tickers"`
	} `yaml:"topics"`
	Producer struct {
		MaxAttempts  int           `yaml:"max_attempts"`
		Linger       time.Duration `yaml:"linger"`
		BatchSize    int           `yaml:"batch_size"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID         string        `yaml:"group_id"`
		AutoOffsetReset string        `yaml:"auto_offset_reset"`
		Workers         int           `yaml:"workers"`
		BufferSize      int           `yaml:"buffer_size"`
		RetryMax        int           `yaml:"retry_max"`
		BackoffMin      time.Duration `yaml:"backoff_min"`
		BackoffMax      time.Duration `yaml:"backoff_max"`
		DLQTopic        string        `yaml:"dlq_topic"`
		MinBytes        int           `yaml:"min_bytes"`
		MaxBytes        int           `yaml:"max_bytes"`
	} `yaml:"consumer"`
}

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// Default returns a config that runs locally on Yahoo and SQLite only.
func Default() Config {
	c := Config{
		Environment: "development",
		Log:         applogger.Config{Level: "info", Format: "json", Output: "stdout"},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
			CORS:            true,
			UpdateBurst:     2,
			UpdatePerMinute: 1,
		},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
		Forecast: ForecastConfig{
			Workers:    4,
			RunTimeout: 10 * time.Minute,
			Short:      forecast.DefaultShortHorizonConfig(),
			Long:       forecast.DefaultLongHorizonConfig(),
		},
		Data: DataConfig{
			Period:     string(domrepo.DefaultPeriod()),
			SQLitePath: "data/market.db",
			Yahoo:      YahooConfig{Enabled: true, Timeout: 15 * time.Second},
		},
		ClickHouse: ClickHouseConfig{Port: 9000, Database: "default", Table: "predictions"},
		Redis:      RedisConfig{Prefix: "stockcast", CacheTTL: 5 * time.Minute},
		Schedule:   scheduler.Config{RefreshCron: "0 30 22 * * 1-5", Timeout: 30 * time.Minute},
	}
	c.Kafka.RequiredAcks = -1
	c.Kafka.Compression = "gzip"
	c.Kafka.Topics.Predictions = "prediction.records"
	c.Kafka.Topics.Update = "estimations.update"
	c.Kafka.Topics.Tickers = "tickers.add"
	c.Kafka.Consumer.GroupID = "stockcast"
	c.Kafka.Consumer.AutoOffsetReset = "latest"
	c.Kafka.Consumer.Workers = 1
	return c
}

// Load reads a YAML file over Default and validates the result.
func Load(path string) (*Config, error) {
	c, err := load(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML, applies environment overrides and validates.
func LoadWithEnv(path string) (*Config, error) {
	c, err := load(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c := Default()
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	return &c, nil
}

// applyEnv overrides from the environment. Setting a service address enables it.
func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("ENVIRONMENT"); v != "" {
		c.Environment = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("PORT"); v != "" {
		c.Server.Port = xutil.ParseIntDefault(v, c.Server.Port)
	}
	if v := getenv("TICKERS"); v != "" {
		c.Tickers = xutil.SplitList(v)
	}
	if v := getenv("SQLITE_PATH"); v != "" {
		c.Data.SQLitePath = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = xutil.SplitList(v)
		c.Kafka.Enabled = true
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
		c.ClickHouse.Enabled = true
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
}

// applyDefaults fills values an explicit YAML zero would leave unusable.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = d.Metrics.Path
	}
	if c.Forecast.Workers <= 0 {
		c.Forecast.Workers = d.Forecast.Workers
	}
	if c.Forecast.RunTimeout <= 0 {
		c.Forecast.RunTimeout = d.Forecast.RunTimeout
	}
	if c.Data.Period == "" {
		c.Data.Period = d.Data.Period
	}
	if c.ClickHouse.Table == "" {
		c.ClickHouse.Table = d.ClickHouse.Table
	}
	if c.Redis.CacheTTL <= 0 {
		c.Redis.CacheTTL = d.Redis.CacheTTL
	}
	if c.Kafka.Topics.Predictions == "" {
		c.Kafka.Topics.Predictions = d.Kafka.Topics.Predictions
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	// 0 binds an ephemeral port
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Forecast.Short.Horizon < 1 || c.Forecast.Short.Window < 1 {
		return fmt.Errorf("forecast.short horizon and window must be positive")
	}
	if c.Forecast.Long.Horizon < 1 {
		return fmt.Errorf("forecast.long.horizon must be positive")
	}
	if !domrepo.IsValidPeriod(domrepo.Period(c.Data.Period)) {
		return fmt.Errorf("data.period %q is not one of 1mo, 3mo, 6mo, 1y, 2y, 5y", c.Data.Period)
	}
	if c.Data.SQLitePath == "" {
		return fmt.Errorf("data.sqlite_path is required")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.ClickHouse.Enabled && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required when clickhouse is enabled")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	return nil
}
