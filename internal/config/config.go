// Package config loads the service configuration from an optional YAML file
// and applies environment overrides on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"

	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Store    StoreConfig    `yaml:"store"`
	Feed     FeedConfig     `yaml:"feed"`
	Tracking TrackingConfig `yaml:"tracking"`
	Audit    AuditConfig    `yaml:"audit"`
	Telegram TelegramConfig `yaml:"telegram"`
	Fanout   FanoutConfig   `yaml:"fanout"`
	Retry    RetryConfig    `yaml:"retry"`
	HTTP     ServerConfig   `yaml:"http"`
	GRPC     ServerConfig   `yaml:"grpc"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type StoreConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	// EnsureSchema creates the refunds table and the insert trigger on start.
	EnsureSchema bool `yaml:"ensure_schema"`
}

type FeedConfig struct {
	Channel          string        `yaml:"channel"`
	MinReconnect     time.Duration `yaml:"min_reconnect"`
	MaxReconnect     time.Duration `yaml:"max_reconnect"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	CatchUpLimit     int           `yaml:"catch_up_limit"`
	MaxInFlight      int           `yaml:"max_in_flight"`
	ResubscribeDelay time.Duration `yaml:"resubscribe_delay"`
}

type TrackingConfig struct {
	Backend   string        `yaml:"backend"`
	RedisAddr string        `yaml:"redis_addr"`
	Namespace string        `yaml:"namespace"`
	Retention time.Duration `yaml:"retention"`
}

type AuditConfig struct {
	// Path of the SQLite audit database; empty disables the audit log.
	Path string `yaml:"path"`
}

type TelegramConfig struct {
	Token       string `yaml:"token"`
	Endpoint    string `yaml:"endpoint"`
	PollTimeout int    `yaml:"poll_timeout"`
}

type FanoutConfig struct {
	MaxParallel int `yaml:"max_parallel"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	Environment string  `yaml:"environment"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Load reads path (skipped when empty), applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %s: %w", path, err)
		}
		defer file.Close()

		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Store.DSN = getEnv("DATABASE_URL", c.Store.DSN)
	c.Store.Driver = getEnv("STORE_DRIVER", c.Store.Driver)
	c.Telegram.Token = getEnv("TELEGRAM_TOKEN", c.Telegram.Token)
	c.Tracking.Backend = getEnv("TRACKING_BACKEND", c.Tracking.Backend)
	c.Tracking.RedisAddr = getEnv("REDIS_ADDR", c.Tracking.RedisAddr)
	c.Audit.Path = getEnv("AUDIT_DB_PATH", c.Audit.Path)
	c.HTTP.Addr = getEnv("HTTP_ADDR", c.HTTP.Addr)
	c.GRPC.Addr = getEnv("GRPC_ADDR", c.GRPC.Addr)
	c.Tracing.ServiceName = getEnv("OTEL_SERVICE_NAME", c.Tracing.ServiceName)

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		c.Tracing.Endpoint = endpoint
		c.Tracing.Enabled = true
	}
	if v := os.Getenv("TRACING_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: TRACING_ENABLED: %w", err)
		}
		c.Tracing.Enabled = enabled
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverMemory
		if c.Store.DSN != "" {
			c.Store.Driver = DriverPostgres
		}
	}
	if c.Store.MaxOpenConns == 0 {
		c.Store.MaxOpenConns = 10
	}
	if c.Store.MaxIdleConns == 0 {
		c.Store.MaxIdleConns = 5
	}
	if c.Store.ConnMaxLifetime == 0 {
		c.Store.ConnMaxLifetime = 30 * time.Minute
	}
	if c.Feed.Channel == "" {
		c.Feed.Channel = "order_items_insert"
	}
	if c.Feed.MaxInFlight == 0 {
		c.Feed.MaxInFlight = 32
	}
	if c.Tracking.Backend == "" {
		c.Tracking.Backend = BackendMemory
	}
	if c.Tracking.RedisAddr == "" {
		c.Tracking.RedisAddr = "localhost:6379"
	}
	if c.Tracking.Namespace == "" {
		c.Tracking.Namespace = "order-notifier"
	}
	if c.Tracking.Retention == 0 {
		c.Tracking.Retention = 7 * 24 * time.Hour
	}
	if c.Telegram.PollTimeout == 0 {
		c.Telegram.PollTimeout = 60
	}
	if c.Fanout.MaxParallel == 0 {
		c.Fanout.MaxParallel = 8
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = 100 * time.Millisecond
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = 2 * time.Second
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.GRPC.Addr == "" {
		c.GRPC.Addr = ":9090"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "order-notifier"
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	switch c.Tracking.Backend {
	case BackendMemory, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown tracking.backend %q", c.Tracking.Backend))
	}
	if c.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, errors.New("tracing.sample_ratio must be within [0, 1]"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
