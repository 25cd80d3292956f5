package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/timeguard/pkg/observability"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "TIMEGUARD_"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server" env:", prefix=SERVER_"`
	Database      DatabaseConfig      `yaml:"database" env:", prefix=DATABASE_"`
	Auth          AuthConfig          `yaml:"auth" env:", prefix=AUTH_"`
	Audit         AuditConfig         `yaml:"audit" env:", prefix=AUDIT_"`
	Redis         RedisConfig         `yaml:"redis" env:", prefix=REDIS_"`
	Kafka         KafkaConfig         `yaml:"kafka" env:", prefix=KAFKA_"`
	Archive       ArchiveConfig       `yaml:"archive" env:", prefix=ARCHIVE_"`
	Observability ObservabilityConfig `yaml:"observability" env:", prefix=OBSERVABILITY_"`
}

// ServerConfig holds the ops HTTP server settings (health and metrics)
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
}

// DatabaseConfig selects and tunes the SQL store
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" env:"DRIVER" validate:"required,oneof=postgres sqlite3"`
	URL             string        `yaml:"url" env:"URL" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
	TxTimeout       time.Duration `yaml:"tx_timeout" env:"TX_TIMEOUT" validate:"gt=0"`
	AutoMigrate     bool          `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// AuthConfig holds the bearer token settings
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" env:"JWT_SECRET" validate:"required,min=32"`
	Issuer    string        `yaml:"issuer" env:"ISSUER" validate:"required"`
	Audience  string        `yaml:"audience" env:"AUDIENCE" validate:"required"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"TOKEN_TTL" validate:"gt=0"`
}

// AuditConfig selects where committed audit entries are forwarded
type AuditConfig struct {
	Publisher    string `yaml:"publisher" env:"PUBLISHER" validate:"oneof=none redis kafka"`
	Stream       string `yaml:"stream" env:"STREAM"`
	StreamMaxLen int64  `yaml:"stream_max_len" env:"STREAM_MAX_LEN" validate:"gte=0"`
}

// RedisConfig holds the Redis connection used by the stream publisher and health checks
type RedisConfig struct {
	URL        string `yaml:"url" env:"URL"`
	Password   string `yaml:"password" env:"PASSWORD"`
	DB         int    `yaml:"db" env:"DB" validate:"gte=0"`
	PoolSize   int    `yaml:"pool_size" env:"POOL_SIZE" validate:"gte=0"`
	MaxRetries int    `yaml:"max_retries" env:"MAX_RETRIES" validate:"gte=0"`
}

// KafkaConfig holds the Kafka producer settings
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers" env:"BROKERS"`
	Topic    string   `yaml:"topic" env:"TOPIC"`
	ClientID string   `yaml:"client_id" env:"CLIENT_ID"`
}

// ArchiveConfig controls the periodic audit export to S3
type ArchiveConfig struct {
	Enabled      bool          `yaml:"enabled" env:"ENABLED"`
	Schedule     string        `yaml:"schedule" env:"SCHEDULE"`
	Window       time.Duration `yaml:"window" env:"WINDOW" validate:"gte=0"`
	Bucket       string        `yaml:"bucket" env:"BUCKET"`
	Prefix       string        `yaml:"prefix" env:"PREFIX"`
	Region       string        `yaml:"region" env:"REGION"`
	Endpoint     string        `yaml:"endpoint" env:"ENDPOINT"`
	AccessKey    string        `yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey    string        `yaml:"secret_key" env:"SECRET_KEY"`
	UsePathStyle bool          `yaml:"use_path_style" env:"USE_PATH_STYLE"`
}

// ObservabilityConfig holds logging, metrics and tracing settings
type ObservabilityConfig struct {
	LogLevel           string `yaml:"log_level" env:"LOG_LEVEL" validate:"oneof=debug info warn warning error"`
	LogFormat          string `yaml:"log_format" env:"LOG_FORMAT" validate:"oneof=json text"`
	MetricsEnabled     bool   `yaml:"metrics_enabled" env:"METRICS_ENABLED"`
	OTelEnabled        bool   `yaml:"otel_enabled" env:"OTEL_ENABLED"`
	OTelEndpoint       string `yaml:"otel_endpoint" env:"OTEL_ENDPOINT"`
	OTelServiceName    string `yaml:"otel_service_name" env:"OTEL_SERVICE_NAME"`
	OTelServiceVersion string `yaml:"otel_service_version" env:"OTEL_SERVICE_VERSION"`
	OTelInsecure       bool   `yaml:"otel_insecure" env:"OTEL_INSECURE"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// DefaultConfig returns the configuration used when nothing overrides it
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":9090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			URL:             "postgres://localhost:5432/timeguard?sslmode=disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnectTimeout:  5 * time.Second,
			TxTimeout:       5 * time.Second,
			AutoMigrate:     true,
		},
		Auth: AuthConfig{
			Issuer:   "timeguard",
			Audience: "timeguard-api",
			TokenTTL: time.Hour,
		},
		Audit: AuditConfig{
			Publisher:    "none",
			Stream:       "timeguard:audit",
			StreamMaxLen: 100000,
		},
		Redis: RedisConfig{
			URL:      "redis://localhost:6379/0",
			PoolSize: 10,
		},
		Kafka: KafkaConfig{
			Topic:    "timeguard.audit",
			ClientID: "timeguard",
		},
		Archive: ArchiveConfig{
			Schedule: "@hourly",
			Window:   time.Hour,
			Prefix:   "audit/",
			Region:   "us-east-1",
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			LogFormat:          "json",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "timeguard",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path and TIMEGUARD_* environment variables, in that order
func Load(ctx context.Context, path string) (*Config, error) {
	return load(ctx, path, envconfig.OsLookuper())
}

func load(ctx context.Context, path string, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:           cfg,
		Lookuper:         envconfig.PrefixLookuper(EnvPrefix, lookuper),
		DefaultOverwrite: true,
	}); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks field constraints and the settings that depend on each other
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			msgs := make([]string, 0, len(ve))
			for _, fe := range ve {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	switch c.Audit.Publisher {
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("redis URL is required for the redis audit publisher")
		}
		if c.Audit.Stream == "" {
			return fmt.Errorf("audit stream is required for the redis audit publisher")
		}
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required for the kafka audit publisher")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka topic is required for the kafka audit publisher")
		}
	}

	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive bucket is required when the archive is enabled")
		}
		if c.Archive.Window <= 0 {
			return fmt.Errorf("archive window must be positive")
		}
		if _, err := cron.ParseStandard(c.Archive.Schedule); err != nil {
			return fmt.Errorf("invalid archive schedule %q: %w", c.Archive.Schedule, err)
		}
		if (c.Archive.AccessKey == "") != (c.Archive.SecretKey == "") {
			return fmt.Errorf("archive access key and secret key must be set together")
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}
