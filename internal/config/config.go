package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Security    SecurityConfig    `yaml:"security"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Attribution AttributionConfig `yaml:"attribution"`
	Cache       CacheConfig       `yaml:"cache"`
	Tracing     TracingConfig     `yaml:"tracing"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Features    FeaturesConfig    `yaml:"features"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port            string `yaml:"port"`
	Host            string `yaml:"host"`
	Environment     string `yaml:"environment"`
	EnableTLS       bool   `yaml:"enable_tls"`
	CertFile        string `yaml:"cert_file"`
	KeyFile         string `yaml:"key_file"`
	ShutdownTimeout int    `yaml:"shutdown_timeout"` // in seconds
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	// Max request body size in bytes (default: 1MB)
	MaxRequestBodySize int64 `yaml:"max_request_body_size"`
	// Allowed CORS origins (comma-separated)
	AllowedOrigins string `yaml:"allowed_origins"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`
	Rate    int  `yaml:"rate"`
	Window  int  `yaml:"window"` // in seconds
}

// AttributionConfig holds the secrets used for attribution tokens and visitor
// IP hashing.
type AttributionConfig struct {
	TokenSecret string `yaml:"token_secret"`
	TokenIssuer string `yaml:"token_issuer"`
	IPHashSalt  string `yaml:"ip_hash_salt"`
}

// CacheConfig holds tenant configuration cache settings. An empty RedisAddr
// selects the in-process cache.
type CacheConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`
	TenantTTL     int    `yaml:"tenant_ttl"` // in seconds
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// KafkaConfig holds the event sink settings. Brokers is comma-separated; empty
// disables the sink.
type KafkaConfig struct {
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic"`
}

// FeaturesConfig holds the initial feature flag values.
type FeaturesConfig struct {
	CacheEnabled      bool `yaml:"cache_enabled"`
	EventHooksEnabled bool `yaml:"event_hooks_enabled"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// LoadConfig loads configuration from defaults, an optional YAML file and
// environment variables, in increasing order of precedence.
func LoadConfig(configFile string) (*Config, error) {
	cfg := defaults()

	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	overrideFromEnv(cfg)

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			Environment:     "development",
			ShutdownTimeout: 15,
		},
		Database: DatabaseConfig{
			Path: "./affiliate_tracking.db",
		},
		Security: SecurityConfig{
			MaxRequestBodySize: 1 << 20,
			AllowedOrigins:     "*",
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Rate:    100,
			Window:  60,
		},
		Attribution: AttributionConfig{
			TokenIssuer: "affiliate-tracking",
		},
		Cache: CacheConfig{
			KeyPrefix: "affiliate",
			TenantTTL: 60,
		},
		Tracing: TracingConfig{
			Endpoint:    "http://localhost:14268/api/traces",
			ServiceName: "affiliate-tracking",
		},
		Kafka: KafkaConfig{
			Topic: "affiliate-events",
		},
		Features: FeaturesConfig{
			CacheEnabled:      true,
			EventHooksEnabled: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// loadFromFile loads configuration from a YAML file on top of cfg.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// overrideFromEnv overrides configuration with environment variables.
func overrideFromEnv(cfg *Config) {
	setString(&cfg.Server.Port, "SERVER_PORT")
	setString(&cfg.Server.Host, "SERVER_HOST")
	setString(&cfg.Server.Environment, "ENVIRONMENT")
	setBool(&cfg.Server.EnableTLS, "SERVER_ENABLE_TLS")
	setString(&cfg.Server.CertFile, "SERVER_CERT_FILE")
	setString(&cfg.Server.KeyFile, "SERVER_KEY_FILE")
	setInt(&cfg.Server.ShutdownTimeout, "SERVER_SHUTDOWN_TIMEOUT")

	setString(&cfg.Database.Path, "DATABASE_PATH")

	if maxBodySize := os.Getenv("MAX_REQUEST_BODY_SIZE"); maxBodySize != "" {
		if size, err := strconv.ParseInt(maxBodySize, 10, 64); err == nil {
			cfg.Security.MaxRequestBodySize = size
		}
	}
	setString(&cfg.Security.AllowedOrigins, "ALLOWED_ORIGINS")

	setBool(&cfg.RateLimit.Enabled, "RATE_LIMIT_ENABLED")
	setInt(&cfg.RateLimit.Rate, "RATE_LIMIT_RATE")
	setInt(&cfg.RateLimit.Window, "RATE_LIMIT_WINDOW")

	setString(&cfg.Attribution.TokenSecret, "ATTRIBUTION_TOKEN_SECRET")
	setString(&cfg.Attribution.TokenIssuer, "ATTRIBUTION_TOKEN_ISSUER")
	setString(&cfg.Attribution.IPHashSalt, "ATTRIBUTION_IP_HASH_SALT")

	setString(&cfg.Cache.RedisAddr, "REDIS_ADDR")
	setString(&cfg.Cache.RedisPassword, "REDIS_PASSWORD")
	setInt(&cfg.Cache.RedisDB, "REDIS_DB")
	setString(&cfg.Cache.KeyPrefix, "CACHE_KEY_PREFIX")
	setInt(&cfg.Cache.TenantTTL, "CACHE_TENANT_TTL")

	setBool(&cfg.Tracing.Enabled, "TRACING_ENABLED")
	setString(&cfg.Tracing.Endpoint, "JAEGER_ENDPOINT")
	setString(&cfg.Tracing.ServiceName, "SERVICE_NAME")

	setString(&cfg.Kafka.Brokers, "KAFKA_BROKERS")
	setString(&cfg.Kafka.Topic, "KAFKA_TOPIC")

	setBool(&cfg.Features.CacheEnabled, "FEATURE_CACHE_ENABLED")
	setBool(&cfg.Features.EventHooksEnabled, "FEATURE_EVENT_HOOKS_ENABLED")

	setString(&cfg.Log.Level, "LOG_LEVEL")
}

func setString(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func setBool(dst *bool, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = strings.ToLower(value) == "true" || value == "1"
	}
}

func setInt(dst *int, key string) {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			*dst = i
		}
	}
}

// KafkaBrokers returns the configured broker list.
func (c *Config) KafkaBrokers() []string {
	var out []string
	for _, b := range strings.Split(c.Kafka.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// TenantTTL returns the tenant cache TTL as a duration.
func (c *Config) TenantTTL() time.Duration {
	return time.Duration(c.Cache.TenantTTL) * time.Second
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Server.EnableTLS && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		return errors.New("tls requires both cert_file and key_file")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return errors.New("rate limit rate must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return errors.New("rate limit window must be positive")
		}
	}
	if c.Attribution.TokenSecret == "" {
		return errors.New("attribution token secret is required")
	}
	if c.Cache.TenantTTL < 0 {
		return errors.New("tenant cache ttl must not be negative")
	}
	if c.Kafka.Brokers != "" && c.Kafka.Topic == "" {
		return errors.New("kafka topic is required when brokers are set")
	}
	return nil
}
