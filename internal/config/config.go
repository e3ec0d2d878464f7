package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	ServiceName string          `yaml:"service_name"`
	HTTPPort    int             `yaml:"http_port"`
	Database    DatabaseConfig  `yaml:"database"`
	Redis       RedisConfig     `yaml:"redis"`
	RabbitMQ    RabbitMQConfig  `yaml:"rabbitmq"`
	Upstream    UpstreamConfig  `yaml:"upstream"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	Retrieval   RetrievalConfig `yaml:"retrieval"`
	Quota       QuotaConfig     `yaml:"quota"`
	Auth        AuthConfig      `yaml:"auth"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig holds the day cache backend settings
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RabbitMQConfig holds RabbitMQ connection and queue settings
type RabbitMQConfig struct {
	URL                string `yaml:"url"`
	PrefetchExchange   string `yaml:"prefetch_exchange"`
	PrefetchQueue      string `yaml:"prefetch_queue"`
	PrefetchRoutingKey string `yaml:"prefetch_routing_key"`
	EventsExchange     string `yaml:"events_exchange"`
	DLQQueue           string `yaml:"dlq_queue"`
	PrefetchCount      int    `yaml:"prefetch_count"`
}

// UpstreamConfig holds the data provider settings
type UpstreamConfig struct {
	BaseURL      string        `yaml:"base_url"`
	TokenURL     string        `yaml:"token_url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	Timeout      time.Duration `yaml:"timeout"`
}

// RateLimitConfig bounds outbound provider calls
type RateLimitConfig struct {
	MaxCalls  int           `yaml:"max_calls"`
	TimeFrame time.Duration `yaml:"time_frame"`
}

// RetrievalConfig holds orchestration parameters
type RetrievalConfig struct {
	MaxRetries       int           `yaml:"max_retries"`
	MaxWindowDays    int           `yaml:"max_window_days"`
	MaxRangeDays     int           `yaml:"max_range_days"`
	Completeness     float64       `yaml:"completeness"`
	FailureThreshold int           `yaml:"failure_threshold"`
	FailureTTL       time.Duration `yaml:"failure_ttl"`
	BlacklistTTL     time.Duration `yaml:"blacklist_ttl"`
}

// QuotaConfig holds the per-account daily upstream limit. Zero disables it.
type QuotaConfig struct {
	DailyUpstream int `yaml:"daily_upstream"`
}

// AuthConfig holds API authentication settings
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

func defaults() *Config {
	return &Config{
		ServiceName: "metering-gateway",
		HTTPPort:    8080,
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		RabbitMQ: RabbitMQConfig{
			PrefetchExchange:   "metering-gateway.prefetch.exchange",
			PrefetchQueue:      "metering-gateway.prefetch.queue",
			PrefetchRoutingKey: "metering.prefetch.requested",
			EventsExchange:     "metering-gateway.events.exchange",
			DLQQueue:           "metering-gateway.prefetch.dlq",
			PrefetchCount:      4,
		},
		Upstream: UpstreamConfig{
			BaseURL:  "https://gw.ext.prod.api.enedis.fr",
			TokenURL: "https://gw.ext.prod.api.enedis.fr/oauth2/v3/token",
			Timeout:  30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			MaxCalls:  50,
			TimeFrame: time.Second,
		},
		Retrieval: RetrievalConfig{
			MaxRetries:       7,
			MaxWindowDays:    7,
			MaxRangeDays:     1095,
			Completeness:     0.9,
			FailureThreshold: 5,
			FailureTTL:       24 * time.Hour,
			BlacklistTTL:     24 * time.Hour,
		},
		Quota: QuotaConfig{
			DailyUpstream: 500,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by CONFIG_FILE, then environment variables, in increasing precedence.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	cfg.ServiceName = getEnv("SERVICE_NAME", cfg.ServiceName)
	cfg.HTTPPort = getEnvAsInt("HTTP_PORT", cfg.HTTPPort)
	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", cfg.Redis.DB)

	cfg.RabbitMQ.URL = getEnv("RABBITMQ_URL", cfg.RabbitMQ.URL)
	cfg.RabbitMQ.PrefetchExchange = getEnv("RABBITMQ_PREFETCH_EXCHANGE", cfg.RabbitMQ.PrefetchExchange)
	cfg.RabbitMQ.PrefetchQueue = getEnv("RABBITMQ_PREFETCH_QUEUE", cfg.RabbitMQ.PrefetchQueue)
	cfg.RabbitMQ.PrefetchRoutingKey = getEnv("RABBITMQ_PREFETCH_ROUTING_KEY", cfg.RabbitMQ.PrefetchRoutingKey)
	cfg.RabbitMQ.EventsExchange = getEnv("RABBITMQ_EVENTS_EXCHANGE", cfg.RabbitMQ.EventsExchange)
	cfg.RabbitMQ.DLQQueue = getEnv("RABBITMQ_DLQ_QUEUE", cfg.RabbitMQ.DLQQueue)
	cfg.RabbitMQ.PrefetchCount = getEnvAsInt("RABBITMQ_PREFETCH", cfg.RabbitMQ.PrefetchCount)

	cfg.Upstream.BaseURL = getEnv("UPSTREAM_BASE_URL", cfg.Upstream.BaseURL)
	cfg.Upstream.TokenURL = getEnv("UPSTREAM_TOKEN_URL", cfg.Upstream.TokenURL)
	cfg.Upstream.ClientID = getEnv("UPSTREAM_CLIENT_ID", cfg.Upstream.ClientID)
	cfg.Upstream.ClientSecret = getEnv("UPSTREAM_CLIENT_SECRET", cfg.Upstream.ClientSecret)
	cfg.Upstream.Timeout = getEnvAsDuration("UPSTREAM_TIMEOUT", cfg.Upstream.Timeout)

	cfg.RateLimit.MaxCalls = getEnvAsInt("RATE_LIMIT_MAX_CALLS", cfg.RateLimit.MaxCalls)
	cfg.RateLimit.TimeFrame = getEnvAsDuration("RATE_LIMIT_TIME_FRAME", cfg.RateLimit.TimeFrame)

	cfg.Retrieval.MaxRetries = getEnvAsInt("RETRIEVAL_MAX_RETRIES", cfg.Retrieval.MaxRetries)
	cfg.Retrieval.MaxWindowDays = getEnvAsInt("RETRIEVAL_MAX_WINDOW_DAYS", cfg.Retrieval.MaxWindowDays)
	cfg.Retrieval.MaxRangeDays = getEnvAsInt("MAX_RANGE_DAYS", cfg.Retrieval.MaxRangeDays)
	cfg.Retrieval.Completeness = getEnvAsFloat("CACHE_COMPLETENESS", cfg.Retrieval.Completeness)
	cfg.Retrieval.FailureThreshold = getEnvAsInt("FAILURE_THRESHOLD", cfg.Retrieval.FailureThreshold)
	cfg.Retrieval.FailureTTL = getEnvAsDuration("FAILURE_TTL", cfg.Retrieval.FailureTTL)
	cfg.Retrieval.BlacklistTTL = getEnvAsDuration("BLACKLIST_TTL", cfg.Retrieval.BlacklistTTL)

	cfg.Quota.DailyUpstream = getEnvAsInt("QUOTA_DAILY_UPSTREAM", cfg.Quota.DailyUpstream)

	cfg.Auth.JWTSecret = getEnv("AUTH_JWT_SECRET", cfg.Auth.JWTSecret)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"DATABASE_URL", c.Database.URL},
		{"REDIS_ADDR", c.Redis.Addr},
		{"RABBITMQ_URL", c.RabbitMQ.URL},
		{"UPSTREAM_CLIENT_ID", c.Upstream.ClientID},
		{"UPSTREAM_CLIENT_SECRET", c.Upstream.ClientSecret},
		{"AUTH_JWT_SECRET", c.Auth.JWTSecret},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required but not set in environment variables", r.name)
		}
	}
	if c.Retrieval.MaxWindowDays > 7 {
		return fmt.Errorf("RETRIEVAL_MAX_WINDOW_DAYS must be at most 7, got %d", c.Retrieval.MaxWindowDays)
	}
	if c.Retrieval.Completeness <= 0 || c.Retrieval.Completeness > 1 {
		return fmt.Errorf("CACHE_COMPLETENESS must be in (0, 1], got %v", c.Retrieval.Completeness)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
