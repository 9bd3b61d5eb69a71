// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port          string
	GRPCPort      string
	LogLevel      string
	AllowedOrigin []string
	JWTSecret     string

	DB         DBConfig
	Escalation EscalationConfig
	Notify     NotifyConfig
	Telemetry  TelemetryConfig
}

// DBConfig selects and locates the store backend.
type DBConfig struct {
	Driver string // "sqlite" or "mysql"
	Path   string
	DSN    string
}

// EscalationConfig tunes the escalation engine.
type EscalationConfig struct {
	RequestTimeout time.Duration
	// SweepSchedule is a cron spec for the pending-queue sweeper. Empty disables it.
	SweepSchedule   string
	KeywordCacheTTL time.Duration
	PublicRate      float64
	PublicBurst     int
}

// NotifyConfig configures lifecycle event sinks. Empty URLs disable a sink.
type NotifyConfig struct {
	QueueSize        int
	RabbitMQURL      string
	RabbitMQExchange string
	RedisURL         string
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	Enabled    bool
	Exporter   string
	Endpoint   string
	SampleRate float64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		GRPCPort:      getEnv("GRPC_PORT", "9090"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		AllowedOrigin: getEnvList("ALLOWED_ORIGINS", nil),
		JWTSecret:     getEnv("JWT_SECRET", ""),
		DB:            LoadDB(),
		Escalation: EscalationConfig{
			RequestTimeout:  getEnvDuration("ESCALATION_REQUEST_TIMEOUT", 10*time.Second),
			SweepSchedule:   getEnv("ESCALATION_SWEEP_SCHEDULE", ""),
			KeywordCacheTTL: getEnvDuration("KEYWORD_CACHE_TTL", time.Minute),
			PublicRate:      getEnvFloat("PUBLIC_ESCALATE_RATE", 1),
			PublicBurst:     getEnvInt("PUBLIC_ESCALATE_BURST", 5),
		},
		Notify: NotifyConfig{
			QueueSize:        getEnvInt("NOTIFY_QUEUE_SIZE", 1024),
			RabbitMQURL:      getEnv("RABBITMQ_URL", ""),
			RabbitMQExchange: getEnv("RABBITMQ_EXCHANGE", "escalations"),
			RedisURL:         getEnv("REDIS_URL", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:    getEnvBool("OTEL_ENABLED", false),
			Exporter:   getEnv("OTEL_EXPORTER", "otlp-http"),
			Endpoint:   getEnv("OTEL_ENDPOINT", ""),
			SampleRate: getEnvFloat("OTEL_SAMPLE_RATE", 1),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadDB reads only the store settings. The admin CLI uses it so it can run
// without the server's secrets.
func LoadDB() DBConfig {
	return DBConfig{
		Driver: strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		Path:   getEnv("DB_PATH", "./data/escalations.db"),
		DSN:    getEnv("DB_DSN", ""),
	}
}

// DefaultMaxSessions is the per-staff ceiling given to tenants that do not set one.
func DefaultMaxSessions() int {
	return getEnvInt("ESCALATION_DEFAULT_MAX_SESSIONS", 5)
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET cannot be empty")
	}
	switch c.DB.Driver {
	case "sqlite":
		if c.DB.Path == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case "mysql":
		if c.DB.DSN == "" {
			return fmt.Errorf("DB_DSN is required when DB_DRIVER=mysql")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite or mysql, got %q", c.DB.Driver)
	}
	if c.Escalation.RequestTimeout <= 0 {
		return fmt.Errorf("ESCALATION_REQUEST_TIMEOUT must be > 0")
	}
	if c.Escalation.PublicRate <= 0 || c.Escalation.PublicBurst <= 0 {
		return fmt.Errorf("PUBLIC_ESCALATE_RATE and PUBLIC_ESCALATE_BURST must be > 0")
	}
	if c.Notify.QueueSize <= 0 {
		return fmt.Errorf("NOTIFY_QUEUE_SIZE must be > 0")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0 and 1")
	}
	return nil
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

// getEnvList splits a comma-separated value, dropping blanks.
func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
