package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for FlowGuard.
type Config struct {
	Server        ServerConfig        `mapstructure:"server" yaml:"server"`
	Database      DatabaseConfig      `mapstructure:"database" yaml:"database"`
	Redis         RedisConfig         `mapstructure:"redis" yaml:"redis"`
	NATS          NATSConfig          `mapstructure:"nats" yaml:"nats"`
	Alerting      AlertingConfig      `mapstructure:"alerting" yaml:"alerting"`
	Detector      DetectorConfig      `mapstructure:"detector" yaml:"detector"`
	Notifications NotificationsConfig `mapstructure:"notifications" yaml:"notifications"`
	Ingest        IngestConfig        `mapstructure:"ingest" yaml:"ingest"`
	Logging       LoggingConfig       `mapstructure:"logging" yaml:"logging"`
	Demo          DemoConfig          `mapstructure:"demo" yaml:"demo"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port" yaml:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	CORSOrigins  []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"-"`
	Database string `mapstructure:"database" yaml:"database"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
}

// ConnString builds a postgres:// URL from the settings.
func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis configuration for shared detector state
type RedisConfig struct {
	URL        string `mapstructure:"url" yaml:"url"`
	MaxRetries int    `mapstructure:"max_retries" yaml:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size" yaml:"pool_size"`
}

// NATSConfig holds message broker settings for batch delivery
type NATSConfig struct {
	URL           string        `mapstructure:"url" yaml:"url"`
	Name          string        `mapstructure:"name" yaml:"name"`
	MaxReconnects int           `mapstructure:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait" yaml:"reconnect_wait"`
	AckWait       time.Duration `mapstructure:"ack_wait" yaml:"ack_wait"`
	MaxDeliver    int           `mapstructure:"max_deliver" yaml:"max_deliver"`
	MaxAckPending int           `mapstructure:"max_ack_pending" yaml:"max_ack_pending"`
}

// AlertingConfig holds thresholds and windows for the alerting pipeline
type AlertingConfig struct {
	ErrorRateThreshold float64       `mapstructure:"error_rate_threshold" yaml:"error_rate_threshold"`
	P95LatencyMs       int           `mapstructure:"p95_latency_ms" yaml:"p95_latency_ms"`
	LookbackWindow     time.Duration `mapstructure:"lookback_window" yaml:"lookback_window"`
	DedupWindow        time.Duration `mapstructure:"dedup_window" yaml:"dedup_window"`
	Channels           []string      `mapstructure:"channels" yaml:"channels"`
}

// DetectorConfig holds anomaly detector tuning
type DetectorConfig struct {
	WindowSize    int     `mapstructure:"window_size" yaml:"window_size"`
	MinPoints     int     `mapstructure:"min_points" yaml:"min_points"`
	ZThreshold    float64 `mapstructure:"z_threshold" yaml:"z_threshold"`
	Trees         int     `mapstructure:"trees" yaml:"trees"`
	Contamination float64 `mapstructure:"contamination" yaml:"contamination"`
	Seed          int64   `mapstructure:"seed" yaml:"seed"`
	// StateBackend is "memory" (per process) or "redis" (shared across workers).
	StateBackend string        `mapstructure:"state_backend" yaml:"state_backend"`
	StateTTL     time.Duration `mapstructure:"state_ttl" yaml:"state_ttl"`
}

// NotificationsConfig holds outbound channel settings
type NotificationsConfig struct {
	Slack SlackConfig `mapstructure:"slack" yaml:"slack"`
	Email EmailConfig `mapstructure:"email" yaml:"email"`
}

// SlackConfig holds the Slack incoming-webhook settings
type SlackConfig struct {
	WebhookURL string        `mapstructure:"webhook_url" yaml:"-"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// EmailConfig holds SMTP settings
type EmailConfig struct {
	Host     string        `mapstructure:"host" yaml:"host"`
	Port     int           `mapstructure:"port" yaml:"port"`
	User     string        `mapstructure:"user" yaml:"user"`
	Password string        `mapstructure:"password" yaml:"-"`
	From     string        `mapstructure:"from" yaml:"from"`
	To       string        `mapstructure:"to" yaml:"to"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// IngestConfig holds ingestion settings
type IngestConfig struct {
	// Allowlist restricts accepted service names; empty accepts all.
	Allowlist []string `mapstructure:"allowlist" yaml:"allowlist"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// DemoConfig holds the synthetic data generator settings
type DemoConfig struct {
	Services       []string      `mapstructure:"services" yaml:"services"`
	LogInterval    time.Duration `mapstructure:"log_interval" yaml:"log_interval"`
	MetricInterval time.Duration `mapstructure:"metric_interval" yaml:"metric_interval"`
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Read from config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables override file config
	v.SetEnvPrefix("FLOWGUARD")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Alerting.Channels = normalizeList(cfg.Alerting.Channels, true)
	cfg.Ingest.Allowlist = normalizeList(cfg.Ingest.Allowlist, false)
	cfg.Demo.Services = normalizeList(cfg.Demo.Services, false)
	cfg.Server.CORSOrigins = normalizeList(cfg.Server.CORSOrigins, false)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "flowguard")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "flowguard")
	v.SetDefault("database.postgres.sslmode", "disable")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.name", "flowguard")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.ack_wait", "30s")
	v.SetDefault("nats.max_deliver", 5)
	v.SetDefault("nats.max_ack_pending", 16)

	v.SetDefault("alerting.error_rate_threshold", 0.05)
	v.SetDefault("alerting.p95_latency_ms", 500)
	v.SetDefault("alerting.lookback_window", "10m")
	v.SetDefault("alerting.dedup_window", "10m")
	v.SetDefault("alerting.channels", []string{"slack", "email"})

	v.SetDefault("detector.window_size", 64)
	v.SetDefault("detector.min_points", 12)
	v.SetDefault("detector.z_threshold", 3.0)
	v.SetDefault("detector.trees", 50)
	v.SetDefault("detector.contamination", 0.1)
	v.SetDefault("detector.seed", 42)
	v.SetDefault("detector.state_backend", "memory")
	v.SetDefault("detector.state_ttl", "24h")

	v.SetDefault("notifications.slack.webhook_url", "")
	v.SetDefault("notifications.slack.timeout", "5s")
	v.SetDefault("notifications.email.host", "")
	v.SetDefault("notifications.email.port", 587)
	v.SetDefault("notifications.email.user", "")
	v.SetDefault("notifications.email.password", "")
	v.SetDefault("notifications.email.from", "flowguard@demo.local")
	v.SetDefault("notifications.email.to", "")
	v.SetDefault("notifications.email.timeout", "10s")

	v.SetDefault("ingest.allowlist", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("demo.services", []string{"demo"})
	v.SetDefault("demo.log_interval", "5s")
	v.SetDefault("demo.metric_interval", "10s")
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Alerting.ErrorRateThreshold <= 0 {
		errs = append(errs, fmt.Errorf("alerting.error_rate_threshold must be positive, got %v", c.Alerting.ErrorRateThreshold))
	}
	if c.Alerting.P95LatencyMs <= 0 {
		errs = append(errs, fmt.Errorf("alerting.p95_latency_ms must be positive, got %d", c.Alerting.P95LatencyMs))
	}
	if c.Alerting.LookbackWindow <= 0 {
		errs = append(errs, fmt.Errorf("alerting.lookback_window must be positive, got %s", c.Alerting.LookbackWindow))
	}
	if c.Alerting.DedupWindow <= 0 {
		errs = append(errs, fmt.Errorf("alerting.dedup_window must be positive, got %s", c.Alerting.DedupWindow))
	}
	if c.Detector.WindowSize < c.Detector.MinPoints || c.Detector.MinPoints < 2 {
		errs = append(errs, fmt.Errorf("detector.window_size (%d) must be >= detector.min_points (%d) >= 2",
			c.Detector.WindowSize, c.Detector.MinPoints))
	}
	switch c.Detector.StateBackend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("detector.state_backend must be memory or redis, got %q", c.Detector.StateBackend))
	}
	return errors.Join(errs...)
}

// normalizeList splits comma-joined entries (as they arrive from env vars),
// trims whitespace and drops empties.
func normalizeList(in []string, lower bool) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if lower {
				part = strings.ToLower(part)
			}
			out = append(out, part)
		}
	}
	return out
}
