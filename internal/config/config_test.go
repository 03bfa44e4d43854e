package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_WithDefaults(t *testing.T) {
	// Load config without a config file (use defaults)
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want 8000", cfg.Server.Port)
	}

	if cfg.Alerting.ErrorRateThreshold != 0.05 {
		t.Errorf("Alerting.ErrorRateThreshold = %v, want 0.05", cfg.Alerting.ErrorRateThreshold)
	}

	if cfg.Alerting.P95LatencyMs != 500 {
		t.Errorf("Alerting.P95LatencyMs = %d, want 500", cfg.Alerting.P95LatencyMs)
	}

	if cfg.Alerting.LookbackWindow != 10*time.Minute {
		t.Errorf("Alerting.LookbackWindow = %v, want 10m", cfg.Alerting.LookbackWindow)
	}

	if cfg.Alerting.DedupWindow != 10*time.Minute {
		t.Errorf("Alerting.DedupWindow = %v, want 10m", cfg.Alerting.DedupWindow)
	}

	assert.Equal(t, []string{"slack", "email"}, cfg.Alerting.Channels)
	assert.Equal(t, 64, cfg.Detector.WindowSize)
	assert.Equal(t, 12, cfg.Detector.MinPoints)
	assert.Equal(t, 3.0, cfg.Detector.ZThreshold)
	assert.Equal(t, "memory", cfg.Detector.StateBackend)
	assert.Equal(t, 587, cfg.Notifications.Email.Port)
	assert.Equal(t, "flowguard@demo.local", cfg.Notifications.Email.From)
	assert.Equal(t, 10*time.Second, cfg.Notifications.Email.Timeout)
	assert.Empty(t, cfg.Ingest.Allowlist)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FLOWGUARD_ALERTING_ERROR_RATE_THRESHOLD", "0.2")
	t.Setenv("FLOWGUARD_ALERTING_DEDUP_WINDOW", "5m")
	t.Setenv("FLOWGUARD_ALERTING_CHANNELS", "Email, slack")
	t.Setenv("FLOWGUARD_INGEST_ALLOWLIST", "checkout,payments")
	t.Setenv("FLOWGUARD_NOTIFICATIONS_SLACK_WEBHOOK_URL", "https://hooks.example.com/x")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 0.2, cfg.Alerting.ErrorRateThreshold)
	assert.Equal(t, 5*time.Minute, cfg.Alerting.DedupWindow)
	assert.Equal(t, []string{"email", "slack"}, cfg.Alerting.Channels)
	assert.Equal(t, []string{"checkout", "payments"}, cfg.Ingest.Allowlist)
	assert.Equal(t, "https://hooks.example.com/x", cfg.Notifications.Slack.WebhookURL)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowguard.yaml")
	content := `
alerting:
  p95_latency_ms: 750
  lookback_window: 15m
detector:
  state_backend: redis
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 750, cfg.Alerting.P95LatencyMs)
	assert.Equal(t, 15*time.Minute, cfg.Alerting.LookbackWindow)
	assert.Equal(t, "redis", cfg.Detector.StateBackend)
	// untouched keys keep their defaults
	assert.Equal(t, 0.05, cfg.Alerting.ErrorRateThreshold)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{
			name:    "zero error threshold",
			mutate:  func(c *Config) { c.Alerting.ErrorRateThreshold = 0 },
			wantErr: "alerting.error_rate_threshold",
		},
		{
			name:    "negative latency threshold",
			mutate:  func(c *Config) { c.Alerting.P95LatencyMs = -1 },
			wantErr: "alerting.p95_latency_ms",
		},
		{
			name:    "zero dedup window",
			mutate:  func(c *Config) { c.Alerting.DedupWindow = 0 },
			wantErr: "alerting.dedup_window",
		},
		{
			name:    "window smaller than min points",
			mutate:  func(c *Config) { c.Detector.WindowSize = 5 },
			wantErr: "detector.window_size",
		},
		{
			name:    "unknown state backend",
			mutate:  func(c *Config) { c.Detector.StateBackend = "etcd" },
			wantErr: "detector.state_backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPostgresConnString(t *testing.T) {
	p := PostgresConfig{
		Host: "db", Port: 5433, User: "fg", Password: "pw", Database: "flowguard", SSLMode: "disable",
	}
	assert.Equal(t, "postgres://fg:pw@db:5433/flowguard?sslmode=disable", p.ConnString())
}
