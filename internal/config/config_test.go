package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CROPLENS_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("CROPLENS_ANALYSIS_API_KEY", "test-key")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load(Options{EnvFile: "/dev/null"})
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, 12, cfg.Server.BodyLimitMB)
	assert.Equal(t, "/healthz", cfg.Server.HealthPath)

	assert.Equal(t, 5, cfg.RateLimits.ShortLimit)
	assert.Equal(t, 10*time.Minute, cfg.RateLimits.ShortWindow)
	assert.Equal(t, 20, cfg.RateLimits.HourlyLimit)
	assert.Equal(t, time.Hour, cfg.RateLimits.HourlyWindow)
	assert.Equal(t, "redis", cfg.RateLimits.Store)

	assert.Equal(t, "X-Session-ID", cfg.Session.Header)
	assert.Equal(t, "croplens_session", cfg.Session.CookieName)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)

	assert.Equal(t, 60*time.Second, cfg.Analysis.Timeout)
	assert.True(t, cfg.Observability.EnableMetrics)
	assert.False(t, cfg.Observability.EnableOTLP)

	// Required values exist only in the environment; they must land in the
	// struct, not just satisfy Validate.
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, "test-key", cfg.Analysis.APIKey)
}

func TestLoadEnvOnlyKeys(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CROPLENS_ANALYSIS_BASE_URL", "https://llm.internal.example/v1")
	t.Setenv("CROPLENS_OBSERVABILITY_OTLP_ENDPOINT", "otel.internal.example:4317")
	t.Setenv("CROPLENS_REDIS_DB", "2")

	cfg, err := Load(Options{EnvFile: "/dev/null"})
	require.NoError(t, err)

	assert.Equal(t, "https://llm.internal.example/v1", cfg.Analysis.BaseURL)
	assert.Equal(t, "otel.internal.example:4317", cfg.Observability.OTLPEndpoint)
	assert.Equal(t, 2, cfg.Redis.DB)
}

func TestLoadEnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CROPLENS_RATE_LIMITS_SHORT_LIMIT", "3")
	t.Setenv("CROPLENS_RATE_LIMITS_SHORT_WINDOW", "1m")
	t.Setenv("CROPLENS_RATE_LIMITS_STORE", "memory")
	t.Setenv("CROPLENS_SERVER_LISTEN_ADDR", ":9090")

	cfg, err := Load(Options{EnvFile: "/dev/null"})
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.RateLimits.ShortLimit)
	assert.Equal(t, time.Minute, cfg.RateLimits.ShortWindow)
	assert.Equal(t, "memory", cfg.RateLimits.Store)
	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
}

func TestLoadRejectsMissingRequiredValues(t *testing.T) {
	t.Setenv("CROPLENS_REDIS_URL", "")
	t.Setenv("CROPLENS_ANALYSIS_API_KEY", "")

	_, err := Load(Options{EnvFile: "/dev/null"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CROPLENS_REDIS_URL")
	assert.Contains(t, err.Error(), "CROPLENS_ANALYSIS_API_KEY")
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero short limit", func(c *Config) { c.RateLimits.ShortLimit = 0 }},
		{"zero hourly limit", func(c *Config) { c.RateLimits.HourlyLimit = 0 }},
		{"negative window", func(c *Config) { c.RateLimits.ShortWindow = -time.Minute }},
		{"hourly shorter than short", func(c *Config) {
			c.RateLimits.ShortWindow = 2 * time.Hour
		}},
		{"unknown store", func(c *Config) { c.RateLimits.Store = "etcd" }},
		{"zero session ttl", func(c *Config) { c.Session.TTL = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateBackfillsAnalysisTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Analysis.Timeout = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 60*time.Second, cfg.Analysis.Timeout)
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:  ":8080",
			BodyLimitMB: 12,
			HealthPath:  "/healthz",
		},
		Redis: RedisConfig{URL: "redis://localhost:6379/0"},
		Session: SessionConfig{
			Header:     "X-Session-ID",
			CookieName: "croplens_session",
			TTL:        time.Hour,
		},
		RateLimits: RateLimitConfig{
			ShortLimit:   5,
			ShortWindow:  10 * time.Minute,
			HourlyLimit:  20,
			HourlyWindow: time.Hour,
			Store:        "redis",
		},
		Analysis: AnalysisConfig{
			APIKey:  "k",
			Model:   "gpt-4o-mini",
			Timeout: time.Minute,
		},
	}
}
