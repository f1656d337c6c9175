package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config captures the runtime configuration for the admission gateway.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Session       SessionConfig       `mapstructure:"session"`
	RateLimits    RateLimitConfig     `mapstructure:"rate_limits"`
	Analysis      AnalysisConfig      `mapstructure:"analysis"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	ListenAddr            string        `mapstructure:"listen_addr"`
	BodyLimitMB           int           `mapstructure:"body_limit_mb"`
	ReadTimeout           time.Duration `mapstructure:"read_timeout"`
	IdleTimeout           time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownDelay time.Duration `mapstructure:"graceful_shutdown_delay"`
	HealthPath            string        `mapstructure:"health_path"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type SessionConfig struct {
	Header     string        `mapstructure:"header"`
	CookieName string        `mapstructure:"cookie_name"`
	TTL        time.Duration `mapstructure:"ttl"`
}

// RateLimitConfig holds the dual-window admission thresholds. Both tiers
// share one request ledger; the windows slide against the wall clock.
type RateLimitConfig struct {
	ShortLimit   int           `mapstructure:"short_limit"`
	ShortWindow  time.Duration `mapstructure:"short_window"`
	HourlyLimit  int           `mapstructure:"hourly_limit"`
	HourlyWindow time.Duration `mapstructure:"hourly_window"`
	Store        string        `mapstructure:"store"`
}

type AnalysisConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ObservabilityConfig struct {
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
	EnableOTLP    bool   `mapstructure:"enable_otlp"`
	EnableMetrics bool   `mapstructure:"enable_metrics"`
}

// Options controls the config loader behavior.
type Options struct {
	ConfigFile string
	EnvFile    string
}

// Load returns the merged configuration sourced from YAML and environment variables.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		_ = godotenv.Load(opts.EnvFile)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	explicitFile := false
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		explicitFile = true
	} else {
		if cfg := os.Getenv("CROPLENS_CONFIG_FILE"); cfg != "" {
			v.SetConfigFile(cfg)
			explicitFile = true
		}
	}

	if !explicitFile {
		// Allow standard lookup locations when no explicit file is provided.
		v.SetConfigName("croplens")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("CROPLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(timeStringToDurationHook())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures required values are set and thresholds are coherent.
func (c *Config) Validate() error {
	var missing []string

	if c.Redis.URL == "" {
		missing = append(missing, "CROPLENS_REDIS_URL")
	}
	if c.Analysis.APIKey == "" {
		missing = append(missing, "CROPLENS_ANALYSIS_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if err := c.RateLimits.validate(); err != nil {
		return err
	}

	if c.Server.BodyLimitMB <= 0 {
		return fmt.Errorf("server.body_limit_mb must be > 0")
	}
	if strings.TrimSpace(c.Server.HealthPath) == "" {
		c.Server.HealthPath = "/healthz"
	}
	if c.Redis.PoolSize < 0 {
		return fmt.Errorf("redis.pool_size must be >= 0")
	}

	if c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be > 0")
	}
	if strings.TrimSpace(c.Session.Header) == "" {
		return fmt.Errorf("session.header must be provided")
	}
	if strings.TrimSpace(c.Session.CookieName) == "" {
		return fmt.Errorf("session.cookie_name must be provided")
	}

	if c.Analysis.Model == "" {
		return fmt.Errorf("analysis.model must be provided")
	}
	if c.Analysis.Timeout <= 0 {
		c.Analysis.Timeout = 60 * time.Second
	}

	return nil
}

func (r *RateLimitConfig) validate() error {
	if r.ShortLimit <= 0 {
		return fmt.Errorf("rate_limits.short_limit must be > 0")
	}
	if r.HourlyLimit <= 0 {
		return fmt.Errorf("rate_limits.hourly_limit must be > 0")
	}
	if r.ShortWindow <= 0 || r.HourlyWindow <= 0 {
		return fmt.Errorf("rate_limits windows must be > 0")
	}
	if r.HourlyWindow < r.ShortWindow {
		return fmt.Errorf("rate_limits.hourly_window cannot be shorter than rate_limits.short_window")
	}
	switch r.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("rate_limits.store must be one of: memory, redis")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.body_limit_mb", 12)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.graceful_shutdown_delay", "5s")
	v.SetDefault("server.health_path", "/healthz")

	// AutomaticEnv only surfaces keys viper already knows, so every key is
	// registered here even when its default is the zero value.
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 0)

	v.SetDefault("session.header", "X-Session-ID")
	v.SetDefault("session.cookie_name", "croplens_session")
	v.SetDefault("session.ttl", "24h")

	v.SetDefault("rate_limits.short_limit", 5)
	v.SetDefault("rate_limits.short_window", "10m")
	v.SetDefault("rate_limits.hourly_limit", 20)
	v.SetDefault("rate_limits.hourly_window", "1h")
	v.SetDefault("rate_limits.store", "redis")

	v.SetDefault("analysis.api_key", "")
	v.SetDefault("analysis.base_url", "")
	v.SetDefault("analysis.model", "gpt-4o-mini")
	v.SetDefault("analysis.timeout", "60s")

	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_otlp", false)
}

func timeStringToDurationHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case time.Duration:
			return v, nil
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, err
			}
			return d, nil
		default:
			return nil, fmt.Errorf("cannot decode %T into time.Duration", data)
		}
	}
}
