package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/verdantai/croplens/internal/analysis"
	"github.com/verdantai/croplens/internal/config"
	"github.com/verdantai/croplens/internal/limits"
	"github.com/verdantai/croplens/internal/observability"
	"github.com/verdantai/croplens/internal/session"
)

// Container wires the admission pipeline's long-lived dependencies.
type Container struct {
	Config        *config.Config
	Redis         *redis.Client
	Sessions      *session.Store
	Limiter       *limits.Limiter
	Analysis      *analysis.Service
	Observability *observability.Provider
	Logger        *slog.Logger
}

// NewContainer builds every service the HTTP layer depends on.
func NewContainer(ctx context.Context, cfg *config.Config, redisClient *redis.Client) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	limitCfg := limits.Config{
		ShortLimit:   cfg.RateLimits.ShortLimit,
		ShortWindow:  cfg.RateLimits.ShortWindow,
		HourlyLimit:  cfg.RateLimits.HourlyLimit,
		HourlyWindow: cfg.RateLimits.HourlyWindow,
	}

	var store limits.Store
	switch cfg.RateLimits.Store {
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("rate_limits.store is redis but no redis client was provided")
		}
		store = limits.NewRedisStore(redisClient, limitCfg.Retention())
	case "memory":
		store = limits.NewMemoryStore(limitCfg.Retention())
	default:
		return nil, fmt.Errorf("unknown rate limit store %q", cfg.RateLimits.Store)
	}

	var sessions *session.Store
	if redisClient != nil {
		sessions = session.NewStore(redisClient, cfg.Session.TTL)
	}

	analysisSvc, err := analysis.New(cfg.Analysis)
	if err != nil {
		return nil, fmt.Errorf("build analysis service: %w", err)
	}

	obs, err := observability.Setup(ctx, cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("setup observability: %w", err)
	}

	return &Container{
		Config:        cfg,
		Redis:         redisClient,
		Sessions:      sessions,
		Limiter:       limits.NewLimiter(store, limitCfg, nil),
		Analysis:      analysisSvc,
		Observability: obs,
		Logger:        logger,
	}, nil
}
