package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/linkflow/humantask/internal/config"
	"github.com/linkflow/humantask/internal/engine"
	"github.com/linkflow/humantask/internal/engine/cached"
	"github.com/linkflow/humantask/internal/engine/circuit"
	"github.com/linkflow/humantask/internal/engine/memory"
	"github.com/linkflow/humantask/internal/engine/postgres"
	"github.com/linkflow/humantask/internal/observability/metrics"
	"github.com/linkflow/humantask/internal/store/cache"
)

const redisKeyPrefix = "humantask:"

// openEngine builds the engine stack: driver, circuit breaker, call
// metrics, then the optional identity-link cache. The returned func
// releases connections.
func openEngine(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (engine.Engine, func(), error) {
	var (
		base    engine.Engine
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.Engine.Driver {
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.Engine.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to reach database: %w", err)
		}
		closers = append(closers, pool.Close)
		base = postgres.New(pool)
		logger.Info("engine ready", slog.String("driver", config.DriverPostgres))
	default:
		mem := memory.New()
		if path := cfg.Engine.Memory.SeedFile; path != "" {
			seed, err := memory.LoadSeedFile(path)
			if err != nil {
				return nil, nil, err
			}
			if err := mem.Load(seed); err != nil {
				return nil, nil, fmt.Errorf("failed to seed engine: %w", err)
			}
			logger.Info("engine seeded",
				slog.String("file", path),
				slog.Int("instances", len(seed.Instances)),
			)
		}
		base = mem
		logger.Warn("using in-memory engine, state is lost on restart")
	}

	if bc := cfg.Engine.Breaker; bc.Enabled {
		breakerCfg := circuit.DefaultConfig()
		breakerCfg.FailureThreshold = bc.FailureThreshold
		breakerCfg.OpenTimeout = bc.OpenTimeout
		breakerCfg.OnStateChange = func(from, to circuit.State) {
			logger.Warn("engine circuit breaker state changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		}
		base = circuit.Guard(base, circuit.NewBreaker(cfg.Engine.Driver, breakerCfg))
	}

	eng := engine.Instrument(base, m)
	if !cfg.Cache.Enabled {
		return eng, closeAll, nil
	}

	var l2 cache.Cache
	if cfg.Cache.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("invalid cache.redis_url: %w", err)
		}
		client := redis.NewClient(opts)
		closers = append(closers, func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close failed", slog.String("error", err.Error()))
			}
		})

		rc := cache.NewRedis(client, redisKeyPrefix)
		if err := rc.Ping(ctx); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		l2 = rc
	}

	ml := cache.NewMultiLevel(cache.MultiLevelConfig{
		L1MaxSize: cfg.Cache.L1Size,
		L1TTL:     cfg.Cache.L1TTL,
		L2TTL:     cfg.Cache.L2TTL,

		OnStoreError: func(key string, err error) {
			logger.Warn("identity link cache write failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		},
	}, l2, m)

	logger.Info("identity link cache enabled",
		slog.Int("l1_size", cfg.Cache.L1Size),
		slog.Bool("redis", l2 != nil),
	)
	return cached.Wrap(eng, ml, logger), closeAll, nil
}
