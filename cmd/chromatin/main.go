// Command chromatin runs the sequence job engine: the HTTP API, the job worker pool and the
// reaper, selected with SERVICES.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/jakub-figat/chromatin/config"
	"github.com/jakub-figat/chromatin/internal/bootstrap"
)

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		slog.Default().ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // non-zero exit on fatal startup or shutdown errors.
	}
}

// cleanup closes resources in reverse acquisition order.
type cleanup struct {
	logger *slog.Logger
	steps  []func(context.Context)
}

func (c *cleanup) add(name string, closeFn func() error) {
	c.steps = append(c.steps, func(ctx context.Context) {
		if err := closeFn(); err != nil {
			c.logger.WarnContext(ctx, "close failed", "resource", name, "error", err)
		}
	})
}

func (c *cleanup) run(ctx context.Context) {
	for i := len(c.steps) - 1; i >= 0; i-- {
		c.steps[i](ctx)
	}
}

func run(ctx context.Context) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	logger := bootstrap.InitLogger(&cfg)
	logger.InfoContext(ctx, "starting chromatin",
		"db_host", cfg.Postgres.Host,
		"db_name", cfg.Postgres.Name,
		"storage_backend", cfg.Storage.Backend,
		"cache_enabled", cfg.Cache.Enabled,
		"enabled_services", bootstrap.GetEnabledServices(&cfg))

	if err := bootstrap.ValidateServiceConfig(&cfg); err != nil {
		return err
	}

	closers := &cleanup{logger: logger}
	defer closers.run(ctx)

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{DBConfig: cfg.Postgres, Logger: logger})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	closers.add("postgres", db.Close)

	redisClient, err := connectCache(ctx, &cfg, logger)
	if err != nil {
		return err
	}
	if redisClient != nil {
		closers.add("redis", redisClient.Close)
	}

	if cfg.Postgres.RunMigrationsOnStart {
		if err := bootstrap.RunMigrations(ctx, db, logger); err != nil {
			return err
		}
	} else {
		logger.InfoContext(ctx, "skipping database migrations on startup")
	}

	services, err := bootstrap.NewServices(&bootstrap.ServiceDeps{
		Config:      &cfg,
		DB:          db,
		RedisClient: redisClient,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}
	if sink := services.Observability.MetricsSink; sink != nil {
		closers.add("statsd", sink.Close)
	}

	return bootstrap.RunServicesWithShutdown(&bootstrap.ServiceOrchestrationConfig{
		Config:      &cfg,
		Services:    services,
		DB:          db,
		RedisClient: redisClient,
		Logger:      logger,
	})
}

// connectCache returns nil without error when the result cache is disabled.
//
//nolint:ireturn // sentinel and cluster clients share the UniversalClient interface.
func connectCache(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (redis.UniversalClient, error) {
	if !cfg.Cache.Enabled {
		logger.InfoContext(ctx, "result cache disabled; skipping redis connection")
		return nil, nil
	}
	client, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{RedisConfig: cfg.Redis, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}
