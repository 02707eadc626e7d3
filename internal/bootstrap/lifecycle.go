package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/jakub-figat/chromatin/config"
)

const defaultDrainTimeout = 15 * time.Second

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// component is one long-running part of the process. run blocks until ctx is cancelled or the
// component fails, and must return promptly after cancellation.
type component struct {
	mode config.ServiceMode
	name string
	run  func(ctx context.Context) error
}

// RunServicesWithShutdown runs every enabled component until SIGINT or SIGTERM arrives or one
// of them fails; a failure stops the rest and is returned.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("service orchestration config with AppConfig is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	drain := cfg.Config.HTTP.ShutdownTimeout + defaultDrainTimeout
	return runComponents(ctx, logger, enabledComponents(cfg, logger, enabled), drain)
}

func enabledComponents(cfg *ServiceOrchestrationConfig, logger *slog.Logger, enabled map[config.ServiceMode]bool) []component {
	all := []component{
		httpComponent(cfg, logger),
		{
			mode: config.ServiceModeWorker,
			name: "job worker",
			run: func(ctx context.Context) error {
				svc := cfg.Services
				return RunWorker(ctx, WorkerConfig{
					DB:         cfg.DB,
					Logger:     logger,
					Worker:     cfg.Config.Worker,
					Prediction: cfg.Config.Prediction,
					Content:    svc.Content,
					Client:     svc.Predictor,
					Cache:      svc.Cache,
					Metrics:    svc.Observability.metricsSink(),
					Notifier:   svc.Observability.FailureNotifier,
				})
			},
		},
		{
			mode: config.ServiceModeReaper,
			name: "reaper",
			run: func(ctx context.Context) error {
				return RunReaper(ctx, ReaperConfig{
					DB:      cfg.DB,
					Logger:  logger,
					Config:  cfg.Config.Reaper,
					Metrics: cfg.Services.Observability.metricsSink(),
				})
			},
		},
	}
	return slices.DeleteFunc(all, func(c component) bool { return !enabled[c.mode] })
}

// runComponents starts every component and waits for them. The first non-cancellation error
// cancels the others. Once ctx is done, components get drain to return before the call gives up
// and reports which ones are still running.
func runComponents(ctx context.Context, logger *slog.Logger, comps []component, drain time.Duration) error {
	if len(comps) == 0 {
		return errors.New("no services enabled")
	}
	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	running := make(map[string]bool, len(comps))

	for _, c := range comps {
		mu.Lock()
		running[c.name] = true
		mu.Unlock()

		g.Go(func() error {
			defer func() {
				mu.Lock()
				delete(running, c.name)
				mu.Unlock()
				logger.Info("service stopped", "service", c.name)
			}()
			logger.Info("service started", "service", c.name, "mode", c.mode)
			if err := c.run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s failed: %w", c.name, err)
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-gctx.Done():
		logger.Info("shutting down services")
	}

	timer := time.NewTimer(drain)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		mu.Lock()
		names := make([]string, 0, len(running))
		for name := range running {
			names = append(names, name)
		}
		mu.Unlock()
		slices.Sort(names)
		return fmt.Errorf("services did not stop within %s: %v", drain, names)
	}
}
