package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jakub-figat/chromatin/config"
	"github.com/jakub-figat/chromatin/internal/adapters/esmfold"
	"github.com/jakub-figat/chromatin/internal/adapters/jobrunner"
	"github.com/jakub-figat/chromatin/internal/adapters/reaper"
	"github.com/jakub-figat/chromatin/internal/core"
	"github.com/jakub-figat/chromatin/internal/data"
	"github.com/jakub-figat/chromatin/internal/observability/notify/pagerduty"
	"github.com/jakub-figat/chromatin/internal/observability/notify/slack"
	"github.com/jakub-figat/chromatin/internal/observability/statsd"
	"github.com/jakub-figat/chromatin/internal/service"
	"github.com/jakub-figat/chromatin/internal/service/failurenotifier"
	"github.com/jakub-figat/chromatin/internal/storage"
)

// inputErrorClasses are failures caused by the submitted data rather than the system.
var inputErrorClasses = []string{"size_limit", "empty_sequence", "invalid_alphabet", "invalid_scoring"}

// NewBlobStore selects the external storage backend.
//
//nolint:ireturn // the backend is chosen at runtime.
func NewBlobStore(cfg config.StorageConfig, logger *slog.Logger) (core.BlobStore, error) {
	switch cfg.Backend {
	case config.StorageBackendS3:
		backend, err := storage.NewS3Backend(storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Endpoint:        cfg.S3Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("create s3 storage: %w", err)
		}
		logger.Info("using s3 storage", "bucket", cfg.S3Bucket, "region", cfg.S3Region)
		return backend, nil
	default:
		backend, err := storage.NewLocalBackend(cfg.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("create local storage: %w", err)
		}
		logger.Info("using local storage", "path", cfg.LocalPath)
		return backend, nil
	}
}

// NewContentStore builds the hybrid inline/external store from configuration.
func NewContentStore(cfg config.StorageConfig, logger *slog.Logger) (*storage.HybridStore, error) {
	blobs, err := NewBlobStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	return storage.NewHybridStore(storage.HybridOptions{
		Blobs:          blobs,
		ThresholdBytes: cfg.ThresholdBytes,
		ChunkSize:      cfg.ChunkSize,
		Logger:         logger,
	}), nil
}

// NewPredictionClient builds the ESMFold client.
func NewPredictionClient(cfg config.PredictionConfig, logger *slog.Logger) (*esmfold.Client, error) {
	client, err := esmfold.NewClient(esmfold.Config{
		APIURL:       cfg.APIURL,
		ModelVersion: cfg.ModelVersion,
		Timeout:      cfg.Timeout,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create prediction client: %w", err)
	}
	return client, nil
}

// NewResultCache wraps Redis in the result cache. A nil client or a disabled cache always misses.
func NewResultCache(client redis.UniversalClient, cfg config.CacheConfig, logger *slog.Logger) *core.ResultCache {
	opts := core.ResultCacheOptions{
		Config: core.ResultCacheConfig{TTL: cfg.TTL, Namespace: cfg.Namespace},
		Logger: logger,
	}
	if cfg.Enabled && client != nil {
		opts.Cache = data.NewRedisCacheRepo(client)
	}
	return core.NewResultCache(opts)
}

// buildMetrics returns the StatsD client, or nil when metrics are disabled.
func buildMetrics(logger *slog.Logger, cfg config.ObservabilityMetricsConfig) *statsd.Client {
	if !cfg.IsEnabled() {
		return nil
	}
	client, err := statsd.NewClient(statsd.Config{
		Enabled: true,
		Address: cfg.StatsdAddress,
		Prefix:  cfg.Prefix,
		Logger:  logger,
	})
	if err != nil {
		logger.Error("failed to initialise statsd client", "error", err)
		return nil
	}
	return client
}

func buildFailureNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *failurenotifier.Service {
	notifierLogger := logger.With("component", "failure_notifier")
	if !cfg.AnySinkEnabled() {
		return failurenotifier.NewService(failurenotifier.Options{Logger: notifierLogger})
	}

	sinks := make([]failurenotifier.SinkRegistration, 0, 2)
	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL:   cfg.Slack.WebhookURL,
			Channel:      cfg.Slack.Channel,
			Username:     cfg.Slack.Username,
			Timeout:      cfg.Timeout,
			RetryLimit:   cfg.RetryLimit,
			JobURLPrefix: cfg.Slack.JobURLPrefix,
		})
		if err != nil {
			logger.Error("failed to initialise slack notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{Name: "slack", Sink: client})
		}
	}
	if cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			logger.Error("failed to initialise pagerduty notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{Name: "pagerduty", Sink: client})
		}
	}

	var ignore []string
	if !cfg.IncludeInputErrors {
		ignore = inputErrorClasses
	}
	return failurenotifier.NewService(failurenotifier.Options{
		Logger:        notifierLogger,
		Sinks:         sinks,
		IgnoreClasses: ignore,
		Timeout:       notifyBudget(cfg),
	})
}

// notifyBudget covers every retry of the slowest sink plus its backoff.
func notifyBudget(cfg config.ObservabilityNotificationsConfig) time.Duration {
	return time.Duration(cfg.RetryLimit+1)*cfg.Timeout + 5*time.Second
}

// WorkerConfig contains configuration for the job worker pool.
type WorkerConfig struct {
	DB         *sql.DB
	Logger     *slog.Logger
	Worker     config.WorkerConfig
	Prediction config.PredictionConfig
	Content    core.ContentStore
	Client     core.PredictionClient
	Cache      *core.ResultCache
	Metrics    statsd.Sink
	Notifier   service.FailureNotifier
}

// RunWorker starts the job worker pool.
func RunWorker(ctx context.Context, cfg WorkerConfig) error {
	runner, err := jobrunner.NewRunner(jobrunner.RunnerOptions{
		DB:         cfg.DB,
		Logger:     cfg.Logger,
		Worker:     cfg.Worker,
		Prediction: cfg.Prediction,
		Content:    cfg.Content,
		Client:     cfg.Client,
		Cache:      cfg.Cache,
		Metrics:    cfg.Metrics,
		Notifier:   cfg.Notifier,
	})
	if err != nil {
		return fmt.Errorf("create job runner: %w", err)
	}
	if err := runner.Run(ctx); err != nil {
		return fmt.Errorf("run job runner: %w", err)
	}
	return nil
}

// ReaperConfig contains configuration for reaper.
type ReaperConfig struct {
	DB      *sql.DB
	Logger  *slog.Logger
	Config  config.ReaperConfig
	Metrics statsd.Sink
}

// RunReaper starts the reaper service.
func RunReaper(ctx context.Context, cfg ReaperConfig) error {
	runner, err := reaper.NewRunner(reaper.RunnerOptions{
		DB:      cfg.DB,
		Config:  cfg.Config,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create reaper runner: %w", err)
	}

	return runner.Run(ctx)
}
