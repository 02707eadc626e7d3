package bootstrap

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/jakub-figat/chromatin/config"
	"github.com/jakub-figat/chromatin/internal/core"
	"github.com/jakub-figat/chromatin/internal/data"
	"github.com/jakub-figat/chromatin/internal/observability/statsd"
	"github.com/jakub-figat/chromatin/internal/service"
	"github.com/jakub-figat/chromatin/internal/service/failurenotifier"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Jobs          *service.JobService
	Sequences     *service.SequenceService
	Content       core.ContentStore
	Predictor     core.PredictionClient
	Cache         *core.ResultCache
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink     *statsd.Client
	MetricsConfig   config.ObservabilityMetricsConfig
	FailureNotifier *failurenotifier.Service
}

// ServiceDeps contains dependencies for creating services.
type ServiceDeps struct {
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Config      *config.AppConfig
	Logger      *slog.Logger
}

func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	metrics := buildMetrics(logger, cfg.Metrics)
	if metrics != nil {
		logger.Info("statsd metrics enabled", "address", cfg.Metrics.StatsdAddress, "prefix", cfg.Metrics.Prefix)
	}
	notifier := buildFailureNotifier(logger, cfg.Notifications)
	if notifier.Enabled() {
		logger.Info("job failure notifications enabled")
	}
	return ObservabilityContainer{
		MetricsSink:     metrics,
		MetricsConfig:   cfg.Metrics,
		FailureNotifier: notifier,
	}
}

// metricsSink avoids handing services a typed nil inside the interface.
func (o ObservabilityContainer) metricsSink() statsd.Sink {
	if o.MetricsSink == nil {
		return nil
	}
	return o.MetricsSink
}

// NewServices creates all application services.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.DB == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("database and config are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	observability := buildObservability(logger, cfg.Observability)

	content, err := NewContentStore(cfg.Storage, logger)
	if err != nil {
		return ServiceContainer{}, err
	}
	predictor, err := NewPredictionClient(cfg.Prediction, logger)
	if err != nil {
		return ServiceContainer{}, err
	}
	cache := NewResultCache(deps.RedisClient, cfg.Cache, logger)

	sequenceRepo := data.NewSequenceRepo(deps.DB)
	jobs, err := service.NewJobService(service.JobServiceOptions{
		Repo: data.NewJobRepo(deps.DB, data.RepoConfig{
			DefaultMaxAttempts: cfg.Worker.MaxAttempts,
			Logger:             logger,
		}),
		Sequences:         sequenceRepo,
		DefaultLease:      cfg.Worker.Lease,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		MaxAttempts:       cfg.Worker.MaxAttempts,
		Prediction:        cfg.Prediction,
		Cache:             cache,
		Logger:            logger,
		Metrics:           observability.metricsSink(),
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create job service: %w", err)
	}

	sequences, err := service.NewSequenceService(service.SequenceServiceOptions{
		Repo:         sequenceRepo,
		Structures:   data.NewStructureRepo(deps.DB),
		Content:      content,
		Upload:       cfg.Upload,
		ModelVersion: cfg.Prediction.ModelVersion,
		Logger:       logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create sequence service: %w", err)
	}

	return ServiceContainer{
		Jobs:          jobs,
		Sequences:     sequences,
		Content:       content,
		Predictor:     predictor,
		Cache:         cache,
		Observability: observability,
	}, nil
}

