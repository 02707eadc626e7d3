// Package jobrunner runs the worker pool that claims and executes chromatin jobs.
package jobrunner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jakub-figat/chromatin/config"
	"github.com/jakub-figat/chromatin/internal/core"
	"github.com/jakub-figat/chromatin/internal/data"
	domainjob "github.com/jakub-figat/chromatin/internal/domain/job"
	"github.com/jakub-figat/chromatin/internal/domain/model"
	"github.com/jakub-figat/chromatin/internal/observability/statsd"
	"github.com/jakub-figat/chromatin/internal/service"
)

// RunnerOptions configures the job runner adapter.
type RunnerOptions struct {
	DB         *sql.DB
	Logger     *slog.Logger
	Worker     config.WorkerConfig
	Prediction config.PredictionConfig

	// Required collaborators
	Content core.ContentStore
	Client  core.PredictionClient

	// Optional dependency injections (useful for tests/decoupling)
	JobsRepo       core.JobRepository
	SequencesRepo  core.SequenceRepository
	StructuresRepo core.StructureRepository
	Cache          *core.ResultCache
	Metrics        statsd.Sink
	Notifier       service.FailureNotifier
}

// Runner claims jobs, from notifications or by polling, and hands them to the executor.
type Runner struct {
	jobs     *service.JobService
	executor *service.JobExecutor
	logger   *slog.Logger
	workers  int
	poll     time.Duration
}

type runnerDeps struct {
	jobsRepo       core.JobRepository
	sequencesRepo  core.SequenceRepository
	structuresRepo core.StructureRepository
}

func resolveLogger(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}

func buildRunnerDeps(opts RunnerOptions) runnerDeps {
	deps := runnerDeps{
		jobsRepo:       opts.JobsRepo,
		sequencesRepo:  opts.SequencesRepo,
		structuresRepo: opts.StructuresRepo,
	}
	if deps.jobsRepo == nil {
		deps.jobsRepo = data.NewJobRepo(opts.DB, data.RepoConfig{
			DefaultMaxAttempts: opts.Worker.MaxAttempts,
			Logger:             opts.Logger,
		})
	}
	if deps.sequencesRepo == nil {
		deps.sequencesRepo = data.NewSequenceRepo(opts.DB)
	}
	if deps.structuresRepo == nil {
		deps.structuresRepo = data.NewStructureRepo(opts.DB)
	}
	return deps
}

// NewRunner wires repositories, services and handlers into a worker pool.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.DB == nil && (opts.JobsRepo == nil || opts.SequencesRepo == nil || opts.StructuresRepo == nil) {
		return nil, errors.New("either DB or all repositories must be provided")
	}
	if opts.Content == nil {
		return nil, errors.New("content store is required")
	}
	if opts.Client == nil {
		return nil, errors.New("prediction client is required")
	}

	logger := resolveLogger(opts.Logger)
	workers := max(opts.Worker.Concurrency, 1)
	poll := opts.Worker.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}
	lease := opts.Worker.Lease
	if lease <= 0 {
		lease = time.Minute
	}

	deps := buildRunnerDeps(opts)

	jobs, err := service.NewJobService(service.JobServiceOptions{
		Repo:              deps.jobsRepo,
		Sequences:         deps.sequencesRepo,
		DefaultLease:      lease,
		HeartbeatInterval: opts.Worker.HeartbeatInterval,
		MaxAttempts:       opts.Worker.MaxAttempts,
		Prediction:        opts.Prediction,
		Cache:             opts.Cache,
		Logger:            logger,
		Metrics:           opts.Metrics,
		// Size the buffer so every worker can have ids queued.
		NotifierOptions:   domainjob.NotifierOptions{Buffer: max(64, workers*16)},
	})
	if err != nil {
		return nil, fmt.Errorf("create job service: %w", err)
	}

	alignHandler, err := service.NewAlignmentHandler(service.AlignmentHandlerOptions{
		Sequences: deps.sequencesRepo,
		Content:   opts.Content,
		MaxCells:  opts.Worker.MaxAlignmentCells,
		Cache:     opts.Cache,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create alignment handler: %w", err)
	}
	predictHandler, err := service.NewPredictionHandler(service.PredictionHandlerOptions{
		Sequences:   deps.sequencesRepo,
		Structures:  deps.structuresRepo,
		Content:     opts.Content,
		Client:      opts.Client,
		MaxResidues: opts.Prediction.MaxResidues,
		Cache:       opts.Cache,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create prediction handler: %w", err)
	}

	executor, err := service.NewJobExecutor(service.ExecutorOptions{
		Jobs: jobs,
		Handlers: map[model.JobType]service.JobHandler{
			model.JobTypePairwiseAlignment:   alignHandler,
			model.JobTypeStructurePrediction: predictHandler,
		},
		Timeout:  opts.Worker.JobTimeout,
		Logger:   logger,
		Metrics:  opts.Metrics,
		Notifier: opts.Notifier,
	})
	if err != nil {
		return nil, fmt.Errorf("create job executor: %w", err)
	}

	return &Runner{
		jobs:     jobs,
		executor: executor,
		logger:   logger.With("component", "job_runner"),
		workers:  workers,
		poll:     poll,
	}, nil
}

// Run starts worker goroutines and processes jobs until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting job runner", "workers", r.workers, "poll_interval", r.poll)

	r.jobs.StartNotifications(ctx)
	defer r.jobs.StopNotifications()

	g, gctx := errgroup.WithContext(ctx)
	for i := range r.workers {
		g.Go(func() error {
			return r.workerLoop(gctx, i)
		})
	}
	err := g.Wait()
	if err == nil || errors.Is(err, context.Canceled) {
		r.logger.InfoContext(ctx, "job runner stopped")
		return nil
	}
	return err
}

func (r *Runner) workerLoop(ctx context.Context, worker int) error {
	logger := r.logger.With("worker", worker)
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for ctx.Err() == nil {
		job, err := r.jobs.ReserveNext(ctx)
		switch {
		case err == nil:
			r.process(ctx, logger, job)
			continue
		case errors.Is(err, model.ErrNoJobsAvailable):
		case ctx.Err() != nil:
			return nil
		default:
			logger.ErrorContext(ctx, "reserve next job failed", "error", err)
		}

		if !r.waitForWork(ctx, logger, ticker.C) {
			return nil
		}
	}
	return nil
}

// waitForWork blocks until a notified job has been processed, the poll interval elapses or ctx
// ends. It returns false when the worker should stop.
func (r *Runner) waitForWork(ctx context.Context, logger *slog.Logger, poll <-chan time.Time) bool {
	select {
	case <-ctx.Done():
		return false
	case <-poll:
		return true
	case id := <-r.jobs.Notifications():
		job, ok, err := r.jobs.Claim(ctx, id)
		if err != nil {
			if ctx.Err() == nil {
				logger.ErrorContext(ctx, "claim notified job failed", "job_id", id, "error", err)
			}
			return ctx.Err() == nil
		}
		if ok {
			r.process(ctx, logger, job)
		}
		return true
	}
}

func (r *Runner) process(ctx context.Context, logger *slog.Logger, job *model.Job) {
	outcome, err := r.executor.Execute(ctx, job)
	if err != nil && ctx.Err() == nil {
		logger.ErrorContext(ctx, "job commit failed", "job_id", job.ID, "outcome", outcome, "error", err)
	}
}
