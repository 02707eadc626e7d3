// Package reaper wires the job repository into the reaper service for the long-running loop
// and for one-off sweeps from the admin CLI.
package reaper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jakub-figat/chromatin/config"
	"github.com/jakub-figat/chromatin/internal/core"
	"github.com/jakub-figat/chromatin/internal/data"
	"github.com/jakub-figat/chromatin/internal/observability/statsd"
	"github.com/jakub-figat/chromatin/internal/service"
)

// RunnerOptions holds the dependencies for creating a Runner. Repo replaces the
// Postgres-backed repository built from DB.
type RunnerOptions struct {
	DB      *sql.DB
	Repo    core.ReaperRepository
	Config  config.ReaperConfig
	Logger  *slog.Logger
	Metrics statsd.Sink
}

// Runner owns a configured ReaperService.
type Runner struct {
	svc    *service.ReaperService
	logger *slog.Logger
}

// NewRunner builds the reaper service; either DB or Repo must be set.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "reaper")

	repo := opts.Repo
	if repo == nil {
		if opts.DB == nil {
			return nil, errors.New("database connection is required")
		}
		repo = data.NewJobRepo(opts.DB, data.RepoConfig{Logger: logger})
	}

	svc, err := service.NewReaperService(service.ReaperServiceOptions{
		Repo:    repo,
		Config:  opts.Config,
		Logger:  logger,
		Metrics: opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("wire reaper service: %w", err)
	}
	return &Runner{svc: svc, logger: logger}, nil
}

// Run sweeps on the configured interval until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reaper runner")
	return r.svc.Run(ctx)
}

// Sweep performs a single recovery and retention pass.
func (r *Runner) Sweep(ctx context.Context) (service.SweepReport, error) {
	return r.svc.Sweep(ctx)
}
