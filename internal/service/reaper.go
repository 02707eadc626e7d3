package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/jakub-figat/chromatin/config"
	"github.com/jakub-figat/chromatin/internal/core"
	"github.com/jakub-figat/chromatin/internal/domain/model"
	"github.com/jakub-figat/chromatin/internal/observability/metrics"
	"github.com/jakub-figat/chromatin/internal/observability/statsd"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo    core.ReaperRepository // Required
	Config  config.ReaperConfig   // Required: interval, batch size and retention ages
	Logger  *slog.Logger          // Optional
	Metrics statsd.Sink           // Optional
}

// ReaperService recovers jobs whose worker lost its lease and deletes terminal jobs past
// their retention age.
type ReaperService struct {
	repo    core.ReaperRepository
	config  config.ReaperConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("ReaperRepository is required")
	}
	if opts.Config.BatchSize <= 0 {
		return nil, errors.New("reaper batch size must be positive")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ReaperService{
		repo:    opts.Repo,
		config:  opts.Config,
		logger:  logger.With("component", "reaper_service"),
		metrics: opts.Metrics,
	}, nil
}

// Run sweeps once after a short random delay and then on every interval. Cancellation is a
// clean stop; an expired deadline is returned.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.config.Interval <= 0 {
		return errors.New("reaper interval must be positive")
	}
	s.logger.InfoContext(ctx, "starting reaper service",
		"interval", s.config.Interval,
		"completed_max_age", s.config.CompletedMaxAge,
		"failed_max_age", s.config.FailedMaxAge,
		"cancelled_max_age", s.config.CancelledMaxAge,
	)

	delay := time.NewTimer(s.startDelay())
	defer delay.Stop()
	var (
		ticker *time.Ticker
		tick   <-chan time.Time
	)
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-delay.C:
			ticker = time.NewTicker(s.config.Interval)
			tick = ticker.C
			s.sweepAndLog(ctx)
		case <-tick:
			s.sweepAndLog(ctx)
		}
	}
}

// startDelay spreads replicas that boot together across the first tenth of an interval.
func (s *ReaperService) startDelay() time.Duration {
	spread := s.config.Interval / 10
	if spread <= 0 {
		return 0
	}
	return rand.N(spread) //nolint:gosec // scheduling jitter
}

func (s *ReaperService) sweepAndLog(ctx context.Context) {
	_, err := s.Sweep(ctx)
	switch {
	case err == nil:
	case isContextCancellation(err):
		s.logger.DebugContext(ctx, "sweep interrupted", "error", err)
	default:
		s.logger.ErrorContext(ctx, "sweep failed", "error", err)
	}
}

// SweepReport summarises one reaper pass.
type SweepReport struct {
	Requeued  int64
	Failed    int64
	Deleted   map[model.JobStatus]int64
	Elapsed   time.Duration
	Cancelled bool
}

type retentionRule struct {
	status    model.JobStatus
	maxAge    time.Duration
	operation string
}

func (s *ReaperService) retentionRules() []retentionRule {
	return []retentionRule{
		{model.JobStatusCompleted, s.config.CompletedMaxAge, "delete_completed"},
		{model.JobStatusFailed, s.config.FailedMaxAge, "delete_failed"},
		{model.JobStatusCancelled, s.config.CancelledMaxAge, "delete_cancelled"},
	}
}

// Sweep runs lease recovery and then every retention rule. A failing step does not stop the
// ones after it; all failures are joined into the returned error.
func (s *ReaperService) Sweep(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	report := SweepReport{Deleted: make(map[model.JobStatus]int64, 3)}
	var errs []error

	leases, err := s.drainExpiredLeases(ctx)
	report.Requeued, report.Failed = leases.Requeued, leases.Failed
	metrics.EmitReaperSweep(s.metrics, "recover_leases", leases.Requeued+leases.Failed, ignoreCancellation(err))
	if err != nil {
		errs = append(errs, fmt.Errorf("recover expired leases: %w", err))
	}

	for _, rule := range s.retentionRules() {
		n, err := s.drainRetention(ctx, rule)
		report.Deleted[rule.status] = n
		metrics.EmitReaperSweep(s.metrics, rule.operation, n, ignoreCancellation(err))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rule.operation, err))
		}
	}

	report.Elapsed = time.Since(start)
	if s.metrics != nil {
		s.metrics.Timing("reaper.sweep_duration", report.Elapsed, nil)
	}
	if len(errs) == 0 {
		if s.metrics != nil {
			s.metrics.Gauge("reaper.last_success_epoch", float64(time.Now().Unix()), nil)
		}
		return report, nil
	}

	err = errors.Join(errs...)
	if ctx.Err() != nil && isContextCancellation(err) {
		report.Cancelled = true
		return report, ctx.Err()
	}
	return report, err
}

// drainExpiredLeases keeps asking for batches while they come back full.
func (s *ReaperService) drainExpiredLeases(ctx context.Context) (core.ExpiredLeases, error) {
	var total core.ExpiredLeases
	for {
		batch, err := s.repo.RecoverExpiredLeases(ctx, s.config.BatchSize)
		total.Requeued += batch.Requeued
		total.Failed += batch.Failed
		if err != nil {
			return total, err
		}
		if batch.Requeued+batch.Failed < int64(s.config.BatchSize) {
			break
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}

	if total.Requeued > 0 || total.Failed > 0 {
		s.logger.InfoContext(ctx, "recovered expired leases", "requeued", total.Requeued, "failed", total.Failed)
		metrics.EmitLeaseRecovery(s.metrics, total.Requeued, total.Failed)
	}
	return total, nil
}

// drainRetention deletes batches until one comes back empty.
func (s *ReaperService) drainRetention(ctx context.Context, rule retentionRule) (int64, error) {
	params := core.DeleteOldJobsParams{Status: rule.status, MaxAge: rule.maxAge, BatchSize: s.config.BatchSize}
	var total int64
	for {
		n, err := s.repo.DeleteOldJobs(ctx, params)
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
		total += n
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}

	if total > 0 {
		s.logger.InfoContext(ctx, "deleted old jobs", "status", rule.status, "count", total, "max_age", rule.maxAge)
	}
	return total, nil
}

func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func ignoreCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
