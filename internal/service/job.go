package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jakub-figat/chromatin/config"
	"github.com/jakub-figat/chromatin/internal/core"
	"github.com/jakub-figat/chromatin/internal/data"
	domainjob "github.com/jakub-figat/chromatin/internal/domain/job"
	"github.com/jakub-figat/chromatin/internal/domain/model"
	apperrors "github.com/jakub-figat/chromatin/internal/errors"
	"github.com/jakub-figat/chromatin/internal/observability/metrics"
	"github.com/jakub-figat/chromatin/internal/observability/statsd"
)

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Repo              core.JobRepository        // Required: job repository
	Sequences         core.SequenceRepository   // Required: resolves sequences referenced by job params
	DefaultLease      time.Duration             // Required unless LeasePolicy is set
	HeartbeatInterval time.Duration             // Optional: defaults to a third of the lease
	MaxAttempts       int                       // Optional: claim attempts per job (default 3)
	Prediction        config.PredictionConfig   // Optional: residue limit and model version
	Cache             *core.ResultCache         // Optional: completes jobs from cached results
	Logger            *slog.Logger              // Optional: structured logger
	Metrics           statsd.Sink               // Optional: metrics sink
	LeasePolicy       *domainjob.LeasePolicy    // Optional: override default lease policy
	Notifier          domainjob.Notifier        // Optional: custom job availability notifier
	NotifierOptions   domainjob.NotifierOptions // Optional: configure default notifier behaviour
}

// JobService provides business logic for job operations.
//
// This service manages:
// - Submission checks and synchronous rejection of invalid jobs
// - Completing jobs straight from the result cache
// - Owner scoped reads, cancellation and deletion
// - Claims, heartbeats and fenced terminal commits for workers.
type JobService struct {
	repo        core.JobRepository
	sequences   core.SequenceRepository
	leasePolicy *domainjob.LeasePolicy
	notifier    domainjob.Notifier
	maxAttempts int
	prediction  config.PredictionConfig
	cache       *core.ResultCache
	logger      *slog.Logger
	metrics     statsd.Sink
}

const defaultMaxAttempts = 3

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Sequences == nil {
		return nil, errors.New("SequenceRepository is required")
	}

	var leasePolicy *domainjob.LeasePolicy
	switch {
	case opts.LeasePolicy != nil:
		leasePolicy = opts.LeasePolicy
	case opts.DefaultLease > 0:
		var err error
		leasePolicy, err = domainjob.NewLeasePolicy(opts.DefaultLease, opts.HeartbeatInterval)
		if err != nil {
			return nil, fmt.Errorf("create lease policy: %w", err)
		}
	default:
		return nil, errors.New("DefaultLease must be positive")
	}

	notifier := opts.Notifier
	if notifier == nil {
		options := opts.NotifierOptions
		if options.Waiter == nil {
			options.Waiter = opts.Repo
		}
		var err error
		notifier, err = domainjob.NewNotifier(options)
		if err != nil {
			return nil, fmt.Errorf("create job notifier: %w", err)
		}
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "job_service")
	logger.Debug("JobService initialized",
		"default_lease", leasePolicy.Default(),
		"max_attempts", maxAttempts,
	)

	return &JobService{
		repo:        opts.Repo,
		sequences:   opts.Sequences,
		leasePolicy: leasePolicy,
		notifier:    notifier,
		maxAttempts: maxAttempts,
		prediction:  opts.Prediction,
		cache:       opts.Cache,
		logger:      logger,
		metrics:     opts.Metrics,
	}, nil
}

// MustNewJobService constructs a new JobService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create JobService: %v", err))
	}
	return svc
}

// Create validates a submission and stores it as PENDING. Everything that can be checked before a
// worker claims the job is checked here: parameter ranges, that referenced sequences exist and
// belong to the caller, and type compatibility. When the result cache already holds the answer the
// job is stored COMPLETED instead and never dispatched.
func (s *JobService) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, apperrors.Validation("job request is required")
	}
	in := *req
	if in.MaxAttempts == 0 {
		in.MaxAttempts = s.maxAttempts
	}
	if err := in.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job request")
	}

	var (
		cached model.JobResult
		err    error
	)
	switch p := in.Params.(type) {
	case model.PairwiseAlignmentParams:
		p = p.WithDefaults()
		in.Params = p
		cached, err = s.prepareAlignment(ctx, in.OwnerID, p)
	case model.StructurePredictionParams:
		cached, err = s.preparePrediction(ctx, in.OwnerID, p)
	default:
		err = apperrors.Validationf("unsupported job type %q", in.Params.JobType())
	}
	if err != nil {
		return nil, err
	}

	jobType := string(in.Params.JobType())
	var job *model.Job
	if cached != nil {
		job, err = s.repo.CreateCompleted(ctx, &in, cached)
	} else {
		job, err = s.repo.Create(ctx, &in)
	}
	if err != nil {
		metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
			JobType: jobType, Transition: metrics.TransitionCreate, Result: metrics.ResultError, Err: err,
		})
		return nil, fmt.Errorf("create job: %w", err)
	}

	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		JobType: jobType, Transition: metrics.TransitionCreate, Result: metrics.ResultSuccess,
	})
	s.logger.DebugContext(ctx, "job created",
		"id", job.ID,
		"type", job.Type,
		"status", job.Status,
		"from_cache", cached != nil,
	)
	return job, nil
}

func (s *JobService) prepareAlignment(
	ctx context.Context,
	ownerID string,
	p model.PairwiseAlignmentParams,
) (model.JobResult, error) {
	seq1, err := s.ownedSequence(ctx, ownerID, p.SequenceID1)
	if err != nil {
		return nil, err
	}
	seq2, err := s.ownedSequence(ctx, ownerID, p.SequenceID2)
	if err != nil {
		return nil, err
	}
	if seq1.Type != seq2.Type {
		return nil, apperrors.Validationf("cannot align sequences of different types: %s vs %s", seq1.Type, seq2.Type)
	}

	var res model.PairwiseAlignmentResult
	hit := s.cache.Lookup(ctx, alignmentCacheKey(s.cache, seq1.ContentHash, seq2.ContentHash, p), &res)
	if s.cache != nil {
		metrics.EmitCacheLookup(s.metrics, cacheKindAlignment, hit)
	}
	if !hit {
		return nil, nil
	}
	res.SequenceID1, res.SequenceName1 = seq1.ID, seq1.Name
	res.SequenceID2, res.SequenceName2 = seq2.ID, seq2.Name
	return res, nil
}

func (s *JobService) preparePrediction(
	ctx context.Context,
	ownerID string,
	p model.StructurePredictionParams,
) (model.JobResult, error) {
	seq, err := s.ownedSequence(ctx, ownerID, p.SequenceID)
	if err != nil {
		return nil, err
	}
	if seq.Type != model.SequenceTypeProtein {
		return nil, apperrors.ValidationField("sequenceId", "structure prediction is only supported for protein sequences")
	}
	if limit := s.prediction.MaxResidues; limit > 0 && seq.Length > limit {
		return nil, apperrors.ValidationField("sequenceId",
			fmt.Sprintf("sequence length %d exceeds the prediction limit of %d residues", seq.Length, limit))
	}
	if p.ForceRecompute {
		return nil, nil
	}

	var res model.StructurePredictionResult
	hit := s.cache.Lookup(ctx, structureCacheKey(s.cache, seq.ContentHash, s.prediction.ModelVersion), &res)
	if s.cache != nil {
		metrics.EmitCacheLookup(s.metrics, cacheKindStructure, hit)
	}
	if !hit {
		return nil, nil
	}
	res.SequenceID, res.SequenceName = seq.ID, seq.Name
	res.CachedResult = true
	return res, nil
}

// ownedSequence loads a referenced sequence and checks that the caller owns it.
func (s *JobService) ownedSequence(ctx context.Context, ownerID, id string) (*model.Sequence, error) {
	seq, err := s.sequences.GetByID(ctx, id)
	if errors.Is(err, data.ErrSequenceNotFound) {
		return nil, apperrors.NotFoundf("sequence %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load sequence %s: %w", id, err)
	}
	if seq.OwnerID != ownerID {
		return nil, apperrors.Forbiddenf("sequence %s belongs to another user", id)
	}
	return seq, nil
}

// Get returns one of the owner's jobs. Jobs owned by someone else are reported as missing.
func (s *JobService) Get(ctx context.Context, id, ownerID string) (*model.Job, error) {
	job, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, data.ErrJobNotFound) {
		return nil, apperrors.NotFoundf("job %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if job.OwnerID != ownerID {
		return nil, apperrors.NotFoundf("job %s not found", id)
	}
	return job, nil
}

// List returns the owner's jobs newest first, without results.
func (s *JobService) List(ctx context.Context, opts *model.JobListOptions) ([]model.JobSummary, error) {
	if opts == nil || opts.OwnerID == "" {
		return nil, apperrors.Validation("owner id is required")
	}
	jobs, err := s.repo.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	out := make([]model.JobSummary, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Summary())
	}
	return out, nil
}

// Cancel moves a PENDING or RUNNING job to CANCELLED. A worker still computing it discards its
// result when it tries to commit.
func (s *JobService) Cancel(ctx context.Context, id, ownerID string) (*model.Job, error) {
	job, err := s.repo.Cancel(ctx, id, ownerID)
	switch {
	case errors.Is(err, data.ErrJobNotFound):
		return nil, apperrors.NotFoundf("job %s not found", id)
	case errors.Is(err, data.ErrJobNotCancellable):
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConflict,
			"only PENDING or RUNNING jobs can be cancelled")
	case err != nil:
		return nil, fmt.Errorf("cancel job: %w", err)
	}

	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		JobType: string(job.Type), Transition: metrics.TransitionCancel, Result: metrics.ResultSuccess,
	})
	s.logger.InfoContext(ctx, "job cancelled", "id", id, "type", job.Type)
	return job, nil
}

// Delete removes one of the owner's jobs in any status.
func (s *JobService) Delete(ctx context.Context, id, ownerID string) error {
	err := s.repo.Delete(ctx, id, ownerID)
	if errors.Is(err, data.ErrJobNotFound) {
		return apperrors.NotFoundf("job %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	s.logger.DebugContext(ctx, "job deleted", "id", id)
	return nil
}

// Stats returns job counts by status.
func (s *JobService) Stats(ctx context.Context) (*model.JobStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	return stats, nil
}

// Claim runs the PENDING to RUNNING compare-and-set for a notified job. ok is false when another
// worker won the race or the job was cancelled first.
func (s *JobService) Claim(ctx context.Context, id string) (*model.Job, bool, error) {
	job, ok, err := s.repo.Claim(ctx, id, s.leasePolicy.Default())
	if err != nil {
		return nil, false, fmt.Errorf("claim job %s: %w", id, err)
	}
	if !ok {
		s.logger.DebugContext(ctx, "job already claimed or no longer pending", "id", id)
		return nil, false, nil
	}
	s.claimed(ctx, job)
	return job, true, nil
}

// ReserveNext claims the oldest PENDING job. It returns model.ErrNoJobsAvailable when the queue is empty.
func (s *JobService) ReserveNext(ctx context.Context) (*model.Job, error) {
	job, err := s.repo.ReserveNext(ctx, s.leasePolicy.Default())
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, err
		}
		return nil, fmt.Errorf("reserve next job: %w", err)
	}
	s.claimed(ctx, job)
	return job, nil
}

func (s *JobService) claimed(ctx context.Context, job *model.Job) {
	metrics.EmitJobLifecycle(s.metrics, metrics.JobMetric{
		JobType: string(job.Type), Transition: metrics.TransitionClaim, Result: metrics.ResultSuccess,
	})
	s.logger.DebugContext(ctx, "job claimed",
		"id", job.ID,
		"type", job.Type,
		"attempt", job.Attempts,
		"lease", s.leasePolicy.Default(),
	)
}

// Heartbeat extends the lease of a job the caller holds. false means the job is no longer RUNNING
// under the caller's attempt.
func (s *JobService) Heartbeat(ctx context.Context, job *model.Job) (bool, error) {
	lease := s.leasePolicy.Default()
	updated, err := s.repo.Heartbeat(ctx, model.HeartbeatRequest{JobID: job.ID, Attempt: job.Attempts, Lease: lease})
	if err != nil {
		return false, fmt.Errorf("heartbeat job %s: %w", job.ID, err)
	}
	if updated {
		s.logger.DebugContext(ctx, "job heartbeat updated", "id", job.ID, "lease", lease)
	}
	return updated, nil
}

// HeartbeatInterval is how often a worker should extend its lease.
func (s *JobService) HeartbeatInterval() time.Duration {
	return s.leasePolicy.HeartbeatInterval()
}

// Complete commits a result for a job the caller holds. false means the commit was fenced off
// because the job was cancelled or reassigned meanwhile.
func (s *JobService) Complete(ctx context.Context, job *model.Job, result model.JobResult) (bool, error) {
	ok, err := s.repo.Complete(ctx, &model.CompleteJobRequest{JobID: job.ID, Attempt: job.Attempts, Result: result})
	if err != nil {
		return false, fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	return ok, nil
}

// Fail commits an error message for a job the caller holds, fenced like Complete.
func (s *JobService) Fail(ctx context.Context, job *model.Job, message string) (bool, error) {
	ok, err := s.repo.Fail(ctx, &model.FailJobRequest{JobID: job.ID, Attempt: job.Attempts, ErrorMessage: message})
	if err != nil {
		return false, fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	return ok, nil
}

// StartNotifications begins listening for newly created or requeued job ids.
func (s *JobService) StartNotifications(ctx context.Context) {
	s.notifier.Start(ctx)
}

// Notifications delivers job ids published by the queue. Each id reaches one receiver.
func (s *JobService) Notifications() <-chan string {
	return s.notifier.Notifications()
}

// StopNotifications stops the listen loop and waits for it to exit.
func (s *JobService) StopNotifications() {
	s.notifier.Stop()
}
