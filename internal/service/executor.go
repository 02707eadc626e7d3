package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jakub-figat/chromatin/internal/core"
	"github.com/jakub-figat/chromatin/internal/domain/model"
	obserrors "github.com/jakub-figat/chromatin/internal/observability/errors"
	"github.com/jakub-figat/chromatin/internal/observability/metrics"
	"github.com/jakub-figat/chromatin/internal/observability/notify"
	"github.com/jakub-figat/chromatin/internal/observability/statsd"
)

// JobHandler computes the result of one claimed job. Errors are captured into the job record.
type JobHandler interface {
	Handle(ctx context.Context, job *model.Job) (model.JobResult, error)
}

// JobHandlerFunc adapts a function to JobHandler.
type JobHandlerFunc func(ctx context.Context, job *model.Job) (model.JobResult, error)

// Handle implements JobHandler.
func (f JobHandlerFunc) Handle(ctx context.Context, job *model.Job) (model.JobResult, error) {
	return f(ctx, job)
}

// JobLifecycle is the part of JobService an executor drives.
type JobLifecycle interface {
	Heartbeat(ctx context.Context, job *model.Job) (bool, error)
	HeartbeatInterval() time.Duration
	Complete(ctx context.Context, job *model.Job, result model.JobResult) (bool, error)
	Fail(ctx context.Context, job *model.Job, message string) (bool, error)
}

// FailureNotifier receives jobs whose failure was committed.
type FailureNotifier interface {
	NotifyJobFailure(ctx context.Context, payload notify.JobFailurePayload)
}

// ExecutorOptions groups dependencies for JobExecutor.
type ExecutorOptions struct {
	Jobs     JobLifecycle                 // Required: lease and commit operations
	Handlers map[model.JobType]JobHandler // Required: one handler per job type
	Timeout  time.Duration                // Optional: wall-clock limit per execution
	Logger   *slog.Logger                 // Optional: structured logger
	Metrics  statsd.Sink                  // Optional: metrics sink
	Notifier FailureNotifier              // Optional: outbound failure notifications
}

// Outcome reports what happened to one execution.
type Outcome string

const (
	// OutcomeCompleted means the result was committed.
	OutcomeCompleted Outcome = "completed"
	// OutcomeFailed means the error message was committed.
	OutcomeFailed Outcome = "failed"
	// OutcomeDiscarded means the commit was fenced off because the job was cancelled or reassigned.
	OutcomeDiscarded Outcome = "discarded"
	// OutcomeAbandoned means the worker stopped before committing; the lease will expire.
	OutcomeAbandoned Outcome = "abandoned"
)

// JobExecutor is the single decision point around running a claimed job. It keeps the lease alive,
// enforces the timeout, turns every handler error into a FAILED record and commits under the claim
// fence so a cancelled job never leaves CANCELLED.
type JobExecutor struct {
	jobs     JobLifecycle
	handlers map[model.JobType]JobHandler
	timeout  time.Duration
	logger   *slog.Logger
	metrics  statsd.Sink
	notifier FailureNotifier
}

// NewJobExecutor constructs a JobExecutor.
func NewJobExecutor(opts ExecutorOptions) (*JobExecutor, error) {
	if opts.Jobs == nil {
		return nil, errors.New("job lifecycle is required")
	}
	for _, t := range model.AllJobTypes() {
		if opts.Handlers[t] == nil {
			return nil, fmt.Errorf("no handler registered for job type %s", t)
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &JobExecutor{
		jobs:     opts.Jobs,
		handlers: opts.Handlers,
		timeout:  opts.Timeout,
		logger:   logger.With("component", "job_executor"),
		metrics:  opts.Metrics,
		notifier: opts.Notifier,
	}, nil
}

// Execute runs a job the caller has claimed. The returned error is reserved for failures to reach
// the job store; processing errors are recorded on the job.
func (e *JobExecutor) Execute(ctx context.Context, job *model.Job) (Outcome, error) {
	start := time.Now()
	logger := e.logger.With("job_id", job.ID, "job_type", job.Type, "attempt", job.Attempts)

	runCtx, cancelRun := context.WithCancelCause(ctx)
	defer cancelRun(nil)
	lost := e.keepLease(runCtx, cancelRun, job, logger)

	result, runErr := e.run(runCtx, job)

	if ctx.Err() != nil {
		logger.WarnContext(ctx, "worker stopping; leaving job to lease expiry")
		return OutcomeAbandoned, ctx.Err()
	}
	if lost() {
		logger.InfoContext(ctx, "job lease lost during execution; discarding outcome")
		return OutcomeDiscarded, nil
	}
	// Commits use a context detached from the run so a timeout still records FAILED.
	commitCtx := context.WithoutCancel(ctx)

	if runErr != nil {
		return e.fail(ctx, commitCtx, job, runErr, start, logger)
	}

	ok, err := e.jobs.Complete(commitCtx, job, result)
	if errors.Is(err, core.ErrInvalidResult) {
		// An unstorable result fails the job with the encoding error.
		return e.fail(ctx, commitCtx, job, err, start, logger)
	}
	if err != nil {
		e.emit(job, metrics.TransitionComplete, metrics.ResultError, start, err)
		return OutcomeCompleted, err
	}
	if !ok {
		e.emit(job, metrics.TransitionComplete, metrics.ResultNoop, start, nil)
		logger.InfoContext(ctx, "job no longer held; result discarded")
		return OutcomeDiscarded, nil
	}
	e.emit(job, metrics.TransitionComplete, metrics.ResultSuccess, start, nil)
	logger.InfoContext(ctx, "job completed", "duration", time.Since(start))
	return OutcomeCompleted, nil
}

// fail commits runErr as the job's error message under the claim fence.
func (e *JobExecutor) fail(
	ctx, commitCtx context.Context,
	job *model.Job,
	runErr error,
	start time.Time,
	logger *slog.Logger,
) (Outcome, error) {
	class := obserrors.Classify(runErr)
	ok, err := e.jobs.Fail(commitCtx, job, runErr.Error())
	if err != nil {
		e.emit(job, metrics.TransitionFail, metrics.ResultError, start, err)
		return OutcomeFailed, err
	}
	if !ok {
		e.emit(job, metrics.TransitionFail, metrics.ResultNoop, start, nil)
		logger.InfoContext(ctx, "job no longer held; failure discarded", "error", runErr)
		return OutcomeDiscarded, nil
	}
	e.emit(job, metrics.TransitionFail, metrics.ResultError, start, runErr)
	logger.InfoContext(ctx, "job failed", "error_class", class, "error", runErr, "duration", time.Since(start))
	e.notifyFailure(commitCtx, job, runErr, class)
	return OutcomeFailed, nil
}

func (e *JobExecutor) run(ctx context.Context, job *model.Job) (result model.JobResult, err error) {
	h := e.handlers[job.Type]
	if h == nil {
		return nil, fmt.Errorf("no handler for job type %s", job.Type)
	}

	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			result, err = nil, fmt.Errorf("job handler panicked: %v", p)
		}
	}()

	result, err = h.Handle(runCtx, job)
	if err == nil && result == nil {
		err = errors.New("job handler returned no result")
	}
	if err != nil && ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		err = core.TimeoutError(e.timeout)
	}
	return result, err
}

// keepLease heartbeats until ctx ends. When the store reports the job is no longer held the run is
// cancelled; the returned func reports whether that happened.
func (e *JobExecutor) keepLease(
	ctx context.Context,
	cancel context.CancelCauseFunc,
	job *model.Job,
	logger *slog.Logger,
) func() bool {
	var (
		mu   sync.Mutex
		lost bool
	)
	interval := e.jobs.HeartbeatInterval()
	if interval > 0 {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
				held, err := e.jobs.Heartbeat(ctx, job)
				if err != nil {
					if ctx.Err() == nil {
						logger.WarnContext(ctx, "job heartbeat failed", "error", err)
					}
					continue
				}
				if !held {
					mu.Lock()
					lost = true
					mu.Unlock()
					cancel(errLeaseLost)
					return
				}
			}
		}()
	}
	return func() bool {
		mu.Lock()
		defer mu.Unlock()
		return lost
	}
}

var errLeaseLost = errors.New("job lease lost")

func (e *JobExecutor) emit(job *model.Job, transition, result string, start time.Time, err error) {
	metrics.EmitJobLifecycle(e.metrics, metrics.JobMetric{
		JobType:    string(job.Type),
		Transition: transition,
		Result:     result,
		Duration:   time.Since(start),
		Err:        err,
	})
}

func (e *JobExecutor) notifyFailure(ctx context.Context, job *model.Job, runErr error, class string) {
	if e.notifier == nil {
		return
	}
	e.notifier.NotifyJobFailure(ctx, notify.JobFailurePayload{
		JobID:       job.ID,
		JobType:     string(job.Type),
		OwnerID:     job.OwnerID,
		Attempt:     job.Attempts,
		MaxAttempts: job.MaxAttempts,
		Error:       runErr.Error(),
		ErrorClass:  class,
		OccurredAt:  time.Now(),
	})
}
