package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakub-figat/chromatin/internal/core"
	"github.com/jakub-figat/chromatin/internal/domain/alignment"
	"github.com/jakub-figat/chromatin/internal/domain/model"
	"github.com/jakub-figat/chromatin/internal/observability/notify"
	"github.com/jakub-figat/chromatin/internal/observability/statsd"
	"github.com/jakub-figat/chromatin/internal/service/failurenotifier"
)

// fakeLifecycle records commits and answers heartbeats from a configurable flag.
type fakeLifecycle struct {
	mu         sync.Mutex
	interval   time.Duration
	held       bool
	commitOK   bool
	commitErr  error
	heartbeats int
	completed  []model.JobResult
	failed     []string
}

func newFakeLifecycle() *fakeLifecycle {
	return &fakeLifecycle{held: true, commitOK: true}
}

func (f *fakeLifecycle) Heartbeat(context.Context, *model.Job) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	return f.held, nil
}

func (f *fakeLifecycle) HeartbeatInterval() time.Duration { return f.interval }

func (f *fakeLifecycle) Complete(_ context.Context, _ *model.Job, result model.JobResult) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, result)
	if _, err := json.Marshal(result); err != nil {
		return false, fmt.Errorf("%w: %w", core.ErrInvalidResult, err)
	}
	return f.commitOK, f.commitErr
}

func (f *fakeLifecycle) Fail(_ context.Context, _ *model.Job, message string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, message)
	return f.commitOK, f.commitErr
}

func newTestExecutor(t *testing.T, jobs JobLifecycle, h JobHandlerFunc, timeout time.Duration) (*JobExecutor, *statsd.Recorder) {
	t.Helper()
	rec := &statsd.Recorder{}
	exec, err := NewJobExecutor(ExecutorOptions{
		Jobs: jobs,
		Handlers: map[model.JobType]JobHandler{
			model.JobTypePairwiseAlignment:   h,
			model.JobTypeStructurePrediction: h,
		},
		Timeout: timeout,
		Metrics: rec,
	})
	require.NoError(t, err)
	return exec, rec
}

func testJob() *model.Job {
	return &model.Job{ID: "job-1", Type: model.JobTypePairwiseAlignment, Status: model.JobStatusRunning, Attempts: 1}
}

func TestNewJobExecutor_RequiresEveryHandler(t *testing.T) {
	_, err := NewJobExecutor(ExecutorOptions{
		Jobs:     newFakeLifecycle(),
		Handlers: map[model.JobType]JobHandler{model.JobTypePairwiseAlignment: JobHandlerFunc(nil)},
	})
	require.ErrorContains(t, err, "STRUCTURE_PREDICTION")

	_, err = NewJobExecutor(ExecutorOptions{})
	require.Error(t, err)
}

func TestJobExecutor_Completes(t *testing.T) {
	jobs := newFakeLifecycle()
	want := model.PairwiseAlignmentResult{Cigar: "7M"}
	exec, rec := newTestExecutor(t, jobs, func(context.Context, *model.Job) (model.JobResult, error) {
		return want, nil
	}, time.Second)

	outcome, err := exec.Execute(context.Background(), testJob())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	require.Len(t, jobs.completed, 1)
	assert.Equal(t, want, jobs.completed[0])
	assert.Empty(t, jobs.failed)

	transitions := rec.Named("job.transition")
	require.Len(t, transitions, 1)
	assert.Equal(t, "complete", transitions[0].Tags["transition"])
	assert.Equal(t, "success", transitions[0].Tags["result"])
}

func TestJobExecutor_RecordsProcessingErrors(t *testing.T) {
	tests := []struct {
		name      string
		handler   JobHandlerFunc
		wantMsg   string
		wantClass string
	}{
		{
			name: "size limit",
			handler: func(context.Context, *model.Job) (model.JobResult, error) {
				return nil, &alignment.SizeError{Len1: 10, Len2: 10, MaxCells: 5}
			},
			wantMsg:   "exceeds the limit of 5 matrix cells",
			wantClass: "size_limit",
		},
		{
			name: "upstream",
			handler: func(context.Context, *model.Job) (model.JobResult, error) {
				return nil, &core.UpstreamError{Service: "ESMFold API", StatusCode: 503, Body: "busy"}
			},
			wantMsg:   "ESMFold API returned status 503: busy",
			wantClass: "upstream",
		},
		{
			name: "panic",
			handler: func(context.Context, *model.Job) (model.JobResult, error) {
				panic("nil map")
			},
			wantMsg: "job handler panicked: nil map",
		},
		{
			name: "no result",
			handler: func(context.Context, *model.Job) (model.JobResult, error) {
				return nil, nil
			},
			wantMsg: "job handler returned no result",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := newFakeLifecycle()
			exec, rec := newTestExecutor(t, jobs, tt.handler, time.Second)

			outcome, err := exec.Execute(context.Background(), testJob())
			require.NoError(t, err)
			assert.Equal(t, OutcomeFailed, outcome)
			require.Len(t, jobs.failed, 1)
			assert.Contains(t, jobs.failed[0], tt.wantMsg)

			if tt.wantClass != "" {
				transitions := rec.Named("job.transition")
				require.Len(t, transitions, 1)
				assert.Equal(t, tt.wantClass, transitions[0].Tags["error_class"])
			}
		})
	}
}

func TestJobExecutor_TimeoutFailsJob(t *testing.T) {
	jobs := newFakeLifecycle()
	exec, _ := newTestExecutor(t, jobs, func(ctx context.Context, _ *model.Job) (model.JobResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, 20*time.Millisecond)

	outcome, err := exec.Execute(context.Background(), testJob())
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	require.Len(t, jobs.failed, 1)
	assert.Equal(t, "job timed out after 20ms", jobs.failed[0])
}

func TestJobExecutor_NotifiesCommittedFailures(t *testing.T) {
	var (
		mu       sync.Mutex
		payloads []notify.JobFailurePayload
	)
	sink := notify.SinkFunc(func(_ context.Context, p notify.JobFailurePayload) error {
		mu.Lock()
		defer mu.Unlock()
		payloads = append(payloads, p)
		return nil
	})
	notifier := failurenotifier.NewService(failurenotifier.Options{
		Sinks:         []failurenotifier.SinkRegistration{{Name: "capture", Sink: sink}},
		IgnoreClasses: []string{"size_limit"},
	})

	run := func(jobs *fakeLifecycle, handlerErr error) {
		exec, err := NewJobExecutor(ExecutorOptions{
			Jobs: jobs,
			Handlers: map[model.JobType]JobHandler{
				model.JobTypePairwiseAlignment: JobHandlerFunc(func(context.Context, *model.Job) (model.JobResult, error) {
					return nil, handlerErr
				}),
				model.JobTypeStructurePrediction: JobHandlerFunc(nil),
			},
			Notifier: notifier,
		})
		require.NoError(t, err)
		job := testJob()
		job.OwnerID = "user-1"
		job.MaxAttempts = 3
		_, err = exec.Execute(context.Background(), job)
		require.NoError(t, err)
	}

	run(newFakeLifecycle(), &core.UpstreamError{Service: "esmfold", StatusCode: 503, Body: "unavailable"})
	run(newFakeLifecycle(), alignment.ErrSizeLimit)
	fenced := newFakeLifecycle()
	fenced.commitOK = false
	run(fenced, errors.New("late failure"))

	require.Len(t, payloads, 1)
	assert.Equal(t, "job-1", payloads[0].JobID)
	assert.Equal(t, "PAIRWISE_ALIGNMENT", payloads[0].JobType)
	assert.Equal(t, "user-1", payloads[0].OwnerID)
	assert.Equal(t, 1, payloads[0].Attempt)
	assert.Equal(t, 3, payloads[0].MaxAttempts)
	assert.Equal(t, "upstream", payloads[0].ErrorClass)
}

func TestJobExecutor_FencedCommitIsDiscarded(t *testing.T) {
	jobs := newFakeLifecycle()
	jobs.commitOK = false
	exec, rec := newTestExecutor(t, jobs, func(context.Context, *model.Job) (model.JobResult, error) {
		return model.PairwiseAlignmentResult{}, nil
	}, time.Second)

	outcome, err := exec.Execute(context.Background(), testJob())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDiscarded, outcome)
	transitions := rec.Named("job.transition")
	require.Len(t, transitions, 1)
	assert.Equal(t, "noop", transitions[0].Tags["result"])
}

func TestJobExecutor_StoreErrorIsReturned(t *testing.T) {
	jobs := newFakeLifecycle()
	jobs.commitErr = errors.New("connection reset")
	exec, _ := newTestExecutor(t, jobs, func(context.Context, *model.Job) (model.JobResult, error) {
		return model.PairwiseAlignmentResult{}, nil
	}, time.Second)

	_, err := exec.Execute(context.Background(), testJob())
	require.ErrorContains(t, err, "connection reset")
}

func TestJobExecutor_UnstorableResultFailsJob(t *testing.T) {
	jobs := newFakeLifecycle()
	exec, rec := newTestExecutor(t, jobs, func(context.Context, *model.Job) (model.JobResult, error) {
		return model.PairwiseAlignmentResult{AlignmentScore: math.Inf(1)}, nil
	}, time.Second)

	outcome, err := exec.Execute(context.Background(), testJob())
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	require.Len(t, jobs.failed, 1)
	assert.Contains(t, jobs.failed[0], "job result cannot be stored")
	assert.Contains(t, jobs.failed[0], "unsupported value")

	transitions := rec.Named("job.transition")
	require.Len(t, transitions, 1)
	assert.Equal(t, "fail", transitions[0].Tags["transition"])
}

func TestJobExecutor_LostLeaseStopsWork(t *testing.T) {
	jobs := newFakeLifecycle()
	jobs.interval = 5 * time.Millisecond
	jobs.held = false
	exec, _ := newTestExecutor(t, jobs, func(ctx context.Context, _ *model.Job) (model.JobResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, time.Minute)

	outcome, err := exec.Execute(context.Background(), testJob())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDiscarded, outcome)
	assert.Empty(t, jobs.completed)
	assert.Empty(t, jobs.failed)
}

func TestJobExecutor_ShutdownAbandonsJob(t *testing.T) {
	jobs := newFakeLifecycle()
	ctx, cancel := context.WithCancel(context.Background())
	exec, _ := newTestExecutor(t, jobs, func(ctx context.Context, _ *model.Job) (model.JobResult, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}, time.Minute)

	outcome, err := exec.Execute(ctx, testJob())
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, OutcomeAbandoned, outcome)
	assert.Empty(t, jobs.failed)
}
