package jobrunner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/jakub-figat/chromatin/config"
	"github.com/jakub-figat/chromatin/internal/domain/model"
	"github.com/jakub-figat/chromatin/internal/mocks"
	"github.com/jakub-figat/chromatin/internal/storage"
)

type runnerFixture struct {
	jobs       *mocks.MockJobRepository
	sequences  *mocks.MockSequenceRepository
	structures *mocks.MockStructureRepository
	client     *mocks.MockPredictionClient
}

func newRunnerFixture(t *testing.T) *runnerFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	return &runnerFixture{
		jobs:       mocks.NewMockJobRepository(ctrl),
		sequences:  mocks.NewMockSequenceRepository(ctrl),
		structures: mocks.NewMockStructureRepository(ctrl),
		client:     mocks.NewMockPredictionClient(ctrl),
	}
}

func (f *runnerFixture) options() RunnerOptions {
	return RunnerOptions{
		Worker: config.WorkerConfig{
			Concurrency:       1,
			Lease:             time.Minute,
			HeartbeatInterval: time.Hour,
			JobTimeout:        time.Second,
			MaxAttempts:       3,
			MaxAlignmentCells: 1000,
			PollInterval:      time.Hour,
		},
		Prediction:     config.PredictionConfig{MaxResidues: 100},
		Content:        storage.NewHybridStore(storage.HybridOptions{}),
		Client:         f.client,
		JobsRepo:       f.jobs,
		SequencesRepo:  f.sequences,
		StructuresRepo: f.structures,
	}
}

func inlineSequence(id, residues string) *model.Sequence {
	return &model.Sequence{
		ID:      id,
		OwnerID: "owner",
		Name:    "seq-" + id,
		Type:    model.SequenceTypeDNA,
		Length:  len(residues),
		Content: model.StoredContent{Inline: &residues, Size: int64(len(residues))},
	}
}

func TestNewRunner_Validation(t *testing.T) {
	f := newRunnerFixture(t)

	tests := []struct {
		name    string
		mutate  func(*RunnerOptions)
		wantErr string
	}{
		{
			name: "no db and no repositories",
			mutate: func(o *RunnerOptions) {
				o.JobsRepo = nil
			},
			wantErr: "either DB or all repositories must be provided",
		},
		{
			name:    "no content store",
			mutate:  func(o *RunnerOptions) { o.Content = nil },
			wantErr: "content store is required",
		},
		{
			name:    "no prediction client",
			mutate:  func(o *RunnerOptions) { o.Client = nil },
			wantErr: "prediction client is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := f.options()
			tt.mutate(&opts)
			_, err := NewRunner(opts)
			require.EqualError(t, err, tt.wantErr)
		})
	}

	r, err := NewRunner(f.options())
	require.NoError(t, err)
	assert.Equal(t, 1, r.workers)
	assert.Equal(t, time.Hour, r.poll)
}

func TestRunner_RunProcessesReservedJob(t *testing.T) {
	f := newRunnerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := &model.Job{
		ID:       "job-1",
		OwnerID:  "owner",
		Type:     model.JobTypePairwiseAlignment,
		Status:   model.JobStatusRunning,
		Attempts: 1,
		Params:   model.PairwiseAlignmentParams{SequenceID1: "a", SequenceID2: "b"},
	}

	f.jobs.EXPECT().WaitForNotification(gomock.Any()).DoAndReturn(func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}).AnyTimes()
	gomock.InOrder(
		f.jobs.EXPECT().ReserveNext(gomock.Any(), time.Minute).Return(job, nil),
		f.jobs.EXPECT().ReserveNext(gomock.Any(), time.Minute).Return(nil, model.ErrNoJobsAvailable).AnyTimes(),
	)
	f.sequences.EXPECT().GetByID(gomock.Any(), "a").Return(inlineSequence("a", "GATTACA"), nil)
	f.sequences.EXPECT().GetByID(gomock.Any(), "b").Return(inlineSequence("b", "GATTACA"), nil)

	var committed *model.CompleteJobRequest
	f.jobs.EXPECT().Complete(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req *model.CompleteJobRequest) (bool, error) {
			committed = req
			cancel()
			return true, nil
		})

	r, err := NewRunner(f.options())
	require.NoError(t, err)

	require.NoError(t, r.Run(ctx))
	require.NotNil(t, committed)
	assert.Equal(t, "job-1", committed.JobID)
	assert.Equal(t, 1, committed.Attempt)
	res, ok := committed.Result.(model.PairwiseAlignmentResult)
	require.True(t, ok)
	assert.Equal(t, "7M", res.Cigar)
}

func TestRunner_RunClaimsNotifiedJob(t *testing.T) {
	f := newRunnerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job := &model.Job{
		ID:       "job-2",
		OwnerID:  "owner",
		Type:     model.JobTypePairwiseAlignment,
		Status:   model.JobStatusRunning,
		Attempts: 2,
		Params:   model.PairwiseAlignmentParams{SequenceID1: "a", SequenceID2: "missing"},
	}

	notified := false
	f.jobs.EXPECT().WaitForNotification(gomock.Any()).DoAndReturn(func(ctx context.Context) (string, error) {
		if !notified {
			notified = true
			return "job-2", nil
		}
		<-ctx.Done()
		return "", ctx.Err()
	}).AnyTimes()
	f.jobs.EXPECT().ReserveNext(gomock.Any(), gomock.Any()).Return(nil, model.ErrNoJobsAvailable).AnyTimes()
	f.jobs.EXPECT().Claim(gomock.Any(), "job-2", time.Minute).Return(job, true, nil)
	f.sequences.EXPECT().GetByID(gomock.Any(), "a").Return(inlineSequence("a", "ACGT"), nil)
	f.sequences.EXPECT().GetByID(gomock.Any(), "missing").Return(nil, errors.New("sequence not found"))

	var failed *model.FailJobRequest
	f.jobs.EXPECT().Fail(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req *model.FailJobRequest) (bool, error) {
			failed = req
			cancel()
			return true, nil
		})

	r, err := NewRunner(f.options())
	require.NoError(t, err)

	require.NoError(t, r.Run(ctx))
	require.NotNil(t, failed)
	assert.Equal(t, "job-2", failed.JobID)
	assert.Equal(t, 2, failed.Attempt)
	assert.Contains(t, failed.ErrorMessage, "sequence not found")
}

func TestRunner_RunStopsOnCancelledContext(t *testing.T) {
	f := newRunnerFixture(t)
	f.jobs.EXPECT().WaitForNotification(gomock.Any()).Return("", context.Canceled).AnyTimes()
	f.jobs.EXPECT().ReserveNext(gomock.Any(), gomock.Any()).Return(nil, context.Canceled).AnyTimes()

	r, err := NewRunner(f.options())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.Run(ctx))
}
