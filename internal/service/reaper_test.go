package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/jakub-figat/chromatin/config"
	"github.com/jakub-figat/chromatin/internal/core"
	"github.com/jakub-figat/chromatin/internal/domain/model"
	"github.com/jakub-figat/chromatin/internal/mocks"
	"github.com/jakub-figat/chromatin/internal/observability/statsd"
)

func testReaperConfig() config.ReaperConfig {
	return config.ReaperConfig{
		Interval:        time.Minute,
		CompletedMaxAge: 30 * 24 * time.Hour,
		FailedMaxAge:    7 * 24 * time.Hour,
		CancelledMaxAge: 24 * time.Hour,
		BatchSize:       2,
	}
}

func TestNewReaperService(t *testing.T) {
	ctrl := gomock.NewController(t)

	t.Run("creates service with valid options", func(t *testing.T) {
		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:   mocks.NewMockReaperRepository(ctrl),
			Config: testReaperConfig(),
		})
		require.NoError(t, err)
		assert.NotNil(t, svc)
	})

	t.Run("returns error when repo is nil", func(t *testing.T) {
		_, err := NewReaperService(ReaperServiceOptions{Config: testReaperConfig()})
		require.ErrorContains(t, err, "ReaperRepository is required")
	})

	t.Run("returns error when batch size is zero", func(t *testing.T) {
		cfg := testReaperConfig()
		cfg.BatchSize = 0
		_, err := NewReaperService(ReaperServiceOptions{Repo: mocks.NewMockReaperRepository(ctrl), Config: cfg})
		require.Error(t, err)
	})
}

func TestReaperService_Sweep(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockReaperRepository(ctrl)
	rec := &statsd.Recorder{}
	cfg := testReaperConfig()

	svc, err := NewReaperService(ReaperServiceOptions{Repo: repo, Config: cfg, Metrics: rec})
	require.NoError(t, err)

	ctx := context.Background()
	gomock.InOrder(
		// A full batch means more may be waiting, so the reaper asks again.
		repo.EXPECT().RecoverExpiredLeases(ctx, 2).Return(core.ExpiredLeases{Requeued: 1, Failed: 1}, nil),
		repo.EXPECT().RecoverExpiredLeases(ctx, 2).Return(core.ExpiredLeases{Requeued: 1}, nil),
		repo.EXPECT().DeleteOldJobs(ctx, core.DeleteOldJobsParams{
			Status: model.JobStatusCompleted, MaxAge: cfg.CompletedMaxAge, BatchSize: 2,
		}).Return(int64(2), nil),
		repo.EXPECT().DeleteOldJobs(ctx, core.DeleteOldJobsParams{
			Status: model.JobStatusCompleted, MaxAge: cfg.CompletedMaxAge, BatchSize: 2,
		}).Return(int64(0), nil),
		repo.EXPECT().DeleteOldJobs(ctx, core.DeleteOldJobsParams{
			Status: model.JobStatusFailed, MaxAge: cfg.FailedMaxAge, BatchSize: 2,
		}).Return(int64(0), nil),
		repo.EXPECT().DeleteOldJobs(ctx, core.DeleteOldJobsParams{
			Status: model.JobStatusCancelled, MaxAge: cfg.CancelledMaxAge, BatchSize: 2,
		}).Return(int64(1), nil),
		repo.EXPECT().DeleteOldJobs(ctx, gomock.Any()).Return(int64(0), nil),
	)

	report, err := svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.Requeued)
	assert.Equal(t, int64(1), report.Failed)
	assert.Equal(t, int64(2), report.Deleted[model.JobStatusCompleted])
	assert.Equal(t, int64(0), report.Deleted[model.JobStatusFailed])
	assert.Equal(t, int64(1), report.Deleted[model.JobStatusCancelled])

	assert.Len(t, rec.Named("reaper.sweep"), 4)
	assert.Len(t, rec.Named("reaper.last_success_epoch"), 1)
	transitions := rec.Named("job.transition")
	require.Len(t, transitions, 2)
	assert.Equal(t, "requeue", transitions[0].Tags["transition"])
	assert.Equal(t, "lease_expired", transitions[1].Tags["error_class"])
}

func TestReaperService_SweepContinuesAfterStepFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockReaperRepository(ctrl)
	rec := &statsd.Recorder{}

	svc, err := NewReaperService(ReaperServiceOptions{Repo: repo, Config: testReaperConfig(), Metrics: rec})
	require.NoError(t, err)

	boom := errors.New("connection reset")
	repo.EXPECT().RecoverExpiredLeases(gomock.Any(), 2).Return(core.ExpiredLeases{}, boom)
	repo.EXPECT().DeleteOldJobs(gomock.Any(), gomock.Any()).Return(int64(0), nil).Times(3)

	_, err = svc.Sweep(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "recover expired leases")
	assert.Empty(t, rec.Named("reaper.last_success_epoch"))
	assert.Equal(t, "error", rec.Named("reaper.sweep")[0].Tags["result"])
}

func TestReaperService_RunStopsOnCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockReaperRepository(ctrl)
	repo.EXPECT().RecoverExpiredLeases(gomock.Any(), gomock.Any()).Return(core.ExpiredLeases{}, nil).AnyTimes()
	repo.EXPECT().DeleteOldJobs(gomock.Any(), gomock.Any()).Return(int64(0), nil).AnyTimes()

	cfg := testReaperConfig()
	cfg.Interval = 20 * time.Millisecond
	svc, err := NewReaperService(ReaperServiceOptions{Repo: repo, Config: cfg})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	select {
	case err := <-done:
		// A deadline is not a graceful shutdown.
		require.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not stop")
	}

	ctx2, cancel2 := context.WithCancel(context.Background())
	cancel2()
	require.NoError(t, svc.Run(ctx2))
}
