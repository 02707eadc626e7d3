package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakub-figat/chromatin/internal/core"
	"github.com/jakub-figat/chromatin/internal/domain/model"
	"github.com/jakub-figat/chromatin/internal/testutil"
)

func TestJobRepo_RecoverExpiredLeases(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	t.Run("requeues while attempts remain then fails", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			tp := NewManualClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
			repo := NewJobRepo(db, RepoConfig{Clock: tp})
			ctx := context.Background()

			job, err := repo.Create(ctx, testutil.NewPredictionJobRequest(testOwner, "seq").WithMaxAttempts(2).Build())
			require.NoError(t, err)

			for attempt := 1; attempt <= 2; attempt++ {
				_, ok, claimErr := repo.Claim(ctx, job.ID, 30*time.Second)
				require.NoError(t, claimErr)
				require.True(t, ok)
				tp.Advance(time.Minute)

				recovered, recoverErr := repo.RecoverExpiredLeases(ctx, 100)
				require.NoError(t, recoverErr)
				if attempt < 2 {
					assert.Equal(t, core.ExpiredLeases{Requeued: 1}, recovered)
				} else {
					assert.Equal(t, core.ExpiredLeases{Failed: 1}, recovered)
				}
			}

			got, err := repo.GetByID(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, model.JobStatusFailed, got.Status)
			assert.Equal(t, 2, got.Attempts)
			require.NotNil(t, got.ErrorMessage)
			assert.Equal(t, LeaseExpiredMessage, *got.ErrorMessage)
			assert.Nil(t, got.LeaseExpiresAt)
			assert.NotNil(t, got.CompletedAt)
			testutil.LogJobStates(t, db, "after lease exhaustion")
		})
	})

	t.Run("live leases are untouched", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			tp := NewManualClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
			repo := NewJobRepo(db, RepoConfig{Clock: tp})
			ctx := context.Background()

			job, err := repo.Create(ctx, alignmentRequest(testOwner))
			require.NoError(t, err)
			claimed, ok, err := repo.Claim(ctx, job.ID, time.Minute)
			require.NoError(t, err)
			require.True(t, ok)

			tp.Advance(45 * time.Second)
			alive, err := repo.Heartbeat(ctx, model.HeartbeatRequest{JobID: job.ID, Attempt: claimed.Attempts, Lease: time.Minute})
			require.NoError(t, err)
			require.True(t, alive)
			tp.Advance(45 * time.Second)

			recovered, err := repo.RecoverExpiredLeases(ctx, 100)
			require.NoError(t, err)
			assert.Zero(t, recovered)

			got, err := repo.GetByID(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, model.JobStatusRunning, got.Status)
		})
	})

	t.Run("rejects non-positive batch", func(t *testing.T) {
		repo := NewJobRepo(nil, RepoConfig{})
		_, err := repo.RecoverExpiredLeases(context.Background(), 0)
		require.Error(t, err)
	})
}

func TestJobRepo_DeleteOldJobs(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	t.Run("deletes only old jobs of the given terminal status", func(t *testing.T) {
		testutil.WithAutoDB(t, func(db *sql.DB) {
			tp := NewManualClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
			repo := NewJobRepo(db, RepoConfig{Clock: tp})
			ctx := context.Background()

			old, err := repo.CreateCompleted(ctx, alignmentRequest(testOwner), model.PairwiseAlignmentResult{})
			require.NoError(t, err)
			pending, err := repo.Create(ctx, alignmentRequest(testOwner))
			require.NoError(t, err)

			tp.Advance(48 * time.Hour)
			recent, err := repo.CreateCompleted(ctx, alignmentRequest(testOwner), model.PairwiseAlignmentResult{})
			require.NoError(t, err)

			deleted, err := repo.DeleteOldJobs(ctx, core.DeleteOldJobsParams{
				Status:    model.JobStatusCompleted,
				MaxAge:    24 * time.Hour,
				BatchSize: 10,
			})
			require.NoError(t, err)
			assert.Equal(t, int64(1), deleted)

			_, err = repo.GetByID(ctx, old.ID)
			require.ErrorIs(t, err, ErrJobNotFound)
			for _, id := range []string{pending.ID, recent.ID} {
				_, err = repo.GetByID(ctx, id)
				require.NoError(t, err)
			}
		})
	})

	t.Run("validation", func(t *testing.T) {
		repo := NewJobRepo(nil, RepoConfig{})
		tests := []struct {
			name   string
			params core.DeleteOldJobsParams
		}{
			{name: "non-terminal status", params: core.DeleteOldJobsParams{Status: model.JobStatusRunning, BatchSize: 1}},
			{name: "zero batch", params: core.DeleteOldJobsParams{Status: model.JobStatusFailed}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := repo.DeleteOldJobs(context.Background(), tt.params)
				require.Error(t, err)
			})
		}
	})
}
