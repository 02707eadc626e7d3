package data

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakub-figat/chromatin/internal/core"
	"github.com/jakub-figat/chromatin/internal/domain/model"
	"github.com/jakub-figat/chromatin/internal/testutil"
)

const testOwner = "user-1"

func alignmentRequest(owner string) *model.CreateJobRequest {
	return testutil.NewAlignmentJobRequest(owner, uuid.NewString(), uuid.NewString()).Build()
}

func TestBuildJobListQuery(t *testing.T) {
	status := model.JobStatusRunning
	jobType := model.JobTypeStructurePrediction

	tests := []struct {
		name      string
		opts      *model.JobListOptions
		wantParts []string
		wantArgs  []any
	}{
		{
			name:      "owner only uses default limit",
			opts:      &model.JobListOptions{OwnerID: "u"},
			wantParts: []string{"owner_id = $1", "ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3"},
			wantArgs:  []any{"u", defaultListLimit, 0},
		},
		{
			name: "status and type filters",
			opts: &model.JobListOptions{OwnerID: "u", Status: &status, Type: &jobType, Limit: 5, Offset: 10},
			wantParts: []string{
				"AND status = $2",
				"AND job_type = $3",
				"LIMIT $4 OFFSET $5",
			},
			wantArgs: []any{"u", "RUNNING", "STRUCTURE_PREDICTION", 5, 10},
		},
		{
			name:      "limit is clamped",
			opts:      &model.JobListOptions{OwnerID: "u", Limit: 5000, Offset: -3},
			wantParts: []string{"LIMIT $2 OFFSET $3"},
			wantArgs:  []any{"u", maxListLimit, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildJobListQuery(tt.opts)
			for _, part := range tt.wantParts {
				assert.Contains(t, query, part)
			}
			assert.Contains(t, query, "NULL::jsonb AS result")
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestJobRepo_CompleteRejectsUnstorableResult(t *testing.T) {
	repo := NewJobRepo(nil, RepoConfig{})

	_, err := repo.Complete(context.Background(), &model.CompleteJobRequest{
		JobID:   uuid.NewString(),
		Attempt: 1,
		Result:  model.PairwiseAlignmentResult{AlignmentScore: math.Inf(1)},
	})
	require.ErrorIs(t, err, core.ErrInvalidResult)
	assert.Contains(t, err.Error(), "+Inf")

	_, err = repo.Complete(context.Background(), &model.CompleteJobRequest{JobID: uuid.NewString()})
	require.ErrorIs(t, err, core.ErrInvalidResult)
}

func TestJobRepo_Create(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	tests := []struct {
		name    string
		req     *model.CreateJobRequest
		wantErr string
	}{
		{name: "alignment", req: alignmentRequest(testOwner)},
		{name: "prediction with attempts", req: testutil.NewPredictionJobRequest(testOwner, uuid.NewString()).WithMaxAttempts(5).Build()},
		{name: "missing owner", req: alignmentRequest(""), wantErr: "owner id is required"},
		{
			name:    "invalid params",
			req:     testutil.NewPredictionJobRequest(testOwner, "").Build(),
			wantErr: "sequenceId is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testutil.WithAutoDB(t, func(db *sql.DB) {
				repo := NewJobRepo(db, RepoConfig{})

				job, err := repo.Create(context.Background(), tt.req)
				if tt.wantErr != "" {
					require.Error(t, err)
					assert.Contains(t, err.Error(), tt.wantErr)
					assert.Nil(t, job)
					return
				}

				require.NoError(t, err)
				assert.NotEmpty(t, job.ID)
				assert.Equal(t, model.JobStatusPending, job.Status)
				assert.Equal(t, tt.req.Params.JobType(), job.Type)
				assert.Equal(t, tt.req.Params, job.Params)
				assert.Zero(t, job.Attempts)
				assert.Nil(t, job.Result)
				assert.Nil(t, job.CompletedAt)
				if tt.req.MaxAttempts > 0 {
					assert.Equal(t, tt.req.MaxAttempts, job.MaxAttempts)
				} else {
					assert.Equal(t, defaultMaxAttempts, job.MaxAttempts)
				}
			})
		})
	}
}

func TestJobRepo_CreateCompleted(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, RepoConfig{})
		ctx := context.Background()
		seqID := uuid.NewString()
		req := testutil.NewPredictionJobRequest(testOwner, seqID).Build()
		result := model.StructurePredictionResult{SequenceID: seqID, StructureID: uuid.NewString(), CachedResult: true, ResidueCount: 2}

		job, err := repo.CreateCompleted(ctx, req, result)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, job.Status)
		require.NotNil(t, job.CompletedAt)
		assert.Equal(t, result, job.Result)

		_, claimed, err := repo.Claim(ctx, job.ID, time.Minute)
		require.NoError(t, err)
		assert.False(t, claimed, "completed job must not be claimable")

		_, err = repo.CreateCompleted(ctx, req, model.PairwiseAlignmentResult{})
		require.Error(t, err)
	})
}

func TestJobRepo_ClaimIsExclusive(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, RepoConfig{})
		ctx := context.Background()

		job, err := repo.Create(ctx, alignmentRequest(testOwner))
		require.NoError(t, err)

		const contenders = 8
		var (
			mu      sync.Mutex
			winners int
		)
		runner := testutil.NewConcurrentTestRunner(t)
		funcs := make([]func() error, contenders)
		for i := range funcs {
			funcs[i] = func() error {
				_, ok, claimErr := repo.Claim(ctx, job.ID, time.Minute)
				if ok {
					mu.Lock()
					winners++
					mu.Unlock()
				}
				return claimErr
			}
		}
		runner.AssertNoErrors(runner.RunConcurrent(funcs...))

		assert.Equal(t, 1, winners)
		got, err := repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusRunning, got.Status)
		assert.Equal(t, 1, got.Attempts)
		assert.NotNil(t, got.LeaseExpiresAt)
		assert.NotNil(t, got.StartedAt)
	})
}

func TestJobRepo_ClaimUnknownOrMalformed(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, RepoConfig{})
		for _, id := range []string{uuid.NewString(), "not-a-uuid"} {
			job, ok, err := repo.Claim(context.Background(), id, time.Minute)
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Nil(t, job)
		}
	})
}

func TestJobRepo_CancelledBeforeClaimNeverRuns(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, RepoConfig{})
		ctx := context.Background()

		job, err := repo.Create(ctx, alignmentRequest(testOwner))
		require.NoError(t, err)

		cancelled, err := repo.Cancel(ctx, job.ID, testOwner)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCancelled, cancelled.Status)
		assert.NotNil(t, cancelled.CompletedAt)

		_, ok, err := repo.Claim(ctx, job.ID, time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = repo.ReserveNext(ctx, time.Minute)
		require.ErrorIs(t, err, model.ErrNoJobsAvailable)
	})
}

func TestJobRepo_Cancel(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, RepoConfig{})
		ctx := context.Background()

		job, err := repo.Create(ctx, alignmentRequest(testOwner))
		require.NoError(t, err)

		t.Run("other owner sees not found", func(t *testing.T) {
			_, cancelErr := repo.Cancel(ctx, job.ID, "someone-else")
			require.ErrorIs(t, cancelErr, ErrJobNotFound)
		})

		t.Run("running job is cancellable and its commit is discarded", func(t *testing.T) {
			claimed, ok, claimErr := repo.Claim(ctx, job.ID, time.Minute)
			require.NoError(t, claimErr)
			require.True(t, ok)

			_, cancelErr := repo.Cancel(ctx, job.ID, testOwner)
			require.NoError(t, cancelErr)

			committed, commitErr := repo.Complete(ctx, &model.CompleteJobRequest{
				JobID:   job.ID,
				Attempt: claimed.Attempts,
				Result:  model.PairwiseAlignmentResult{AlignmentScore: 1},
			})
			require.NoError(t, commitErr)
			assert.False(t, committed)

			got, getErr := repo.GetByID(ctx, job.ID)
			require.NoError(t, getErr)
			assert.Equal(t, model.JobStatusCancelled, got.Status)
			assert.Nil(t, got.Result)
		})

		t.Run("terminal job is not cancellable", func(t *testing.T) {
			_, cancelErr := repo.Cancel(ctx, job.ID, testOwner)
			require.ErrorIs(t, cancelErr, ErrJobNotCancellable)
			assert.Contains(t, cancelErr.Error(), "CANCELLED")
		})

		t.Run("unknown id", func(t *testing.T) {
			_, cancelErr := repo.Cancel(ctx, uuid.NewString(), testOwner)
			require.ErrorIs(t, cancelErr, ErrJobNotFound)
		})
	})
}

func TestJobRepo_CommitsAreFencedByAttempt(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		tp := NewManualClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
		repo := NewJobRepo(db, RepoConfig{Clock: tp, DefaultMaxAttempts: 3})
		ctx := context.Background()

		job, err := repo.Create(ctx, alignmentRequest(testOwner))
		require.NoError(t, err)

		first, ok, err := repo.Claim(ctx, job.ID, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		tp.Advance(2 * time.Minute)
		recovered, err := repo.RecoverExpiredLeases(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(1), recovered.Requeued)

		second, ok, err := repo.Claim(ctx, job.ID, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, first.Attempts+1, second.Attempts)

		stale, err := repo.Fail(ctx, &model.FailJobRequest{JobID: job.ID, Attempt: first.Attempts, ErrorMessage: "late"})
		require.NoError(t, err)
		assert.False(t, stale, "a superseded attempt must not commit")

		alive, err := repo.Heartbeat(ctx, model.HeartbeatRequest{JobID: job.ID, Attempt: first.Attempts, Lease: time.Minute})
		require.NoError(t, err)
		assert.False(t, alive)

		alive, err = repo.Heartbeat(ctx, model.HeartbeatRequest{JobID: job.ID, Attempt: second.Attempts, Lease: time.Minute})
		require.NoError(t, err)
		assert.True(t, alive)

		done, err := repo.Complete(ctx, &model.CompleteJobRequest{
			JobID:   job.ID,
			Attempt: second.Attempts,
			Result:  model.PairwiseAlignmentResult{AlignmentScore: 7, Cigar: "4M"},
		})
		require.NoError(t, err)
		assert.True(t, done)

		got, err := repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, got.Status)
		assert.Nil(t, got.LeaseExpiresAt)
		assert.Nil(t, got.ErrorMessage)
		res, ok := got.Result.(model.PairwiseAlignmentResult)
		require.True(t, ok)
		assert.InDelta(t, 7.0, res.AlignmentScore, 1e-9)
	})
}

func TestJobRepo_ReserveNextOrdersByCreation(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		tp := NewManualClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
		repo := NewJobRepo(db, RepoConfig{Clock: tp})
		ctx := context.Background()

		older, err := repo.Create(ctx, alignmentRequest(testOwner))
		require.NoError(t, err)
		tp.Advance(time.Second)
		newer, err := repo.Create(ctx, alignmentRequest(testOwner))
		require.NoError(t, err)

		got, err := repo.ReserveNext(ctx, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, older.ID, got.ID)
		assert.Equal(t, model.JobStatusRunning, got.Status)

		got, err = repo.ReserveNext(ctx, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, newer.ID, got.ID)

		_, err = repo.ReserveNext(ctx, time.Minute)
		require.ErrorIs(t, err, model.ErrNoJobsAvailable)
	})
}

func TestJobRepo_FailRecordsMessage(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, RepoConfig{})
		ctx := context.Background()

		job, err := repo.Create(ctx, alignmentRequest(testOwner))
		require.NoError(t, err)
		claimed, ok, err := repo.Claim(ctx, job.ID, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		failed, err := repo.Fail(ctx, &model.FailJobRequest{JobID: job.ID, Attempt: claimed.Attempts, ErrorMessage: "boom"})
		require.NoError(t, err)
		assert.True(t, failed)

		got, err := repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, got.Status)
		require.NotNil(t, got.ErrorMessage)
		assert.Equal(t, "boom", *got.ErrorMessage)
		assert.Nil(t, got.Result)
		assert.NotNil(t, got.CompletedAt)
	})
}

func TestJobRepo_ListStatsDelete(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, RepoConfig{})
		ctx := context.Background()

		mine, err := repo.Create(ctx, alignmentRequest(testOwner))
		require.NoError(t, err)
		_, err = repo.CreateCompleted(ctx,
			testutil.NewPredictionJobRequest(testOwner, uuid.NewString()).Build(),
			model.StructurePredictionResult{ResidueCount: 3},
		)
		require.NoError(t, err)
		_, err = repo.Create(ctx, alignmentRequest("other-owner"))
		require.NoError(t, err)

		all, err := repo.List(ctx, &model.JobListOptions{OwnerID: testOwner})
		require.NoError(t, err)
		require.Len(t, all, 2)
		for _, j := range all {
			assert.Nil(t, j.Result, "list never loads results")
		}

		completed := model.JobStatusCompleted
		onlyDone, err := repo.List(ctx, &model.JobListOptions{OwnerID: testOwner, Status: &completed})
		require.NoError(t, err)
		require.Len(t, onlyDone, 1)

		stats, err := repo.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Pending)
		assert.Equal(t, 1, stats.Completed)

		require.ErrorIs(t, repo.Delete(ctx, mine.ID, "other-owner"), ErrJobNotFound)
		require.NoError(t, repo.Delete(ctx, mine.ID, testOwner))
		_, err = repo.GetByID(ctx, mine.ID)
		require.ErrorIs(t, err, ErrJobNotFound)
	})
}

func TestJobRepo_WaitForNotification(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, RepoConfig{})
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		got := make(chan string, 1)
		errCh := make(chan error, 1)
		go func() {
			id, err := repo.WaitForNotification(ctx)
			if err != nil {
				errCh <- err
				return
			}
			got <- id
		}()

		// LISTEN is issued asynchronously; keep publishing until the listener observes a job.
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		created := map[string]bool{}
		for {
			select {
			case id := <-got:
				assert.True(t, created[id], "notification payload must be a created job id")
				return
			case err := <-errCh:
				t.Fatalf("wait for notification: %v", err)
			case <-ticker.C:
				job, err := repo.Create(ctx, alignmentRequest(testOwner))
				if err != nil && !errors.Is(err, context.DeadlineExceeded) {
					require.NoError(t, err)
				}
				if job != nil {
					created[job.ID] = true
				}
			case <-ctx.Done():
				t.Fatal("no notification received")
			}
		}
	})
}
