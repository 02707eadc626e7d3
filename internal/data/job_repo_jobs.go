package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jakub-figat/chromatin/internal/core"
	"github.com/jakub-figat/chromatin/internal/data/pgxutil"
	"github.com/jakub-figat/chromatin/internal/domain/model"
)

var (
	insertJobSQL = `
	INSERT INTO jobs (id, owner_id, job_type, status, params, result, max_attempts,
	                  started_at, completed_at, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, $9, $9)
	RETURNING ` + jobColumns

	// claimSQL is the conditional PENDING -> RUNNING write that decides job ownership.
	claimSQL = `
	UPDATE jobs
	SET status = 'RUNNING',
	    attempts = attempts + 1,
	    started_at = COALESCE(started_at, $2),
	    lease_expires_at = $3,
	    updated_at = $2
	WHERE id = $1 AND status = 'PENDING'
	RETURNING ` + jobColumns

	// reserveSQL claims the oldest PENDING row that no concurrent reserver has locked.
	reserveSQL = `
	WITH next AS (
	  SELECT id FROM jobs
	  WHERE status = 'PENDING'
	  ORDER BY created_at, id
	  LIMIT 1
	  FOR UPDATE SKIP LOCKED
	)
	UPDATE jobs j
	SET status = 'RUNNING',
	    attempts = j.attempts + 1,
	    started_at = COALESCE(j.started_at, $1),
	    lease_expires_at = $2,
	    updated_at = $1
	FROM next
	WHERE j.id = next.id AND j.status = 'PENDING'
	RETURNING ` + columnList("j.")

	cancelSQL = `
	UPDATE jobs
	SET status = 'CANCELLED',
	    completed_at = $3,
	    lease_expires_at = NULL,
	    updated_at = $3
	WHERE id = $1 AND owner_id = $2 AND status IN ('PENDING', 'RUNNING')
	RETURNING ` + jobColumns
)

// finishSQL commits a terminal state for one attempt. A job cancelled, deleted or requeued since
// the attempt was claimed matches no row.
const finishSQL = `
	UPDATE jobs
	SET status = $3,
	    result = $4,
	    error_message = $5,
	    completed_at = $6,
	    lease_expires_at = NULL,
	    updated_at = $6
	WHERE id = $1 AND status = 'RUNNING' AND attempts = $2`

// Create inserts a PENDING job and publishes its id on JobChannel in the same transaction.
func (r *JobRepo) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	return r.insert(ctx, req, model.JobStatusPending, nil)
}

// CreateCompleted inserts a job that is already COMPLETED with result. Nothing is published.
func (r *JobRepo) CreateCompleted(
	ctx context.Context,
	req *model.CreateJobRequest,
	result model.JobResult,
) (*model.Job, error) {
	if result == nil {
		return nil, errors.New("result is required")
	}
	if req != nil && req.Params != nil && result.JobType() != req.Params.JobType() {
		return nil, fmt.Errorf("result type %s does not match job type %s", result.JobType(), req.Params.JobType())
	}
	return r.insert(ctx, req, model.JobStatusCompleted, result)
}

func (r *JobRepo) insert(
	ctx context.Context,
	req *model.CreateJobRequest,
	status model.JobStatus,
	result model.JobResult,
) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	params, err := encodeJSON(req.Params)
	if err != nil {
		return nil, err
	}
	var resultRaw []byte
	if result != nil {
		if resultRaw, err = encodeJSON(result); err != nil {
			return nil, err
		}
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = r.cfg.DefaultMaxAttempts
	}
	now := r.clock.Now().UTC()
	var finishedAt *time.Time
	if status.Terminal() {
		finishedAt = &now
	}
	args := []any{
		uuid.NewString(), req.OwnerID, req.Params.JobType(), status,
		params, resultRaw, maxAttempts, finishedAt, now,
	}

	var job *model.Job
	err = pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{Fn: func(tx pgx.Tx) error {
		var qerr error
		if job, qerr = queryOneJob(ctx, tx, insertJobSQL, args...); qerr != nil {
			return fmt.Errorf("insert job: %w", qerr)
		}
		if status != model.JobStatusPending {
			return nil
		}
		if _, qerr = tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, JobChannel, job.ID); qerr != nil {
			return fmt.Errorf("publish job %s: %w", job.ID, qerr)
		}
		return nil
	}})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Claim atomically moves a PENDING job to RUNNING under a fresh lease. The boolean is false
// when the job was not PENDING (already claimed, cancelled or deleted); the caller must abandon it.
func (r *JobRepo) Claim(ctx context.Context, id string, lease time.Duration) (*model.Job, bool, error) {
	if lease <= 0 {
		return nil, false, errors.New("lease must be positive")
	}
	if !validID(id) {
		return nil, false, nil
	}

	now := r.clock.Now().UTC()
	job, err := r.queryJob(ctx, claimSQL, id, now, now.Add(lease))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("claim job: %w", err)
	}
	return job, true, nil
}

// ReserveNext claims the oldest PENDING job. It returns model.ErrNoJobsAvailable when the
// queue is empty or every candidate is locked.
func (r *JobRepo) ReserveNext(ctx context.Context, lease time.Duration) (*model.Job, error) {
	if lease <= 0 {
		return nil, errors.New("lease must be positive")
	}

	var job *model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		Fn: func(tx pgx.Tx) error {
			now := r.clock.Now().UTC()
			var qerr error
			job, qerr = queryOneJob(ctx, tx, reserveSQL, now, now.Add(lease))
			if errors.Is(qerr, pgx.ErrNoRows) {
				return model.ErrNoJobsAvailable
			}
			if qerr != nil {
				return fmt.Errorf("reserve job: %w", qerr)
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Heartbeat extends the lease of a job still RUNNING under the caller's attempt.
func (r *JobRepo) Heartbeat(ctx context.Context, req model.HeartbeatRequest) (bool, error) {
	if req.Lease <= 0 {
		return false, errors.New("lease must be positive")
	}
	if !validID(req.JobID) {
		return false, nil
	}

	now := r.clock.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET lease_expires_at = $3, updated_at = $4
		WHERE id = $1 AND status = 'RUNNING' AND attempts = $2`,
		req.JobID, req.Attempt, now.Add(req.Lease), now)
	if err != nil {
		return false, fmt.Errorf("heartbeat job: %w", err)
	}
	return affected(res, "heartbeat")
}

// Complete commits RUNNING -> COMPLETED for the caller's attempt. False means the job moved on
// (cancelled, deleted or requeued) and the result was discarded.
func (r *JobRepo) Complete(ctx context.Context, req *model.CompleteJobRequest) (bool, error) {
	if req == nil || req.Result == nil {
		return false, fmt.Errorf("%w: result is required", core.ErrInvalidResult)
	}
	result, err := encodeJSON(req.Result)
	if err != nil {
		return false, fmt.Errorf("%w: %w", core.ErrInvalidResult, err)
	}
	return r.finish(ctx, "complete", req.JobID, req.Attempt, model.JobStatusCompleted, result, nil)
}

// Fail commits RUNNING -> FAILED under the same guard as Complete.
func (r *JobRepo) Fail(ctx context.Context, req *model.FailJobRequest) (bool, error) {
	if req == nil {
		return false, errors.New("fail job request is required")
	}
	return r.finish(ctx, "fail", req.JobID, req.Attempt, model.JobStatusFailed, nil, req.ErrorMessage)
}

func (r *JobRepo) finish(
	ctx context.Context,
	op, id string,
	attempt int,
	status model.JobStatus,
	result []byte,
	errorMessage any,
) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	now := r.clock.Now().UTC()
	res, err := r.DB.ExecContext(ctx, finishSQL, id, attempt, status, result, errorMessage, now)
	if err != nil {
		return false, fmt.Errorf("%s job: %w", op, err)
	}
	return affected(res, op)
}

// Cancel moves an owner's PENDING or RUNNING job to CANCELLED. A worker holding the job loses it
// at the next heartbeat, and its terminal commit no longer matches.
func (r *JobRepo) Cancel(ctx context.Context, id, ownerID string) (*model.Job, error) {
	if !validID(id) {
		return nil, ErrJobNotFound
	}
	job, err := r.queryJob(ctx, cancelSQL, id, ownerID, r.clock.Now().UTC())
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("cancel job: %w", err)
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.OwnerID != ownerID {
		return nil, ErrJobNotFound
	}
	return nil, fmt.Errorf("%w: status is %s", ErrJobNotCancellable, current.Status)
}

// Delete removes an owner's job regardless of status.
func (r *JobRepo) Delete(ctx context.Context, id, ownerID string) error {
	if !validID(id) {
		return ErrJobNotFound
	}
	res, err := r.DB.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	ok, err := affected(res, "delete")
	if err != nil {
		return err
	}
	if !ok {
		return ErrJobNotFound
	}
	return nil
}

// GetByID loads a job including its result. Ownership is checked by the caller.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	if !validID(id) {
		return nil, ErrJobNotFound
	}
	job, err := r.queryJob(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, ErrJobNotFound
	case err != nil:
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// WaitForNotification blocks until a job id is published on JobChannel and returns it.
func (r *JobRepo) WaitForNotification(ctx context.Context) (string, error) {
	channel := pgx.Identifier{JobChannel}.Sanitize()
	var payload string
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
			return fmt.Errorf("listen %s: %w", JobChannel, err)
		}
		defer func() { _, _ = conn.Exec(context.WithoutCancel(ctx), "UNLISTEN "+channel) }()

		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		payload = n.Payload
		return nil
	})
	return payload, err
}
