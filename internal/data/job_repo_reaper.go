package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jakub-figat/chromatin/internal/core"
	"github.com/jakub-figat/chromatin/internal/data/pgxutil"
	"github.com/jakub-figat/chromatin/internal/domain/model"
)

// Reaper advisory locks use the two-key form pg_try_advisory_xact_lock(major, minor).
const (
	advisoryLockReaperMajor        = 1000
	advisoryLockReaperExpireLeases = 1 // minor key for RecoverExpiredLeases
	advisoryLockReaperDelete       = 2 // minor key for DeleteOldJobs
)

// LeaseExpiredMessage is recorded on jobs whose last permitted attempt lost its worker.
const LeaseExpiredMessage = "worker lease expired; no attempts remaining"

// withReaperLock runs fn in a transaction holding the given reaper advisory lock. When another
// reaper holds the lock fn is skipped and (false, nil) is returned.
func (r *JobRepo) withReaperLock(ctx context.Context, minor int, fn func(*sql.Tx) error) (bool, error) {
	ran := false
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			ran = false
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)",
				advisoryLockReaperMajor, minor).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				return nil
			}
			ran = true
			return fn(tx)
		},
	})
	return ran, err
}

// RecoverExpiredLeases requeues RUNNING jobs whose lease expired while attempts remain and fails
// the others. Requeued jobs are re-published so listening workers pick them up promptly.
func (r *JobRepo) RecoverExpiredLeases(ctx context.Context, batchSize int) (core.ExpiredLeases, error) {
	if batchSize <= 0 {
		return core.ExpiredLeases{}, errors.New("batch size must be greater than zero")
	}

	var out core.ExpiredLeases
	_, err := r.withReaperLock(ctx, advisoryLockReaperExpireLeases, func(tx *sql.Tx) error {
		now := r.clock.Now().UTC()
		rows, err := tx.QueryContext(ctx, `
			WITH expired AS (
				SELECT id FROM jobs
				WHERE status = 'RUNNING'
				  AND lease_expires_at IS NOT NULL
				  AND lease_expires_at < $1
				ORDER BY lease_expires_at
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)
			UPDATE jobs j
			SET status = CASE WHEN j.attempts < j.max_attempts THEN 'PENDING' ELSE 'FAILED' END,
			    error_message = CASE WHEN j.attempts < j.max_attempts THEN NULL ELSE $3 END,
			    completed_at = CASE WHEN j.attempts < j.max_attempts THEN NULL ELSE $1::timestamptz END,
			    lease_expires_at = NULL,
			    updated_at = $1
			FROM expired
			WHERE j.id = expired.id
			RETURNING j.id, j.status
		`, now, batchSize, LeaseExpiredMessage)
		if err != nil {
			return fmt.Errorf("recover expired leases: %w", err)
		}

		var requeued []string
		for rows.Next() {
			var id string
			var status model.JobStatus
			if scanErr := rows.Scan(&id, &status); scanErr != nil {
				_ = rows.Close()
				return fmt.Errorf("scan recovered job: %w", scanErr)
			}
			if status == model.JobStatusPending {
				requeued = append(requeued, id)
			} else {
				out.Failed++
			}
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}

		for _, id := range requeued {
			if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1::text, $2::text)`, JobChannel, id); err != nil {
				return fmt.Errorf("send job notification: %w", err)
			}
		}
		out.Requeued = int64(len(requeued))
		return nil
	})
	if err != nil {
		return core.ExpiredLeases{}, err
	}
	return out, nil
}

// DeleteOldJobs removes one batch of terminal jobs older than params.MaxAge. It returns 0
// without deleting when another reaper holds the retention lock.
func (r *JobRepo) DeleteOldJobs(ctx context.Context, params core.DeleteOldJobsParams) (int64, error) {
	if !params.Status.Terminal() {
		return 0, fmt.Errorf("invalid job status for deletion: %s", params.Status)
	}
	if params.BatchSize <= 0 {
		return 0, errors.New("batch size must be greater than zero")
	}

	var rowsAffected int64
	_, err := r.withReaperLock(ctx, advisoryLockReaperDelete, func(tx *sql.Tx) error {
		cutoff := r.clock.Now().Add(-params.MaxAge).UTC()
		res, err := tx.ExecContext(ctx, `
			DELETE FROM jobs
			WHERE id IN (
				SELECT id FROM jobs
				WHERE status = $1
				  AND completed_at < $2
				ORDER BY completed_at
				LIMIT $3
			)
		`, params.Status, cutoff, params.BatchSize)
		if err != nil {
			return fmt.Errorf("delete old jobs: %w", err)
		}
		ra, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		rowsAffected = ra
		return nil
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}
