package data

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/jakub-figat/chromatin/internal/data/pgxutil"
	"github.com/jakub-figat/chromatin/internal/domain/model"
)

// JobChannel is the LISTEN/NOTIFY channel carrying ids of jobs ready to be claimed.
const JobChannel = "chromatin_jobs"

const defaultMaxAttempts = 3

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	// DefaultMaxAttempts bounds lease-expiry requeues when a request does not set its own.
	DefaultMaxAttempts int
	Logger             *slog.Logger
	Clock              Clock
}

// JobRepo persists jobs and arbitrates which worker owns a RUNNING attempt.
type JobRepo struct {
	DB     *sql.DB
	cfg    RepoConfig
	clock  Clock
	logger *slog.Logger
}

func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}
	if cfg.DefaultMaxAttempts <= 0 {
		cfg.DefaultMaxAttempts = defaultMaxAttempts
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &JobRepo{
		DB:     db,
		cfg:    cfg,
		clock:  cfg.Clock,
		logger: cfg.Logger.With("component", "job_repo"),
	}
}

// jobFields is the scan order of every job query.
var jobFields = []string{
	"id", "owner_id", "job_type", "status", "params", "result", "error_message",
	"attempts", "max_attempts", "lease_expires_at", "started_at", "completed_at",
	"created_at", "updated_at",
}

var (
	jobColumns = columnList("")
	// jobSummaryColumns keeps the scan shape but never loads the result payload.
	jobSummaryColumns = columnList("", "result")
)

// columnList renders jobFields with an optional table alias. Omitted columns select NULL.
func columnList(alias string, omit ...string) string {
	cols := make([]string, len(jobFields))
	for i, f := range jobFields {
		if slices.Contains(omit, f) {
			cols[i] = "NULL::jsonb AS " + f
			continue
		}
		cols[i] = alias + f
	}
	return strings.Join(cols, ", ")
}

type jobRecord struct {
	job                       model.Job
	params, result            []byte
	errorMessage              sql.NullString
	lease, started, completed sql.NullTime
}

func (rec *jobRecord) dest() []any {
	j := &rec.job
	return []any{
		&j.ID, &j.OwnerID, &j.Type, &j.Status, &rec.params, &rec.result, &rec.errorMessage,
		&j.Attempts, &j.MaxAttempts, &rec.lease, &rec.started, &rec.completed,
		&j.CreatedAt, &j.UpdatedAt,
	}
}

func (rec *jobRecord) decode() (*model.Job, error) {
	j := rec.job
	params, err := model.DecodeParams(j.Type, rec.params)
	if err != nil {
		return nil, fmt.Errorf("decode job %s params: %w", j.ID, err)
	}
	j.Params = params
	if len(rec.result) > 0 {
		if j.Result, err = model.DecodeResult(j.Type, rec.result); err != nil {
			return nil, fmt.Errorf("decode job %s result: %w", j.ID, err)
		}
	}
	j.ErrorMessage = nullString(rec.errorMessage)
	j.LeaseExpiresAt = nullTime(rec.lease)
	j.StartedAt = nullTime(rec.started)
	j.CompletedAt = nullTime(rec.completed)
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	return &j, nil
}

func scanJob(s rowScanner) (*model.Job, error) {
	var rec jobRecord
	if err := s.Scan(rec.dest()...); err != nil {
		return nil, err
	}
	return rec.decode()
}

func rowToJob(row pgx.CollectableRow) (*model.Job, error) {
	return scanJob(row)
}

// queryOneJob returns pgx.ErrNoRows when the statement matched nothing.
func queryOneJob(ctx context.Context, q pgxQuerier, sql string, args ...any) (*model.Job, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectOneRow(rows, rowToJob)
}

func (r *JobRepo) queryJob(ctx context.Context, sql string, args ...any) (*model.Job, error) {
	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		var qerr error
		job, qerr = queryOneJob(ctx, conn, sql, args...)
		return qerr
	})
	return job, err
}
