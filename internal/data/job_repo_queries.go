package data

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jakub-figat/chromatin/internal/data/pgxutil"
	"github.com/jakub-figat/chromatin/internal/domain/model"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// filterQueryBuilder accumulates AND-ed filters with positional arguments.
type filterQueryBuilder struct {
	query  string
	args   []any
	argIdx int
}

func (b *filterQueryBuilder) addFilter(column string, value any) {
	b.addCond(column+" = %s", value)
}

// addCond appends a condition whose single %s placeholder receives the next argument position.
func (b *filterQueryBuilder) addCond(format string, value any) {
	if value == nil {
		return
	}
	b.query += " AND " + fmt.Sprintf(format, fmt.Sprintf("$%d", b.argIdx))
	b.args = append(b.args, value)
	b.argIdx++
}

// paginate appends the ordering and LIMIT/OFFSET clause.
func (b *filterQueryBuilder) paginate(orderBy string, limit, offset int) {
	limit, offset = clampLimit(limit, offset)
	b.query += fmt.Sprintf(" ORDER BY %s LIMIT $%d OFFSET $%d", orderBy, b.argIdx, b.argIdx+1)
	b.args = append(b.args, limit, offset)
	b.argIdx += 2
}

func clampLimit(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, max(offset, 0)
}

// buildJobListQuery constructs the owner-scoped list query. Results are never loaded.
func buildJobListQuery(opts *model.JobListOptions) (string, []any) {
	builder := &filterQueryBuilder{
		query: `
		SELECT ` + jobSummaryColumns + `
		FROM jobs
		WHERE owner_id = $1`,
		args:   []any{opts.OwnerID},
		argIdx: 2,
	}
	if opts.Status != nil {
		builder.addFilter("status", string(*opts.Status))
	}
	if opts.Type != nil {
		builder.addFilter("job_type", string(*opts.Type))
	}
	builder.paginate("created_at DESC, id DESC", opts.Limit, opts.Offset)
	return builder.query, builder.args
}

// List returns an owner's jobs, newest first, without result payloads.
func (r *JobRepo) List(ctx context.Context, opts *model.JobListOptions) ([]*model.Job, error) {
	if opts == nil || opts.OwnerID == "" {
		return nil, errors.New("owner id is required")
	}

	query, args := buildJobListQuery(opts)
	var jobs []*model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}
		jobs, err = pgx.CollectRows(rows, rowToJob)
		return err
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// Stats counts jobs per status across all owners.
func (r *JobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	var s model.JobStats
	slots := map[model.JobStatus]*int{
		model.JobStatusPending:   &s.Pending,
		model.JobStatusRunning:   &s.Running,
		model.JobStatusCompleted: &s.Completed,
		model.JobStatusFailed:    &s.Failed,
		model.JobStatusCancelled: &s.Cancelled,
	}
	for rows.Next() {
		var (
			status model.JobStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan job stats: %w", err)
		}
		if slot, ok := slots[status]; ok {
			*slot = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	return &s, nil
}
