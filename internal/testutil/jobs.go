package testutil

import (
	"context"
	"database/sql"
	"sync"
	"time"
)

// JobRow is a raw view of a jobs row, read without going through the repository.
type JobRow struct {
	ID             string
	Type           string
	Status         string
	Attempts       int
	MaxAttempts    int
	ErrorMessage   *string
	LeaseExpiresAt *time.Time
	CompletedAt    *time.Time
}

// JobRows returns every job ordered by creation time.
func JobRows(t TestingTB, db *sql.DB) []JobRow {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := db.QueryContext(ctx, `
		SELECT id, job_type, status, attempts, max_attempts, error_message, lease_expires_at, completed_at
		FROM jobs
		ORDER BY created_at ASC`)
	if err != nil {
		t.Fatalf("query jobs: %v", err)
	}
	defer closeQuietly(t, "job rows", rows)

	var out []JobRow
	for rows.Next() {
		var r JobRow
		if err := rows.Scan(&r.ID, &r.Type, &r.Status, &r.Attempts, &r.MaxAttempts,
			&r.ErrorMessage, &r.LeaseExpiresAt, &r.CompletedAt); err != nil {
			t.Fatalf("scan job row: %v", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate job rows: %v", err)
	}
	return out
}

// LogJobStates dumps the jobs table to the test log.
func LogJobStates(t TestingTB, db *sql.DB, label string) {
	t.Helper()
	for i, r := range JobRows(t, db) {
		msg := "-"
		if r.ErrorMessage != nil {
			msg = *r.ErrorMessage
		}
		t.Logf("[%s] #%d %s %s %s attempts=%d/%d error=%q", label, i+1, r.ID, r.Type, r.Status,
			r.Attempts, r.MaxAttempts, msg)
	}
}

// ConcurrentTestRunner starts functions together so tests can race repository calls.
type ConcurrentTestRunner struct {
	t TestingTB
}

// NewConcurrentTestRunner returns a runner reporting through t.
func NewConcurrentTestRunner(t TestingTB) *ConcurrentTestRunner {
	return &ConcurrentTestRunner{t: t}
}

// RunConcurrent releases every fn at once and returns their errors in argument order.
func (r *ConcurrentTestRunner) RunConcurrent(fns ...func() error) []error {
	r.t.Helper()
	errs := make([]error, len(fns))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, fn := range fns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs[i] = fn()
		}()
	}
	close(start)
	wg.Wait()
	return errs
}

// AssertNoErrors fails the test on the first non-nil error.
func (r *ConcurrentTestRunner) AssertNoErrors(errs []error) {
	r.t.Helper()
	for i, err := range errs {
		if err != nil {
			r.t.Fatalf("concurrent call %d: %v", i, err)
		}
	}
}
