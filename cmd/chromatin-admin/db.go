package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jakub-figat/chromatin/internal/adapters/reaper"
	"github.com/jakub-figat/chromatin/internal/bootstrap"
	"github.com/jakub-figat/chromatin/internal/data"
	"github.com/jakub-figat/chromatin/internal/domain/model"
	"github.com/jakub-figat/chromatin/internal/service"
)

type dbResetOptions struct {
	Timeout     time.Duration
	Yes         bool
	AllowRemote bool
}

func parseDBResetFlags(args []string, errOut io.Writer) (dbResetOptions, error) {
	fs := newFlagSet("db-reset", errOut)
	opts := dbResetOptions{}
	fs.DurationVar(&opts.Timeout, "timeout", defaultMigrationTimeout, "Maximum duration for the reset")
	fs.BoolVar(&opts.Yes, "yes", false, "Skip confirmation prompt (ignored for remote hosts)")
	fs.BoolVar(&opts.AllowRemote, "allow-remote", false, "Permit hosts that do not look local")
	if err := fs.Parse(args); err != nil {
		return dbResetOptions{}, err
	}
	return opts, requirePositive(opts.Timeout)
}

// withDatabase connects, bounds the work by timeout and SIGINT/SIGTERM, and closes afterwards.
func (a *app) withDatabase(timeout time.Duration, fn func(context.Context, *sql.DB) error) error {
	ctx, stop := signal.NotifyContext(a.ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{DBConfig: a.cfg.Postgres, Logger: a.logger})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			a.logger.Warn("db close failed", "error", cerr)
		}
	}()
	return fn(ctx, db)
}

func runMigrate(a *app, args []string) error {
	timeout, err := parseTimeout("migrate", args, defaultMigrationTimeout, a.errOut)
	if err != nil {
		return err
	}
	return a.withDatabase(timeout, func(ctx context.Context, db *sql.DB) error {
		return bootstrap.RunMigrations(ctx, db, a.logger)
	})
}

func runDBReset(a *app, args []string) error {
	opts, err := parseDBResetFlags(args, a.errOut)
	if err != nil {
		return err
	}
	pg := a.cfg.Postgres

	remote := isLikelyRemoteHost(pg.Host)
	if remote {
		if !opts.AllowRemote {
			return fmt.Errorf("refusing to reset potentially remote database host %q; re-run with --allow-remote if this is intentional", pg.Host)
		}
		if err := a.confirmByTyping(pg.Host, "drop and recreate the public schema"); err != nil {
			return err
		}
	}

	warning := "WARNING: this will drop and recreate the public schema for the configured database."
	if remote {
		warning += fmt.Sprintf(" Host %q appears to be remote; double-check before proceeding.", pg.Host)
	}
	question := fmt.Sprintf("About to reset database %q on %s:%d.", pg.Name, pg.Host, pg.Port)
	if err := a.confirm(opts.Yes && !remote, warning, question); err != nil {
		return err
	}

	return a.withDatabase(opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		for _, stmt := range resetStatements(pg.User) {
			a.logger.DebugContext(ctx, "executing reset statement", "sql", stmt)
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("exec %q: %w", stmt, err)
			}
		}
		if err := bootstrap.RunMigrations(ctx, db, a.logger); err != nil {
			return err
		}
		a.logger.InfoContext(ctx, "database reset completed")
		return nil
	})
}

func resetStatements(owner string) []string {
	stmts := []string{
		"DROP SCHEMA public CASCADE",
		"CREATE SCHEMA public",
		"GRANT ALL ON SCHEMA public TO public",
	}
	if owner = strings.TrimSpace(owner); owner != "" && !strings.EqualFold(owner, "public") {
		stmts = append(stmts, "GRANT ALL ON SCHEMA public TO "+`"`+strings.ReplaceAll(owner, `"`, `""`)+`"`)
	}
	return stmts
}

// isLikelyRemoteHost treats loopback addresses, localhost and *.local as local.
func isLikelyRemoteHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	switch {
	case h == "", h == "localhost", strings.HasSuffix(h, ".local"):
		return false
	}
	if ip := net.ParseIP(h); ip != nil {
		return !ip.IsLoopback()
	}
	return true
}

func runJobStats(a *app, args []string) error {
	timeout, err := parseTimeout("job-stats", args, defaultCommandTimeout, a.errOut)
	if err != nil {
		return err
	}
	return a.withDatabase(timeout, func(ctx context.Context, db *sql.DB) error {
		stats, err := data.NewJobRepo(db, data.RepoConfig{Logger: a.logger}).Stats(ctx)
		if err != nil {
			return fmt.Errorf("job stats: %w", err)
		}
		return printJobStats(a.out, stats)
	})
}

func printJobStats(w io.Writer, stats *model.JobStats) error {
	if stats == nil {
		stats = &model.JobStats{}
	}
	counts := map[model.JobStatus]int{
		model.JobStatusPending:   stats.Pending,
		model.JobStatusRunning:   stats.Running,
		model.JobStatusCompleted: stats.Completed,
		model.JobStatusFailed:    stats.Failed,
		model.JobStatusCancelled: stats.Cancelled,
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	total := 0
	_ = writef(tw, "STATUS\tCOUNT\n")
	for _, status := range model.AllJobStatuses() {
		total += counts[status]
		_ = writef(tw, "%s\t%d\n", status, counts[status])
	}
	_ = writef(tw, "TOTAL\t%d\n", total)
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("print job stats: %w", err)
	}
	return nil
}

func runReap(a *app, args []string) error {
	timeout, err := parseTimeout("reap", args, defaultCommandTimeout, a.errOut)
	if err != nil {
		return err
	}
	return a.withDatabase(timeout, func(ctx context.Context, db *sql.DB) error {
		runner, err := reaper.NewRunner(reaper.RunnerOptions{DB: db, Config: a.cfg.Reaper, Logger: a.logger})
		if err != nil {
			return fmt.Errorf("create reaper: %w", err)
		}
		report, sweepErr := runner.Sweep(ctx)
		if err := printSweepReport(a.out, report); err != nil {
			return err
		}
		return sweepErr
	})
}

func printSweepReport(w io.Writer, r service.SweepReport) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Requeued expired leases: %d\n", r.Requeued)
	fmt.Fprintf(&sb, "Failed after max attempts: %d\n", r.Failed)
	for _, status := range []model.JobStatus{model.JobStatusCompleted, model.JobStatusFailed, model.JobStatusCancelled} {
		fmt.Fprintf(&sb, "Deleted %s jobs: %d\n", status, r.Deleted[status])
	}
	fmt.Fprintf(&sb, "Elapsed: %s\n", r.Elapsed.Round(time.Millisecond))
	if _, err := io.WriteString(w, sb.String()); err != nil {
		return fmt.Errorf("print sweep report: %w", err)
	}
	return nil
}
