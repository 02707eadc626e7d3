// Command chromatin-admin performs operator tasks against the chromatin database and result
// cache: migrations, schema resets, job statistics, one-off reaper sweeps and cache maintenance.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jakub-figat/chromatin/config"
	"github.com/jakub-figat/chromatin/internal/bootstrap"
)

const (
	defaultMigrationTimeout = 5 * time.Minute
	defaultCommandTimeout   = 2 * time.Minute

	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// app carries what every command needs. Streams are injectable so prompts can be tested.
type app struct {
	ctx    context.Context
	logger *slog.Logger
	cfg    config.AppConfig
	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer
}

type command struct {
	name    string
	summary string
	run     func(a *app, args []string) error
}

// commandTable is listed in usage order.
var commandTable = []command{
	{"migrate", "Run database migrations", runMigrate},
	{"db-reset", "Drop the database schema and re-run migrations", runDBReset},
	{"job-stats", "Print job counts per status", runJobStats},
	{"reap", "Run a single reaper sweep (lease recovery and retention)", runReap},
	{"list-cache-keys", "Inspect cached prediction results in Redis", runListCacheKeys},
	{"clear-cache", "Delete cached prediction results from Redis", runClearCache},
}

func findCommand(name string) (command, bool) {
	for _, c := range commandTable {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func main() {
	os.Exit(realMain(os.Args[1:], os.Stdin, os.Stdout, os.Stderr)) //nolint:forbidigo // CLI exit status
}

func realMain(args []string, in io.Reader, out, errOut io.Writer) int {
	if len(args) == 0 {
		_ = printUsage(errOut)
		return exitUsage
	}
	cmd, ok := findCommand(args[0])
	if !ok {
		_ = writef(errOut, "unknown command %q\n\n", args[0])
		_ = printUsage(errOut)
		return exitUsage
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		_ = writef(errOut, "load config: %v\n", err)
		return exitError
	}

	a := &app{
		ctx:    context.Background(),
		logger: bootstrap.InitLogger(&cfg),
		cfg:    cfg,
		in:     bufio.NewReader(in),
		out:    out,
		errOut: errOut,
	}
	if err := cmd.run(a, args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitUsage
		}
		a.logger.ErrorContext(a.ctx, "command failed", "command", cmd.name, "error", err)
		return exitError
	}
	return exitOK
}

func printUsage(w io.Writer) error {
	if err := writef(w, "Usage: chromatin-admin <command> [flags]\n\nAvailable commands:\n"); err != nil {
		return err
	}
	for _, c := range commandTable {
		if err := writef(w, "  %-18s %s\n", c.name, c.summary); err != nil {
			return err
		}
	}
	return nil
}

func newFlagSet(name string, errOut io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	if errOut != nil {
		fs.SetOutput(errOut)
	}
	return fs
}

// parseTimeout handles commands whose only flag is --timeout.
func parseTimeout(name string, args []string, def time.Duration, errOut io.Writer) (time.Duration, error) {
	fs := newFlagSet(name, errOut)
	timeout := fs.Duration("timeout", def, "Maximum duration for the command")
	if err := fs.Parse(args); err != nil {
		return 0, err
	}
	return *timeout, requirePositive(*timeout)
}

func requirePositive(d time.Duration) error {
	if d <= 0 {
		return errors.New("--timeout must be greater than zero")
	}
	return nil
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}
