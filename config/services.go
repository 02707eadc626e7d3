package config

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ServiceMode names one long-running component of the process.
type ServiceMode string

const (
	ServiceModeHTTP   ServiceMode = "http"   // HTTP API
	ServiceModeWorker ServiceMode = "worker" // job worker pool
	ServiceModeReaper ServiceMode = "reaper" // lease recovery and retention
)

// ValidServiceModes returns every mode in startup order.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeHTTP, ServiceModeWorker, ServiceModeReaper}
}

// ParseServices turns a comma separated list such as "http, worker" into a set. Blank entries
// are skipped; unknown names are an error, as is an empty result.
func ParseServices(list string) (map[ServiceMode]bool, error) {
	valid := ValidServiceModes()
	enabled := make(map[ServiceMode]bool, len(valid))
	for part := range strings.SplitSeq(list, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		mode := ServiceMode(name)
		if !slices.Contains(valid, mode) {
			return nil, fmt.Errorf("invalid service name %q (valid options: %s)", name, joinModes(valid))
		}
		enabled[mode] = true
	}
	if len(enabled) == 0 {
		return nil, errors.New("at least one service must be specified")
	}
	return enabled, nil
}

func joinModes(modes []ServiceMode) string {
	names := make([]string, len(modes))
	for i, m := range modes {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}

// WorkerConfig contains job worker pool configuration.
type WorkerConfig struct {
	// Concurrency is the number of jobs processed in parallel by one process.
	Concurrency int `env:"CONCURRENCY" envDefault:"2"`
	// Lease is how long a claim stays valid without a heartbeat.
	Lease time.Duration `env:"LEASE" envDefault:"60s"`
	// HeartbeatInterval is how often a running job extends its lease.
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"20s"`
	// JobTimeout is the wall-clock limit of a single execution.
	JobTimeout time.Duration `env:"JOB_TIMEOUT" envDefault:"10m"`
	// MaxAttempts is how many claims a job gets before an expired lease fails it.
	MaxAttempts int `env:"MAX_ATTEMPTS" envDefault:"3"`
	// MaxAlignmentCells bounds len1*len2 of an alignment; larger jobs fail fast.
	MaxAlignmentCells int64 `env:"MAX_ALIGNMENT_CELLS" envDefault:"100000000"`
	// PollInterval is how often an idle worker checks for jobs without a notification.
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
}

func (w *WorkerConfig) Sanitize() {
	w.Concurrency = max(w.Concurrency, 1)
	w.Lease = max(w.Lease, 5*time.Second)
	// A heartbeat slower than a third of the lease risks losing the claim to the reaper.
	if w.HeartbeatInterval <= 0 || w.HeartbeatInterval > w.Lease/3 {
		w.HeartbeatInterval = w.Lease / 3
	}
	w.JobTimeout = orDefault(w.JobTimeout, 10*time.Minute)
	w.MaxAttempts = max(w.MaxAttempts, 1)
	w.MaxAlignmentCells = orDefault(w.MaxAlignmentCells, 100_000_000)
	w.PollInterval = max(w.PollInterval, 100*time.Millisecond)
}

// ReaperConfig contains job reaper service configuration.
type ReaperConfig struct {
	Interval        time.Duration `env:"INTERVAL" envDefault:"1m"`
	CompletedMaxAge time.Duration `env:"COMPLETED_MAX_AGE" envDefault:"720h"`
	FailedMaxAge    time.Duration `env:"FAILED_MAX_AGE" envDefault:"168h"`
	CancelledMaxAge time.Duration `env:"CANCELLED_MAX_AGE" envDefault:"168h"`
	// BatchSize caps rows touched per statement so a backlog never holds long locks.
	BatchSize int `env:"BATCH_SIZE" envDefault:"1000"`
}

func (r *ReaperConfig) Sanitize() {
	r.Interval = max(r.Interval, 5*time.Second)
	r.CompletedMaxAge = max(r.CompletedMaxAge, time.Hour)
	r.FailedMaxAge = max(r.FailedMaxAge, time.Hour)
	r.CancelledMaxAge = max(r.CancelledMaxAge, time.Hour)
	r.BatchSize = min(max(r.BatchSize, 1), 10_000)
}

// orDefault replaces non-positive values.
func orDefault[T cmp.Ordered](v, def T) T {
	var zero T
	if v <= zero {
		return def
	}
	return v
}
