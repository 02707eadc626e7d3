// Package failurenotifier fans FAILED jobs out to the configured notification sinks.
package failurenotifier

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jakub-figat/chromatin/internal/observability/notify"
)

// SinkRegistration names a sink for logs.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options configures the failure notifier service.
type Options struct {
	Logger *slog.Logger
	Sinks  []SinkRegistration
	// IgnoreClasses lists error classes that never notify, typically caller input errors.
	IgnoreClasses []string
	// Timeout bounds one fan-out. Delivery is detached from the caller's cancellation so a
	// worker shutting down still reports the failure it just recorded.
	Timeout time.Duration
}

// Service delivers each failure to every sink concurrently. Sink errors are logged, never returned.
type Service struct {
	logger  *slog.Logger
	sinks   []SinkRegistration
	ignore  []string
	timeout time.Duration
}

// NewService constructs a failure notifier. Registrations without a sink are dropped.
func NewService(opts Options) *Service {
	s := &Service{
		logger:  opts.Logger,
		ignore:  slices.Clone(opts.IgnoreClasses),
		timeout: opts.Timeout,
	}
	if s.logger == nil {
		s.logger = slog.Default().With("component", "failure_notifier")
	}
	for _, reg := range opts.Sinks {
		if reg.Sink == nil {
			continue
		}
		if reg.Name == "" {
			reg.Name = "sink"
		}
		s.sinks = append(s.sinks, reg)
	}
	return s
}

// NotifyJobFailure blocks until every sink has finished or the timeout elapses.
func (s *Service) NotifyJobFailure(ctx context.Context, payload notify.JobFailurePayload) {
	if !s.Enabled() {
		return
	}
	if slices.Contains(s.ignore, payload.ErrorClass) {
		s.logger.DebugContext(ctx, "notification suppressed",
			"job_id", payload.JobID,
			"error_class", payload.ErrorClass,
		)
		return
	}
	if payload.Severity == "" {
		payload.Severity = notify.SeverityCritical
	}

	ctx = context.WithoutCancel(ctx)
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var g errgroup.Group
	for _, reg := range s.sinks {
		g.Go(func() error {
			if err := reg.Sink.SendJobFailure(ctx, payload); err != nil {
				s.logger.ErrorContext(ctx, "failure notification not delivered",
					"sink", reg.Name,
					"job_id", payload.JobID,
					"job_type", payload.JobType,
					"error", err,
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Enabled reports whether any sink is registered.
func (s *Service) Enabled() bool {
	return s != nil && len(s.sinks) > 0
}
