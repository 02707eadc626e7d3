// Package metrics emits the job engine's StatsD metrics.
package metrics

import (
	"maps"
	"time"

	obserrors "github.com/jakub-figat/chromatin/internal/observability/errors"
	"github.com/jakub-figat/chromatin/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Transition names used for the transition tag.
const (
	TransitionCreate   = "create"
	TransitionClaim    = "claim"
	TransitionComplete = "complete"
	TransitionFail     = "fail"
	TransitionCancel   = "cancel"
	TransitionRequeue  = "requeue"
	TransitionReap     = "reap"
)

// JobMetric captures details about a job lifecycle event for metric emission.
type JobMetric struct {
	JobType    string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle counts one job.transition and, when Duration is set, times it under the
// same tags. Only error results carry an error_class.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}
	var err error
	if in.Result == ResultError {
		err = in.Err
	}
	tags := transitionTags(in.Transition, in.Result, err)
	tags["job_type"] = in.JobType

	sink.Count("job.transition", 1, tags)
	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, maps.Clone(tags))
	}
}

// EmitLeaseRecovery counts jobs the reaper requeued or failed after their worker's lease lapsed.
func EmitLeaseRecovery(sink statsd.Sink, requeued, failed int64) {
	if sink == nil {
		return
	}
	if requeued > 0 {
		sink.Count("job.transition", requeued, transitionTags(TransitionRequeue, ResultSuccess, nil))
	}
	if failed > 0 {
		tags := transitionTags(TransitionFail, ResultError, nil)
		tags["error_class"] = "lease_expired"
		sink.Count("job.transition", failed, tags)
	}
}

func transitionTags(transition, result string, err error) map[string]string {
	tags := map[string]string{"transition": transition, "result": result}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}
	return tags
}

// EmitCacheLookup counts result cache hits and misses per artifact kind.
func EmitCacheLookup(sink statsd.Sink, kind string, hit bool) {
	if sink == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	sink.Count("result_cache.lookup", 1, map[string]string{"kind": kind, "result": result})
}

// EmitReaperSweep records how many rows one reaper operation touched.
func EmitReaperSweep(sink statsd.Sink, operation string, rows int64, err error) {
	if sink == nil {
		return
	}
	tags := map[string]string{"operation": operation, "result": ResultSuccess}
	if err != nil {
		tags["result"] = ResultError
		tags["error_class"] = obserrors.Classify(err)
	}
	sink.Count("reaper.sweep", 1, tags)
	if rows > 0 {
		sink.Count("reaper.rows", rows, maps.Clone(tags))
	}
}
