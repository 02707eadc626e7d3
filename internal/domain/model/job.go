// Package model defines the core data types shared by the chromatin job engine.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobType discriminates the closed set of job parameter and result variants.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobType string

// JobStatus represents the current lifecycle state of a job.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobStatus string

const (
	// JobTypePairwiseAlignment aligns two stored sequences.
	JobTypePairwiseAlignment JobType = "PAIRWISE_ALIGNMENT"
	// JobTypeStructurePrediction predicts a protein structure through the external folding service.
	JobTypeStructurePrediction JobType = "STRUCTURE_PREDICTION"

	// JobStatusPending indicates a job is waiting to be claimed.
	JobStatusPending JobStatus = "PENDING"
	// JobStatusRunning indicates a worker has claimed the job.
	JobStatusRunning JobStatus = "RUNNING"
	// JobStatusCompleted indicates the job finished with a result.
	JobStatusCompleted JobStatus = "COMPLETED"
	// JobStatusFailed indicates the job finished with an error message.
	JobStatusFailed JobStatus = "FAILED"
	// JobStatusCancelled indicates the owner cancelled the job before it finished.
	JobStatusCancelled JobStatus = "CANCELLED"
)

// ErrNoJobsAvailable is returned when no jobs are available for reservation.
var ErrNoJobsAvailable = errors.New("no jobs available")

// AllJobTypes lists every registered job type.
func AllJobTypes() []JobType {
	return []JobType{JobTypePairwiseAlignment, JobTypeStructurePrediction}
}

// AllJobStatuses lists statuses in lifecycle order.
func AllJobStatuses() []JobStatus {
	return []JobStatus{JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled}
}

// Valid returns true if the JobType is valid.
func (t JobType) Valid() bool {
	return t == JobTypePairwiseAlignment || t == JobTypeStructurePrediction
}

// UnmarshalText implements encoding.TextUnmarshaler for JobType.
func (t *JobType) UnmarshalText(text []byte) error {
	v := JobType(strings.ToUpper(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid JobType: %q", string(text))
	}
	*t = v
	return nil
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// UnmarshalText implements encoding.TextUnmarshaler for JobStatus.
func (s *JobStatus) UnmarshalText(text []byte) error {
	v := JobStatus(strings.ToUpper(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid JobStatus: %q", string(text))
	}
	*s = v
	return nil
}

// Terminal reports whether no further transition may leave this status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Cancellable reports whether the owner may still cancel a job in this status.
func (s JobStatus) Cancellable() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// CanTransition reports whether the lifecycle permits moving from s to next.
// RUNNING may fall back to PENDING only when an expired lease is requeued.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusRunning || next == JobStatusCancelled
	case JobStatusRunning:
		return next == JobStatusCompleted || next == JobStatusFailed ||
			next == JobStatusCancelled || next == JobStatusPending
	default:
		return false
	}
}

// Job is the authoritative record of a unit of asynchronous work.
type Job struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"ownerId"`
	Type           JobType    `json:"jobType"`
	Status         JobStatus  `json:"status"`
	Params         JobParams  `json:"params"`
	Result         JobResult  `json:"result,omitempty"`
	ErrorMessage   *string    `json:"errorMessage,omitempty"`
	Attempts       int        `json:"attempts"`
	MaxAttempts    int        `json:"maxAttempts"`
	LeaseExpiresAt *time.Time `json:"leaseExpiresAt,omitempty"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// JobSummary is the lightweight list representation of a job; it never carries a result.
type JobSummary struct {
	ID           string     `json:"id"`
	Type         JobType    `json:"jobType"`
	Status       JobStatus  `json:"status"`
	Params       JobParams  `json:"params"`
	ErrorMessage *string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// Summary strips the result payload from a job.
func (j *Job) Summary() JobSummary {
	return JobSummary{
		ID:           j.ID,
		Type:         j.Type,
		Status:       j.Status,
		Params:       j.Params,
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt,
		CompletedAt:  j.CompletedAt,
	}
}

// CreateJobRequest represents a request to submit a job.
type CreateJobRequest struct {
	OwnerID     string
	Params      JobParams
	MaxAttempts int
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if strings.TrimSpace(r.OwnerID) == "" {
		return errors.New("owner id is required")
	}
	if r.Params == nil {
		return errors.New("params are required")
	}
	if !r.Params.JobType().Valid() {
		return errors.New("invalid job type")
	}
	if r.MaxAttempts < 0 {
		return errors.New("max attempts must be >= 0")
	}
	return r.Params.Validate()
}

// CompleteJobRequest carries a terminal success commit. Attempt is the claim attempt the worker
// holds; the commit applies only while the record is still RUNNING under that same attempt.
type CompleteJobRequest struct {
	JobID   string
	Attempt int
	Result  JobResult
}

// FailJobRequest carries a terminal failure commit, fenced like CompleteJobRequest.
type FailJobRequest struct {
	JobID        string
	Attempt      int
	ErrorMessage string
}

// HeartbeatRequest extends the lease of a running job held under Attempt.
type HeartbeatRequest struct {
	JobID   string
	Attempt int
	Lease   time.Duration
}

// JobListOptions groups parameters for listing an owner's jobs.
type JobListOptions struct {
	OwnerID string
	Status  *JobStatus
	Type    *JobType
	Limit   int
	Offset  int
}

// JobStats represents the number of jobs in each state.
type JobStats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}
