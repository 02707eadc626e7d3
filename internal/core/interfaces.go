package core

import (
	"context"
	"time"

	"github.com/jakub-figat/chromatin/internal/domain/model"
)

// JobRepository defines the interface for job data operations.
//
// Claim, Heartbeat, Complete and Fail are conditional writes. A false return means the
// condition did not hold (another worker claimed the job, it was cancelled or deleted, or the
// lease was reassigned) and the caller must abandon the job without further writes.
type JobRepository interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	// CreateCompleted records a job that was satisfied at submission time, e.g. from the result cache.
	CreateCompleted(ctx context.Context, req *model.CreateJobRequest, result model.JobResult) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	List(ctx context.Context, opts *model.JobListOptions) ([]*model.Job, error)
	Claim(ctx context.Context, id string, lease time.Duration) (*model.Job, bool, error)
	ReserveNext(ctx context.Context, lease time.Duration) (*model.Job, error)
	// WaitForNotification blocks until a job id is published on the queue channel.
	WaitForNotification(ctx context.Context) (string, error)
	Heartbeat(ctx context.Context, req model.HeartbeatRequest) (bool, error)
	Complete(ctx context.Context, req *model.CompleteJobRequest) (bool, error)
	Fail(ctx context.Context, req *model.FailJobRequest) (bool, error)
	Cancel(ctx context.Context, id, ownerID string) (*model.Job, error)
	Delete(ctx context.Context, id, ownerID string) error
	Stats(ctx context.Context) (*model.JobStats, error)
}

// SequenceRepository defines the interface for sequence data operations.
//
// Update, Delete and UpsertByName return the storage locations the write made unreachable so
// the caller can release external blobs once the new row is durable.
type SequenceRepository interface {
	Create(ctx context.Context, w *model.SequenceWrite) (*model.Sequence, error)
	GetByID(ctx context.Context, id string) (*model.Sequence, error)
	GetByIDs(ctx context.Context, ids []string) ([]*model.Sequence, error)
	List(ctx context.Context, opts *model.SequenceListOptions) ([]*model.Sequence, error)
	Update(ctx context.Context, id string, w *model.SequenceWrite) (*model.Sequence, *model.StoredContent, error)
	Delete(ctx context.Context, id, ownerID string) (*model.StoredContent, error)
	UpsertByName(ctx context.Context, writes []*model.SequenceWrite) ([]model.StoredContent, error)
}

// StructureRepository persists predicted structures keyed by sequence content hash and model version.
type StructureRepository interface {
	// Upsert stores s and returns the PDB location it replaced, if any.
	Upsert(ctx context.Context, s *model.SequenceStructure) (*model.SequenceStructure, *model.StoredContent, error)
	GetByHash(ctx context.Context, hash, modelVersion string) (*model.SequenceStructure, error)
}

// DeleteOldJobsParams groups parameters for DeleteOldJobs to keep param count ≤3.
type DeleteOldJobsParams struct {
	Status    model.JobStatus
	MaxAge    time.Duration
	BatchSize int
}

// ExpiredLeases reports what RecoverExpiredLeases did with orphaned RUNNING jobs.
type ExpiredLeases struct {
	Requeued int64
	Failed   int64
}

// ReaperRepository defines the interface for job cleanup operations.
type ReaperRepository interface {
	// RecoverExpiredLeases returns RUNNING jobs whose lease expired to PENDING while attempts
	// remain, and fails the rest. Processes up to batchSize jobs per call.
	RecoverExpiredLeases(ctx context.Context, batchSize int) (ExpiredLeases, error)

	// DeleteOldJobs deletes up to BatchSize jobs of one terminal status older than MaxAge and
	// returns how many it removed.
	DeleteOldJobs(ctx context.Context, params DeleteOldJobsParams) (int64, error)
}
