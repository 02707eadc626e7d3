// Package core declares the ports of the chromatin job engine and the small services that sit
// directly on top of them.
package core

import (
	"github.com/jakub-figat/chromatin/internal/domain/model"
)

// JobType represents the type of job to be executed (re-exported from the model package).
// This is re-exported here for use in HTTP handlers to avoid direct coupling to the model package.
type JobType = model.JobType

// CreateJobRequest represents a request to create a new job (re-exported from the model package).
type CreateJobRequest = model.CreateJobRequest
