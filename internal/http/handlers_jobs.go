// Package httpx provides the JSON API over the chromatin job engine and sequence store.
package httpx

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/jakub-figat/chromatin/internal/domain/model"
	apperrors "github.com/jakub-figat/chromatin/internal/errors"
	"github.com/jakub-figat/chromatin/internal/service"
)

const (
	defaultJobPageSize = 50
	maxJobPageSize     = 500
)

// JobHandlers provides HTTP handlers for job-related operations.
type JobHandlers struct {
	Svc    *service.JobService
	Logger *slog.Logger
}

type createJobBody struct {
	Params      json.RawMessage `json:"params"                validate:"required"`
	MaxAttempts int             `json:"maxAttempts,omitempty" validate:"omitempty,min=1,max=10"`
}

// CreateJob handles HTTP requests to submit a job. The params object carries its jobType.
func (h *JobHandlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var body createJobBody
	if !DecodeJSON(w, r, &body) {
		return
	}
	params, err := decodeJobParams(body.Params)
	if err != nil {
		writeAppError(w, err)
		return
	}

	job, err := h.Svc.Create(r.Context(), &model.CreateJobRequest{
		OwnerID:     ownerID(r),
		Params:      params,
		MaxAttempts: body.MaxAttempts,
	})
	if err != nil {
		serviceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, job)
}

func decodeJobParams(raw json.RawMessage) (model.JobParams, error) {
	t, err := model.PeekJobType(raw)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job params")
	}
	if t == "" {
		return nil, apperrors.ValidationField("jobType", "jobType is required")
	}
	params, err := model.DecodeParams(t, raw)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid job params")
	}
	return params, nil
}

// ListJobs handles HTTP requests to list the caller's jobs, optionally filtered by status and type.
func (h *JobHandlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset := ParseLimitOffset(r, defaultJobPageSize, maxJobPageSize)
	opts := &model.JobListOptions{OwnerID: ownerID(r), Limit: limit, Offset: offset}

	if v := optionalQuery(r, "status"); v != nil {
		var status model.JobStatus
		if err := status.UnmarshalText([]byte(*v)); err != nil {
			writeAppError(w, apperrors.ValidationField("status", err.Error()))
			return
		}
		opts.Status = &status
	}
	if v := optionalQuery(r, "jobType"); v != nil {
		var t model.JobType
		if err := t.UnmarshalText([]byte(*v)); err != nil {
			writeAppError(w, apperrors.ValidationField("jobType", err.Error()))
			return
		}
		opts.Type = &t
	}

	jobs, err := h.Svc.List(r.Context(), opts)
	if err != nil {
		serviceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, jobs)
}

// GetJob handles HTTP requests to fetch one job including its result or error message.
func (h *JobHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.Svc.Get(r.Context(), r.PathValue("id"), ownerID(r))
	if err != nil {
		serviceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// CancelJob handles HTTP requests to cancel a PENDING or RUNNING job.
func (h *JobHandlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.Svc.Cancel(r.Context(), r.PathValue("id"), ownerID(r))
	if err != nil {
		serviceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// DeleteJob handles HTTP requests to delete a job record.
func (h *JobHandlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.Delete(r.Context(), r.PathValue("id"), ownerID(r)); err != nil {
		serviceError(w, r, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stats handles HTTP requests for job counts by status.
func (h *JobHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Svc.Stats(r.Context())
	if err != nil {
		serviceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}
