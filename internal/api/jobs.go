package api

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/docrefinery/server/internal/auth"
	"github.com/docrefinery/server/internal/db"
	"github.com/docrefinery/server/internal/pipeline"
	"github.com/docrefinery/server/internal/repositories"
)

// JobHandler implements read-only job listing/detail plus the cancel and
// retry actions, which it delegates to the orchestrator rather than
// mutating job rows itself.
type JobHandler struct {
	jobs         repositories.JobRepository
	orchestrator *pipeline.Orchestrator
	logger       *zap.Logger
}

// NewJobHandler builds a JobHandler.
func NewJobHandler(jobs repositories.JobRepository, orchestrator *pipeline.Orchestrator, logger *zap.Logger) *JobHandler {
	return &JobHandler{
		jobs:         jobs,
		orchestrator: orchestrator,
		logger:       logger.Named("job_handler"),
	}
}

type jobResponse struct {
	ID             string     `json:"id"`
	UUID           string     `json:"uuid"`
	DocumentID     string     `json:"document_id"`
	ExternalUUID   *string    `json:"external_uuid,omitempty"`
	Profile        string     `json:"profile,omitempty"`
	ComparisonID   *string    `json:"comparison_id,omitempty"`
	Status         string     `json:"status"`
	Stage          string     `json:"stage"`
	Attempt        int        `json:"attempt"`
	MaxRetries     int        `json:"max_retries"`
	ErrorCode      string     `json:"error_code,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	QueuedAt       time.Time  `json:"queued_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	DurationMS     int64      `json:"duration_ms"`
	ScanMS         int64      `json:"scan_ms"`
	ConvertMS      int64      `json:"convert_ms"`
	ExportMS       int64      `json:"export_ms"`
	EngineVersion  string     `json:"engine_version,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ModifiedAt     time.Time  `json:"modified_at"`
}

func jobToResponse(j *db.IngestionJob) jobResponse {
	resp := jobResponse{
		ID:           j.ID.String(),
		UUID:         j.PublicID.String(),
		DocumentID:   j.DocumentID.String(),
		Profile:      j.Profile,
		Status:       j.Status,
		Stage:        j.Stage,
		Attempt:      j.Attempt,
		MaxRetries:   j.MaxRetries,
		ErrorCode:    j.ErrorCode,
		ErrorMessage: j.ErrorMessage,
		QueuedAt:     j.QueuedAt,
		StartedAt:    j.StartedAt,
		FinishedAt:   j.FinishedAt,
		DurationMS:   j.DurationMS,
		ScanMS:        j.ScanMS,
		ConvertMS:     j.ConvertMS,
		ExportMS:      j.ExportMS,
		EngineVersion: j.EngineVersion,
		CreatedAt:     j.CreatedAt,
		ModifiedAt:    j.UpdatedAt,
	}
	if j.ExternalUUID != nil {
		s := j.ExternalUUID.String()
		resp.ExternalUUID = &s
	}
	if j.ComparisonID != nil {
		s := j.ComparisonID.String()
		resp.ComparisonID = &s
	}
	return resp
}

type listJobsResponse struct {
	Items []jobResponse `json:"items"`
	Total int64         `json:"total"`
}

// List handles GET /v1/jobs, applying the supported filters. An
// unparseable filter value marks the whole query Invalid, which the
// repository turns into an empty result rather than a 400 — keeping
// polling clients idempotent even when they send a stale/garbled filter.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	resolved, _ := auth.FromContext(r.Context())
	q := r.URL.Query()

	filter := repositories.JobFilter{
		Status: q.Get("status"),
		Stage:  q.Get("stage"),
	}

	if docID, invalid := queryUUID(r, "document_id"); invalid {
		filter.Invalid = true
	} else {
		filter.DocumentID = docID
	}
	if extUUID, invalid := queryUUID(r, "external_uuid"); invalid {
		filter.Invalid = true
	} else {
		filter.ExternalUUID = extUUID
	}
	if cmpID, invalid := queryUUID(r, "comparison_id"); invalid {
		filter.Invalid = true
	} else {
		filter.ComparisonID = cmpID
	}
	if t, invalid := queryTime(r, "created_after"); invalid {
		filter.Invalid = true
	} else {
		filter.CreatedAfter = t
	}
	if t, invalid := queryTime(r, "created_before"); invalid {
		filter.Invalid = true
	} else {
		filter.CreatedBefore = t
	}
	if t, invalid := queryTime(r, "updated_after"); invalid {
		filter.Invalid = true
	} else {
		filter.UpdatedAfter = t
	}

	jobs, total, err := h.jobs.List(r.Context(), resolved.Tenant.ID, filter, paginationOpts(r))
	if err != nil {
		h.logger.Error("failed to list jobs", zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]jobResponse, len(jobs))
	for i := range jobs {
		items[i] = jobToResponse(&jobs[i])
	}
	Ok(w, listJobsResponse{Items: items, Total: total})
}

// GetByID handles GET /v1/jobs/{id}.
func (h *JobHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	resolved, _ := auth.FromContext(r.Context())
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	job, err := h.jobs.GetByID(r.Context(), resolved.Tenant.ID, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get job", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}
	events, err := h.jobs.ListEvents(r.Context(), job.ID)
	if err != nil {
		h.logger.Error("failed to list job events", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, envelope{"job": jobToResponse(job), "events": eventsToResponse(events)})
}

type jobEventResponse struct {
	Status         string    `json:"status"`
	Stage          string    `json:"stage"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	PreviousStage  string    `json:"previous_stage,omitempty"`
	ErrorCode      string    `json:"error_code,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func eventsToResponse(events []db.JobEvent) []jobEventResponse {
	items := make([]jobEventResponse, len(events))
	for i, e := range events {
		items[i] = jobEventResponse{
			Status:         e.Status,
			Stage:          e.Stage,
			PreviousStatus: e.PreviousStatus,
			PreviousStage:  e.PreviousStage,
			ErrorCode:      e.ErrorCode,
			ErrorMessage:   e.ErrorMessage,
			OccurredAt:     e.OccurredAt,
		}
	}
	return items
}

// Cancel handles POST /v1/jobs/{id}/cancel.
func (h *JobHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	resolved, _ := auth.FromContext(r.Context())
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	job, err := h.orchestrator.Cancel(r.Context(), resolved.Tenant.ID, id)
	if err != nil {
		h.writeActionError(w, err, id)
		return
	}
	Ok(w, jobToResponse(job))
}

// Retry handles POST /v1/jobs/{id}/retry.
func (h *JobHandler) Retry(w http.ResponseWriter, r *http.Request) {
	resolved, _ := auth.FromContext(r.Context())
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	job, err := h.orchestrator.Retry(r.Context(), resolved.Tenant.ID, id)
	if err != nil {
		h.writeActionError(w, err, id)
		return
	}
	Ok(w, jobToResponse(job))
}

func (h *JobHandler) writeActionError(w http.ResponseWriter, err error, id interface{ String() string }) {
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		ErrNotFound(w)
	case errors.Is(err, pipeline.ErrNotCancelable):
		ErrBadRequest(w, "NOT_CANCELABLE", "job cannot be canceled from its current status")
	case errors.Is(err, pipeline.ErrNotRetryable):
		ErrBadRequest(w, "NOT_RETRYABLE", "job is not in a retryable state")
	case errors.Is(err, pipeline.ErrRetryLimit):
		ErrBadRequest(w, "RETRY_LIMIT", "job has reached its maximum retry attempts")
	default:
		h.logger.Error("job action failed", zap.String("job_id", id.String()), zap.Error(err))
		ErrInternal(w)
	}
}
