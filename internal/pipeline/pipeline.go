// Package pipeline runs the four-stage ingestion pipeline — Scan, Convert,
// Export, Finalize — against jobs popped off the broker. It is the
// orchestrator driving every ingestion job through its stages: the only caller of
// webhook.Publisher, the only writer of IngestionJob rows once a job leaves
// admission, and the home of the retry/cancel actions the API exposes.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docrefinery/server/internal/broker"
	"github.com/docrefinery/server/internal/convert"
	"github.com/docrefinery/server/internal/db"
	"github.com/docrefinery/server/internal/repositories"
	"github.com/docrefinery/server/internal/scanner"
	"github.com/docrefinery/server/internal/storage"
	"github.com/docrefinery/server/internal/webhook"
)

// Error codes. All but ErrCodeRetryLimit are recorded on jobs by the stage
// adapters; RETRY_LIMIT is only ever returned by the HTTP retry handler.
const (
	ErrCodeClamAVUnavailable     = "CLAMAV_UNAVAILABLE"
	ErrCodeClamAVInvalidResponse = "CLAMAV_INVALID_RESPONSE"
	ErrCodeVirusFound            = "VIRUS_FOUND"
	ErrCodeVirusScanError        = "VIRUS_SCAN_ERROR"
	ErrCodeDoclingConvertFailed  = "DOCLING_CONVERT_FAILED"
	ErrCodeDoclingLoadFailed     = "DOCLING_LOAD_FAILED"
	ErrCodeRetryLimit            = "RETRY_LIMIT"
)

// Orchestrator holds every dependency a stage adapter needs. It has no
// per-job state of its own — every RunStage call reloads the job row fresh.
type Orchestrator struct {
	jobs      repositories.JobRepository
	documents repositories.DocumentRepository
	artifacts repositories.ArtifactRepository
	brk       broker.Broker
	store     *storage.Store
	scan      *scanner.Client
	converter convert.Converter
	publisher *webhook.Publisher
	logger    *zap.Logger
}

// New builds an Orchestrator.
func New(
	jobs repositories.JobRepository,
	documents repositories.DocumentRepository,
	artifacts repositories.ArtifactRepository,
	brk broker.Broker,
	store *storage.Store,
	scan *scanner.Client,
	converter convert.Converter,
	publisher *webhook.Publisher,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		jobs:      jobs,
		documents: documents,
		artifacts: artifacts,
		brk:       brk,
		store:     store,
		scan:      scan,
		converter: converter,
		publisher: publisher,
		logger:    logger,
	}
}

// RunStage executes the stage named by task against task.JobID, advancing
// the job to its next stage on success by enqueuing a new broker task, or
// leaving it terminal. The caller (Pool) Acks the broker task once this
// returns regardless of outcome — a stage failure is recorded on the job
// row, not retried by redelivering the broker task.
func (o *Orchestrator) RunStage(ctx context.Context, task broker.Task) error {
	switch task.Stage {
	case db.StageScanning:
		return o.runScan(ctx, task)
	case db.StageConverting:
		return o.runConvert(ctx, task)
	case db.StageExporting:
		return o.runExport(ctx, task)
	case db.StageFinalizing:
		return o.runFinalize(ctx, task)
	default:
		return fmt.Errorf("pipeline: unknown stage %q", task.Stage)
	}
}

// loadForStage reloads the job and reports whether the adapter should
// proceed. It returns proceed=false (with no error) when the job is already
// CANCELED — the cooperative-cancellation check every adapter performs on
// entry.
func (o *Orchestrator) loadForStage(ctx context.Context, jobID uuid.UUID) (job *db.IngestionJob, proceed bool, err error) {
	job, err = o.jobs.GetForUpdate(ctx, jobID)
	if err != nil {
		return nil, false, fmt.Errorf("pipeline: load job: %w", err)
	}
	if job.Status == db.JobStatusCanceled {
		return job, false, nil
	}
	return job, true, nil
}

// enterStage sets stage/status/started_at/broker task id and persists the
// transition, emitting a state-change event and webhook publish only when
// (status, stage) actually changed from what was already stored — the
// "only emit on change" invariant.
func (o *Orchestrator) enterStage(ctx context.Context, job *db.IngestionJob, stage string, taskID string) error {
	prevStatus, prevStage := job.Status, job.Stage

	job.Stage = stage
	job.Status = db.JobStatusRunning
	if job.StartedAt == nil {
		now := time.Now()
		job.StartedAt = &now
	}
	job.BrokerTaskID = taskID

	if err := o.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("pipeline: persist stage entry: %w", err)
	}

	if prevStatus != job.Status || prevStage != job.Stage {
		o.recordTransition(ctx, job, prevStatus, prevStage)
	}
	return nil
}

// finishStage sets the job's terminal or advancing state after a stage
// adapter's work completes (success or failure), stamps the per-stage
// timing field, and republishes on a (status, stage) change.
func (o *Orchestrator) finishStage(ctx context.Context, job *db.IngestionJob, status, stage, errCode, errMsg string, elapsed time.Duration, stageField *int64) error {
	prevStatus, prevStage := job.Status, job.Stage

	*stageField = elapsed.Milliseconds()
	job.Status = status
	job.Stage = stage
	job.ErrorCode = errCode
	job.ErrorMessage = errMsg

	if isTerminal(status) {
		now := time.Now()
		job.FinishedAt = &now
		if job.StartedAt != nil {
			job.DurationMS = job.FinishedAt.Sub(*job.StartedAt).Milliseconds()
		}
	}

	if err := o.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("pipeline: persist stage result: %w", err)
	}

	if prevStatus != job.Status || prevStage != job.Stage {
		o.recordTransition(ctx, job, prevStatus, prevStage)
	}
	return nil
}

func isTerminal(status string) bool {
	switch status {
	case db.JobStatusSucceeded, db.JobStatusFailed, db.JobStatusCanceled, db.JobStatusQuarantined:
		return true
	default:
		return false
	}
}

// recordTransition appends a JobEvent row and, independently, asks the
// publisher to queue a job.updated webhook delivery for every subscribed
// endpoint. A publish failure is logged, not propagated — a webhook
// endpoint being briefly unreachable must never fail the pipeline stage
// that triggered it.
func (o *Orchestrator) recordTransition(ctx context.Context, job *db.IngestionJob, prevStatus, prevStage string) {
	now := time.Now()
	event := &db.JobEvent{
		JobID:          job.ID,
		Status:         job.Status,
		Stage:          job.Stage,
		PreviousStatus: prevStatus,
		PreviousStage:  prevStage,
		ErrorCode:      job.ErrorCode,
		ErrorMessage:   job.ErrorMessage,
		OccurredAt:     now,
	}
	if err := o.jobs.CreateEvent(ctx, event); err != nil {
		o.logger.Error("failed to record job event", zap.String("job_id", job.ID.String()), zap.Error(err))
	}

	payload := webhook.JobEventPayload{
		Event:          "job.updated",
		JobID:          job.ID,
		JobUUID:        job.PublicID,
		DocumentID:     job.DocumentID,
		ExternalUUID:   job.ExternalUUID,
		Status:         job.Status,
		Stage:          job.Stage,
		PreviousStatus: prevStatus,
		PreviousStage:  prevStage,
		ErrorCode:      job.ErrorCode,
		ErrorMessage:   job.ErrorMessage,
		QueuedAt:       &job.QueuedAt,
		StartedAt:      job.StartedAt,
		FinishedAt:     job.FinishedAt,
		CreatedAt:      job.CreatedAt,
		ModifiedAt:     now,
		Profile:        job.Profile,
	}
	if err := o.publisher.Publish(ctx, job.TenantID, "job.updated", payload); err != nil {
		o.logger.Error("failed to publish job.updated webhook", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
}

// failStage is finishStage's shorthand for the common "terminal FAILED"
// path every stage adapter's error branches take.
func (o *Orchestrator) failStage(ctx context.Context, job *db.IngestionJob, stage, errCode, errMsg string, elapsed time.Duration, stageField *int64) error {
	return o.finishStage(ctx, job, db.JobStatusFailed, stage, errCode, errMsg, elapsed, stageField)
}

// advance enqueues the next stage's broker task so the pool picks it up.
func (o *Orchestrator) advance(ctx context.Context, job *db.IngestionJob, nextStage string) error {
	if _, err := o.brk.Enqueue(ctx, job.ID, nextStage); err != nil {
		return fmt.Errorf("pipeline: enqueue next stage: %w", err)
	}
	return nil
}
