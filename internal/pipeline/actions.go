package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docrefinery/server/internal/db"
	"github.com/docrefinery/server/internal/storage"
)

// ErrNotRetryable is returned when Retry is called on a job whose status
// isn't terminal FAILED/QUARANTINED.
var ErrNotRetryable = errors.New("pipeline: job is not in a retryable state")

// ErrRetryLimit is returned when attempt has already reached max_retries.
var ErrRetryLimit = errors.New("pipeline: retry limit reached")

// ErrNotCancelable is returned when Cancel is called on a job that has
// already reached a terminal status.
var ErrNotCancelable = errors.New("pipeline: job cannot be canceled from its current status")

// Retry re-enrolls a terminal FAILED/QUARANTINED job: it deletes every
// artifact (record and file, ignoring missing files), clears error and
// timing fields, increments attempt, resets to QUEUED/SCANNING, and
// republishes the first broker task.
func (o *Orchestrator) Retry(ctx context.Context, tenantID, jobID uuid.UUID) (*db.IngestionJob, error) {
	job, err := o.jobs.GetByID(ctx, tenantID, jobID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: retry: load job: %w", err)
	}
	if job.Status != db.JobStatusFailed && job.Status != db.JobStatusQuarantined {
		return nil, ErrNotRetryable
	}
	if job.Attempt >= job.MaxRetries {
		return nil, ErrRetryLimit
	}

	artifacts, err := o.artifacts.DeleteByJob(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: retry: delete artifacts: %w", err)
	}
	for _, a := range artifacts {
		if err := storage.RemoveIgnoreMissing(o.store.Abs(a.Path)); err != nil {
			o.logger.Warn("failed to remove artifact file during retry", zap.String("path", a.Path), zap.Error(err))
		}
	}

	prevStatus, prevStage := job.Status, job.Stage

	job.Attempt++
	job.Status = db.JobStatusQueued
	job.Stage = db.StageScanning
	job.ErrorCode = ""
	job.ErrorMessage = ""
	job.ErrorDetailJSON = ""
	job.StartedAt = nil
	job.FinishedAt = nil
	job.DurationMS = 0
	job.ScanMS = 0
	job.ConvertMS = 0
	job.ExportMS = 0
	job.ChunkMS = 0
	job.QueuedAt = time.Now()

	if err := o.jobs.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("pipeline: retry: persist reset: %w", err)
	}
	o.recordTransition(ctx, job, prevStatus, prevStage)

	if _, err := o.brk.Enqueue(ctx, job.ID, db.StageScanning); err != nil {
		return nil, fmt.Errorf("pipeline: retry: enqueue: %w", err)
	}
	return job, nil
}

// Cancel marks a QUEUED or RUNNING job CANCELED and best-effort terminates
// its last known broker task. Downstream stage adapters honor CANCELED on
// their own next entry — this action does not itself stop an in-flight
// stage.
func (o *Orchestrator) Cancel(ctx context.Context, tenantID, jobID uuid.UUID) (*db.IngestionJob, error) {
	job, err := o.jobs.GetByID(ctx, tenantID, jobID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: cancel: load job: %w", err)
	}
	if job.Status != db.JobStatusQueued && job.Status != db.JobStatusRunning {
		return nil, ErrNotCancelable
	}

	prevStatus, prevStage := job.Status, job.Stage

	now := time.Now()
	job.Status = db.JobStatusCanceled
	job.FinishedAt = &now
	if job.StartedAt != nil {
		job.DurationMS = now.Sub(*job.StartedAt).Milliseconds()
	}

	if err := o.jobs.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("pipeline: cancel: persist: %w", err)
	}
	o.recordTransition(ctx, job, prevStatus, prevStage)

	if job.BrokerTaskID != "" {
		if err := o.brk.Terminate(ctx, job.BrokerTaskID); err != nil {
			o.logger.Warn("failed to terminate broker task on cancel", zap.String("task_id", job.BrokerTaskID), zap.Error(err))
		}
	}
	return job, nil
}
