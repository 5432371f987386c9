package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/docrefinery/server/internal/broker"
	"github.com/docrefinery/server/internal/db"
	"github.com/docrefinery/server/internal/scanner"
	"github.com/docrefinery/server/internal/storage"
)

// runScan sends the quarantine file to the malware scanner and, on a clean
// verdict, atomically moves it into the clean tree before advancing to
// Convert.
func (o *Orchestrator) runScan(ctx context.Context, task broker.Task) error {
	job, proceed, err := o.loadForStage(ctx, task.JobID)
	if err != nil {
		return err
	}
	if !proceed {
		return nil
	}
	if err := o.enterStage(ctx, job, db.StageScanning, task.ID); err != nil {
		return err
	}

	document, err := o.documents.GetByID(ctx, job.TenantID, job.DocumentID)
	if err != nil {
		return o.failStage(ctx, job, db.StageScanning, ErrCodeVirusScanError, err.Error(), 0, &job.ScanMS)
	}

	path := document.QuarantinePath
	if job.SourcePath != "" {
		path = job.SourcePath
	}
	absPath := o.store.Abs(path)

	start := time.Now()
	result, scanErr := o.scan.Scan(ctx, absPath)
	elapsed := time.Since(start)

	if scanErr != nil {
		code := ErrCodeClamAVUnavailable
		if errors.Is(scanErr, scanner.ErrInvalidResponse) {
			code = ErrCodeClamAVInvalidResponse
		}
		return o.failStage(ctx, job, db.StageScanning, code, scanErr.Error(), elapsed, &job.ScanMS)
	}

	switch result.Outcome {
	case scanner.OutcomeOK:
		if job.SourcePath != "" {
			// Compare-action sibling: land in a job-scoped clean copy,
			// not the document's shared clean path, so sibling jobs
			// scanning the same document never delete each other's
			// source file or clobber the document's own status.
			cleanRel, cleanAbs := o.store.CleanCopyPath(job.TenantID, job.DocumentID, job.ID)
			if err := storage.Rename(absPath, cleanAbs); err != nil {
				return o.failStage(ctx, job, db.StageScanning, ErrCodeVirusScanError, err.Error(), elapsed, &job.ScanMS)
			}
			job.SourcePath = cleanRel
			if err := o.finishStage(ctx, job, db.JobStatusRunning, db.StageScanning, "", "", elapsed, &job.ScanMS); err != nil {
				return err
			}
			return o.advance(ctx, job, db.StageConverting)
		}

		cleanRel, cleanAbs := o.store.CleanPath(job.TenantID, job.DocumentID)
		if err := storage.Rename(absPath, cleanAbs); err != nil {
			return o.failStage(ctx, job, db.StageScanning, ErrCodeVirusScanError, err.Error(), elapsed, &job.ScanMS)
		}
		if err := o.documents.UpdateStatus(ctx, document.ID, db.DocumentStatusClean, cleanRel); err != nil {
			o.logger.Error("failed to record clean document status", zap.String("document_id", document.ID.String()), zap.Error(err))
		}
		if err := o.finishStage(ctx, job, db.JobStatusRunning, db.StageScanning, "", "", elapsed, &job.ScanMS); err != nil {
			return err
		}
		return o.advance(ctx, job, db.StageConverting)

	case scanner.OutcomeFound:
		if err := o.documents.UpdateStatus(ctx, document.ID, db.DocumentStatusInfected, ""); err != nil {
			o.logger.Error("failed to record infected document status", zap.String("document_id", document.ID.String()), zap.Error(err))
		}
		return o.finishStage(ctx, job, db.JobStatusQuarantined, db.StageScanning, ErrCodeVirusFound, result.Reason, elapsed, &job.ScanMS)

	case scanner.OutcomeError:
		return o.failStage(ctx, job, db.StageScanning, ErrCodeVirusScanError, result.Reason, elapsed, &job.ScanMS)

	default:
		return o.failStage(ctx, job, db.StageScanning, ErrCodeClamAVInvalidResponse, "unrecognized scan outcome", elapsed, &job.ScanMS)
	}
}
