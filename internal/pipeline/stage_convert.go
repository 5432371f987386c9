package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/docrefinery/server/internal/broker"
	"github.com/docrefinery/server/internal/db"
	"github.com/docrefinery/server/internal/options"
	"github.com/docrefinery/server/internal/storage"
)

// runConvert invokes the document engine against the document's clean copy
// and writes the structured result as the canonical docling_json artifact.
func (o *Orchestrator) runConvert(ctx context.Context, task broker.Task) error {
	job, proceed, err := o.loadForStage(ctx, task.JobID)
	if err != nil {
		return err
	}
	if !proceed {
		return nil
	}
	if err := o.enterStage(ctx, job, db.StageConverting, task.ID); err != nil {
		return err
	}

	document, err := o.documents.GetByID(ctx, job.TenantID, job.DocumentID)
	if err != nil {
		return o.failStage(ctx, job, db.StageConverting, ErrCodeDoclingConvertFailed, err.Error(), 0, &job.ConvertMS)
	}

	opts, err := options.ParseJSON(job.OptionsJSON)
	if err != nil {
		return o.failStage(ctx, job, db.StageConverting, ErrCodeDoclingConvertFailed, err.Error(), 0, &job.ConvertMS)
	}

	path := document.CleanPath
	if job.SourcePath != "" {
		path = job.SourcePath
	}

	start := time.Now()
	doc, convErr := o.converter.Convert(ctx, o.store.Abs(path), opts.MaxNumPages)
	elapsed := time.Since(start)
	if convErr != nil {
		return o.failStage(ctx, job, db.StageConverting, ErrCodeDoclingConvertFailed, convErr.Error(), elapsed, &job.ConvertMS)
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return o.failStage(ctx, job, db.StageConverting, ErrCodeDoclingConvertFailed, err.Error(), elapsed, &job.ConvertMS)
	}

	rel, abs := o.store.ArtifactPath(job.TenantID, job.ID, db.ArtifactKindDoclingJSON, "docling.json")
	if err := storage.WriteAtomic(abs, body); err != nil {
		return o.failStage(ctx, job, db.StageConverting, ErrCodeDoclingConvertFailed, err.Error(), elapsed, &job.ConvertMS)
	}
	sha, err := storage.SHA256File(abs)
	if err != nil {
		return o.failStage(ctx, job, db.StageConverting, ErrCodeDoclingConvertFailed, err.Error(), elapsed, &job.ConvertMS)
	}

	artifact := &db.Artifact{
		TenantID:       job.TenantID,
		JobID:          job.ID,
		CreatedByKeyID: job.CreatedByKeyID,
		Kind:           db.ArtifactKindDoclingJSON,
		Path:           rel,
		SHA256:         sha,
		SizeBytes:      int64(len(body)),
		ContentType:    "application/json",
	}
	if err := o.artifacts.Create(ctx, artifact); err != nil {
		return o.failStage(ctx, job, db.StageConverting, ErrCodeDoclingConvertFailed, err.Error(), elapsed, &job.ConvertMS)
	}

	job.EngineVersion = doc.EngineVersion

	if err := o.finishStage(ctx, job, db.JobStatusRunning, db.StageConverting, "", "", elapsed, &job.ConvertMS); err != nil {
		return err
	}
	return o.advance(ctx, job, db.StageExporting)
}
