package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/docrefinery/server/internal/broker"
	"github.com/docrefinery/server/internal/convert"
	"github.com/docrefinery/server/internal/db"
	"github.com/docrefinery/server/internal/options"
	"github.com/docrefinery/server/internal/storage"
)

// runExport rehydrates the structured document from the canonical
// docling_json artifact and renders every requested export kind.
// chunks_json rendering happens here too — chunking is folded into Export
// rather than chained as a separate broker stage (see DESIGN.md) — and its
// own wall time is tracked separately in ChunkMS.
func (o *Orchestrator) runExport(ctx context.Context, task broker.Task) error {
	job, proceed, err := o.loadForStage(ctx, task.JobID)
	if err != nil {
		return err
	}
	if !proceed {
		return nil
	}
	if err := o.enterStage(ctx, job, db.StageExporting, task.ID); err != nil {
		return err
	}

	start := time.Now()

	doclingArtifacts, err := o.artifacts.ListByJob(ctx, job.ID)
	if err != nil {
		return o.failStage(ctx, job, db.StageExporting, ErrCodeDoclingLoadFailed, err.Error(), time.Since(start), &job.ExportMS)
	}
	var doclingPath string
	for _, a := range doclingArtifacts {
		if a.Kind == db.ArtifactKindDoclingJSON {
			doclingPath = a.Path
			break
		}
	}
	if doclingPath == "" {
		return o.failStage(ctx, job, db.StageExporting, ErrCodeDoclingLoadFailed, "no docling_json artifact recorded for job", time.Since(start), &job.ExportMS)
	}

	raw, err := os.ReadFile(o.store.Abs(doclingPath))
	if err != nil {
		return o.failStage(ctx, job, db.StageExporting, ErrCodeDoclingLoadFailed, err.Error(), time.Since(start), &job.ExportMS)
	}
	var doc convert.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return o.failStage(ctx, job, db.StageExporting, ErrCodeDoclingLoadFailed, err.Error(), time.Since(start), &job.ExportMS)
	}

	opts, err := options.ParseJSON(job.OptionsJSON)
	if err != nil {
		return o.failStage(ctx, job, db.StageExporting, ErrCodeDoclingLoadFailed, err.Error(), time.Since(start), &job.ExportMS)
	}

	var chunkElapsed time.Duration
	for _, kind := range opts.Exports {
		if err := o.renderExport(ctx, job, &doc, kind, &chunkElapsed); err != nil {
			return o.failStage(ctx, job, db.StageExporting, ErrCodeDoclingLoadFailed, err.Error(), time.Since(start), &job.ExportMS)
		}
	}
	job.ChunkMS = chunkElapsed.Milliseconds()

	if err := o.finishStage(ctx, job, db.JobStatusRunning, db.StageExporting, "", "", time.Since(start), &job.ExportMS); err != nil {
		return err
	}
	return o.advance(ctx, job, db.StageFinalizing)
}

// renderExport writes one requested export kind as an artifact. A kind with
// no registered renderer (figures_zip — this converter extracts text only,
// not embedded images) is skipped with a warning rather than failing the
// job; every other export kind is mandatory.
func (o *Orchestrator) renderExport(ctx context.Context, job *db.IngestionJob, doc *convert.Document, kind string, chunkElapsed *time.Duration) error {
	file, known := artifactFile[kind]
	if !known {
		o.logger.Warn("skipping export kind with no renderer", zap.String("job_id", job.ID.String()), zap.String("kind", kind))
		return nil
	}

	var body []byte
	var err error
	switch kind {
	case db.ArtifactKindMarkdown:
		body = []byte(convert.RenderMarkdown(doc))
	case db.ArtifactKindText:
		body = []byte(convert.RenderText(doc))
	case db.ArtifactKindDoctags:
		body = []byte(convert.RenderDoctags(doc))
	case db.ArtifactKindChunksJSON:
		start := time.Now()
		body, err = convert.RenderChunksJSON(doc)
		*chunkElapsed += time.Since(start)
	}
	if err != nil {
		return err
	}

	rel, abs := o.store.ArtifactPath(job.TenantID, job.ID, kind, file.name)
	if err := storage.WriteAtomic(abs, body); err != nil {
		return err
	}
	sha, err := storage.SHA256File(abs)
	if err != nil {
		return err
	}

	artifact := &db.Artifact{
		TenantID:       job.TenantID,
		JobID:          job.ID,
		CreatedByKeyID: job.CreatedByKeyID,
		Kind:           kind,
		Path:           rel,
		SHA256:         sha,
		SizeBytes:      int64(len(body)),
		ContentType:    file.contentType,
	}
	return o.artifacts.Create(ctx, artifact)
}
