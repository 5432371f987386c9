// Package reaper periodically removes expired documents and artifacts: the
// database row is deleted first, then the backing file is unlinked,
// tolerating a missing file as a harmless race with a previous run. It
// wraps gocron as one ticking job in singleton mode, so a slow sweep never
// overlaps itself.
package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/docrefinery/server/internal/db"
	"github.com/docrefinery/server/internal/repositories"
	"github.com/docrefinery/server/internal/storage"
)

const batchSize = 200

// Reaper sweeps expired documents and artifacts on a fixed interval.
type Reaper struct {
	documents repositories.DocumentRepository
	jobs      repositories.JobRepository
	artifacts repositories.ArtifactRepository
	store     *storage.Store
	retention time.Duration
	logger    *zap.Logger

	cron gocron.Scheduler
}

// New builds a Reaper. retention is only reported in the startup log; it is
// not applied to any row. Expiry is driven entirely by each row's ExpiresAt
// column, which admission leaves unset.
func New(documents repositories.DocumentRepository, jobs repositories.JobRepository, artifacts repositories.ArtifactRepository, store *storage.Store, retention time.Duration, logger *zap.Logger) *Reaper {
	return &Reaper{
		documents: documents,
		jobs:      jobs,
		artifacts: artifacts,
		store:     store,
		retention: retention,
		logger:    logger.Named("reaper"),
	}
}

// Start schedules the sweep to run every interval and starts the underlying
// gocron scheduler. Safe to call once; call Stop to shut down cleanly.
func (r *Reaper) Start(ctx context.Context, interval time.Duration) error {
	s, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("reaper: failed to create gocron scheduler: %w", err)
	}
	r.cron = s

	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			r.sweep(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("reaper: failed to schedule sweep: %w", err)
	}

	s.Start()
	r.logger.Info("reaper started", zap.Duration("interval", interval), zap.Duration("default_retention", r.retention))
	return nil
}

// Stop shuts down the underlying gocron scheduler, waiting for any in-flight
// sweep to finish.
func (r *Reaper) Stop() {
	if r.cron == nil {
		return
	}
	if err := r.cron.Shutdown(); err != nil {
		r.logger.Warn("reaper shutdown error", zap.Error(err))
	}
}

// sweep runs one pass over expired documents and artifacts. Each resource
// kind is swept independently — a document expiring does not wait for its
// artifacts' own (possibly later) expiry, and vice versa.
func (r *Reaper) sweep(ctx context.Context) {
	now := time.Now()

	docs, err := r.documents.ListExpired(ctx, now, batchSize)
	if err != nil {
		r.logger.Error("failed to list expired documents", zap.Error(err))
	} else {
		for i := range docs {
			r.reapDocument(ctx, &docs[i])
		}
	}

	artifacts, err := r.artifacts.ListExpired(ctx, now, batchSize)
	if err != nil {
		r.logger.Error("failed to list expired artifacts", zap.Error(err))
	} else {
		for i := range artifacts {
			if err := r.artifacts.Delete(ctx, artifacts[i].ID); err != nil {
				r.logger.Error("failed to delete expired artifact row",
					zap.String("artifact_id", artifacts[i].ID.String()), zap.Error(err))
				continue
			}
			r.reapArtifactFile(&artifacts[i])
		}
	}

	if len(docs) > 0 || len(artifacts) > 0 {
		r.logger.Info("reaper sweep complete", zap.Int("documents", len(docs)), zap.Int("artifacts", len(artifacts)))
	}
}

// reapDocument removes a document's row, both possible file copies
// (quarantine and clean), and every artifact produced by any job ever run
// against it. The row is deleted first: a process crash between the two
// steps leaves an orphaned file on disk, never a dangling row pointing at
// nothing.
func (r *Reaper) reapDocument(ctx context.Context, doc *db.Document) {
	jobIDs, err := r.jobs.ListIDsByDocument(ctx, doc.ID)
	if err != nil {
		r.logger.Error("failed to list jobs for expiring document", zap.String("document_id", doc.ID.String()), zap.Error(err))
	}

	if err := r.documents.Delete(ctx, doc.ID); err != nil {
		r.logger.Error("failed to delete expired document row", zap.String("document_id", doc.ID.String()), zap.Error(err))
		return
	}
	if doc.QuarantinePath != "" {
		storage.RemoveIgnoreMissing(r.store.Abs(doc.QuarantinePath))
	}
	if doc.CleanPath != "" {
		storage.RemoveIgnoreMissing(r.store.Abs(doc.CleanPath))
	}

	for _, jobID := range jobIDs {
		deleted, err := r.artifacts.DeleteByJob(ctx, jobID)
		if err != nil {
			r.logger.Error("failed to delete artifacts for expiring document's job",
				zap.String("document_id", doc.ID.String()), zap.String("job_id", jobID.String()), zap.Error(err))
			continue
		}
		for i := range deleted {
			r.reapArtifactFile(&deleted[i])
		}
	}
}

// reapArtifactFile removes the on-disk file backing an expired artifact,
// ignoring a missing file as a harmless race with a previous sweep.
func (r *Reaper) reapArtifactFile(artifact *db.Artifact) {
	storage.RemoveIgnoreMissing(r.store.Abs(artifact.Path))
}
