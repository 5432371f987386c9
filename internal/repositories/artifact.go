package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/docrefinery/server/internal/db"
)

type gormArtifactRepository struct {
	db *gorm.DB
}

// NewArtifactRepository returns an ArtifactRepository backed by the provided *gorm.DB.
func NewArtifactRepository(gdb *gorm.DB) ArtifactRepository {
	return &gormArtifactRepository{db: gdb}
}

func (r *gormArtifactRepository) Create(ctx context.Context, artifact *db.Artifact) error {
	if err := r.db.WithContext(ctx).Create(artifact).Error; err != nil {
		return fmt.Errorf("artifacts: create: %w", err)
	}
	return nil
}

func (r *gormArtifactRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*db.Artifact, error) {
	var artifact db.Artifact
	err := r.db.WithContext(ctx).
		First(&artifact, "id = ? AND tenant_id = ?", id, tenantID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("artifacts: get by id: %w", err)
	}
	return &artifact, nil
}

func (r *gormArtifactRepository) List(ctx context.Context, tenantID uuid.UUID, jobID *uuid.UUID, opts ListOptions) ([]db.Artifact, int64, error) {
	q := r.db.WithContext(ctx).Model(&db.Artifact{}).Where("tenant_id = ?", tenantID)
	if jobID != nil {
		q = q.Where("job_id = ?", *jobID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("artifacts: list count: %w", err)
	}

	listQ := r.db.WithContext(ctx).Model(&db.Artifact{}).Where("tenant_id = ?", tenantID)
	if jobID != nil {
		listQ = listQ.Where("job_id = ?", *jobID)
	}

	var artifacts []db.Artifact
	if err := listQ.
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at DESC").
		Find(&artifacts).Error; err != nil {
		return nil, 0, fmt.Errorf("artifacts: list: %w", err)
	}
	return artifacts, total, nil
}

func (r *gormArtifactRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]db.Artifact, error) {
	var artifacts []db.Artifact
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Find(&artifacts).Error; err != nil {
		return nil, fmt.Errorf("artifacts: list by job: %w", err)
	}
	return artifacts, nil
}

// DeleteByJob removes every artifact row belonging to a job and returns the
// deleted rows so the caller (the retry action) can unlink their files too.
func (r *gormArtifactRepository) DeleteByJob(ctx context.Context, jobID uuid.UUID) ([]db.Artifact, error) {
	var artifacts []db.Artifact
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Find(&artifacts).Error; err != nil {
		return nil, fmt.Errorf("artifacts: list before delete: %w", err)
	}
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Delete(&db.Artifact{}).Error; err != nil {
		return nil, fmt.Errorf("artifacts: delete by job: %w", err)
	}
	return artifacts, nil
}

// ListExpired returns artifacts whose expires_at has passed, for the reaper.
func (r *gormArtifactRepository) ListExpired(ctx context.Context, before time.Time, limit int) ([]db.Artifact, error) {
	var artifacts []db.Artifact
	err := r.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", before).
		Limit(limit).
		Find(&artifacts).Error
	if err != nil {
		return nil, fmt.Errorf("artifacts: list expired: %w", err)
	}
	return artifacts, nil
}

func (r *gormArtifactRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&db.Artifact{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("artifacts: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
