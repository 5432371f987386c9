package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/docrefinery/server/internal/db"
)

type gormJobRepository struct {
	db *gorm.DB
}

// NewJobRepository returns a JobRepository backed by the provided *gorm.DB.
func NewJobRepository(gdb *gorm.DB) JobRepository {
	return &gormJobRepository{db: gdb}
}

func (r *gormJobRepository) Create(ctx context.Context, job *db.IngestionJob) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("jobs: create: %w", err)
	}
	return nil
}

func (r *gormJobRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*db.IngestionJob, error) {
	var job db.IngestionJob
	err := r.db.WithContext(ctx).
		First(&job, "id = ? AND tenant_id = ?", id, tenantID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("jobs: get by id: %w", err)
	}
	return &job, nil
}

// GetForUpdate loads a job by id alone, for the orchestrator which only
// ever receives job ids it already enqueued on the broker itself.
func (r *gormJobRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*db.IngestionJob, error) {
	var job db.IngestionJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("jobs: get for update: %w", err)
	}
	return &job, nil
}

func (r *gormJobRepository) Update(ctx context.Context, job *db.IngestionJob) error {
	result := r.db.WithContext(ctx).Save(job)
	if result.Error != nil {
		return fmt.Errorf("jobs: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List applies JobFilter on top of the mandatory tenant scope. An Invalid
// filter (an unparseable query parameter upstream) returns an empty page
// rather than querying, keeping polling clients idempotent against a stale filter.
func (r *gormJobRepository) List(ctx context.Context, tenantID uuid.UUID, filter JobFilter, opts ListOptions) ([]db.IngestionJob, int64, error) {
	if filter.Invalid {
		return nil, 0, nil
	}

	q := r.db.WithContext(ctx).Model(&db.IngestionJob{}).Where("tenant_id = ?", tenantID)
	q = applyJobFilter(q, filter)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("jobs: list count: %w", err)
	}

	var jobs []db.IngestionJob
	listQ := r.db.WithContext(ctx).Model(&db.IngestionJob{}).Where("tenant_id = ?", tenantID)
	listQ = applyJobFilter(listQ, filter)
	if err := listQ.
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at DESC").
		Find(&jobs).Error; err != nil {
		return nil, 0, fmt.Errorf("jobs: list: %w", err)
	}
	return jobs, total, nil
}

func applyJobFilter(q *gorm.DB, filter JobFilter) *gorm.DB {
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Stage != "" {
		q = q.Where("stage = ?", filter.Stage)
	}
	if filter.DocumentID != nil {
		q = q.Where("document_id = ?", *filter.DocumentID)
	}
	if filter.ExternalUUID != nil {
		q = q.Where("external_uuid = ?", *filter.ExternalUUID)
	}
	if filter.ComparisonID != nil {
		q = q.Where("comparison_id = ?", *filter.ComparisonID)
	}
	if filter.CreatedAfter != nil {
		q = q.Where("created_at > ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		q = q.Where("created_at < ?", *filter.CreatedBefore)
	}
	if filter.UpdatedAfter != nil {
		q = q.Where("updated_at > ?", *filter.UpdatedAfter)
	}
	return q
}

func (r *gormJobRepository) CreateEvent(ctx context.Context, event *db.JobEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("jobs: create event: %w", err)
	}
	return nil
}

func (r *gormJobRepository) ListEvents(ctx context.Context, jobID uuid.UUID) ([]db.JobEvent, error) {
	var events []db.JobEvent
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("occurred_at ASC").
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("jobs: list events: %w", err)
	}
	return events, nil
}

func (r *gormJobRepository) ListIDsByDocument(ctx context.Context, documentID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&db.IngestionJob{}).
		Where("document_id = ?", documentID).
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("jobs: list ids by document: %w", err)
	}
	return ids, nil
}

func (r *gormJobRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	if err := r.db.WithContext(ctx).
		Model(&db.IngestionJob{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("jobs: count by status: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
