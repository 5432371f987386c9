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

type gormDocumentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository returns a DocumentRepository backed by the provided *gorm.DB.
func NewDocumentRepository(gdb *gorm.DB) DocumentRepository {
	return &gormDocumentRepository{db: gdb}
}

func (r *gormDocumentRepository) Create(ctx context.Context, document *db.Document) error {
	if err := r.db.WithContext(ctx).Create(document).Error; err != nil {
		return fmt.Errorf("documents: create: %w", err)
	}
	return nil
}

func (r *gormDocumentRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*db.Document, error) {
	var document db.Document
	err := r.db.WithContext(ctx).
		First(&document, "id = ? AND tenant_id = ?", id, tenantID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("documents: get by id: %w", err)
	}
	return &document, nil
}

func (r *gormDocumentRepository) GetByTenantAndSHA256(ctx context.Context, tenantID uuid.UUID, sha256 string) (*db.Document, error) {
	var document db.Document
	err := r.db.WithContext(ctx).
		First(&document, "tenant_id = ? AND sha256 = ?", tenantID, sha256).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("documents: get by tenant and sha256: %w", err)
	}
	return &document, nil
}

func (r *gormDocumentRepository) Update(ctx context.Context, document *db.Document) error {
	result := r.db.WithContext(ctx).Save(document)
	if result.Error != nil {
		return fmt.Errorf("documents: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus is called by the scan stage adapter after a clean/infected
// verdict. cleanPath is left untouched ("") when the verdict is not clean.
func (r *gormDocumentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status, cleanPath string) error {
	updates := map[string]interface{}{"status": status}
	if cleanPath != "" {
		updates["clean_path"] = cleanPath
	}
	result := r.db.WithContext(ctx).
		Model(&db.Document{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("documents: update status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormDocumentRepository) List(ctx context.Context, tenantID uuid.UUID, opts ListOptions) ([]db.Document, int64, error) {
	var documents []db.Document
	var total int64

	if err := r.db.WithContext(ctx).
		Model(&db.Document{}).
		Where("tenant_id = ?", tenantID).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("documents: list count: %w", err)
	}
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at DESC").
		Find(&documents).Error; err != nil {
		return nil, 0, fmt.Errorf("documents: list: %w", err)
	}
	return documents, total, nil
}

// ListExpired returns documents whose expires_at has passed, for the reaper.
func (r *gormDocumentRepository) ListExpired(ctx context.Context, before time.Time, limit int) ([]db.Document, error) {
	var documents []db.Document
	err := r.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ? AND status != ?", before, db.DocumentStatusDeleted).
		Limit(limit).
		Find(&documents).Error
	if err != nil {
		return nil, fmt.Errorf("documents: list expired: %w", err)
	}
	return documents, nil
}

func (r *gormDocumentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&db.Document{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("documents: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
