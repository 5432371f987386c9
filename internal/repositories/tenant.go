package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/docrefinery/server/internal/db"
)

type gormTenantRepository struct {
	db *gorm.DB
}

// NewTenantRepository returns a TenantRepository backed by the provided *gorm.DB.
func NewTenantRepository(gdb *gorm.DB) TenantRepository {
	return &gormTenantRepository{db: gdb}
}

func (r *gormTenantRepository) Create(ctx context.Context, tenant *db.Tenant) error {
	if err := r.db.WithContext(ctx).Create(tenant).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(strings.ToLower(err.Error()), "unique") {
			return ErrConflict
		}
		return fmt.Errorf("tenants: create: %w", err)
	}
	return nil
}

func (r *gormTenantRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.Tenant, error) {
	var tenant db.Tenant
	if err := r.db.WithContext(ctx).First(&tenant, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("tenants: get by id: %w", err)
	}
	return &tenant, nil
}

func (r *gormTenantRepository) GetBySlug(ctx context.Context, slug string) (*db.Tenant, error) {
	var tenant db.Tenant
	if err := r.db.WithContext(ctx).First(&tenant, "slug = ?", slug).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("tenants: get by slug: %w", err)
	}
	return &tenant, nil
}

func (r *gormTenantRepository) Update(ctx context.Context, tenant *db.Tenant) error {
	result := r.db.WithContext(ctx).Save(tenant)
	if result.Error != nil {
		return fmt.Errorf("tenants: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormTenantRepository) List(ctx context.Context, opts ListOptions) ([]db.Tenant, int64, error) {
	var tenants []db.Tenant
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.Tenant{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("tenants: list count: %w", err)
	}
	if err := r.db.WithContext(ctx).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at DESC").
		Find(&tenants).Error; err != nil {
		return nil, 0, fmt.Errorf("tenants: list: %w", err)
	}
	return tenants, total, nil
}
