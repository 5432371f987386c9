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

type gormApiKeyRepository struct {
	db *gorm.DB
}

// NewApiKeyRepository returns an ApiKeyRepository backed by the provided *gorm.DB.
func NewApiKeyRepository(gdb *gorm.DB) ApiKeyRepository {
	return &gormApiKeyRepository{db: gdb}
}

func (r *gormApiKeyRepository) Create(ctx context.Context, key *db.ApiKey) error {
	if err := r.db.WithContext(ctx).Create(key).Error; err != nil {
		return fmt.Errorf("api_keys: create: %w", err)
	}
	return nil
}

func (r *gormApiKeyRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.ApiKey, error) {
	var key db.ApiKey
	if err := r.db.WithContext(ctx).First(&key, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("api_keys: get by id: %w", err)
	}
	return &key, nil
}

// GetActiveByPrefix looks up an active key by its 8-character public prefix,
// the fast-indexed first step of key resolution (see internal/auth). The
// fingerprint comparison happens in the caller after this returns, so a key
// disabled between lookup and use is simply not returned here.
func (r *gormApiKeyRepository) GetActiveByPrefix(ctx context.Context, prefix string) (*db.ApiKey, error) {
	var key db.ApiKey
	err := r.db.WithContext(ctx).
		First(&key, "prefix = ? AND active = ?", prefix, true).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("api_keys: get active by prefix: %w", err)
	}
	return &key, nil
}

func (r *gormApiKeyRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*db.ApiKey, error) {
	var key db.ApiKey
	err := r.db.WithContext(ctx).
		First(&key, "fingerprint = ? AND active = ?", fingerprint, true).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("api_keys: get by fingerprint: %w", err)
	}
	return &key, nil
}

func (r *gormApiKeyRepository) Update(ctx context.Context, key *db.ApiKey) error {
	result := r.db.WithContext(ctx).Save(key)
	if result.Error != nil {
		return fmt.Errorf("api_keys: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastUsed updates last_used_at. Callers throttle this to at most once
// per hour per key (see internal/auth) to avoid a write on every request.
func (r *gormApiKeyRepository) TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&db.ApiKey{}).
		Where("id = ?", id).
		Update("last_used_at", at)
	if result.Error != nil {
		return fmt.Errorf("api_keys: touch last used: %w", result.Error)
	}
	return nil
}

func (r *gormApiKeyRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, opts ListOptions) ([]db.ApiKey, int64, error) {
	var keys []db.ApiKey
	var total int64

	if err := r.db.WithContext(ctx).
		Model(&db.ApiKey{}).
		Where("tenant_id = ?", tenantID).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("api_keys: list by tenant count: %w", err)
	}
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at DESC").
		Find(&keys).Error; err != nil {
		return nil, 0, fmt.Errorf("api_keys: list by tenant: %w", err)
	}
	return keys, total, nil
}
