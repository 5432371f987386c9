package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/docrefinery/server/internal/db"
)

type gormWebhookEndpointRepository struct {
	db *gorm.DB
}

// NewWebhookEndpointRepository returns a WebhookEndpointRepository backed by the provided *gorm.DB.
func NewWebhookEndpointRepository(gdb *gorm.DB) WebhookEndpointRepository {
	return &gormWebhookEndpointRepository{db: gdb}
}

func (r *gormWebhookEndpointRepository) Create(ctx context.Context, endpoint *db.WebhookEndpoint) error {
	if err := r.db.WithContext(ctx).Create(endpoint).Error; err != nil {
		return fmt.Errorf("webhook_endpoints: create: %w", err)
	}
	return nil
}

func (r *gormWebhookEndpointRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*db.WebhookEndpoint, error) {
	var endpoint db.WebhookEndpoint
	err := r.db.WithContext(ctx).
		First(&endpoint, "id = ? AND tenant_id = ?", id, tenantID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("webhook_endpoints: get by id: %w", err)
	}
	return &endpoint, nil
}

func (r *gormWebhookEndpointRepository) Update(ctx context.Context, endpoint *db.WebhookEndpoint) error {
	result := r.db.WithContext(ctx).Save(endpoint)
	if result.Error != nil {
		return fmt.Errorf("webhook_endpoints: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormWebhookEndpointRepository) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Delete(&db.WebhookEndpoint{}, "id = ? AND tenant_id = ?", id, tenantID)
	if result.Error != nil {
		return fmt.Errorf("webhook_endpoints: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormWebhookEndpointRepository) List(ctx context.Context, tenantID uuid.UUID, opts ListOptions) ([]db.WebhookEndpoint, int64, error) {
	var endpoints []db.WebhookEndpoint
	var total int64

	if err := r.db.WithContext(ctx).
		Model(&db.WebhookEndpoint{}).
		Where("tenant_id = ?", tenantID).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("webhook_endpoints: list count: %w", err)
	}
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at DESC").
		Find(&endpoints).Error; err != nil {
		return nil, 0, fmt.Errorf("webhook_endpoints: list: %w", err)
	}
	return endpoints, total, nil
}

// ListEnabledForEvent returns every enabled endpoint for the tenant whose
// Events JSON array contains the given event name. The filter on Events is
// applied in Go rather than SQL because it is a small JSON array, not a
// normalized join table — matching the Config-as-JSON-blob idiom used
// elsewhere in the data model (Tenant.DefaultOptions, Document options).
func (r *gormWebhookEndpointRepository) ListEnabledForEvent(ctx context.Context, tenantID uuid.UUID, event string) ([]db.WebhookEndpoint, error) {
	var endpoints []db.WebhookEndpoint
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND enabled = ?", tenantID, true).
		Find(&endpoints).Error; err != nil {
		return nil, fmt.Errorf("webhook_endpoints: list enabled for event: %w", err)
	}

	var matched []db.WebhookEndpoint
	for _, ep := range endpoints {
		var events []string
		if err := json.Unmarshal([]byte(ep.Events), &events); err != nil {
			continue
		}
		for _, e := range events {
			if e == event {
				matched = append(matched, ep)
				break
			}
		}
	}
	return matched, nil
}

func (r *gormWebhookEndpointRepository) MarkDeliveryOutcome(ctx context.Context, id uuid.UUID, success bool, at time.Time) error {
	col := "last_failure_at"
	if success {
		col = "last_success_at"
	}
	result := r.db.WithContext(ctx).
		Model(&db.WebhookEndpoint{}).
		Where("id = ?", id).
		Update(col, at)
	if result.Error != nil {
		return fmt.Errorf("webhook_endpoints: mark delivery outcome: %w", result.Error)
	}
	return nil
}

// -----------------------------------------------------------------------------
// WebhookDeliveryRepository
// -----------------------------------------------------------------------------

type gormWebhookDeliveryRepository struct {
	db *gorm.DB
}

// NewWebhookDeliveryRepository returns a WebhookDeliveryRepository backed by the provided *gorm.DB.
func NewWebhookDeliveryRepository(gdb *gorm.DB) WebhookDeliveryRepository {
	return &gormWebhookDeliveryRepository{db: gdb}
}

func (r *gormWebhookDeliveryRepository) Create(ctx context.Context, delivery *db.WebhookDelivery) error {
	if err := r.db.WithContext(ctx).Create(delivery).Error; err != nil {
		return fmt.Errorf("webhook_deliveries: create: %w", err)
	}
	return nil
}

func (r *gormWebhookDeliveryRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.WebhookDelivery, error) {
	var delivery db.WebhookDelivery
	if err := r.db.WithContext(ctx).First(&delivery, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("webhook_deliveries: get by id: %w", err)
	}
	return &delivery, nil
}

func (r *gormWebhookDeliveryRepository) GetNextToProcess(ctx context.Context, limit int) ([]db.WebhookDelivery, error) {
	var deliveries []db.WebhookDelivery
	err := r.db.WithContext(ctx).
		Where("status = ?", db.DeliveryStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&deliveries).Error
	if err != nil {
		return nil, fmt.Errorf("webhook_deliveries: get next to process: %w", err)
	}
	return deliveries, nil
}

func (r *gormWebhookDeliveryRepository) GetRetryable(ctx context.Context, limit int) ([]db.WebhookDelivery, error) {
	var deliveries []db.WebhookDelivery
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at <= ?", db.DeliveryStatusRetrying, time.Now().UTC()).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&deliveries).Error
	if err != nil {
		return nil, fmt.Errorf("webhook_deliveries: get retryable: %w", err)
	}
	return deliveries, nil
}

func (r *gormWebhookDeliveryRepository) MarkDelivered(ctx context.Context, id uuid.UUID, responseCode int, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&db.WebhookDelivery{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":             db.DeliveryStatusDelivered,
			"last_response_code": responseCode,
			"delivered_at":       at,
			"next_retry_at":      nil,
		})
	if result.Error != nil {
		return fmt.Errorf("webhook_deliveries: mark delivered: %w", result.Error)
	}
	return nil
}

func (r *gormWebhookDeliveryRepository) MarkFailed(ctx context.Context, id uuid.UUID, responseCode int, errMsg string, retryAt *time.Time) error {
	status := db.DeliveryStatusFailed
	if retryAt != nil {
		status = db.DeliveryStatusRetrying
	}
	result := r.db.WithContext(ctx).
		Model(&db.WebhookDelivery{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":             status,
			"attempt":            gorm.Expr("attempt + 1"),
			"last_response_code": responseCode,
			"last_error":         errMsg,
			"next_retry_at":      retryAt,
		})
	if result.Error != nil {
		return fmt.Errorf("webhook_deliveries: mark failed: %w", result.Error)
	}
	return nil
}

func (r *gormWebhookDeliveryRepository) List(ctx context.Context, tenantID uuid.UUID, endpointID *uuid.UUID, opts ListOptions) ([]db.WebhookDelivery, int64, error) {
	q := r.db.WithContext(ctx).Model(&db.WebhookDelivery{}).Where("tenant_id = ?", tenantID)
	if endpointID != nil {
		q = q.Where("endpoint_id = ?", *endpointID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("webhook_deliveries: list count: %w", err)
	}

	listQ := r.db.WithContext(ctx).Model(&db.WebhookDelivery{}).Where("tenant_id = ?", tenantID)
	if endpointID != nil {
		listQ = listQ.Where("endpoint_id = ?", *endpointID)
	}

	var deliveries []db.WebhookDelivery
	if err := listQ.
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("created_at DESC").
		Find(&deliveries).Error; err != nil {
		return nil, 0, fmt.Errorf("webhook_deliveries: list: %w", err)
	}
	return deliveries, total, nil
}

func (r *gormWebhookDeliveryRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ? AND status IN ?", before, []string{db.DeliveryStatusDelivered, db.DeliveryStatusFailed}).
		Delete(&db.WebhookDelivery{})
	if result.Error != nil {
		return 0, fmt.Errorf("webhook_deliveries: delete older than: %w", result.Error)
	}
	return result.RowsAffected, nil
}
