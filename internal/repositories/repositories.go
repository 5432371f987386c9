// Package repositories implements the data-access layer over GORM for every
// model in internal/db. Each resource gets an interface (for testability and
// mocking in handler tests) and a gorm-backed implementation.
package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/docrefinery/server/internal/db"
)

// ListOptions contains common pagination options for list queries.
type ListOptions struct {
	Limit  int
	Offset int
}

// -----------------------------------------------------------------------------
// TenantRepository
// -----------------------------------------------------------------------------

type TenantRepository interface {
	Create(ctx context.Context, tenant *db.Tenant) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*db.Tenant, error)
	Update(ctx context.Context, tenant *db.Tenant) error
	List(ctx context.Context, opts ListOptions) ([]db.Tenant, int64, error)
}

// -----------------------------------------------------------------------------
// ApiKeyRepository
// -----------------------------------------------------------------------------

type ApiKeyRepository interface {
	Create(ctx context.Context, key *db.ApiKey) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.ApiKey, error)
	GetActiveByPrefix(ctx context.Context, prefix string) (*db.ApiKey, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (*db.ApiKey, error)
	Update(ctx context.Context, key *db.ApiKey) error
	TouchLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error
	ListByTenant(ctx context.Context, tenantID uuid.UUID, opts ListOptions) ([]db.ApiKey, int64, error)
}

// -----------------------------------------------------------------------------
// DocumentRepository
// -----------------------------------------------------------------------------

type DocumentRepository interface {
	Create(ctx context.Context, document *db.Document) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*db.Document, error)
	GetByTenantAndSHA256(ctx context.Context, tenantID uuid.UUID, sha256 string) (*db.Document, error)
	Update(ctx context.Context, document *db.Document) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status, cleanPath string) error
	List(ctx context.Context, tenantID uuid.UUID, opts ListOptions) ([]db.Document, int64, error)
	ListExpired(ctx context.Context, before time.Time, limit int) ([]db.Document, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// -----------------------------------------------------------------------------
// JobRepository
// -----------------------------------------------------------------------------

// JobFilter carries the query-string filters the job list endpoint accepts.
// Every field is optional; an unparseable filter value means "match
// nothing" rather than a 400, keeping polling clients idempotent against a stale filter.
type JobFilter struct {
	Status        string
	Stage         string
	DocumentID    *uuid.UUID
	ExternalUUID  *uuid.UUID
	ComparisonID  *uuid.UUID
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	UpdatedAfter  *time.Time
	// Invalid marks that at least one filter value failed to parse; the
	// repository short-circuits to an empty result instead of querying.
	Invalid bool
}

type JobRepository interface {
	Create(ctx context.Context, job *db.IngestionJob) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*db.IngestionJob, error)
	// GetForUpdate loads a job without the tenant filter, for internal
	// orchestrator use where the caller already trusts the job id came from
	// the broker.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*db.IngestionJob, error)
	Update(ctx context.Context, job *db.IngestionJob) error
	List(ctx context.Context, tenantID uuid.UUID, filter JobFilter, opts ListOptions) ([]db.IngestionJob, int64, error)

	CreateEvent(ctx context.Context, event *db.JobEvent) error
	ListEvents(ctx context.Context, jobID uuid.UUID) ([]db.JobEvent, error)

	// ListIDsByDocument returns every job id ever enrolled against a
	// document, for the reaper to locate that document's artifacts.
	ListIDsByDocument(ctx context.Context, documentID uuid.UUID) ([]uuid.UUID, error)

	// CountByStatus returns the number of jobs in each status, across every
	// tenant, for the Prometheus gauge scraped at /metrics.
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// -----------------------------------------------------------------------------
// ArtifactRepository
// -----------------------------------------------------------------------------

type ArtifactRepository interface {
	Create(ctx context.Context, artifact *db.Artifact) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*db.Artifact, error)
	List(ctx context.Context, tenantID uuid.UUID, jobID *uuid.UUID, opts ListOptions) ([]db.Artifact, int64, error)
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]db.Artifact, error)
	DeleteByJob(ctx context.Context, jobID uuid.UUID) ([]db.Artifact, error)
	ListExpired(ctx context.Context, before time.Time, limit int) ([]db.Artifact, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// -----------------------------------------------------------------------------
// WebhookEndpointRepository
// -----------------------------------------------------------------------------

type WebhookEndpointRepository interface {
	Create(ctx context.Context, endpoint *db.WebhookEndpoint) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*db.WebhookEndpoint, error)
	Update(ctx context.Context, endpoint *db.WebhookEndpoint) error
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
	List(ctx context.Context, tenantID uuid.UUID, opts ListOptions) ([]db.WebhookEndpoint, int64, error)
	ListEnabledForEvent(ctx context.Context, tenantID uuid.UUID, event string) ([]db.WebhookEndpoint, error)
	MarkDeliveryOutcome(ctx context.Context, id uuid.UUID, success bool, at time.Time) error
}

// -----------------------------------------------------------------------------
// WebhookDeliveryRepository
// -----------------------------------------------------------------------------

type WebhookDeliveryRepository interface {
	Create(ctx context.Context, delivery *db.WebhookDelivery) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.WebhookDelivery, error)
	// GetNextToProcess returns PENDING deliveries, oldest first.
	GetNextToProcess(ctx context.Context, limit int) ([]db.WebhookDelivery, error)
	// GetRetryable returns RETRYING deliveries whose NextRetryAt has passed.
	GetRetryable(ctx context.Context, limit int) ([]db.WebhookDelivery, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, responseCode int, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, responseCode int, errMsg string, retryAt *time.Time) error
	List(ctx context.Context, tenantID uuid.UUID, endpointID *uuid.UUID, opts ListOptions) ([]db.WebhookDelivery, int64, error)
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}
