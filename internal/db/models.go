package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// base contains the common fields shared by all models.
// ID uses UUID v7 (time-ordered) for efficient B-tree indexing and natural
// chronological ordering without a separate created_at sort. CreatedAt and
// UpdatedAt are managed automatically by GORM.
//
// PublicID is a second, deliberately random (v4) identifier handed out over
// the wire and in webhook payloads. Keeping it separate from the primary key
// means rotating how ids are generated, or exposing a different id to
// different audiences, never touches foreign keys.
type base struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	PublicID  uuid.UUID `gorm:"type:text;uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate generates a new UUID v7 primary key and a random v4 public id
// if they are not already set. This ensures every record has valid ids
// before insertion.
func (b *base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	if b.PublicID == (uuid.UUID{}) {
		b.PublicID = uuid.New()
	}
	return nil
}

// -----------------------------------------------------------------------------
// Tenants & API keys
// -----------------------------------------------------------------------------

// Tenant is the administrative owner of documents, jobs, artifacts, and
// webhook endpoints. Tenants are created by an operator and are never
// deleted while they own data — the reaper only ever removes documents and
// artifacts, not tenants.
type Tenant struct {
	base
	Name           string `gorm:"not null"`
	Slug           string `gorm:"uniqueIndex;not null"` // url-safe, immutable
	Active         bool   `gorm:"not null;default:true"`
	DefaultOptions string `gorm:"type:text;default:'{}'"` // JSON, see internal/options
}

// ApiKey authenticates a machine caller on behalf of one tenant. The raw
// secret is shown to the operator exactly once at creation and is never
// persisted — only its Fingerprint (a keyed hash of the secret) is stored,
// alongside an indexed Prefix that lets lookups avoid scanning every active
// key before comparing fingerprints.
type ApiKey struct {
	base
	TenantID           uuid.UUID `gorm:"type:text;not null;index"`
	Name               string    `gorm:"not null"`
	Prefix             string    `gorm:"size:8;uniqueIndex;not null"`
	Fingerprint         string    `gorm:"size:64;uniqueIndex;not null"`
	Active             bool      `gorm:"not null;default:true"`
	Scopes             string    `gorm:"type:text;not null;default:'[]'"` // JSON array, e.g. ["documents:read"]
	LastUsedAt         *time.Time
	DefaultOptions     string `gorm:"type:text;default:''"` // JSON, optional per-key override
	AllowedMediaTypes  string `gorm:"type:text;default:'[\"application/pdf\"]'"` // JSON array
}

// ScopeList decodes Scopes into a slice. A malformed blob decodes to no
// scopes rather than erroring — an empty scope set denies every
// scope-gated action, which is the safe failure direction.
func (k *ApiKey) ScopeList() []string {
	var scopes []string
	_ = json.Unmarshal([]byte(k.Scopes), &scopes)
	return scopes
}

// SetScopeList encodes scopes into the Scopes field.
func (k *ApiKey) SetScopeList(scopes []string) error {
	data, err := json.Marshal(scopes)
	if err != nil {
		return err
	}
	k.Scopes = string(data)
	return nil
}

// AllowedMediaTypeList decodes AllowedMediaTypes into a slice.
func (k *ApiKey) AllowedMediaTypeList() []string {
	var types []string
	_ = json.Unmarshal([]byte(k.AllowedMediaTypes), &types)
	return types
}

// -----------------------------------------------------------------------------
// Documents
// -----------------------------------------------------------------------------

// Document status values.
const (
	DocumentStatusUploaded = "UPLOADED"
	DocumentStatusClean    = "CLEAN"
	DocumentStatusInfected = "INFECTED"
	DocumentStatusDeleted  = "DELETED"
)

// Document records one uploaded PDF. (TenantID, SHA256) is unique: identical
// bytes re-uploaded by the same tenant are rejected at admission time rather
// than stored twice. QuarantinePath and CleanPath are relative to the data
// root — never resolved from caller input, only ever built from the
// document's own id (see internal/storage).
type Document struct {
	base
	TenantID       uuid.UUID `gorm:"type:text;not null;index"`
	CreatedByKeyID uuid.UUID `gorm:"type:text;not null;index"`
	ExternalUUID   *uuid.UUID `gorm:"type:text;index"`
	Filename       string    `gorm:"not null"`
	SHA256         string    `gorm:"size:64;not null"`
	MediaType      string    `gorm:"not null"`
	SizeBytes      int64     `gorm:"not null"`
	QuarantinePath string    `gorm:"not null"`
	CleanPath      string    `gorm:"default:''"`
	Status         string    `gorm:"not null;default:'UPLOADED';index"`
	PageCount      *int
	ExpiresAt      *time.Time `gorm:"index"`
}

// -----------------------------------------------------------------------------
// Ingestion jobs
// -----------------------------------------------------------------------------

// Job status values. Terminal: SUCCEEDED, FAILED, CANCELED, QUARANTINED.
const (
	JobStatusQueued     = "QUEUED"
	JobStatusRunning    = "RUNNING"
	JobStatusSucceeded  = "SUCCEEDED"
	JobStatusFailed     = "FAILED"
	JobStatusCanceled   = "CANCELED"
	JobStatusQuarantined = "QUARANTINED"
)

// Job stage values.
const (
	StageScanning    = "SCANNING"
	StageConverting  = "CONVERTING"
	StageExporting   = "EXPORTING"
	StageChunking    = "CHUNKING"
	StageFinalizing  = "FINALIZING"
)

// IngestionJob drives one run of the four-stage pipeline against one
// Document. ComparisonID binds sibling jobs launched together by a compare
// request; SourcePath, when set, points at a per-job copy of the source file
// used instead of the document's own quarantine/clean path (see compare
// action in internal/api/documents.go).
//
// Timing invariant: once Status reaches a terminal value, FinishedAt is set
// and DurationMS equals the millisecond difference between FinishedAt and
// StartedAt — enforced by internal/pipeline, not by the database.
type IngestionJob struct {
	base
	TenantID       uuid.UUID  `gorm:"type:text;not null;index"`
	CreatedByKeyID uuid.UUID  `gorm:"type:text;not null;index"`
	DocumentID     uuid.UUID  `gorm:"type:text;not null;index"`
	ExternalUUID   *uuid.UUID `gorm:"type:text;index"`
	Profile        string     `gorm:"default:''"`
	ComparisonID   *uuid.UUID `gorm:"type:text;index"`
	SourcePath     string     `gorm:"default:''"`

	Status string `gorm:"not null;default:'QUEUED';index"`
	Stage  string `gorm:"not null;default:'SCANNING';index"`

	OptionsJSON string `gorm:"type:text;not null;default:'{}'"`

	QueuedAt   time.Time  `gorm:"not null"`
	StartedAt  *time.Time
	FinishedAt *time.Time

	DurationMS int64 `gorm:"default:0"`
	ScanMS     int64 `gorm:"default:0"`
	ConvertMS  int64 `gorm:"default:0"`
	ExportMS   int64 `gorm:"default:0"`
	ChunkMS    int64 `gorm:"default:0"`

	// EngineVersion is stamped by the Convert stage from the converter's
	// reported version string once that stage finishes successfully.
	EngineVersion string `gorm:"default:''"`

	Attempt    int `gorm:"not null;default:0"`
	MaxRetries int `gorm:"not null;default:3"`

	ErrorCode       string `gorm:"default:''"`
	ErrorMessage    string `gorm:"type:text;default:''"`
	ErrorDetailJSON string `gorm:"type:text;default:''"`

	WorkerHostname string `gorm:"default:''"`
	BrokerTaskID   string `gorm:"default:'';index"`
}

// JobEvent is an append-only audit trail of every (status, stage) transition
// a job passes through, recorded independently of whether any webhook
// endpoint is subscribed to receive it.
type JobEvent struct {
	base
	JobID           uuid.UUID `gorm:"type:text;not null;index"`
	Status          string    `gorm:"not null"`
	Stage           string    `gorm:"not null"`
	PreviousStatus  string    `gorm:"default:''"`
	PreviousStage   string    `gorm:"default:''"`
	ErrorCode       string    `gorm:"default:''"`
	ErrorMessage    string    `gorm:"type:text;default:''"`
	OccurredAt      time.Time `gorm:"not null;index"`
}

// -----------------------------------------------------------------------------
// Artifacts
// -----------------------------------------------------------------------------

// Artifact kinds.
const (
	ArtifactKindDoclingJSON = "docling_json"
	ArtifactKindMarkdown    = "markdown"
	ArtifactKindText        = "text"
	ArtifactKindDoctags     = "doctags"
	ArtifactKindChunksJSON  = "chunks_json"
	ArtifactKindFiguresZip  = "figures_zip"
)

// Artifact is one derived, immutable file produced by a pipeline stage.
// (TenantID, JobID, Kind) is unique — a retry clears prior artifacts for the
// job before producing new ones rather than versioning them.
type Artifact struct {
	base
	TenantID    uuid.UUID `gorm:"type:text;not null;index"`
	JobID       uuid.UUID `gorm:"type:text;not null;index"`
	CreatedByKeyID uuid.UUID `gorm:"type:text;not null"`
	Kind        string    `gorm:"not null"`
	Path        string    `gorm:"not null"` // relative to the data root
	SHA256      string    `gorm:"size:64;not null"`
	SizeBytes   int64     `gorm:"not null"`
	ContentType string    `gorm:"not null"`
	ExpiresAt   *time.Time `gorm:"index"`
}

// -----------------------------------------------------------------------------
// Webhooks
// -----------------------------------------------------------------------------

// WebhookEndpoint is a tenant-registered URL that receives state-change
// notifications. Secret is encrypted at rest (see db.EncryptedString) — it
// is write-only on the wire: the API never returns it in full after create.
type WebhookEndpoint struct {
	base
	TenantID       uuid.UUID       `gorm:"type:text;not null;index"`
	CreatedByKeyID uuid.UUID       `gorm:"type:text;not null"`
	Name           string          `gorm:"not null"`
	URL            string          `gorm:"not null"`
	Secret         EncryptedString `gorm:"type:text;default:''"`
	Events         string          `gorm:"type:text;not null;default:'[\"job.updated\"]'"` // JSON array
	Enabled        bool            `gorm:"not null;default:true"`
	LastSuccessAt  *time.Time
	LastFailureAt  *time.Time
}

// WebhookDelivery status values. Terminal: DELIVERED, FAILED.
const (
	DeliveryStatusPending   = "PENDING"
	DeliveryStatusRetrying  = "RETRYING"
	DeliveryStatusDelivered = "DELIVERED"
	DeliveryStatusFailed    = "FAILED"
)

// WebhookDelivery is one attempt (and its retries) to deliver a single
// state-change event to a single endpoint. Payload is immutable once queued.
type WebhookDelivery struct {
	base
	EndpointID   uuid.UUID `gorm:"type:text;not null;index"`
	TenantID     uuid.UUID `gorm:"type:text;not null;index"`
	EventType    string    `gorm:"not null"`
	PayloadJSON  string    `gorm:"type:text;not null"`
	Status       string    `gorm:"not null;default:'PENDING';index"`
	Attempt      int       `gorm:"not null;default:0"`
	MaxAttempts  int       `gorm:"not null;default:6"`
	LastResponseCode int   `gorm:"default:0"`
	LastError    string    `gorm:"type:text;default:''"`
	NextRetryAt  *time.Time `gorm:"index"`
	DeliveredAt  *time.Time
}

// -----------------------------------------------------------------------------
// Broker (see internal/broker — modeling the external FIFO contract)
// -----------------------------------------------------------------------------

// BrokerTask is one (job id, stage) unit of work in the db-backed Broker
// implementation. ClaimedAt/ClaimedBy implement the single-delivery claim:
// a worker atomically sets both only if they were previously unset.
type BrokerTask struct {
	base
	JobID      uuid.UUID  `gorm:"type:text;not null;index"`
	Stage      string     `gorm:"not null"`
	Terminated bool       `gorm:"not null;default:false"`
	ClaimedAt  *time.Time `gorm:"index"`
	ClaimedBy  string     `gorm:"default:''"`
	Done       bool       `gorm:"not null;default:false;index"`
}
