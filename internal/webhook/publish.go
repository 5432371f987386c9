package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/docrefinery/server/internal/db"
	"github.com/docrefinery/server/internal/repositories"
)

// Publisher fans a domain event out to every enabled endpoint subscribed to
// it, queuing one WebhookDelivery row per endpoint. Stage adapters never
// call this directly — the orchestrator calls it once per state transition,
// keeping delivery concerns out of stage logic entirely.
type Publisher struct {
	endpoints  repositories.WebhookEndpointRepository
	deliveries repositories.WebhookDeliveryRepository
}

// NewPublisher builds a Publisher.
func NewPublisher(endpoints repositories.WebhookEndpointRepository, deliveries repositories.WebhookDeliveryRepository) *Publisher {
	return &Publisher{endpoints: endpoints, deliveries: deliveries}
}

// Publish queues a delivery for every enabled endpoint subscribed to
// eventType. payload is marshaled once and shared by every queued delivery.
func (p *Publisher) Publish(ctx context.Context, tenantID uuid.UUID, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: marshal event payload: %w", err)
	}

	endpoints, err := p.endpoints.ListEnabledForEvent(ctx, tenantID, eventType)
	if err != nil {
		return fmt.Errorf("webhook: list subscribed endpoints: %w", err)
	}

	for _, endpoint := range endpoints {
		delivery := &db.WebhookDelivery{
			EndpointID:  endpoint.ID,
			TenantID:    tenantID,
			EventType:   eventType,
			PayloadJSON: string(body),
			Status:      db.DeliveryStatusPending,
			MaxAttempts: 6,
		}
		if err := p.deliveries.Create(ctx, delivery); err != nil {
			return fmt.Errorf("webhook: queue delivery for endpoint %s: %w", endpoint.ID, err)
		}
	}
	return nil
}

// JobEventPayload is the body delivered on job.updated. job_id is the
// job's internal id and job_uuid its public id, mirroring the
// internal-id/public-id split used everywhere else in the API.
type JobEventPayload struct {
	Event          string     `json:"event"`
	JobID          uuid.UUID  `json:"job_id"`
	JobUUID        uuid.UUID  `json:"job_uuid"`
	DocumentID     uuid.UUID  `json:"document_id"`
	ExternalUUID   *uuid.UUID `json:"external_uuid,omitempty"`
	Status         string     `json:"status"`
	Stage          string     `json:"stage"`
	PreviousStatus string     `json:"previous_status,omitempty"`
	PreviousStage  string     `json:"previous_stage,omitempty"`
	ErrorCode      string     `json:"error_code,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	ErrorDetails   string     `json:"error_details,omitempty"`
	QueuedAt       *time.Time `json:"queued_at,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ModifiedAt     time.Time  `json:"modified_at"`
	Profile        string     `json:"profile,omitempty"`
}
