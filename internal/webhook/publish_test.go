package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docrefinery/server/internal/db"
	"github.com/docrefinery/server/internal/repositories"
)

type fakeEndpointRepo struct {
	repositories.WebhookEndpointRepository
	enabled []db.WebhookEndpoint
	byID    map[uuid.UUID]*db.WebhookEndpoint
}

func (f *fakeEndpointRepo) ListEnabledForEvent(ctx context.Context, tenantID uuid.UUID, event string) ([]db.WebhookEndpoint, error) {
	return f.enabled, nil
}

func (f *fakeEndpointRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*db.WebhookEndpoint, error) {
	e, ok := f.byID[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return e, nil
}

func (f *fakeEndpointRepo) MarkDeliveryOutcome(ctx context.Context, id uuid.UUID, success bool, at time.Time) error {
	return nil
}

type fakeDeliveryRepo struct {
	repositories.WebhookDeliveryRepository
	created []db.WebhookDelivery
}

func (f *fakeDeliveryRepo) Create(ctx context.Context, d *db.WebhookDelivery) error {
	f.created = append(f.created, *d)
	return nil
}

func TestPublisherQueuesOneDeliveryPerSubscribedEndpoint(t *testing.T) {
	tenantID := uuid.New()
	e1 := db.WebhookEndpoint{TenantID: tenantID}
	e2 := db.WebhookEndpoint{TenantID: tenantID}

	endpoints := &fakeEndpointRepo{enabled: []db.WebhookEndpoint{e1, e2}}
	deliveries := &fakeDeliveryRepo{}

	pub := NewPublisher(endpoints, deliveries)
	err := pub.Publish(context.Background(), tenantID, "job.updated", JobEventPayload{
		JobID:      uuid.New(),
		JobUUID:    uuid.New(),
		DocumentID: uuid.New(),
		Status:     db.JobStatusSucceeded,
		Stage:      "FINALIZING",
		CreatedAt:  time.Now(),
		ModifiedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Len(t, deliveries.created, 2)
	for _, d := range deliveries.created {
		assert.Equal(t, "job.updated", d.EventType)
		assert.Equal(t, db.DeliveryStatusPending, d.Status)
		assert.NotEmpty(t, d.PayloadJSON)
	}
}

func TestPublisherNoSubscribersQueuesNothing(t *testing.T) {
	endpoints := &fakeEndpointRepo{}
	deliveries := &fakeDeliveryRepo{}

	pub := NewPublisher(endpoints, deliveries)
	require.NoError(t, pub.Publish(context.Background(), uuid.New(), "job.updated", map[string]string{"x": "y"}))
	assert.Empty(t, deliveries.created)
}
