package webhook

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/docrefinery/server/internal/db"
	"github.com/docrefinery/server/internal/repositories"
)

type fakeDoer struct {
	mu        sync.Mutex
	responses []*http.Response
	err       error
	requests  []*http.Request
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.responses) == 0 {
		return &http.Response{StatusCode: 200, Body: io.NopCloser(strings.NewReader(""))}, nil
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

type fakeFullDeliveryRepo struct {
	repositories.WebhookDeliveryRepository
	pending   []db.WebhookDelivery
	delivered []uuid.UUID
	failed    []uuid.UUID
	retryAts  []*time.Time
}

func (f *fakeFullDeliveryRepo) GetNextToProcess(ctx context.Context, limit int) ([]db.WebhookDelivery, error) {
	items := f.pending
	f.pending = nil
	return items, nil
}

func (f *fakeFullDeliveryRepo) GetRetryable(ctx context.Context, limit int) ([]db.WebhookDelivery, error) {
	return nil, nil
}

func (f *fakeFullDeliveryRepo) MarkDelivered(ctx context.Context, id uuid.UUID, code int, at time.Time) error {
	f.delivered = append(f.delivered, id)
	return nil
}

func (f *fakeFullDeliveryRepo) MarkFailed(ctx context.Context, id uuid.UUID, code int, msg string, retryAt *time.Time) error {
	f.failed = append(f.failed, id)
	f.retryAts = append(f.retryAts, retryAt)
	return nil
}

func TestWorkerDeliversSuccessfully(t *testing.T) {
	endpointID := uuid.New()
	deliveryID := uuid.New()
	tenantID := uuid.New()

	endpoints := &fakeEndpointRepo{byID: map[uuid.UUID]*db.WebhookEndpoint{
		endpointID: {TenantID: tenantID, URL: "https://example.com/hook", Secret: "shh", Enabled: true},
	}}
	endpoints.byID[endpointID].ID = endpointID

	deliveries := &fakeFullDeliveryRepo{pending: []db.WebhookDelivery{
		{EndpointID: endpointID, TenantID: tenantID, EventType: "job.updated", PayloadJSON: `{"a":1}`},
	}}
	deliveries.pending[0].ID = deliveryID
	deliveries.pending[0].PublicID = uuid.New()

	doer := &fakeDoer{}
	worker := NewWorker(deliveries, endpoints, doer, WorkerConfig{}, zap.NewNop())

	worker.processBatch(context.Background())

	require.Len(t, deliveries.delivered, 1)
	assert.Equal(t, deliveryID, deliveries.delivered[0])
	require.Len(t, doer.requests, 1)
	assert.Equal(t, "sha256="+ComputeSignature("shh", []byte(`{"a":1}`)), doer.requests[0].Header.Get("X-DocRefinery-Signature"))
	assert.Equal(t, "job.updated", doer.requests[0].Header.Get("X-DocRefinery-Event"))
}

func TestWorkerMarksNonTerminalFailureRetryable(t *testing.T) {
	endpointID := uuid.New()
	tenantID := uuid.New()

	endpoints := &fakeEndpointRepo{byID: map[uuid.UUID]*db.WebhookEndpoint{
		endpointID: {TenantID: tenantID, URL: "https://example.com/hook", Enabled: true},
	}}
	endpoints.byID[endpointID].ID = endpointID

	deliveryID := uuid.New()
	deliveries := &fakeFullDeliveryRepo{pending: []db.WebhookDelivery{
		{EndpointID: endpointID, TenantID: tenantID, EventType: "job.updated", PayloadJSON: `{}`, Attempt: 0, MaxAttempts: 6},
	}}
	deliveries.pending[0].ID = deliveryID

	doer := &fakeDoer{responses: []*http.Response{{StatusCode: 500, Body: io.NopCloser(strings.NewReader(""))}}}
	worker := NewWorker(deliveries, endpoints, doer, WorkerConfig{}, zap.NewNop())

	worker.processBatch(context.Background())

	require.Len(t, deliveries.failed, 1)
	assert.Equal(t, deliveryID, deliveries.failed[0])
	require.NotNil(t, deliveries.retryAts[0])
}

func TestWorkerMarksTerminalFailureAtMaxAttempts(t *testing.T) {
	endpointID := uuid.New()
	tenantID := uuid.New()

	endpoints := &fakeEndpointRepo{byID: map[uuid.UUID]*db.WebhookEndpoint{
		endpointID: {TenantID: tenantID, URL: "https://example.com/hook", Enabled: true},
	}}
	endpoints.byID[endpointID].ID = endpointID

	deliveries := &fakeFullDeliveryRepo{pending: []db.WebhookDelivery{
		{EndpointID: endpointID, TenantID: tenantID, EventType: "job.updated", PayloadJSON: `{}`, Attempt: 5, MaxAttempts: 6},
	}}

	doer := &fakeDoer{responses: []*http.Response{{StatusCode: 500, Body: io.NopCloser(strings.NewReader(""))}}}
	worker := NewWorker(deliveries, endpoints, doer, WorkerConfig{}, zap.NewNop())

	worker.processBatch(context.Background())

	require.Len(t, deliveries.failed, 1)
	assert.Nil(t, deliveries.retryAts[0])
}

func TestWorkerSkipsDisabledEndpoint(t *testing.T) {
	endpointID := uuid.New()
	tenantID := uuid.New()

	endpoints := &fakeEndpointRepo{byID: map[uuid.UUID]*db.WebhookEndpoint{
		endpointID: {TenantID: tenantID, URL: "https://example.com/hook", Enabled: false},
	}}
	endpoints.byID[endpointID].ID = endpointID

	deliveries := &fakeFullDeliveryRepo{pending: []db.WebhookDelivery{
		{EndpointID: endpointID, TenantID: tenantID, EventType: "job.updated", PayloadJSON: `{}`},
	}}

	doer := &fakeDoer{}
	worker := NewWorker(deliveries, endpoints, doer, WorkerConfig{}, zap.NewNop())

	worker.processBatch(context.Background())

	assert.Empty(t, doer.requests)
	require.Len(t, deliveries.failed, 1)
}
