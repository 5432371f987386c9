package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/docrefinery/server/internal/auth"
	"github.com/docrefinery/server/internal/db"
	"github.com/docrefinery/server/internal/repositories"
	"github.com/docrefinery/server/internal/webhook"
)

// WebhookHandler implements CRUD for tenant-registered webhook endpoints.
// URL validation (SSRF guard) runs on every create, and on every update
// that changes the URL.
type WebhookHandler struct {
	endpoints repositories.WebhookEndpointRepository
	resolver  webhook.Resolver
	allowed   webhook.AllowedHosts
	logger    *zap.Logger
}

// NewWebhookHandler builds a WebhookHandler.
func NewWebhookHandler(endpoints repositories.WebhookEndpointRepository, resolver webhook.Resolver, allowed webhook.AllowedHosts, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		endpoints: endpoints,
		resolver:  resolver,
		allowed:   allowed,
		logger:    logger.Named("webhook_handler"),
	}
}

type webhookResponse struct {
	ID            string     `json:"id"`
	UUID          string     `json:"uuid"`
	Name          string     `json:"name"`
	URL           string     `json:"url"`
	Events        []string   `json:"events"`
	Enabled       bool       `json:"enabled"`
	HasSecret     bool       `json:"has_secret"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func webhookToResponse(e *db.WebhookEndpoint) webhookResponse {
	var events []string
	_ = json.Unmarshal([]byte(e.Events), &events)
	return webhookResponse{
		ID:            e.ID.String(),
		UUID:          e.PublicID.String(),
		Name:          e.Name,
		URL:           e.URL,
		Events:        events,
		Enabled:       e.Enabled,
		HasSecret:     string(e.Secret) != "",
		LastSuccessAt: e.LastSuccessAt,
		LastFailureAt: e.LastFailureAt,
		CreatedAt:     e.CreatedAt,
	}
}

type listWebhooksResponse struct {
	Items []webhookResponse `json:"items"`
	Total int64             `json:"total"`
}

type webhookWriteRequest struct {
	Name    string   `json:"name"`
	URL     string   `json:"url"`
	Secret  string   `json:"secret,omitempty"`
	Events  []string `json:"events,omitempty"`
	Enabled *bool    `json:"enabled,omitempty"`
}

// List handles GET /v1/webhooks.
func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	resolved, _ := auth.FromContext(r.Context())
	endpoints, total, err := h.endpoints.List(r.Context(), resolved.Tenant.ID, paginationOpts(r))
	if err != nil {
		h.logger.Error("failed to list webhook endpoints", zap.Error(err))
		ErrInternal(w)
		return
	}
	items := make([]webhookResponse, len(endpoints))
	for i := range endpoints {
		items[i] = webhookToResponse(&endpoints[i])
	}
	Ok(w, listWebhooksResponse{Items: items, Total: total})
}

// GetByID handles GET /v1/webhooks/{id}.
func (h *WebhookHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	resolved, _ := auth.FromContext(r.Context())
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	endpoint, err := h.endpoints.GetByID(r.Context(), resolved.Tenant.ID, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get webhook endpoint", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, webhookToResponse(endpoint))
}

// Create handles POST /v1/webhooks.
func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	resolved, _ := auth.FromContext(r.Context())
	var req webhookWriteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" || req.URL == "" {
		ErrBadRequest(w, "INVALID_REQUEST", "name and url are required")
		return
	}
	if err := webhook.ValidateURL(r.Context(), h.resolver, req.URL, h.allowed); err != nil {
		ErrBadRequest(w, "INVALID_URL", err.Error())
		return
	}

	events := req.Events
	if len(events) == 0 {
		events = []string{"job.updated"}
	}
	eventsBytes, _ := json.Marshal(events)
	eventsJSON := string(eventsBytes)

	endpoint := &db.WebhookEndpoint{
		TenantID:       resolved.Tenant.ID,
		CreatedByKeyID: resolved.Key.ID,
		Name:           req.Name,
		URL:            req.URL,
		Secret:         db.EncryptedString(req.Secret),
		Events:         eventsJSON,
		Enabled:        true,
	}
	if req.Enabled != nil {
		endpoint.Enabled = *req.Enabled
	}
	if err := h.endpoints.Create(r.Context(), endpoint); err != nil {
		h.logger.Error("failed to create webhook endpoint", zap.Error(err))
		ErrInternal(w)
		return
	}
	Created(w, webhookToResponse(endpoint))
}

// Update handles PATCH /v1/webhooks/{id}.
func (h *WebhookHandler) Update(w http.ResponseWriter, r *http.Request) {
	resolved, _ := auth.FromContext(r.Context())
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	endpoint, err := h.endpoints.GetByID(r.Context(), resolved.Tenant.ID, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to load webhook endpoint for update", zap.Error(err))
		ErrInternal(w)
		return
	}

	var req webhookWriteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.URL != "" && req.URL != endpoint.URL {
		if err := webhook.ValidateURL(r.Context(), h.resolver, req.URL, h.allowed); err != nil {
			ErrBadRequest(w, "INVALID_URL", err.Error())
			return
		}
		endpoint.URL = req.URL
	}
	if req.Name != "" {
		endpoint.Name = req.Name
	}
	if req.Secret != "" {
		endpoint.Secret = db.EncryptedString(req.Secret)
	}
	if len(req.Events) > 0 {
		eventsBytes, _ := json.Marshal(req.Events)
		eventsJSON := string(eventsBytes)
		endpoint.Events = eventsJSON
	}
	if req.Enabled != nil {
		endpoint.Enabled = *req.Enabled
	}

	if err := h.endpoints.Update(r.Context(), endpoint); err != nil {
		h.logger.Error("failed to update webhook endpoint", zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, webhookToResponse(endpoint))
}

// Delete handles DELETE /v1/webhooks/{id}.
func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	resolved, _ := auth.FromContext(r.Context())
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.endpoints.Delete(r.Context(), resolved.Tenant.ID, id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to delete webhook endpoint", zap.Error(err))
		ErrInternal(w)
		return
	}
	NoContent(w)
}
