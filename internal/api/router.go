package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/docrefinery/server/internal/auth"
	"github.com/docrefinery/server/internal/broker"
	"github.com/docrefinery/server/internal/options"
	"github.com/docrefinery/server/internal/pipeline"
	"github.com/docrefinery/server/internal/repositories"
	"github.com/docrefinery/server/internal/storage"
	"github.com/docrefinery/server/internal/webhook"
)

// RouterConfig holds all dependencies needed to build the HTTP router. It is
// populated in main.go after all components are initialized and passed to
// NewRouter as a single struct to keep the constructor signature manageable
// as the number of dependencies grows.
type RouterConfig struct {
	DB       *gorm.DB
	Resolver *auth.Resolver
	Logger   *zap.Logger

	Documents repositories.DocumentRepository
	Jobs      repositories.JobRepository
	Artifacts repositories.ArtifactRepository
	Webhooks  repositories.WebhookEndpointRepository

	Store          *storage.Store
	Broker         broker.Broker
	Orchestrator   *pipeline.Orchestrator
	MaxUploadBytes int64
	SystemDefaults options.Options

	WebhookResolver webhook.Resolver
	AllowedHosts    webhook.AllowedHosts

	// XAccelRedirectPath, when non-empty, switches artifact downloads to
	// nginx-style internal redirects instead of in-process streaming.
	XAccelRedirectPath string

	// InternalToken gates /healthz, /readyz and /metrics. An empty token
	// denies every request to that group — there is no "open" mode.
	InternalToken string

	// RateLimitRPS and RateLimitBurst configure the per-key/per-IP token
	// bucket applied to every authenticated route.
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter builds and returns the fully configured Chi router. Every
// resource route lives under /v1; the internal operability group
// (/healthz, /readyz, /metrics) sits outside it and is never reachable with
// an API key.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// RequestID generates a unique ID for each request, used in logs and
	// response headers for tracing.
	r.Use(middleware.RequestID)

	// RealIP extracts the real client IP from X-Forwarded-For or X-Real-IP
	// headers when the server runs behind a reverse proxy.
	r.Use(middleware.RealIP)

	// RequestLogger logs every request with method, path, status and latency.
	r.Use(RequestLogger(cfg.Logger))

	// Recoverer catches panics in handlers, logs them, and returns a 500
	// instead of crashing the server.
	r.Use(middleware.Recoverer)

	documentHandler := NewDocumentHandler(cfg.Documents, cfg.Jobs, cfg.Store, cfg.Broker, cfg.MaxUploadBytes, cfg.SystemDefaults, cfg.Logger)
	jobHandler := NewJobHandler(cfg.Jobs, cfg.Orchestrator, cfg.Logger)
	artifactHandler := NewArtifactHandler(cfg.Artifacts, cfg.Store, cfg.XAccelRedirectPath, cfg.Logger)
	webhookHandler := NewWebhookHandler(cfg.Webhooks, cfg.WebhookResolver, cfg.AllowedHosts, cfg.Logger)
	internalHandler := NewInternalHandler(cfg.DB, cfg.Logger)

	r.Route("/v1", func(r chi.Router) {
		r.Use(Authenticate(cfg.Resolver))
		r.Use(RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))

		r.Group(func(r chi.Router) {
			r.Use(RequireScope("documents:read"))
			r.Get("/documents", documentHandler.List)
			r.Get("/documents/{id}", documentHandler.GetByID)
		})
		r.Group(func(r chi.Router) {
			r.Use(RequireScope("documents:write"))
			r.Post("/documents", documentHandler.Create)
			r.Post("/documents/{id}/compare", documentHandler.Compare)
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireScope("jobs:read"))
			r.Get("/jobs", jobHandler.List)
			r.Get("/jobs/{id}", jobHandler.GetByID)
			r.Post("/jobs/{id}/cancel", jobHandler.Cancel)
			r.Post("/jobs/{id}/retry", jobHandler.Retry)
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireScope("artifacts:read"))
			r.Get("/artifacts", artifactHandler.List)
			r.Get("/artifacts/{id}", artifactHandler.GetByID)
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireScope("webhooks:read"))
			r.Get("/webhooks", webhookHandler.List)
			r.Get("/webhooks/{id}", webhookHandler.GetByID)
		})
		r.Group(func(r chi.Router) {
			r.Use(RequireScope("webhooks:write"))
			r.Post("/webhooks", webhookHandler.Create)
			r.Patch("/webhooks/{id}", webhookHandler.Update)
			r.Delete("/webhooks/{id}", webhookHandler.Delete)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(InternalToken(cfg.InternalToken))
		r.Get("/healthz", internalHandler.Healthz)
		r.Get("/readyz", internalHandler.Readyz)
		r.Handle("/metrics", Metrics())
	})

	return r
}
