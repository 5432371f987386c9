package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/docrefinery/server/internal/db"
)

// InternalHandler serves the operator-facing, non-tenant-scoped endpoints:
// liveness, readiness, and Prometheus metrics exposition.
type InternalHandler struct {
	database *gorm.DB
	logger   *zap.Logger
}

// NewInternalHandler builds an InternalHandler.
func NewInternalHandler(database *gorm.DB, logger *zap.Logger) *InternalHandler {
	return &InternalHandler{database: database, logger: logger.Named("internal_handler")}
}

// Healthz handles GET /healthz — process liveness, independent of the
// database.
func (h *InternalHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	Ok(w, envelope{"status": "ok"})
}

// Readyz handles GET /readyz — liveness plus a database ping.
func (h *InternalHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := db.Ping(r.Context(), h.database); err != nil {
		h.logger.Warn("readiness check failed", zap.Error(err))
		JSON(w, http.StatusServiceUnavailable, envelope{"status": "unavailable"})
		return
	}
	Ok(w, envelope{"status": "ok"})
}

// Metrics returns the Prometheus exposition handler.
func Metrics() http.Handler {
	return promhttp.Handler()
}
