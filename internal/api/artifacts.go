package api

import (
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docrefinery/server/internal/auth"
	"github.com/docrefinery/server/internal/db"
	"github.com/docrefinery/server/internal/repositories"
	"github.com/docrefinery/server/internal/storage"
)

// ArtifactHandler implements list and download for pipeline-produced
// artifacts. Download either streams the file directly or, when the
// handler is configured with an X-Accel-Redirect prefix, hands the bytes
// off to a reverse proxy instead.
type ArtifactHandler struct {
	artifacts          repositories.ArtifactRepository
	store              *storage.Store
	xAccelRedirectPath string
	logger             *zap.Logger
}

// NewArtifactHandler builds an ArtifactHandler. xAccelRedirectPath, when
// non-empty, is prepended to the artifact's relative path and returned via
// the X-Accel-Redirect response header instead of streaming the file
// in-process — the deployment fronts the server with nginx or similar.
func NewArtifactHandler(artifacts repositories.ArtifactRepository, store *storage.Store, xAccelRedirectPath string, logger *zap.Logger) *ArtifactHandler {
	return &ArtifactHandler{
		artifacts:          artifacts,
		store:              store,
		xAccelRedirectPath: xAccelRedirectPath,
		logger:             logger.Named("artifact_handler"),
	}
}

type artifactResponse struct {
	ID          string    `json:"id"`
	UUID        string    `json:"uuid"`
	JobID       string    `json:"job_id"`
	Kind        string    `json:"kind"`
	SHA256      string    `json:"sha256"`
	SizeBytes   int64     `json:"size_bytes"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
}

func artifactToResponse(a *db.Artifact) artifactResponse {
	return artifactResponse{
		ID:          a.ID.String(),
		UUID:        a.PublicID.String(),
		JobID:       a.JobID.String(),
		Kind:        a.Kind,
		SHA256:      a.SHA256,
		SizeBytes:   a.SizeBytes,
		ContentType: a.ContentType,
		CreatedAt:   a.CreatedAt,
	}
}

type listArtifactsResponse struct {
	Items []artifactResponse `json:"items"`
	Total int64              `json:"total"`
}

// List handles GET /v1/artifacts, optionally filtered by job_id.
func (h *ArtifactHandler) List(w http.ResponseWriter, r *http.Request) {
	resolved, _ := auth.FromContext(r.Context())
	var jobID *uuid.UUID
	if id, invalid := queryUUID(r, "job_id"); !invalid {
		jobID = id
	}
	artifacts, total, err := h.artifacts.List(r.Context(), resolved.Tenant.ID, jobID, paginationOpts(r))
	if err != nil {
		h.logger.Error("failed to list artifacts", zap.Error(err))
		ErrInternal(w)
		return
	}
	items := make([]artifactResponse, len(artifacts))
	for i := range artifacts {
		items[i] = artifactToResponse(&artifacts[i])
	}
	Ok(w, listArtifactsResponse{Items: items, Total: total})
}

// GetByID handles GET /v1/artifacts/{id} — download.
func (h *ArtifactHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	resolved, _ := auth.FromContext(r.Context())
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	artifact, err := h.artifacts.GetByID(r.Context(), resolved.Tenant.ID, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get artifact", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	w.Header().Set("Content-Type", artifact.ContentType)
	if h.xAccelRedirectPath != "" {
		w.Header().Set("X-Accel-Redirect", h.xAccelRedirectPath+"/"+artifact.Path)
		w.WriteHeader(http.StatusOK)
		return
	}

	f, err := os.Open(h.store.Abs(artifact.Path))
	if err != nil {
		if os.IsNotExist(err) {
			h.logger.Warn("artifact file missing on disk", zap.String("id", id.String()), zap.String("path", artifact.Path))
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to open artifact file", zap.String("id", id.String()), zap.String("path", artifact.Path), zap.Error(err))
		ErrInternal(w)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", `attachment; filename="`+artifactFilename(artifact)+`"`)
	http.ServeContent(w, r, artifactFilename(artifact), artifact.CreatedAt, f)
}

func artifactFilename(a *db.Artifact) string {
	return a.JobID.String() + "-" + a.Kind
}
