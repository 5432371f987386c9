package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/docrefinery/server/internal/auth"
	"github.com/docrefinery/server/internal/broker"
	"github.com/docrefinery/server/internal/db"
	"github.com/docrefinery/server/internal/options"
	"github.com/docrefinery/server/internal/repositories"
	"github.com/docrefinery/server/internal/storage"
)

// DocumentHandler implements admission (upload + optional ingest) and the
// compare fan-out action, plus read-only list/get. Mirrors the structural
// model's pattern of one handler struct per resource holding exactly the
// repositories and collaborators it needs.
type DocumentHandler struct {
	documents      repositories.DocumentRepository
	jobs           repositories.JobRepository
	store          *storage.Store
	brk            broker.Broker
	logger         *zap.Logger
	maxUploadBytes int64
	systemDefaults options.Options
}

// NewDocumentHandler builds a DocumentHandler. maxUploadBytes bounds every
// admission regardless of whether the upload is ultimately ingested.
func NewDocumentHandler(documents repositories.DocumentRepository, jobs repositories.JobRepository, store *storage.Store, brk broker.Broker, maxUploadBytes int64, systemDefaults options.Options, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{
		documents:      documents,
		jobs:           jobs,
		store:          store,
		brk:            brk,
		logger:         logger.Named("document_handler"),
		maxUploadBytes: maxUploadBytes,
		systemDefaults: systemDefaults,
	}
}

type documentResponse struct {
	ID           string     `json:"id"`
	UUID         string     `json:"uuid"`
	Filename     string     `json:"filename"`
	SHA256       string     `json:"sha256"`
	MediaType    string     `json:"media_type"`
	SizeBytes    int64      `json:"size_bytes"`
	Status       string     `json:"status"`
	PageCount    *int       `json:"page_count,omitempty"`
	ExternalUUID *string    `json:"external_uuid,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func documentToResponse(d *db.Document) documentResponse {
	resp := documentResponse{
		ID:        d.ID.String(),
		UUID:      d.PublicID.String(),
		Filename:  d.Filename,
		SHA256:    d.SHA256,
		MediaType: d.MediaType,
		SizeBytes: d.SizeBytes,
		Status:    d.Status,
		PageCount: d.PageCount,
		ExpiresAt: d.ExpiresAt,
		CreatedAt: d.CreatedAt,
	}
	if d.ExternalUUID != nil {
		s := d.ExternalUUID.String()
		resp.ExternalUUID = &s
	}
	return resp
}

type listDocumentsResponse struct {
	Items []documentResponse `json:"items"`
	Total int64              `json:"total"`
}

// Create handles POST /v1/documents: a multipart body of
// {file, ingest?, options_json?, external_uuid?, profile?}.
func (h *DocumentHandler) Create(w http.ResponseWriter, r *http.Request) {
	resolved, _ := auth.FromContext(r.Context())

	// Cap the whole multipart body defensively; the per-part stream cap
	// below is what actually enforces the advertised-size limit.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		ErrBadRequest(w, "INVALID_REQUEST", "could not parse multipart body: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		ErrBadRequest(w, "INVALID_REQUEST", "missing \"file\" part")
		return
	}
	defer file.Close()

	mediaType := header.Header.Get("Content-Type")
	if mediaType == "" {
		mediaType = "application/pdf"
	}
	allowed := resolved.Key.AllowedMediaTypeList()
	if len(allowed) == 0 {
		allowed = []string{"application/pdf"}
	}
	if !contains(allowed, mediaType) {
		ErrUnsupportedMediaType(w, fmt.Sprintf("media type %q is not in this key's allow-list", mediaType))
		return
	}

	if header.Size > 0 && h.maxUploadBytes > 0 && header.Size > h.maxUploadBytes {
		ErrFileTooLarge(w)
		return
	}

	docID, err := uuid.NewV7()
	if err != nil {
		h.logger.Error("failed to generate document id", zap.Error(err))
		ErrInternal(w)
		return
	}
	_, quarantineAbs := h.store.QuarantinePath(resolved.Tenant.ID, docID)

	sha256Hex, size, err := storage.StreamToFile(quarantineAbs, file, h.maxUploadBytes)
	if err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			ErrFileTooLarge(w)
			return
		}
		h.logger.Error("failed to stream upload", zap.Error(err))
		ErrInternal(w)
		return
	}

	quarantineRel, _ := h.store.QuarantinePath(resolved.Tenant.ID, docID)

	existing, err := h.documents.GetByTenantAndSHA256(r.Context(), resolved.Tenant.ID, sha256Hex)
	if err == nil && existing != nil {
		storage.RemoveIgnoreMissing(quarantineAbs)
		ErrConflict(w, "DUPLICATE_DOCUMENT", "a document with this content already exists")
		return
	} else if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		storage.RemoveIgnoreMissing(quarantineAbs)
		h.logger.Error("failed to check for duplicate document", zap.Error(err))
		ErrInternal(w)
		return
	}

	var externalUUID *uuid.UUID
	if raw := r.FormValue("external_uuid"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			storage.RemoveIgnoreMissing(quarantineAbs)
			ErrBadRequest(w, "INVALID_REQUEST", "external_uuid is not a valid uuid")
			return
		}
		externalUUID = &parsed
	}

	document := &db.Document{
		ID:             docID,
		TenantID:       resolved.Tenant.ID,
		CreatedByKeyID: resolved.Key.ID,
		ExternalUUID:   externalUUID,
		Filename:       header.Filename,
		SHA256:         sha256Hex,
		MediaType:      mediaType,
		SizeBytes:      size,
		QuarantinePath: quarantineRel,
		Status:         db.DocumentStatusUploaded,
	}
	if err := h.documents.Create(r.Context(), document); err != nil {
		storage.RemoveIgnoreMissing(quarantineAbs)
		if isUniqueViolation(err) {
			ErrConflict(w, "DUPLICATE_DOCUMENT", "a document with this content already exists")
			return
		}
		h.logger.Error("failed to persist document", zap.Error(err))
		ErrInternal(w)
		return
	}

	ingest := parseBoolForm(r.FormValue("ingest"))
	if !ingest {
		Created(w, documentToResponse(document))
		return
	}

	profile := r.FormValue("profile")
	if !options.ValidProfile(profile) {
		h.rollbackIngest(r.Context(), document)
		ErrInvalidOptions(w, map[string]string{"profile": fmt.Sprintf("unknown profile %q", profile)})
		return
	}

	caller, err := options.ParseJSON(r.FormValue("options_json"))
	if err != nil {
		h.rollbackIngest(r.Context(), document)
		ErrInvalidOptions(w, map[string]string{"options_json": err.Error()})
		return
	}

	keyDefault, _ := options.ParseJSON(resolved.Key.DefaultOptions)
	tenantDefault, _ := options.ParseJSON(resolved.Tenant.DefaultOptions)
	merged := options.Merge(caller, keyDefault, tenantDefault, h.systemDefaults, profile)

	if validationErrs := options.Validate(merged); validationErrs != nil {
		h.rollbackIngest(r.Context(), document)
		ErrInvalidOptions(w, validationErrs)
		return
	}

	optionsJSON, err := options.MarshalJSON(merged)
	if err != nil {
		h.rollbackIngest(r.Context(), document)
		h.logger.Error("failed to marshal merged options", zap.Error(err))
		ErrInternal(w)
		return
	}

	job, err := h.enrollJob(r.Context(), resolved, document, profile, optionsJSON, nil)
	if err != nil {
		h.rollbackIngest(r.Context(), document)
		h.logger.Error("failed to enroll job", zap.Error(err))
		ErrInternal(w)
		return
	}

	Created(w, envelope{"document": documentToResponse(document), "job": jobToResponse(job)})
}

// rollbackIngest undoes document creation on an admission-time ingest
// failure: unlink the file and delete the document row.
func (h *DocumentHandler) rollbackIngest(ctx context.Context, document *db.Document) {
	storage.RemoveIgnoreMissing(h.store.Abs(document.QuarantinePath))
	if err := h.documents.Delete(ctx, document.ID); err != nil {
		h.logger.Warn("failed to roll back document row after ingest failure", zap.String("document_id", document.ID.String()), zap.Error(err))
	}
}

func (h *DocumentHandler) enrollJob(ctx context.Context, resolved *auth.Resolved, document *db.Document, profile, optionsJSON string, comparisonID *uuid.UUID) (*db.IngestionJob, error) {
	job := &db.IngestionJob{
		TenantID:       resolved.Tenant.ID,
		CreatedByKeyID: resolved.Key.ID,
		DocumentID:     document.ID,
		ExternalUUID:   document.ExternalUUID,
		Profile:        profile,
		ComparisonID:   comparisonID,
		Status:         db.JobStatusQueued,
		Stage:          db.StageScanning,
		OptionsJSON:    optionsJSON,
		QueuedAt:       time.Now(),
	}
	if err := h.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if _, err := h.brk.Enqueue(ctx, job.ID, db.StageScanning); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

// List handles GET /v1/documents.
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	resolved, _ := auth.FromContext(r.Context())
	docs, total, err := h.documents.List(r.Context(), resolved.Tenant.ID, paginationOpts(r))
	if err != nil {
		h.logger.Error("failed to list documents", zap.Error(err))
		ErrInternal(w)
		return
	}
	items := make([]documentResponse, len(docs))
	for i := range docs {
		items[i] = documentToResponse(&docs[i])
	}
	Ok(w, listDocumentsResponse{Items: items, Total: total})
}

// GetByID handles GET /v1/documents/{id}.
func (h *DocumentHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	resolved, _ := auth.FromContext(r.Context())
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	document, err := h.documents.GetByID(r.Context(), resolved.Tenant.ID, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get document", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, documentToResponse(document))
}

type compareRequest struct {
	Profiles    []string `json:"profiles"`
	OptionsJSON string   `json:"options_json"`
}

// Compare handles POST /v1/documents/{id}/compare: fans out one job per
// named profile, each against its own source-file copy, all sharing one
// comparison_id.
func (h *DocumentHandler) Compare(w http.ResponseWriter, r *http.Request) {
	resolved, _ := auth.FromContext(r.Context())
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	document, err := h.documents.GetByID(r.Context(), resolved.Tenant.ID, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to load document for compare", zap.Error(err))
		ErrInternal(w)
		return
	}

	var req compareRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Profiles) == 0 {
		ErrInvalidOptions(w, map[string]string{"profiles": "at least one profile is required"})
		return
	}
	for _, p := range req.Profiles {
		if !options.ValidProfile(p) || p == "" {
			ErrInvalidOptions(w, map[string]string{"profiles": fmt.Sprintf("unknown profile %q", p)})
			return
		}
	}

	sourceAbs := h.resolveSourcePath(document)
	if sourceAbs == "" {
		ErrBadRequest(w, "MISSING_SOURCE_FILE", "neither a quarantine nor a clean copy of this document exists on disk")
		return
	}

	caller, err := options.ParseJSON(req.OptionsJSON)
	if err != nil {
		ErrInvalidOptions(w, map[string]string{"options_json": err.Error()})
		return
	}
	keyDefault, _ := options.ParseJSON(resolved.Key.DefaultOptions)
	tenantDefault, _ := options.ParseJSON(resolved.Tenant.DefaultOptions)

	comparisonID := uuid.New()
	jobs := make([]*db.IngestionJob, 0, len(req.Profiles))
	for _, profile := range req.Profiles {
		groupID := uuid.New()
		copyRel, copyAbs := h.store.QuarantineCopyPath(resolved.Tenant.ID, document.ID, groupID)
		if err := copyFile(sourceAbs, copyAbs); err != nil {
			h.logger.Error("failed to copy source file for compare", zap.Error(err))
			ErrInternal(w)
			return
		}

		merged := options.Merge(caller, keyDefault, tenantDefault, h.systemDefaults, profile)
		if validationErrs := options.Validate(merged); validationErrs != nil {
			storage.RemoveIgnoreMissing(copyAbs)
			ErrInvalidOptions(w, validationErrs)
			return
		}
		optionsJSON, err := options.MarshalJSON(merged)
		if err != nil {
			storage.RemoveIgnoreMissing(copyAbs)
			h.logger.Error("failed to marshal compare options", zap.Error(err))
			ErrInternal(w)
			return
		}

		job := &db.IngestionJob{
			TenantID:       resolved.Tenant.ID,
			CreatedByKeyID: resolved.Key.ID,
			DocumentID:     document.ID,
			ExternalUUID:   document.ExternalUUID,
			Profile:        profile,
			ComparisonID:   &comparisonID,
			SourcePath:     copyRel,
			Status:         db.JobStatusQueued,
			Stage:          db.StageScanning,
			OptionsJSON:    optionsJSON,
			QueuedAt:       time.Now(),
		}
		if err := h.jobs.Create(r.Context(), job); err != nil {
			storage.RemoveIgnoreMissing(copyAbs)
			h.logger.Error("failed to create compare job", zap.Error(err))
			ErrInternal(w)
			return
		}
		if _, err := h.brk.Enqueue(r.Context(), job.ID, db.StageScanning); err != nil {
			h.logger.Error("failed to enqueue compare job", zap.Error(err))
			ErrInternal(w)
			return
		}
		jobs = append(jobs, job)
	}

	items := make([]jobResponse, len(jobs))
	for i, j := range jobs {
		items[i] = jobToResponse(j)
	}
	Created(w, envelope{"comparison_id": comparisonID.String(), "jobs": items})
}

func (h *DocumentHandler) resolveSourcePath(document *db.Document) string {
	if document.CleanPath != "" {
		if abs := h.store.Abs(document.CleanPath); fileExists(abs) {
			return abs
		}
	}
	if document.QuarantinePath != "" {
		if abs := h.store.Abs(document.QuarantinePath); fileExists(abs) {
			return abs
		}
	}
	return ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()
	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	return storage.WriteAtomic(dst, data)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(strings.ToLower(err.Error()), "unique")
}

func parseBoolForm(raw string) bool {
	switch raw {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}
