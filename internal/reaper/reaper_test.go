package reaper

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/docrefinery/server/internal/db"
	"github.com/docrefinery/server/internal/repositories"
	"github.com/docrefinery/server/internal/storage"
)

type fakeDocumentRepository struct {
	repositories.DocumentRepository
	expired []db.Document
	deleted []uuid.UUID
}

func (f *fakeDocumentRepository) ListExpired(ctx context.Context, before time.Time, limit int) ([]db.Document, error) {
	return f.expired, nil
}

func (f *fakeDocumentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeJobRepository struct {
	repositories.JobRepository
	idsByDocument map[uuid.UUID][]uuid.UUID
}

func (f *fakeJobRepository) ListIDsByDocument(ctx context.Context, documentID uuid.UUID) ([]uuid.UUID, error) {
	return f.idsByDocument[documentID], nil
}

type fakeArtifactRepository struct {
	repositories.ArtifactRepository
	expired       []db.Artifact
	deletedByJob  map[uuid.UUID][]db.Artifact
	deletedSingle []uuid.UUID
}

func (f *fakeArtifactRepository) ListExpired(ctx context.Context, before time.Time, limit int) ([]db.Artifact, error) {
	return f.expired, nil
}

func (f *fakeArtifactRepository) Delete(ctx context.Context, id uuid.UUID) error {
	f.deletedSingle = append(f.deletedSingle, id)
	return nil
}

func (f *fakeArtifactRepository) DeleteByJob(ctx context.Context, jobID uuid.UUID) ([]db.Artifact, error) {
	return f.deletedByJob[jobID], nil
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	root := t.TempDir()
	store, err := storage.New(root)
	require.NoError(t, err)
	return store
}

func touchFile(t *testing.T, store *storage.Store, relative string) {
	t.Helper()
	abs := store.Abs(relative)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte("data"), 0o644))
}

func TestSweepDeletesExpiredDocumentRowAndFiles(t *testing.T) {
	store := newTestStore(t)
	docID := uuid.New()

	touchFile(t, store, "quarantine/doc.pdf")
	touchFile(t, store, "clean/doc.pdf")

	doc := db.Document{QuarantinePath: "quarantine/doc.pdf", CleanPath: "clean/doc.pdf"}
	doc.ID = docID
	documents := &fakeDocumentRepository{expired: []db.Document{doc}}
	jobs := &fakeJobRepository{idsByDocument: map[uuid.UUID][]uuid.UUID{}}
	artifacts := &fakeArtifactRepository{deletedByJob: map[uuid.UUID][]db.Artifact{}}

	r := New(documents, jobs, artifacts, store, 30*24*time.Hour, zap.NewNop())
	r.sweep(context.Background())

	require.Len(t, documents.deleted, 1)
	assert.Equal(t, docID, documents.deleted[0])
	assert.NoFileExists(t, store.Abs("quarantine/doc.pdf"))
	assert.NoFileExists(t, store.Abs("clean/doc.pdf"))
}

func TestSweepDeletesArtifactsOfExpiringDocumentsJobs(t *testing.T) {
	store := newTestStore(t)
	docID := uuid.New()
	jobID := uuid.New()

	touchFile(t, store, "artifacts/out.json")

	var doc db.Document
	doc.ID = docID
	documents := &fakeDocumentRepository{expired: []db.Document{doc}}
	jobs := &fakeJobRepository{idsByDocument: map[uuid.UUID][]uuid.UUID{docID: {jobID}}}
	artifacts := &fakeArtifactRepository{deletedByJob: map[uuid.UUID][]db.Artifact{
		jobID: {{Path: "artifacts/out.json"}},
	}}

	r := New(documents, jobs, artifacts, store, 30*24*time.Hour, zap.NewNop())
	r.sweep(context.Background())

	assert.NoFileExists(t, store.Abs("artifacts/out.json"))
}

func TestSweepDeletesExpiredArtifactRowAndFile(t *testing.T) {
	store := newTestStore(t)
	artifactID := uuid.New()
	touchFile(t, store, "artifacts/standalone.json")

	documents := &fakeDocumentRepository{}
	jobs := &fakeJobRepository{}
	artifact := db.Artifact{Path: "artifacts/standalone.json"}
	artifact.ID = artifactID
	artifacts := &fakeArtifactRepository{expired: []db.Artifact{artifact}}

	r := New(documents, jobs, artifacts, store, 30*24*time.Hour, zap.NewNop())
	r.sweep(context.Background())

	require.Len(t, artifacts.deletedSingle, 1)
	assert.Equal(t, artifactID, artifacts.deletedSingle[0])
	assert.NoFileExists(t, store.Abs("artifacts/standalone.json"))
}
