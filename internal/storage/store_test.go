package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePaths(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	tenant := uuid.New()
	doc := uuid.New()

	relQ, absQ := s.QuarantinePath(tenant, doc)
	assert.Equal(t, filepath.Join("uploads", "quarantine", tenant.String(), doc.String()+".pdf"), relQ)
	assert.Equal(t, filepath.Join(s.Root, relQ), absQ)

	relC, _ := s.CleanPath(tenant, doc)
	assert.True(t, strings.Contains(relC, "clean"))
}

func TestCleanCopyPathIsPerJob(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	tenant := uuid.New()
	doc := uuid.New()
	jobA := uuid.New()
	jobB := uuid.New()

	relA, _ := s.CleanCopyPath(tenant, doc, jobA)
	relB, _ := s.CleanCopyPath(tenant, doc, jobB)

	assert.NotEqual(t, relA, relB)
	assert.True(t, strings.Contains(relA, "clean"))
	assert.True(t, strings.Contains(relA, jobA.String()))
}

func TestStreamToFileComputesHashAndSize(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "out.pdf")

	content := []byte("%PDF-1.4 fake content for hashing")
	hash, size, err := StreamToFile(dst, bytes.NewReader(content), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), size)
	assert.NotEmpty(t, hash)

	want, err := SHA256File(dst)
	require.NoError(t, err)
	assert.Equal(t, want, hash)
}

func TestStreamToFileRejectsOversizedInput(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "out.pdf")

	_, _, err := StreamToFile(dst, bytes.NewReader(make([]byte, 1024)), 16)
	require.ErrorIs(t, err, ErrTooLarge)

	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr), "partial file should be removed")
}

func TestWriteAtomicLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "artifact.json")

	require.NoError(t, WriteAtomic(dst, []byte(`{"ok":true}`)))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(got))

	_, statErr := os.Stat(dst + ".tmp")
	assert.True(t, os.IsNotExist(statErr))
}

func TestRemoveIgnoreMissingIsNoop(t *testing.T) {
	assert.NoError(t, RemoveIgnoreMissing(""))
	assert.NoError(t, RemoveIgnoreMissing(filepath.Join(t.TempDir(), "nonexistent")))
}

func TestRenameMovesFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.pdf")
	dst := filepath.Join(dir, "nested", "dst.pdf")

	require.NoError(t, os.WriteFile(src, []byte("data"), 0o644))
	require.NoError(t, Rename(src, dst))

	_, err := os.Stat(src)
	assert.True(t, os.IsNotExist(err))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))
}
