// Package storage owns the on-disk data root: the quarantine and clean
// upload trees and the artifacts tree. Every path it hands back is built
// server-side from ids, never from caller input, so a path traversal
// outside the data root is structurally impossible. WriteAtomic writes via
// "<final>.tmp", fsync, rename; StreamToFile, the upload landing step,
// writes its target path directly.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Store roots every layout decision at Root.
type Store struct {
	Root string
}

// New returns a Store rooted at root, creating the root directory if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create data root: %w", err)
	}
	return &Store{Root: root}, nil
}

// QuarantinePath returns the on-disk path (relative and absolute) for a
// document's quarantine copy.
func (s *Store) QuarantinePath(tenantID, docID uuid.UUID) (relative, absolute string) {
	relative = filepath.Join("uploads", "quarantine", tenantID.String(), docID.String()+".pdf")
	return relative, filepath.Join(s.Root, relative)
}

// QuarantineCopyPath returns the path for a compare-action per-job source
// copy: "<doc-uuid>-<group-uuid>.pdf".
func (s *Store) QuarantineCopyPath(tenantID, docID, groupID uuid.UUID) (relative, absolute string) {
	name := fmt.Sprintf("%s-%s.pdf", docID, groupID)
	relative = filepath.Join("uploads", "quarantine", tenantID.String(), name)
	return relative, filepath.Join(s.Root, relative)
}

// CleanPath returns the on-disk path for a document's post-scan clean copy.
func (s *Store) CleanPath(tenantID, docID uuid.UUID) (relative, absolute string) {
	relative = filepath.Join("uploads", "clean", tenantID.String(), docID.String()+".pdf")
	return relative, filepath.Join(s.Root, relative)
}

// CleanCopyPath returns the post-scan clean-tree path for a compare-action
// per-job source copy, keyed by job id so concurrent sibling jobs scanning
// the same document never write to the same file.
func (s *Store) CleanCopyPath(tenantID, docID, jobID uuid.UUID) (relative, absolute string) {
	name := fmt.Sprintf("%s-%s.pdf", docID, jobID)
	relative = filepath.Join("uploads", "clean", tenantID.String(), name)
	return relative, filepath.Join(s.Root, relative)
}

// ArtifactPath returns the on-disk path for one artifact kind of one job.
func (s *Store) ArtifactPath(tenantID, jobID uuid.UUID, kind, filename string) (relative, absolute string) {
	relative = filepath.Join("artifacts", tenantID.String(), jobID.String(), filename)
	_ = kind
	return relative, filepath.Join(s.Root, relative)
}

// Abs resolves a path stored on a model (already relative to the root) to
// an absolute filesystem path.
func (s *Store) Abs(relative string) string {
	return filepath.Join(s.Root, relative)
}

// StreamToFile copies src to a new file at absolutePath, computing a
// running SHA-256 and byte count as it goes. maxBytes bounds the write —
// exceeding it unlinks the partial file and returns ErrTooLarge, because the
// caller-advertised size is untrusted and the limit must be enforced from
// the running counter. The write is not atomic: the file is created at
// absolutePath itself, and is removed again if a read, a write or the size
// check fails.
func StreamToFile(absolutePath string, src io.Reader, maxBytes int64) (sha256Hex string, size int64, err error) {
	if err := os.MkdirAll(filepath.Dir(absolutePath), 0o755); err != nil {
		return "", 0, fmt.Errorf("storage: create parent dir: %w", err)
	}

	f, err := os.OpenFile(absolutePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("storage: create file: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	writer := io.MultiWriter(f, hasher)

	const chunkSize = 64 * 1024
	buf := make([]byte, chunkSize)
	var total int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			total += int64(n)
			if maxBytes > 0 && total > maxBytes {
				f.Close()
				os.Remove(absolutePath)
				return "", 0, ErrTooLarge
			}
			if _, writeErr := writer.Write(buf[:n]); writeErr != nil {
				f.Close()
				os.Remove(absolutePath)
				return "", 0, fmt.Errorf("storage: write chunk: %w", writeErr)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			f.Close()
			os.Remove(absolutePath)
			return "", 0, fmt.Errorf("storage: read chunk: %w", readErr)
		}
	}

	if err := f.Sync(); err != nil {
		return "", 0, fmt.Errorf("storage: fsync: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), total, nil
}

// WriteAtomic writes data to path via a ".tmp" sibling, fsync, then rename —
// the pattern every artifact and stage-produced file uses so a reader never
// observes a partially-written file.
func WriteAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("storage: create parent dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("storage: create tmp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("storage: write tmp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("storage: fsync tmp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("storage: close tmp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("storage: rename tmp file: %w", err)
	}
	return nil
}

// Rename atomically moves src to dst (e.g. quarantine → clean after a clean
// scan verdict), creating dst's parent directory if needed.
func Rename(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("storage: create parent dir: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	return nil
}

// RemoveIgnoreMissing deletes a file, treating "already gone" as success —
// the reaper and admission's cleanup paths race deletions deliberately and
// a missing file is never an error.
func RemoveIgnoreMissing(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: remove: %w", err)
	}
	return nil
}

// SHA256File hashes an existing file's full contents.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("storage: open for hashing: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("storage: hash: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
