// Package blobstore keeps uploaded note files on the local filesystem. Files
// are addressed by an opaque key of the form {patient_id}/{note_id}/{ulid}
// relative to a base directory.
package blobstore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrBlobNotFound = errors.New("blob not found")
	ErrFileTooLarge = errors.New("file exceeds maximum allowed size")
	ErrInvalidKey   = errors.New("invalid storage key")
	ErrStorageIO    = errors.New("storage I/O failure")
)

// ---------------------------------------------------------------------------
// Domain types
// ---------------------------------------------------------------------------

// StoredFile describes a file written by Save.
type StoredFile struct {
	Key    string
	Size   int64
	SHA256 string
}

// BlobStore defines the contract for note file storage.
type BlobStore interface {
	Save(ctx context.Context, patientID, noteID uuid.UUID, content io.Reader, maxBytes int64) (*StoredFile, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// ---------------------------------------------------------------------------
// Local filesystem implementation
// ---------------------------------------------------------------------------

// LocalStore writes files under a base directory.
type LocalStore struct {
	base string
}

// NewLocalStore returns a store rooted at baseDir, creating it if needed.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve storage dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalStore{base: abs}, nil
}

// resolve maps a key to a path inside the base directory. Keys that are
// absolute or escape the base are rejected.
func (s *LocalStore) resolve(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", ErrInvalidKey
	}
	full := filepath.Join(s.base, filepath.FromSlash(key))
	rel, err := filepath.Rel(s.base, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrInvalidKey
	}
	return full, nil
}

// Save streams content to a new file, computing its size and SHA-256. The
// file is created exclusively with mode 0600 and synced before returning.
// Content larger than maxBytes fails with ErrFileTooLarge and leaves nothing
// behind.
func (s *LocalStore) Save(ctx context.Context, patientID, noteID uuid.UUID, content io.Reader, maxBytes int64) (*StoredFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	leaf := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	key := path.Join(patientID.String(), noteID.String(), leaf)
	full, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
		return nil, fmt.Errorf("%w: create dir: %v", ErrStorageIO, err)
	}

	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: create file: %v", ErrStorageIO, err)
	}

	stored, err := write(f, content, maxBytes)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(full)
		return nil, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(full)
		return nil, fmt.Errorf("%w: close file: %v", ErrStorageIO, err)
	}

	stored.Key = key
	return stored, nil
}

func write(f *os.File, content io.Reader, maxBytes int64) (*StoredFile, error) {
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), io.LimitReader(content, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: write file: %v", ErrStorageIO, err)
	}
	if n > maxBytes {
		return nil, ErrFileTooLarge
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("%w: sync file: %v", ErrStorageIO, err)
	}
	return &StoredFile{Size: n, SHA256: hex.EncodeToString(h.Sum(nil))}, nil
}

// Open returns a reader for the stored file.
func (s *LocalStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	full, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open file: %v", ErrStorageIO, err)
	}
	return f, nil
}

// Delete removes the file for key. A file that is already gone is not an
// error.
func (s *LocalStore) Delete(_ context.Context, key string) error {
	full, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: delete file: %v", ErrStorageIO, err)
	}
	return nil
}
