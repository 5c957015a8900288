package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*LocalStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewLocalStore(dir)
	require.NoError(t, err)
	return s, dir
}

func TestSave_WritesFileWithChecksum(t *testing.T) {
	s, dir := newStore(t)
	patientID, noteID := uuid.New(), uuid.New()
	content := []byte("S: feels fine\nP: rest")

	stored, err := s.Save(context.Background(), patientID, noteID, bytes.NewReader(content), 1024)
	require.NoError(t, err)

	sum := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(sum[:]), stored.SHA256)
	assert.Len(t, stored.SHA256, 64)
	assert.Equal(t, int64(len(content)), stored.Size)
	assert.True(t, strings.HasPrefix(stored.Key, patientID.String()+"/"+noteID.String()+"/"))

	full := filepath.Join(dir, filepath.FromSlash(stored.Key))
	info, err := os.Stat(full)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	rc, err := s.Open(context.Background(), stored.Key)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestSave_DistinctKeysForSameNote(t *testing.T) {
	s, _ := newStore(t)
	patientID, noteID := uuid.New(), uuid.New()

	a, err := s.Save(context.Background(), patientID, noteID, strings.NewReader("a"), 10)
	require.NoError(t, err)
	b, err := s.Save(context.Background(), patientID, noteID, strings.NewReader("b"), 10)
	require.NoError(t, err)
	assert.NotEqual(t, a.Key, b.Key)
}

func TestSave_TooLargeLeavesNothing(t *testing.T) {
	s, dir := newStore(t)
	patientID, noteID := uuid.New(), uuid.New()

	_, err := s.Save(context.Background(), patientID, noteID, bytes.NewReader(make([]byte, 11)), 10)
	assert.True(t, errors.Is(err, ErrFileTooLarge))

	entries, err := os.ReadDir(filepath.Join(dir, patientID.String(), noteID.String()))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSave_ExactlyAtLimit(t *testing.T) {
	s, _ := newStore(t)
	stored, err := s.Save(context.Background(), uuid.New(), uuid.New(), bytes.NewReader(make([]byte, 10)), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), stored.Size)
}

func TestSave_CancelledContext(t *testing.T) {
	s, _ := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Save(ctx, uuid.New(), uuid.New(), strings.NewReader("x"), 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDelete_RemovesFileAndIsIdempotent(t *testing.T) {
	s, dir := newStore(t)
	stored, err := s.Save(context.Background(), uuid.New(), uuid.New(), strings.NewReader("x"), 10)
	require.NoError(t, err)

	require.NoError(t, s.Delete(context.Background(), stored.Key))
	_, err = os.Stat(filepath.Join(dir, filepath.FromSlash(stored.Key)))
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, s.Delete(context.Background(), stored.Key))

	_, err = s.Open(context.Background(), stored.Key)
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestResolve_RejectsTraversal(t *testing.T) {
	s, _ := newStore(t)
	for _, key := range []string{"", "/etc/passwd", "../outside", "a/../../outside", "a\\b", ".."} {
		_, err := s.resolve(key)
		assert.ErrorIs(t, err, ErrInvalidKey, "key %q", key)
	}
	_, err := s.resolve("a/b/c")
	assert.NoError(t, err)
}
