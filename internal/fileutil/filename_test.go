package fileutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVideoFileName(t *testing.T) {
	ts := time.Date(2024, 3, 9, 7, 5, 4, 0, time.Local)
	assert.Equal(t, "SCR_20240309_070504.mp4", VideoFileName(ts))
}

func TestOutputDir(t *testing.T) {
	assert.Equal(t, filepath.Join("/media", "ScreenRecorder"), OutputDir("/media"))
}

func TestStorageAvailable(t *testing.T) {
	dir := t.TempDir()
	assert.True(t, StorageAvailable(dir))
	assert.False(t, StorageAvailable(""))
	assert.False(t, StorageAvailable(filepath.Join(dir, "missing")))

	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	assert.False(t, StorageAvailable(file))
}

func TestEnsureOutputDir(t *testing.T) {
	root := t.TempDir()

	dir, err := EnsureOutputDir(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, FolderName), dir)
	assert.DirExists(t, dir)

	// Idempotent.
	_, err = EnsureOutputDir(root)
	require.NoError(t, err)
}

func TestEnsureOutputDir_StorageUnavailable(t *testing.T) {
	_, err := EnsureOutputDir(filepath.Join(t.TempDir(), "unmounted"))
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestEnsureOutputDir_BlockedByFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, FolderName), []byte("x"), 0644))

	_, err := EnsureOutputDir(root)
	assert.ErrorIs(t, err, ErrCreateDir)
}

func TestDeleteRecording(t *testing.T) {
	dir := t.TempDir()
	rec := filepath.Join(dir, "SCR_20240101_000000.mp4")
	require.NoError(t, os.WriteFile(rec, []byte("video"), 0644))
	require.NoError(t, WriteMetadata(rec, &RecordingMetadata{SessionID: "x"}))

	deleted, err := DeleteRecording(rec, dir)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.NoFileExists(t, rec)
	assert.NoFileExists(t, MetadataPath(rec))
}

func TestDeleteRecording_Missing(t *testing.T) {
	dir := t.TempDir()
	deleted, err := DeleteRecording(filepath.Join(dir, "gone.mp4"), dir)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestDeleteRecording_EmptyPath(t *testing.T) {
	deleted, err := DeleteRecording("", "")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestDeleteRecording_OutsideAllowedDir(t *testing.T) {
	allowed := t.TempDir()
	other := filepath.Join(t.TempDir(), "keep.mp4")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0644))

	_, err := DeleteRecording(other, allowed)
	assert.True(t, errors.Is(err, ErrOutsideOutputDir))
	assert.FileExists(t, other)

	_, err = DeleteRecording(filepath.Join(allowed, "..", "escape.mp4"), allowed)
	assert.ErrorIs(t, err, ErrOutsideOutputDir)
}
