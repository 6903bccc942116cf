// Package fileutil owns the on-disk layout of recordings: the fixed output
// folder, file naming, deletion and the sidecar metadata file.
package fileutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// FolderName is the fixed subfolder of the output root.
	FolderName = "ScreenRecorder"
	// TimestampLayout renders yyyyMMdd_HHmmss in local time.
	TimestampLayout = "20060102_150405"
	filePrefix      = "SCR_"
	fileExt         = ".mp4"
)

var (
	ErrStorageUnavailable = errors.New("external storage unavailable")
	ErrCreateDir          = errors.New("unable to create output directory")
	// ErrOutsideOutputDir guards deletes against paths outside the recordings folder.
	ErrOutsideOutputDir = errors.New("path is outside the output directory")
)

// VideoFileName returns SCR_<yyyyMMdd_HHmmss>.mp4 for t in local time.
func VideoFileName(t time.Time) string {
	return filePrefix + t.Local().Format(TimestampLayout) + fileExt
}

// OutputDir is <root>/ScreenRecorder.
func OutputDir(root string) string {
	return filepath.Join(root, FolderName)
}

// StorageAvailable reports whether root is an existing, writable directory.
func StorageAvailable(root string) bool {
	if root == "" {
		return false
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return false
	}
	return unix.Access(root, unix.W_OK) == nil
}

// EnsureOutputDir creates <root>/ScreenRecorder if needed and returns it.
func EnsureOutputDir(root string) (string, error) {
	if !StorageAvailable(root) {
		return "", ErrStorageUnavailable
	}
	dir := OutputDir(root)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCreateDir, err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrCreateDir, dir)
	}
	return dir, nil
}

// DeleteRecording removes the recording at path and its sidecar. A missing
// file is not an error; deleted reports whether the recording existed. When
// allowedDir is set, path must resolve inside it.
func DeleteRecording(path, allowedDir string) (deleted bool, err error) {
	if path == "" {
		return false, nil
	}
	if allowedDir != "" && !within(path, allowedDir) {
		return false, fmt.Errorf("%w: %s", ErrOutsideOutputDir, path)
	}

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if info.IsDir() {
		return false, fmt.Errorf("refusing to delete directory %s", path)
	}
	if err := os.Remove(path); err != nil {
		return false, fmt.Errorf("delete recording: %w", err)
	}
	if err := os.Remove(MetadataPath(path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return true, fmt.Errorf("delete metadata: %w", err)
	}
	return true, nil
}

func within(path, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
