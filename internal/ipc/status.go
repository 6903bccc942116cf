package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// StatusSnapshot represents the daemon state at a point in time
type StatusSnapshot struct {
	State         string     `json:"state"`                // IDLE, RECORDING or STOPPING
	Backend       string     `json:"backend"`              // Recorder backend name
	File          string     `json:"file,omitempty"`       // Current or last recording
	StartedAt     *time.Time `json:"started_at,omitempty"` // Current session start
	ShowTouches   bool       `json:"show_touches"`
	LastAction    string     `json:"last_action"`
	LastError     string     `json:"last_error"`
	LastCommandID string     `json:"last_command_id"` // Last handled command
	PID           int        `json:"pid"`
	Timestamp     time.Time  `json:"timestamp"`
}

// StatusPath is dir/status.json.
func StatusPath(dir string) string {
	return filepath.Join(dir, "status.json")
}

// WriteStatus persists StatusSnapshot to dir/status.json using atomic write
func WriteStatus(dir string, status *StatusSnapshot) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return atomicWriteJSON(StatusPath(dir), status)
}

// ReadStatus loads StatusSnapshot from dir/status.json
func ReadStatus(dir string) (*StatusSnapshot, error) {
	data, err := os.ReadFile(StatusPath(dir))
	if err != nil {
		return nil, err
	}

	var status StatusSnapshot
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// WaitForCommand polls the status file until the daemon reports commandID
// as handled.
func WaitForCommand(ctx context.Context, dir, commandID string, interval time.Duration) (*StatusSnapshot, error) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := ReadStatus(dir)
		if err == nil && status.LastCommandID == commandID {
			return status, nil
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			var syntaxErr *json.SyntaxError
			if !errors.As(err, &syntaxErr) {
				return nil, err
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// atomicWriteJSON writes data to a file atomically using temp file + rename
func atomicWriteJSON(path string, data interface{}) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, ".ipc-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpFile != nil {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return err
	}

	if err := tmpFile.Sync(); err != nil {
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	tmpFile = nil

	return os.Rename(tmpPath, path)
}
