package diaglog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Version is injected at link time from the main package; defaults to "dev".
var Version = "dev"

// DiagBundle is the header line of an export. The log lines follow it, so the
// whole file stays valid NDJSON.
type DiagBundle struct {
	ExportedAt       string   `json:"exported_at"`
	ScreenrecVersion string   `json:"screenrec_version"`
	GoVersion        string   `json:"go_version"`
	OS               string   `json:"os"`
	Arch             string   `json:"arch"`
	LogFiles         []string `json:"log_files"`
	EntryCount       int      `json:"entry_count"`
	// Sessions lists recording session ids in order of first appearance.
	Sessions        []string `json:"sessions,omitempty"`
	RecordingErrors int      `json:"recording_errors"`
}

// Export writes dest/screenrec-diag-<ts>.ndjson: a DiagBundle header, then the
// rotated log (logPath.1) if present, then logPath. It returns the written
// path and the number of log lines copied.
func Export(logPath, dest string) (path string, lines int, err error) {
	if _, err := os.Stat(logPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", 0, fmt.Errorf("log file not found at %s: %w", logPath, os.ErrNotExist)
		}
		return "", 0, fmt.Errorf("log file unreadable: %w", err)
	}

	sources := []string{logPath}
	if _, err := os.Stat(logPath + ".1"); err == nil {
		sources = []string{logPath + ".1", logPath}
	}

	bundle := DiagBundle{
		ExportedAt:       time.Now().UTC().Format(time.RFC3339),
		ScreenrecVersion: Version,
		GoVersion:        runtime.Version(),
		OS:               runtime.GOOS,
		Arch:             runtime.GOARCH,
		LogFiles:         sources,
	}

	var all [][]byte
	seen := make(map[string]bool)
	for _, src := range sources {
		ls, err := readLines(src)
		if err != nil {
			return "", 0, err
		}
		for _, line := range ls {
			summarize(&bundle, seen, line)
		}
		all = append(all, ls...)
	}
	bundle.EntryCount = len(all)

	header, err := json.Marshal(bundle)
	if err != nil {
		return "", 0, err
	}

	tstamp := time.Now().UTC().Format("20060102T150405")
	outPath := filepath.Join(dest, "screenrec-diag-"+tstamp+".ndjson")
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", 0, fmt.Errorf("output file could not be created: %w", err)
	}
	defer func() { _ = out.Close() }()

	w := bufio.NewWriter(out)
	if _, err := w.Write(append(header, '\n')); err != nil {
		return "", 0, err
	}
	for _, line := range all {
		if _, err := w.Write(append(line, '\n')); err != nil {
			return "", 0, err
		}
	}
	if err := w.Flush(); err != nil {
		return "", 0, err
	}
	return outPath, len(all), nil
}

// readLines returns the lines of path. Files are capped at 10 MB by the
// rolling writer, so holding them in memory is fine.
func readLines(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("log file unreadable: %w", err)
	}
	defer func() { _ = f.Close() }()

	var out [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		out = append(out, append([]byte(nil), scanner.Bytes()...))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("log file unreadable: %w", err)
	}
	return out, nil
}

// summarize folds one log line into the header. Lines that are not entries
// are copied but not counted.
func summarize(b *DiagBundle, seen map[string]bool, line []byte) {
	var e LogEntry
	if json.Unmarshal(line, &e) != nil {
		return
	}
	if e.SessionID != "" && !seen[e.SessionID] {
		seen[e.SessionID] = true
		b.Sessions = append(b.Sessions, e.SessionID)
	}
	if e.Event == EventRecordingError {
		b.RecordingErrors++
	}
}
