// Package ipc is the control plane between screenrec-ctl and screenrec-core:
// a spool directory of command files and an atomically written status file,
// both under ~/.cache/screenrec.
package ipc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action is a control signal for the daemon.
type Action string

const (
	ActionToggle      Action = "toggle"       // Start or stop recording
	ActionShowTouches Action = "show_touches" // Flip the show-touches setting
	ActionDelete      Action = "delete"       // Delete the recording at Path
	ActionOpen        Action = "open"         // Open the recording at Path
	ActionShare       Action = "share"        // Share the recording at Path
	ActionQuit        Action = "quit"         // Shutdown daemon
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionToggle, ActionShowTouches, ActionDelete, ActionOpen, ActionShare, ActionQuit:
		return true
	}
	return false
}

// Command is one spooled control request.
type Command struct {
	ID       string    `json:"id"`
	Action   Action    `json:"action"`
	Path     string    `json:"path,omitempty"`
	IssuedAt time.Time `json:"issued_at"`
}

// DefaultDir returns ~/.cache/screenrec.
func DefaultDir() string {
	return filepath.Join(os.Getenv("HOME"), ".cache", "screenrec")
}

// CommandsDir is the spool directory under dir.
func CommandsDir(dir string) string {
	return filepath.Join(dir, "commands")
}

// WriteCommand spools cmd under dir and returns it with ID and IssuedAt set.
// Each command is its own file so rapid toggles are never coalesced.
func WriteCommand(dir string, cmd Command) (Command, error) {
	if !cmd.Action.Valid() {
		return cmd, fmt.Errorf("unknown action %q", cmd.Action)
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.IssuedAt.IsZero() {
		cmd.IssuedAt = time.Now()
	}

	spool := CommandsDir(dir)
	if err := os.MkdirAll(spool, 0755); err != nil {
		return cmd, err
	}
	name := strconv.FormatInt(cmd.IssuedAt.UnixNano(), 10) + "-" + cmd.ID + ".json"
	return cmd, atomicWriteJSON(filepath.Join(spool, name), cmd)
}

// ReadCommands drains the spool in issue order. Unreadable or unknown
// commands are removed and skipped.
func ReadCommands(dir string) ([]Command, error) {
	spool := CommandsDir(dir)
	entries, err := os.ReadDir(spool)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var cmds []Command
	for _, name := range names {
		path := filepath.Join(spool, name)
		data, err := os.ReadFile(path)
		// Remove immediately to prevent re-execution.
		_ = os.Remove(path)
		if err != nil {
			continue
		}
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil || !cmd.Action.Valid() {
			continue
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}
