// Package notify posts the recorder's single status notification and reports
// the action buttons the user presses on it.
//
// Every notification kind shares one slot: posting replaces whatever the slot
// currently shows and Cancel withdraws it.
package notify

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
)

// Kind identifies which of the four notifications occupies the slot.
type Kind string

const (
	KindRecording  Kind = "recording"
	KindProcessing Kind = "processing"
	KindFinished   Kind = "finished"
	KindError      Kind = "error"
)

// Action is the key of a notification button.
type Action string

const (
	ActionStop        Action = "stop"
	ActionShowTouches Action = "show_touches"
	ActionOpen        Action = "open"
	ActionShare       Action = "share"
	ActionDelete      Action = "delete"
)

// Button is one action attached to a notification.
type Button struct {
	Action Action
	Label  string
}

// Notification is the content of the shared slot.
type Notification struct {
	Kind        Kind
	Title       string
	Body        string
	Icon        string
	Ongoing     bool
	Dismissible bool
	Actions     []Button
	// DefaultAction fires when the notification body itself is clicked.
	DefaultAction Action
	// Path is the recording the actions refer to.
	Path string
}

// ActionEvent reports a pressed button.
type ActionEvent struct {
	Action Action
	Path   string
}

// Notifier is implemented by every notification backend.
type Notifier interface {
	Post(ctx context.Context, n Notification) error
	Cancel(ctx context.Context) error
	// Actions delivers button presses. Backends without buttons never send.
	Actions() <-chan ActionEvent
	Close() error
}

// Recording is the ongoing, non-dismissible in-progress notification.
func Recording(showTouches bool) Notification {
	touches := "Show touches: off"
	if showTouches {
		touches = "Show touches: on"
	}
	return Notification{
		Kind:          KindRecording,
		Title:         "Screen recording",
		Body:          "Recording in progress. Click to stop.",
		Icon:          "media-record",
		Ongoing:       true,
		Dismissible:   false,
		DefaultAction: ActionStop,
		Actions: []Button{
			{Action: ActionStop, Label: "Stop"},
			{Action: ActionShowTouches, Label: touches},
		},
	}
}

// Processing is shown between stop and finalize.
func Processing() Notification {
	return Notification{
		Kind:        KindProcessing,
		Title:       "Screen recording",
		Body:        "Saving recording…",
		Icon:        "document-save",
		Dismissible: true,
	}
}

// Finished names the saved file and offers open, share and delete.
func Finished(path string) Notification {
	return Notification{
		Kind:          KindFinished,
		Title:         "Screen recording saved",
		Body:          fmt.Sprintf("Saved as %s", filepath.Base(path)),
		Icon:          "video-x-generic",
		Dismissible:   true,
		DefaultAction: ActionOpen,
		Path:          path,
		Actions: []Button{
			{Action: ActionOpen, Label: "Open"},
			{Action: ActionShare, Label: "Share"},
			{Action: ActionDelete, Label: "Delete"},
		},
	}
}

// Error carries the opaque failure reason.
func Error(reason string) Notification {
	return Notification{
		Kind:        KindError,
		Title:       "Screen recording failed",
		Body:        reason,
		Icon:        "dialog-error",
		Dismissible: true,
	}
}

// New picks a backend by name: "dbus", "notify-send", "osascript", "memory"
// or "auto", which tries them in that order.
func New(backend, appName string) (Notifier, error) {
	switch backend {
	case "dbus":
		return NewDBusNotifier(appName)
	case "notify-send":
		return NewExecNotifier(appName), nil
	case "osascript":
		return NewOSAScriptNotifier(), nil
	case "memory":
		return NewMemory(), nil
	case "", "auto":
		if n, err := NewDBusNotifier(appName); err == nil {
			return n, nil
		}
		if _, err := exec.LookPath("notify-send"); err == nil {
			return NewExecNotifier(appName), nil
		}
		if runtime.GOOS == "darwin" {
			return NewOSAScriptNotifier(), nil
		}
		return nil, fmt.Errorf("no notification backend available")
	default:
		return nil, fmt.Errorf("unknown notifier backend %q", backend)
	}
}
