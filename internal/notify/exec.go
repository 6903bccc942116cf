package notify

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// runFunc runs a command and returns its stdout.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// ExecNotifier shells out to notify-send. It keeps the slot with
// --print-id/--replace-id and has no action buttons.
type ExecNotifier struct {
	appName string
	run     runFunc

	mu sync.Mutex
	id string

	actions chan ActionEvent
}

// NewExecNotifier creates a notify-send backed notifier.
func NewExecNotifier(appName string) *ExecNotifier {
	return &ExecNotifier{appName: appName, run: runCommand, actions: make(chan ActionEvent)}
}

func (n *ExecNotifier) Post(ctx context.Context, note Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	urgency := "normal"
	if note.Kind == KindError {
		urgency = "critical"
	}
	args := []string{
		"--app-name", n.appName,
		"--urgency", urgency,
		"--print-id",
	}
	if note.Icon != "" {
		args = append(args, "--icon", note.Icon)
	}
	if note.Ongoing || !note.Dismissible {
		args = append(args, "--expire-time", "0", "--hint", "boolean:resident:true")
	}
	if n.id != "" {
		args = append(args, "--replace-id", n.id)
	}
	args = append(args, note.Title, note.Body)

	out, err := n.run(ctx, "notify-send", args...)
	if err != nil {
		return fmt.Errorf("notify-send: %w", err)
	}
	if id := strings.TrimSpace(string(out)); id != "" {
		if _, err := strconv.ParseUint(id, 10, 32); err == nil {
			n.id = id
		}
	}
	return nil
}

// Cancel closes the slot through gdbus since notify-send cannot withdraw.
func (n *ExecNotifier) Cancel(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.id == "" {
		return nil
	}
	id := n.id
	n.id = ""
	_, err := n.run(ctx, "gdbus", "call", "--session",
		"--dest", notifyDest,
		"--object-path", string(notifyPath),
		"--method", notifyIface+".CloseNotification", id)
	if err != nil {
		return fmt.Errorf("close notification: %w", err)
	}
	return nil
}

func (n *ExecNotifier) Actions() <-chan ActionEvent { return n.actions }

func (n *ExecNotifier) Close() error { return nil }
