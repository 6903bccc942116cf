package notify

import (
	"context"
	"fmt"
	"strings"
)

// OSAScriptNotifier sends macOS notifications with osascript. macOS offers no
// replace or withdraw through AppleScript, so every Post shows a new banner
// and Cancel is a no-op.
type OSAScriptNotifier struct {
	run     runFunc
	actions chan ActionEvent
}

// NewOSAScriptNotifier creates a notifier for macOS.
func NewOSAScriptNotifier() *OSAScriptNotifier {
	return &OSAScriptNotifier{run: runCommand, actions: make(chan ActionEvent)}
}

func (n *OSAScriptNotifier) Post(ctx context.Context, note Notification) error {
	script := fmt.Sprintf(`display notification "%s" with title "%s" subtitle "%s"`,
		escapeAppleScript(note.Body),
		escapeAppleScript("Screen Recorder"),
		escapeAppleScript(note.Title))
	if out, err := n.run(ctx, "osascript", "-e", script); err != nil {
		return fmt.Errorf("osascript: %w: %s", err, out)
	}
	return nil
}

func (n *OSAScriptNotifier) Cancel(context.Context) error { return nil }

func (n *OSAScriptNotifier) Actions() <-chan ActionEvent { return n.actions }

func (n *OSAScriptNotifier) Close() error { return nil }

// escapeAppleScript escapes special characters in AppleScript strings
func escapeAppleScript(s string) string {
	var b strings.Builder
	for _, ch := range s {
		switch ch {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(ch)
		}
	}
	return b.String()
}
