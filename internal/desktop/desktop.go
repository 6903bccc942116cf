// Package desktop hands finished recordings to the rest of the desktop:
// the default viewer, the clipboard, the media index, and sound cues.
package desktop

import (
	"fmt"
	"net/url"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// Launcher opens and shares recordings with desktop tools.
type Launcher struct {
	goos string
	// start launches a command without waiting for it.
	start func(name string, args ...string) error
	// pipe runs a command with stdin and waits.
	pipe func(stdin, name string, args ...string) error
}

// NewLauncher uses xdg-open/xclip on Linux and open/pbcopy on macOS.
func NewLauncher() *Launcher {
	return &Launcher{goos: runtime.GOOS, start: startDetached, pipe: runWithStdin}
}

// OpenVideo shows path in the default video viewer.
func (l *Launcher) OpenVideo(path string) error {
	opener := "xdg-open"
	if l.goos == "darwin" {
		opener = "open"
	}
	if err := l.start(opener, path); err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Share puts the recording on the clipboard as a file URI so it can be
// pasted into a chat or file manager.
func (l *Launcher) Share(path string) error {
	uri := FileURI(path)
	if l.goos == "darwin" {
		return l.pipe(path, "pbcopy")
	}

	// Write to both CLIPBOARD (Ctrl+V) and PRIMARY.
	wrote := false
	for _, args := range [][]string{
		{"xclip", "-selection", "clipboard", "-t", "text/uri-list"},
		{"xclip", "-selection", "primary"},
	} {
		if l.pipe(uri+"\n", args[0], args[1:]...) == nil {
			wrote = true
		}
	}
	if !wrote {
		return fmt.Errorf("xclip not available")
	}
	return nil
}

// FileURI renders an absolute path as a file:// URI.
func FileURI(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String()
}

func startDetached(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

func runWithStdin(stdin, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdin = strings.NewReader(stdin)
	return cmd.Run()
}
