package ipc

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher delivers spooled commands to a handler. It uses fsnotify and keeps
// a polling ticker as fallback in case events are missed.
type Watcher struct {
	Dir          string
	PollInterval time.Duration
	// Logf receives watcher diagnostics; nil discards them.
	Logf func(format string, args ...interface{})
}

// Run drains the spool once, then on every change until ctx is done.
// handle is called sequentially in issue order.
func (w *Watcher) Run(ctx context.Context, handle func(Command)) error {
	spool := CommandsDir(w.Dir)
	if err := os.MkdirAll(spool, 0755); err != nil {
		return err
	}
	poll := w.PollInterval
	if poll <= 0 {
		poll = time.Second
	}

	drain := func() {
		cmds, err := ReadCommands(w.Dir)
		if err != nil {
			w.logf("Failed to read commands: %v", err)
			return
		}
		for _, cmd := range cmds {
			handle(cmd)
		}
	}
	drain()

	var events <-chan fsnotify.Event
	var errs <-chan error
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logf("fsnotify not available, falling back to polling: %v", err)
	} else {
		defer watcher.Close()
		if err := watcher.Add(spool); err != nil {
			w.logf("Failed to watch command directory, falling back to polling: %v", err)
		} else {
			events, errs = watcher.Events, watcher.Errors
			w.logf("Command watcher started (using fsnotify)")
		}
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				w.logf("fsnotify watcher closed, switching to polling")
				events = nil
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Rename|fsnotify.Write) != 0 {
				drain()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logf("fsnotify error: %v", err)
		case <-ticker.C:
			drain()
		}
	}
}

func (w *Watcher) logf(format string, args ...interface{}) {
	if w.Logf != nil {
		w.Logf(format, args...)
	}
}
