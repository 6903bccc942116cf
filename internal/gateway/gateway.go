// Package gateway is the boundary between the outside world and the
// controller. Control signals from the command spool and from notification
// buttons are handled one at a time by a single worker goroutine.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/tiroq/screenrec/internal/desktop"
	"github.com/tiroq/screenrec/internal/diaglog"
	"github.com/tiroq/screenrec/internal/fileutil"
	"github.com/tiroq/screenrec/internal/notify"
)

// Kind names a control signal.
type Kind string

const (
	KindToggle      Kind = "toggle"
	KindShowTouches Kind = "show_touches"
	KindDelete      Kind = "delete"
	KindOpen        Kind = "open"
	KindShare       Kind = "share"
	KindQuit        Kind = "quit"
)

// ErrClosed is returned by Submit after Run has returned.
var ErrClosed = errors.New("gateway closed")

// Signal is one inbound control request.
type Signal struct {
	Kind Kind
	// Path is the recording delete, open and share refer to.
	Path string
	// RequestID is echoed to OnHandled for blocking callers.
	RequestID string
}

// Controller is the part of the recording controller the gateway drives.
type Controller interface {
	Toggle(ctx context.Context) error
	RefreshRecordingNotification(ctx context.Context) bool
	OutputDir() string
}

// TouchesToggler flips the show-touches setting.
type TouchesToggler interface {
	ToggleShowTouches() (bool, error)
}

// Launcher hands a recording to the desktop.
type Launcher interface {
	OpenVideo(path string) error
	Share(path string) error
}

// Deps are the collaborators of a Gateway.
type Deps struct {
	Controller Controller
	Settings   TouchesToggler
	Notifier   notify.Notifier
	Indexer    desktop.MediaIndexer
	Launcher   Launcher
	Logger     *diaglog.Logger
	// OnHandled runs on the worker after every signal.
	OnHandled func(s Signal, err error)
	// OnQuit runs on the worker when a quit signal arrives.
	OnQuit func()
}

// Gateway serializes control signals.
type Gateway struct {
	deps    Deps
	signals chan Signal
	done    chan struct{}
}

// New creates a gateway; call Run to start the worker.
func New(deps Deps) *Gateway {
	if deps.Indexer == nil {
		deps.Indexer = desktop.NopIndexer{}
	}
	return &Gateway{
		deps:    deps,
		signals: make(chan Signal, 32),
		done:    make(chan struct{}),
	}
}

// Submit queues s for the worker.
func (g *Gateway) Submit(ctx context.Context, s Signal) error {
	select {
	case <-g.done:
		return ErrClosed
	default:
	}
	select {
	case g.signals <- s:
		return nil
	case <-g.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run handles queued signals in order until ctx is done.
func (g *Gateway) Run(ctx context.Context) {
	defer close(g.done)
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-g.signals:
			err := g.handle(ctx, s)
			if err != nil {
				log.Printf("Signal %s failed: %v", s.Kind, err)
			}
			if g.deps.OnHandled != nil {
				g.deps.OnHandled(s, err)
			}
		}
	}
}

// PumpActions forwards notification button presses until ctx is done or
// actions is closed.
func (g *Gateway) PumpActions(ctx context.Context, actions <-chan notify.ActionEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-actions:
			if !ok {
				return
			}
			s, ok := FromAction(ev)
			if !ok {
				continue
			}
			if err := g.Submit(ctx, s); err != nil {
				return
			}
		}
	}
}

// FromAction maps a notification button to its signal.
func FromAction(ev notify.ActionEvent) (Signal, bool) {
	switch ev.Action {
	case notify.ActionStop:
		return Signal{Kind: KindToggle}, true
	case notify.ActionShowTouches:
		return Signal{Kind: KindShowTouches}, true
	case notify.ActionDelete:
		return Signal{Kind: KindDelete, Path: ev.Path}, true
	case notify.ActionOpen:
		return Signal{Kind: KindOpen, Path: ev.Path}, true
	case notify.ActionShare:
		return Signal{Kind: KindShare, Path: ev.Path}, true
	}
	return Signal{}, false
}

func (g *Gateway) handle(ctx context.Context, s Signal) error {
	g.deps.Logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentGateway,
		Event:     diaglog.EventSignalReceived,
		Payload:   map[string]interface{}{"kind": string(s.Kind), "path": s.Path, "request_id": s.RequestID},
	})

	switch s.Kind {
	case KindToggle:
		return g.deps.Controller.Toggle(ctx)

	case KindShowTouches:
		on, err := g.deps.Settings.ToggleShowTouches()
		if err != nil {
			return fmt.Errorf("toggle show touches: %w", err)
		}
		log.Printf("Show touches: %v", on)
		g.deps.Controller.RefreshRecordingNotification(ctx)
		return nil

	case KindDelete:
		return g.deleteRecording(ctx, s.Path)

	case KindOpen:
		if s.Path == "" {
			return fmt.Errorf("open: no recording path")
		}
		return g.deps.Launcher.OpenVideo(s.Path)

	case KindShare:
		if s.Path == "" {
			return fmt.Errorf("share: no recording path")
		}
		return g.deps.Launcher.Share(s.Path)

	case KindQuit:
		if g.deps.OnQuit != nil {
			g.deps.OnQuit()
		}
		return nil
	}
	return fmt.Errorf("unknown signal %q", s.Kind)
}

// deleteRecording removes path if present, asks for a rescan and always
// withdraws the notification.
func (g *Gateway) deleteRecording(ctx context.Context, path string) error {
	var result error
	if path != "" {
		deleted, err := fileutil.DeleteRecording(path, g.deps.Controller.OutputDir())
		result = err
		if deleted {
			log.Printf("Deleted recording %s", path)
			g.deps.Logger.Log(diaglog.LogEntry{
				Component: diaglog.ComponentGateway,
				Event:     diaglog.EventRecordingDeleted,
				Payload:   map[string]interface{}{"path": path},
			})
		}
		// Paths outside the recordings folder are never touched, not even rescanned.
		if !errors.Is(err, fileutil.ErrOutsideOutputDir) {
			if err := g.deps.Indexer.Rescan(path); err != nil {
				log.Printf("Warning: media rescan of %s failed: %v", path, err)
			}
		}
	}

	if err := g.deps.Notifier.Cancel(ctx); err != nil {
		log.Printf("Warning: failed to cancel notification: %v", err)
	} else {
		g.deps.Logger.Log(diaglog.LogEntry{
			Component: diaglog.ComponentNotifier,
			Event:     diaglog.EventNotificationCanceled,
		})
	}
	return result
}
