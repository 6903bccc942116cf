package recorder

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tiroq/screenrec/internal/diaglog"
	"github.com/tiroq/screenrec/internal/obsws"
)

// OBSClient is the subset of obsws.Client the OBS backend drives.
type OBSClient interface {
	SetVideoSettings(ctx context.Context, width, height, fps int) error
	SetRecordDirectory(ctx context.Context, dir string) error
	SetFilenameFormatting(ctx context.Context, format string) error
	StartRecord(ctx context.Context) error
	StopRecord(ctx context.Context) (string, error)
	OnRecordStateChanged(func(obsws.RecordStateEvent))
	OnDisconnected(func())
	IsConnected() bool
	Disconnect()
}

// OBSRecorder records through a running OBS Studio instance. OBS owns scene
// composition and encoder settings; only output size, frame rate, directory
// and file name are pushed before each start. Rotation, bitrate, audio and
// pointer overlay follow the OBS profile.
type OBSRecorder struct {
	mu sync.Mutex

	client OBSClient
	params *Params
	state  State
	path   string
	events chan Event

	logger *diaglog.Logger
}

// NewOBSRecorder wires the recorder to client callbacks.
func NewOBSRecorder(client OBSClient) *OBSRecorder {
	r := &OBSRecorder{
		client: client,
		events: make(chan Event, 8),
	}
	client.OnRecordStateChanged(r.handleRecordState)
	client.OnDisconnected(r.handleDisconnect)
	return r
}

func (r *OBSRecorder) Name() string { return "obs" }

// SetLogger injects a diaglog.Logger.
func (r *OBSRecorder) SetLogger(l *diaglog.Logger) {
	r.mu.Lock()
	r.logger = l
	r.mu.Unlock()
}

func (r *OBSRecorder) Init(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateIdle {
		return fmt.Errorf("%w: init while %s", ErrInvalidState, r.state)
	}
	r.params = &p
	return nil
}

func (r *OBSRecorder) Start(ctx context.Context, path string) error {
	r.mu.Lock()
	if r.params == nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: start before init", ErrInvalidState)
	}
	if r.state != StateIdle {
		r.mu.Unlock()
		return fmt.Errorf("%w: start while %s", ErrInvalidState, r.state)
	}
	if !r.client.IsConnected() {
		r.mu.Unlock()
		return fmt.Errorf("obs not connected")
	}
	p := *r.params
	// Claim the recorder so a concurrent Start fails fast.
	r.state = StateRecording
	r.path = path
	logger := r.logger
	r.mu.Unlock()

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	err := r.client.SetVideoSettings(ctx, p.Width, p.Height, p.FrameRate)
	if err == nil {
		err = r.client.SetRecordDirectory(ctx, filepath.Dir(path))
	}
	if err == nil {
		err = r.client.SetFilenameFormatting(ctx, base)
	}
	if err == nil {
		err = r.client.StartRecord(ctx)
	}
	if err != nil {
		r.mu.Lock()
		r.state = StateIdle
		r.mu.Unlock()
		return fmt.Errorf("obs start: %w", err)
	}

	logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentRecorder,
		Event:     diaglog.EventRecordingStart,
		Payload:   map[string]interface{}{"backend": "obs", "path": path},
	})
	return nil
}

// Stop asks OBS to stop; the file is reported through RecordStateChanged.
func (r *OBSRecorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateRecording {
		r.mu.Unlock()
		return ErrNotRecording
	}
	r.state = StateStopping
	r.mu.Unlock()

	if _, err := r.client.StopRecord(ctx); err != nil {
		r.mu.Lock()
		if r.state == StateStopping {
			r.state = StateRecording
		}
		r.mu.Unlock()
		return fmt.Errorf("obs stop: %w", err)
	}
	return nil
}

func (r *OBSRecorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *OBSRecorder) Events() <-chan Event { return r.events }

// Close drops the websocket connection; a running OBS recording keeps going.
func (r *OBSRecorder) Close() error {
	r.client.Disconnect()
	return nil
}

// handleRecordState ignores transitions of recordings this process did not
// start.
func (r *OBSRecorder) handleRecordState(ev obsws.RecordStateEvent) {
	r.mu.Lock()
	if r.state == StateIdle {
		r.mu.Unlock()
		return
	}
	path := r.path
	if ev.Path != "" {
		path = ev.Path
	}

	var out *Event
	switch ev.State {
	case obsws.OutputStarted:
		out = &Event{Kind: EventStarted, Path: path}
	case obsws.OutputStopped:
		r.state = StateIdle
		r.path = ""
		out = &Event{Kind: EventFinished, Path: path}
	}
	r.mu.Unlock()

	if out != nil {
		emit(r.events, *out)
	}
}

func (r *OBSRecorder) handleDisconnect() {
	r.mu.Lock()
	if r.state == StateIdle {
		r.mu.Unlock()
		return
	}
	path := r.path
	r.state = StateIdle
	r.path = ""
	logger := r.logger
	r.mu.Unlock()

	logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentRecorder,
		Event:     diaglog.EventRecordingError,
		Payload:   map[string]interface{}{"backend": "obs", "reason": "obs disconnected"},
	})
	emit(r.events, Event{Kind: EventError, Path: path, Reason: "obs disconnected"})
}
