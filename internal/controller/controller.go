// Package controller owns the recording state machine: it starts and stops
// the external recorder and turns its events into notifications.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tiroq/screenrec/internal/desktop"
	"github.com/tiroq/screenrec/internal/diaglog"
	"github.com/tiroq/screenrec/internal/display"
	"github.com/tiroq/screenrec/internal/fileutil"
	"github.com/tiroq/screenrec/internal/notify"
	"github.com/tiroq/screenrec/internal/recorder"
	"github.com/tiroq/screenrec/internal/settings"
)

// User-visible failure reasons of the start path.
const (
	ReasonStorageUnavailable = "External storage unavailable"
	ReasonCreateDir          = "Unable to create output directory"
	ReasonUnableToStart      = "Unable to start screen recording"
	ReasonUnableToStop       = "Unable to stop screen recording"
)

// State is the controller's view of the recording lifecycle.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateStopping // stop issued, waiting for finished or error
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRecording:
		return "RECORDING"
	case StateStopping:
		return "STOPPING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session is one recording, from a successful start to its outcome.
type Session struct {
	ID        string
	FileName  string
	Path      string
	StartedAt time.Time
	Params    recorder.Params
	Backend   string
}

// SettingsSource provides a fresh settings snapshot.
type SettingsSource interface {
	Snapshot() (settings.Snapshot, error)
}

// Defaults are the values used when a setting is unset.
type Defaults struct {
	Dimensions string
	BitRate    int
	FrameRate  int
}

// Options configure a Controller.
type Options struct {
	// OutputRoot is the storage root; recordings go to <root>/ScreenRecorder.
	OutputRoot string
	Defaults   Defaults
	// Version is written into sidecar metadata.
	Version string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Recorder recorder.Recorder
	Notifier notify.Notifier
	Settings SettingsSource
	Display  display.Display
	// Cues defaults to desktop.Silent.
	Cues   desktop.CuePlayer
	Logger *diaglog.Logger
}

// Controller is safe for concurrent use. Toggle is expected to be called
// from one goroutine (the gateway worker); recorder events are consumed by Run.
type Controller struct {
	rec      recorder.Recorder
	notifier notify.Notifier
	settings SettingsSource
	display  display.Display
	cues     desktop.CuePlayer
	logger   *diaglog.Logger
	opts     Options

	mu        sync.Mutex
	state     State
	session   *Session // active session, set before Start is called
	last      *Session // most recently completed session
	idle      chan struct{}
	listeners []func(State)
}

// New creates an idle controller.
func New(deps Deps, opts Options) *Controller {
	if deps.Cues == nil {
		deps.Cues = desktop.Silent{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	idle := make(chan struct{})
	close(idle)
	return &Controller{
		rec:      deps.Recorder,
		notifier: deps.Notifier,
		settings: deps.Settings,
		display:  deps.Display,
		cues:     deps.Cues,
		logger:   deps.Logger,
		opts:     opts,
		idle:     idle,
	}
}

// Toggle starts a recording unless the recorder is recording, in which case
// it stops it. Exactly one of the two is attempted. A toggle while a stop is
// being finalized does nothing.
func (c *Controller) Toggle(ctx context.Context) error {
	if c.State() == StateStopping {
		log.Printf("Toggle ignored: previous recording is still being saved")
		return nil
	}
	if c.rec.State() == recorder.StateRecording {
		return c.stopRecording(ctx)
	}
	return c.startRecording(ctx)
}

func (c *Controller) startRecording(ctx context.Context) error {
	root := c.opts.OutputRoot
	if !fileutil.StorageAvailable(root) {
		return c.failStart(ctx, ReasonStorageUnavailable, fileutil.ErrStorageUnavailable)
	}

	params := c.captureParams()
	if err := c.rec.Init(params); err != nil {
		return c.failStart(ctx, ReasonUnableToStart, err)
	}

	dir, err := fileutil.EnsureOutputDir(root)
	if err != nil {
		reason := ReasonCreateDir
		if errors.Is(err, fileutil.ErrStorageUnavailable) {
			reason = ReasonStorageUnavailable
		}
		return c.failStart(ctx, reason, err)
	}

	now := c.opts.Now()
	name := fileutil.VideoFileName(now)
	sess := &Session{
		ID:        uuid.NewString(),
		FileName:  name,
		Path:      filepath.Join(dir, name),
		StartedAt: now,
		Params:    params,
		Backend:   c.rec.Name(),
	}

	// Published before Start so a started event racing the return sees it.
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()

	log.Printf("Start recording screen to %s (%dx%d rot=%d)", sess.Path, params.Width, params.Height, params.Rotation)
	c.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentController,
		Event:     diaglog.EventRecordingStart,
		SessionID: sess.ID,
		Payload: map[string]interface{}{
			"path":         sess.Path,
			"width":        params.Width,
			"height":       params.Height,
			"rotation":     params.Rotation,
			"record_audio": params.RecordAudio,
		},
	})

	if err := c.rec.Start(ctx, sess.Path); err != nil {
		c.mu.Lock()
		if c.session == sess {
			c.session = nil
		}
		c.mu.Unlock()
		return c.failStart(ctx, ReasonUnableToStart, err)
	}
	return nil
}

// captureParams reads the settings, display and defaults fresh.
func (c *Controller) captureParams() recorder.Params {
	snap, err := c.settings.Snapshot()
	if err != nil {
		log.Printf("Warning: failed to read settings, using defaults: %v", err)
		snap = settings.Snapshot{}
	}

	rotation, realW, realH := recorder.Rotation0, 0, 0
	if c.display != nil {
		if r, err := c.display.Rotation(); err == nil {
			rotation = r
		} else {
			log.Printf("Warning: failed to read display rotation: %v", err)
		}
		if w, h, err := c.display.RealSize(); err == nil {
			realW, realH = w, h
		} else {
			log.Printf("Warning: failed to read display size: %v", err)
		}
	}

	width, height := ResolveDimensions(snap.OutputDimensions, c.opts.Defaults.Dimensions, rotation, realW, realH)

	bitRate := snap.BitRate
	if bitRate <= 0 {
		bitRate = c.opts.Defaults.BitRate
	}
	frameRate := snap.FrameRate
	if frameRate <= 0 {
		frameRate = c.opts.Defaults.FrameRate
	}

	return recorder.Params{
		Rotation:    rotation,
		Width:       width,
		Height:      height,
		BitRate:     bitRate,
		FrameRate:   frameRate,
		RecordAudio: snap.RecordAudio,
		ShowTouches: snap.ShowTouches,
	}
}

// failStart reports a start failure. The state stays IDLE.
func (c *Controller) failStart(ctx context.Context, reason string, cause error) error {
	log.Printf("Start recording failed: %s: %v", reason, cause)
	c.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentController,
		Event:     diaglog.EventRecordingError,
		Payload:   map[string]interface{}{"reason": reason, "error": fmt.Sprint(cause)},
	})
	c.post(ctx, notify.Error(reason))
	return fmt.Errorf("%s: %w", reason, cause)
}

func (c *Controller) stopRecording(ctx context.Context) error {
	c.mu.Lock()
	audio := false
	if c.session != nil {
		audio = c.session.Params.RecordAudio
	}
	sessionID := ""
	if c.session != nil {
		sessionID = c.session.ID
	}
	c.mu.Unlock()

	// The microphone would pick the cue up.
	if !audio {
		c.cues.Play(desktop.CueStop)
	}

	if err := c.rec.Stop(ctx); err != nil {
		log.Printf("Stop recording failed: %v", err)
		c.post(ctx, notify.Error(ReasonUnableToStop))
		return fmt.Errorf("%s: %w", ReasonUnableToStop, err)
	}

	c.setState(StateStopping)
	c.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentController,
		Event:     diaglog.EventRecordingStop,
		SessionID: sessionID,
	})
	c.post(ctx, notify.Processing())
	return nil
}

// Run consumes recorder events until ctx is done.
func (c *Controller) Run(ctx context.Context) {
	events := c.rec.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			c.HandleEvent(ctx, ev)
		}
	}
}

// HandleEvent dispatches one recorder event.
func (c *Controller) HandleEvent(ctx context.Context, ev recorder.Event) {
	switch ev.Kind {
	case recorder.EventStarted:
		c.OnRecordingStarted(ctx)
	case recorder.EventFinished:
		c.OnRecordingFinished(ctx, ev.Path)
	case recorder.EventError:
		c.OnRecordingError(ctx, ev.Reason)
	}
}

// OnRecordingStarted enters RECORDING and shows the in-progress notification.
func (c *Controller) OnRecordingStarted(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateStopping {
		// Stop already requested before the event was consumed.
		c.mu.Unlock()
		return
	}
	audio := false
	var sess Session
	if c.session != nil {
		sess = *c.session
		audio = sess.Params.RecordAudio
	}
	listeners := c.transition(StateRecording)
	c.mu.Unlock()
	notifyListeners(listeners, StateRecording)

	c.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentController,
		Event:     diaglog.EventRecordingStarted,
		SessionID: sess.ID,
		Payload:   map[string]interface{}{"path": sess.Path},
	})

	if !audio {
		c.cues.Play(desktop.CueStart)
	}
	c.post(ctx, notify.Recording(c.showTouches()))
}

// OnRecordingFinished returns to IDLE and offers the saved file. The file is
// the active session's; path is used only when no session is known.
func (c *Controller) OnRecordingFinished(ctx context.Context, path string) {
	sess := c.endSession()
	stoppedAt := c.opts.Now()

	if sess != nil {
		path = sess.Path
		c.writeMetadata(sess, stoppedAt)
	}
	log.Printf("Recording finished: %s", path)
	c.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentController,
		Event:     diaglog.EventRecordingFinished,
		SessionID: sessionID(sess),
		Payload:   map[string]interface{}{"path": path},
	})

	c.setState(StateIdle)
	c.post(ctx, notify.Finished(path))
}

// OnRecordingError returns to IDLE and shows reason.
func (c *Controller) OnRecordingError(ctx context.Context, reason string) {
	sess := c.endSession()
	log.Printf("Recording error: %s", reason)
	c.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentController,
		Event:     diaglog.EventRecordingError,
		SessionID: sessionID(sess),
		Payload:   map[string]interface{}{"reason": reason},
	})

	c.setState(StateIdle)
	c.post(ctx, notify.Error(reason))
}

// RefreshRecordingNotification re-renders the in-progress notification with
// the current show-touches value. It reports whether anything was posted.
func (c *Controller) RefreshRecordingNotification(ctx context.Context) bool {
	if c.State() != StateRecording {
		return false
	}
	c.post(ctx, notify.Recording(c.showTouches()))
	return true
}

// State returns the controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the active session.
func (c *Controller) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// LastSession returns the most recently ended session.
func (c *Controller) LastSession() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return Session{}, false
	}
	return *c.last, true
}

// OutputDir is the fixed recordings folder.
func (c *Controller) OutputDir() string {
	return fileutil.OutputDir(c.opts.OutputRoot)
}

// WaitIdle blocks until the controller is IDLE or ctx is done. There is no
// built-in timeout; bound it with ctx.
func (c *Controller) WaitIdle(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnStateChange registers fn, called after every state transition.
func (c *Controller) OnStateChange(fn func(State)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	listeners := c.transition(s)
	c.mu.Unlock()
	notifyListeners(listeners, s)
}

// transition moves to s and returns the listeners to call once c.mu is
// released. It must be called with c.mu held.
func (c *Controller) transition(s State) []func(State) {
	if c.state == s {
		return nil
	}
	prev := c.state
	c.state = s
	switch {
	case s == StateIdle:
		close(c.idle)
	case prev == StateIdle:
		c.idle = make(chan struct{})
	}
	return slices.Clone(c.listeners)
}

func notifyListeners(listeners []func(State), s State) {
	for _, fn := range listeners {
		fn(s)
	}
}

func (c *Controller) endSession() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess := c.session
	c.session = nil
	if sess != nil {
		c.last = sess
	}
	return sess
}

func (c *Controller) showTouches() bool {
	snap, err := c.settings.Snapshot()
	if err != nil {
		log.Printf("Warning: failed to read settings: %v", err)
		return false
	}
	return snap.ShowTouches
}

func (c *Controller) post(ctx context.Context, n notify.Notification) {
	if err := c.notifier.Post(ctx, n); err != nil {
		log.Printf("Warning: failed to post %s notification: %v", n.Kind, err)
		return
	}
	c.logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentNotifier,
		Event:     diaglog.EventNotificationPosted,
		Payload:   map[string]interface{}{"kind": string(n.Kind)},
	})
}

func (c *Controller) writeMetadata(sess *Session, stoppedAt time.Time) {
	d := stoppedAt.Sub(sess.StartedAt)
	meta := &fileutil.RecordingMetadata{
		Version:         c.opts.Version,
		SessionID:       sess.ID,
		StartedAt:       sess.StartedAt,
		StoppedAt:       stoppedAt,
		Duration:        d.Round(time.Second).String(),
		DurationMs:      d.Milliseconds(),
		Width:           sess.Params.Width,
		Height:          sess.Params.Height,
		Rotation:        sess.Params.Rotation,
		BitRate:         sess.Params.BitRate,
		FrameRate:       sess.Params.FrameRate,
		RecordAudio:     sess.Params.RecordAudio,
		ShowTouches:     sess.Params.ShowTouches,
		RecorderBackend: sess.Backend,
		OutputFile:      sess.Path,
	}
	if err := fileutil.WriteMetadata(sess.Path, meta); err != nil {
		log.Printf("Warning: failed to write metadata for %s: %v", sess.FileName, err)
	}
}

func sessionID(s *Session) string {
	if s == nil {
		return ""
	}
	return s.ID
}
