// Package recorder abstracts the external screen recorder behind a narrow
// control surface. Capture, encoding and muxing belong to the backend; this
// package only starts, stops and observes it.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

var (
	// ErrInvalidState is returned when a call does not fit the recorder's
	// current state (start while busy, stop while idle, start before Init).
	ErrInvalidState = errors.New("recorder: invalid state")
	// ErrNotRecording is returned by Stop when nothing is being recorded.
	ErrNotRecording = fmt.Errorf("%w: not recording", ErrInvalidState)
)

// State is the backend's own view of its lifecycle.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateStopping // stop issued, finalization pending
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Rotation values in quarter turns, matching the display's current rotation.
const (
	Rotation0   = 0
	Rotation90  = 1
	Rotation180 = 2
	Rotation270 = 3
)

// Params is the capture configuration passed to Init before every Start.
type Params struct {
	Rotation    int
	Width       int
	Height      int
	BitRate     int // bits per second
	FrameRate   int
	RecordAudio bool
	ShowTouches bool // draw pointer and click overlay into the capture
	Reserved    int
}

// Validate checks Params for values no backend can honour.
func (p Params) Validate() error {
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", p.Width, p.Height)
	}
	if p.Rotation < Rotation0 || p.Rotation > Rotation270 {
		return fmt.Errorf("invalid rotation %d", p.Rotation)
	}
	if p.BitRate < 0 {
		return fmt.Errorf("invalid bitrate %d", p.BitRate)
	}
	if p.FrameRate <= 0 {
		return fmt.Errorf("invalid frame rate %d", p.FrameRate)
	}
	return nil
}

// EventKind names the three outcomes a backend reports asynchronously.
type EventKind string

const (
	EventStarted  EventKind = "started"
	EventFinished EventKind = "finished"
	EventError    EventKind = "error"
)

// Event is delivered on Recorder.Events. After a successful Stop exactly one
// EventFinished or EventError follows.
type Event struct {
	Kind   EventKind
	Path   string
	Reason string // EventError only; opaque human-readable text
	At     time.Time
}

// Recorder is the interface that recording backends must implement.
type Recorder interface {
	Name() string
	// Init stores the capture parameters for the next Start.
	Init(p Params) error
	// Start begins recording into path. Any non-success is an error.
	Start(ctx context.Context, path string) error
	// Stop requests finalization and returns without waiting for it.
	Stop(ctx context.Context) error
	State() State
	Events() <-chan Event
	Close() error
}

// emitTimeout bounds how long emit waits for a consumer.
var emitTimeout = 5 * time.Second

// emit delivers ev without blocking forever on a consumer that has gone away.
// It reports whether ev was delivered.
func emit(ch chan Event, ev Event) bool {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	select {
	case ch <- ev:
		return true
	case <-time.After(emitTimeout):
		log.Printf("Warning: dropped recorder %s event for %s: no consumer after %v", ev.Kind, ev.Path, emitTimeout)
		return false
	}
}
