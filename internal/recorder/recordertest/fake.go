// Package recordertest provides a scriptable recorder.Recorder for tests.
package recordertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tiroq/screenrec/internal/recorder"
)

// Recorder is an in-memory recorder. Start succeeds and emits started
// unless configured otherwise; Finish and Fail complete a stop.
type Recorder struct {
	mu     sync.Mutex
	state  recorder.State
	params *recorder.Params
	path   string
	events chan recorder.Event

	InitErr   error
	StartErr  error
	StopErr   error
	NoStarted bool // don't emit started from Start

	inits  []recorder.Params
	starts []string
	stops  int
}

// New returns an idle fake.
func New() *Recorder {
	return &Recorder{events: make(chan recorder.Event, 16)}
}

func (r *Recorder) Name() string { return "fake" }

func (r *Recorder) Init(p recorder.Params) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inits = append(r.inits, p)
	if r.InitErr != nil {
		return r.InitErr
	}
	r.params = &p
	return nil
}

func (r *Recorder) Start(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, path)
	if r.StartErr != nil {
		return r.StartErr
	}
	if r.params == nil || r.state != recorder.StateIdle {
		return fmt.Errorf("%w: start while %s", recorder.ErrInvalidState, r.state)
	}
	r.state = recorder.StateRecording
	r.path = path
	if !r.NoStarted {
		r.events <- recorder.Event{Kind: recorder.EventStarted, Path: path, At: time.Now()}
	}
	return nil
}

func (r *Recorder) Stop(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	if r.StopErr != nil {
		return r.StopErr
	}
	if r.state != recorder.StateRecording {
		return recorder.ErrNotRecording
	}
	r.state = recorder.StateStopping
	return nil
}

func (r *Recorder) State() recorder.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Recorder) Events() <-chan recorder.Event { return r.events }

func (r *Recorder) Close() error { return nil }

// SetState forces the reported state.
func (r *Recorder) SetState(s recorder.State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Finish completes a stop with a finished event.
func (r *Recorder) Finish() {
	r.mu.Lock()
	path := r.path
	r.state = recorder.StateIdle
	r.mu.Unlock()
	r.events <- recorder.Event{Kind: recorder.EventFinished, Path: path, At: time.Now()}
}

// Fail ends the session with an error event.
func (r *Recorder) Fail(reason string) {
	r.mu.Lock()
	path := r.path
	r.state = recorder.StateIdle
	r.mu.Unlock()
	r.events <- recorder.Event{Kind: recorder.EventError, Path: path, Reason: reason, At: time.Now()}
}

// Inits returns every Params passed to Init.
func (r *Recorder) Inits() []recorder.Params {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorder.Params(nil), r.inits...)
}

// Starts returns every path passed to Start.
func (r *Recorder) Starts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.starts...)
}

// Stops counts Stop calls.
func (r *Recorder) Stops() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stops
}
