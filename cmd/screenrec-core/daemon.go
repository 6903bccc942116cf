package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tiroq/screenrec/internal/controller"
	"github.com/tiroq/screenrec/internal/gateway"
	"github.com/tiroq/screenrec/internal/ipc"
	"github.com/tiroq/screenrec/internal/settings"
)

// statusWriter mirrors the controller and the last handled command into
// status.json for screenrec-ctl.
type statusWriter struct {
	dir     string
	backend string
	ctrl    *controller.Controller
	store   *settings.Store

	mu            sync.Mutex
	lastAction    string
	lastError     string
	lastCommandID string
}

func (w *statusWriter) onStateChange(controller.State) {
	w.write()
}

func (w *statusWriter) onHandled(s gateway.Signal, err error) {
	w.mu.Lock()
	w.lastAction = string(s.Kind)
	w.lastError = ""
	if err != nil {
		w.lastError = err.Error()
	}
	if s.RequestID != "" {
		w.lastCommandID = s.RequestID
	}
	w.mu.Unlock()
	w.write()
}

// reject records a command that never reached the gateway so a waiting
// client still gets its reply.
func (w *statusWriter) reject(cmd ipc.Command, err error) {
	w.mu.Lock()
	w.lastAction = string(cmd.Action)
	w.lastError = err.Error()
	w.lastCommandID = cmd.ID
	w.mu.Unlock()
	w.write()
}

func (w *statusWriter) write() {
	snap := w.snapshot()
	if err := ipc.WriteStatus(w.dir, snap); err != nil {
		errLog.Printf("Failed to write status: %v", err)
	}
}

func (w *statusWriter) snapshot() *ipc.StatusSnapshot {
	status := &ipc.StatusSnapshot{
		State:     w.ctrl.State().String(),
		Backend:   w.backend,
		PID:       os.Getpid(),
		Timestamp: time.Now(),
	}
	if sess, ok := w.ctrl.Session(); ok {
		status.File = sess.Path
		started := sess.StartedAt
		status.StartedAt = &started
	} else if last, ok := w.ctrl.LastSession(); ok {
		status.File = last.Path
	}
	if snap, err := w.store.Snapshot(); err == nil {
		status.ShowTouches = snap.ShowTouches
	}

	w.mu.Lock()
	status.LastAction = w.lastAction
	status.LastError = w.lastError
	status.LastCommandID = w.lastCommandID
	w.mu.Unlock()
	return status
}

// commandSignal converts a spooled command into a gateway signal.
func commandSignal(cmd ipc.Command) (gateway.Signal, error) {
	if !cmd.Action.Valid() {
		return gateway.Signal{}, fmt.Errorf("unknown command %q", cmd.Action)
	}
	return gateway.Signal{
		Kind:      gateway.Kind(cmd.Action),
		Path:      cmd.Path,
		RequestID: cmd.ID,
	}, nil
}

// submitCommand forwards cmd to the gateway, recording rejects in the status
// file.
func submitCommand(ctx context.Context, gw *gateway.Gateway, status *statusWriter, cmd ipc.Command) {
	outLog.Printf("Received command: %s (id=%s)", cmd.Action, cmd.ID)
	sig, err := commandSignal(cmd)
	if err == nil {
		err = gw.Submit(ctx, sig)
	}
	if err != nil {
		errLog.Printf("Command %s rejected: %v", cmd.ID, err)
		status.reject(cmd, err)
	}
}

// stopForShutdown stops an active recording and waits for it to finalize,
// bounded by timeout when positive.
func stopForShutdown(ctrl *controller.Controller, timeout time.Duration) error {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if ctrl.State() == controller.StateRecording {
		outLog.Println("[SHUTDOWN] Stopping active recording...")
		if err := ctrl.Toggle(ctx); err != nil {
			return err
		}
	}
	return ctrl.WaitIdle(ctx)
}
