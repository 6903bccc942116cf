package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tiroq/screenrec/internal/diaglog"
)

// ffmpeg exits with 255 when it is interrupted and still finalizes the file.
const ffmpegInterruptedExitCode = 255

// FFmpegConfig describes how to launch ffmpeg on this host.
type FFmpegConfig struct {
	// BinaryPath defaults to "ffmpeg" on $PATH.
	BinaryPath string
	// Display is the X11 display number (linux) or the avfoundation screen
	// index (darwin).
	Display int
	// AudioSource is the PulseAudio source (linux) or avfoundation audio
	// device index (darwin) used when Params.RecordAudio is set.
	AudioSource string
	// StartupProbe is how long Start waits for an immediate ffmpeg failure.
	StartupProbe time.Duration
	// GOOS selects the capture input; defaults to runtime.GOOS.
	GOOS string
}

// FFmpegRecorder records the screen through a single ffmpeg child process.
// It is safe for concurrent use.
type FFmpegRecorder struct {
	mu sync.Mutex

	cfg    FFmpegConfig
	params *Params
	cmd    *exec.Cmd
	path   string
	state  State
	stderr *tailBuffer
	exited chan struct{}
	events chan Event

	// starting is set while Start probes the fresh process; the waiter does not
	// report an exit that Start is going to return synchronously.
	starting bool

	logger *diaglog.Logger
}

// NewFFmpegRecorder creates an idle recorder.
func NewFFmpegRecorder(cfg FFmpegConfig) *FFmpegRecorder {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "ffmpeg"
	}
	if cfg.StartupProbe <= 0 {
		cfg.StartupProbe = 250 * time.Millisecond
	}
	if cfg.GOOS == "" {
		cfg.GOOS = runtime.GOOS
	}
	if cfg.AudioSource == "" {
		cfg.AudioSource = "default"
	}
	return &FFmpegRecorder{
		cfg:    cfg,
		events: make(chan Event, 8),
	}
}

// Name returns the backend label used in logs and metadata.
func (fr *FFmpegRecorder) Name() string { return "ffmpeg" }

// SetLogger injects a diaglog.Logger.
func (fr *FFmpegRecorder) SetLogger(l *diaglog.Logger) {
	fr.mu.Lock()
	fr.logger = l
	fr.mu.Unlock()
}

// Init stores p for the next Start. It fails while a recording is active.
func (fr *FFmpegRecorder) Init(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	fr.mu.Lock()
	defer fr.mu.Unlock()
	if fr.state != StateIdle {
		return fmt.Errorf("%w: init while %s", ErrInvalidState, fr.state)
	}
	fr.params = &p
	return nil
}

// Start launches ffmpeg writing to path. The call returns once ffmpeg has
// survived the startup probe; EventStarted is then delivered on Events.
func (fr *FFmpegRecorder) Start(ctx context.Context, path string) error {
	fr.mu.Lock()
	if fr.state != StateIdle {
		state := fr.state
		fr.mu.Unlock()
		return fmt.Errorf("%w: start while %s", ErrInvalidState, state)
	}
	if fr.params == nil {
		fr.mu.Unlock()
		return fmt.Errorf("%w: start before init", ErrInvalidState)
	}

	args, err := ffmpegArgs(fr.cfg, *fr.params, path)
	if err != nil {
		fr.mu.Unlock()
		return err
	}

	cmd := exec.Command(fr.cfg.BinaryPath, args...)
	// own process group so every ffmpeg child is signaled together
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	fr.stderr = newTailBuffer(4096)
	cmd.Stderr = fr.stderr

	if err := cmd.Start(); err != nil {
		fr.mu.Unlock()
		return fmt.Errorf("failed to start ffmpeg process: %w", err)
	}

	fr.cmd = cmd
	fr.path = path
	fr.state = StateRecording
	fr.starting = true
	fr.exited = make(chan struct{})
	exited := fr.exited
	logger := fr.logger
	fr.mu.Unlock()

	logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentRecorder,
		Event:     diaglog.EventRecordingStart,
		Payload: map[string]interface{}{
			"binary": fr.cfg.BinaryPath,
			"args":   strings.Join(args, " "),
		},
	})

	go fr.waitForCommand(cmd, exited)

	probeErr := waitForChan(ctx, fr.cfg.StartupProbe, exited)

	fr.mu.Lock()
	select {
	case <-exited:
		// exited during the probe window; nothing has been reported yet
		tail := fr.stderr.String()
		fr.mu.Unlock()
		return fmt.Errorf("ffmpeg exited during startup: %s", lastLine(tail))
	default:
	}
	if errors.Is(probeErr, context.Canceled) || errors.Is(probeErr, context.DeadlineExceeded) {
		// starting stays set so the waiter swallows the kill
		fr.mu.Unlock()
		_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
		return fmt.Errorf("start aborted: %w", probeErr)
	}
	fr.starting = false
	fr.mu.Unlock()

	emit(fr.events, Event{Kind: EventStarted, Path: path})
	return nil
}

// Stop asks ffmpeg to finalize the file. Shutdown escalates from SIGINT to
// SIGKILL in the background; the outcome arrives on Events.
func (fr *FFmpegRecorder) Stop(ctx context.Context) error {
	fr.mu.Lock()
	if fr.state != StateRecording {
		fr.mu.Unlock()
		return ErrNotRecording
	}
	fr.state = StateStopping
	pgid := -fr.cmd.Process.Pid // negative PGID targets the whole group
	exited := fr.exited
	fr.mu.Unlock()

	go shutdownInPhases(pgid, exited, []shutdownPhase{
		{"interrupt", []unix.Signal{unix.SIGCONT, unix.SIGINT}, 10 * time.Second},
		{"terminate", []unix.Signal{unix.SIGTERM}, 2 * time.Second},
		{"kill", []unix.Signal{unix.SIGKILL}, 500 * time.Millisecond},
	})
	return nil
}

// State returns the current lifecycle state.
func (fr *FFmpegRecorder) State() State {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return fr.state
}

// Events returns the outcome channel. It is never closed.
func (fr *FFmpegRecorder) Events() <-chan Event { return fr.events }

// Close kills a running ffmpeg immediately. A partial file is left on disk.
func (fr *FFmpegRecorder) Close() error {
	fr.mu.Lock()
	cmd := fr.cmd
	state := fr.state
	fr.mu.Unlock()
	if state == StateIdle || cmd == nil || cmd.Process == nil {
		return nil
	}
	return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
}

// waitForCommand reaps the process and reports the outcome.
func (fr *FFmpegRecorder) waitForCommand(cmd *exec.Cmd, exited chan struct{}) {
	err := cmd.Wait()

	fr.mu.Lock()
	wasStopping := fr.state == StateStopping
	starting := fr.starting
	path := fr.path
	tail := fr.stderr.String()
	logger := fr.logger
	code := cmd.ProcessState.ExitCode()
	fr.state = StateIdle
	fr.cmd = nil
	close(exited)
	fr.mu.Unlock()

	logger.Log(diaglog.LogEntry{
		Component: diaglog.ComponentRecorder,
		Event:     diaglog.EventProcessExit,
		Payload:   map[string]interface{}{"exit_code": code, "stopping": wasStopping},
	})

	if starting {
		return
	}

	switch {
	case err == nil:
		emit(fr.events, Event{Kind: EventFinished, Path: path})
	case wasStopping && code == ffmpegInterruptedExitCode:
		emit(fr.events, Event{Kind: EventFinished, Path: path})
	default:
		reason := fmt.Sprintf("ffmpeg exited with code %d", code)
		if line := lastLine(tail); line != "" {
			reason += ": " + line
		}
		emit(fr.events, Event{Kind: EventError, Path: path, Reason: reason})
	}
}

// ffmpegArgs builds the platform-specific command line. Order matters:
// input options, inputs, then output options.
func ffmpegArgs(cfg FFmpegConfig, p Params, outputPath string) ([]string, error) {
	fps := strconv.Itoa(p.FrameRate)
	var args []string

	switch cfg.GOOS {
	case "linux":
		args = []string{
			"-f", "x11grab",
			"-framerate", fps,
			"-draw_mouse", boolFlag(p.ShowTouches),
		}
		if p.ShowTouches {
			args = append(args, "-show_region", "1")
		}
		args = append(args, "-i", fmt.Sprintf(":%d", cfg.Display))
		if p.RecordAudio {
			args = append(args, "-f", "pulse", "-i", cfg.AudioSource)
		}
	case "darwin":
		audio := "none"
		if p.RecordAudio {
			audio = cfg.AudioSource
		}
		args = []string{
			"-f", "avfoundation",
			"-framerate", fps,
			"-capture_cursor", boolFlag(p.ShowTouches),
			"-capture_mouse_clicks", boolFlag(p.ShowTouches),
			"-pixel_format", "nv12",
			"-i", fmt.Sprintf("%d:%s", cfg.Display, audio),
		}
	default:
		return nil, fmt.Errorf("unsupported platform: %s", cfg.GOOS)
	}

	args = append(args,
		"-vf", fmt.Sprintf("scale=%d:%d", p.Width, p.Height),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
	)
	if p.BitRate > 0 {
		args = append(args, "-b:v", strconv.Itoa(p.BitRate))
	}
	if p.RecordAudio {
		args = append(args, "-c:a", "aac")
	}
	if deg := p.Rotation * 90; deg != 0 {
		args = append(args, "-metadata:s:v:0", "rotate="+strconv.Itoa(deg))
	}
	args = append(args, "-y", outputPath)

	return args, nil
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

type shutdownPhase struct {
	name    string
	signals []unix.Signal
	timeout time.Duration
}

// shutdownInPhases signals the process group phase by phase until done closes.
func shutdownInPhases(pgid int, done <-chan struct{}, phases []shutdownPhase) {
	for _, phase := range phases {
		select {
		case <-done:
			return
		default:
		}
		for idx, sig := range phase.signals {
			_ = unix.Kill(pgid, sig) // process may already be gone
			if idx < len(phase.signals)-1 {
				time.Sleep(100 * time.Millisecond)
			}
		}
		if waitForChan(context.Background(), phase.timeout, done) == nil {
			return
		}
	}
}

// waitForChan returns nil if and only if the channel is closed
func waitForChan(ctx context.Context, timeout time.Duration, c <-chan struct{}) error {
	select {
	case <-c:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("process did not exit within %v timeout", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	if t == nil {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// lastLine returns the last non-empty line of s.
func lastLine(s string) string {
	lines := bytes.Split([]byte(strings.TrimSpace(s)), []byte("\n"))
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(string(lines[len(lines)-1]))
}
