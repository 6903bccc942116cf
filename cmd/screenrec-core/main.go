package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/tiroq/screenrec/internal/config"
	"github.com/tiroq/screenrec/internal/controller"
	"github.com/tiroq/screenrec/internal/desktop"
	"github.com/tiroq/screenrec/internal/diaglog"
	"github.com/tiroq/screenrec/internal/display"
	"github.com/tiroq/screenrec/internal/gateway"
	"github.com/tiroq/screenrec/internal/ipc"
	"github.com/tiroq/screenrec/internal/notify"
	"github.com/tiroq/screenrec/internal/obsws"
	"github.com/tiroq/screenrec/internal/pidfile"
	"github.com/tiroq/screenrec/internal/recorder"
	"github.com/tiroq/screenrec/internal/settings"
	"github.com/tiroq/screenrec/internal/validation"
)

const (
	appName   = "Screen Recorder"
	logPrefix = "[screenrec-core]"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=..."
	Version = "dev"

	outLog *log.Logger
	errLog *log.Logger
)

func main() {
	// --export-diag: read log, write bundle, exit.
	if len(os.Args) > 1 && os.Args[1] == "--export-diag" {
		diaglog.Version = Version
		path, n, err := diaglog.Export(diaglog.DefaultPath(), ".")
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			if errors.Is(err, os.ErrNotExist) {
				fmt.Fprintln(os.Stderr, "hint: run with SCREENREC_DEBUG=true to enable logging")
				os.Exit(1)
			}
			os.Exit(2)
		}
		fmt.Printf("Wrote: %s (%d lines)\n", path, n)
		os.Exit(0)
	}

	// Recover from any panics and log them
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "PANIC in screenrec-core: %v\n", r)
			if outLog != nil {
				outLog.Printf("PANIC: %v", r)
			}
			if errLog != nil {
				errLog.Printf("PANIC: %v", r)
			}
			os.Exit(1)
		}
	}()

	if err := initLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	if err := run(); err != nil {
		errLog.Printf("%v", err)
		fmt.Fprintf(os.Stderr, "screenrec-core: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	outLog.Println("===========================================")
	outLog.Println("Starting Screenrec Core v" + Version + "...")
	outLog.Printf("PID: %d", os.Getpid())
	outLog.Printf("Timestamp: %s", time.Now().Format(time.RFC3339))
	outLog.Println("===========================================")

	// Check for duplicate instances
	pidFilePath := pidfile.GetPIDFilePath("screenrec-core")
	pf, err := pidfile.New(pidFilePath)
	if err != nil {
		errLog.Println("Another instance of screenrec-core may already be running.")
		errLog.Printf("If you're sure no other instance is running, remove: %s", pidFilePath)
		return fmt.Errorf("failed to create PID file: %w", err)
	}
	defer func() {
		outLog.Println("Cleaning up before exit...")
		if err := pf.Remove(); err != nil {
			errLog.Printf("Warning: failed to remove PID file: %v", err)
		}
	}()
	outLog.Printf("PID file created: %s (PID %d)", pidFilePath, os.Getpid())

	configPath := os.Getenv("SCREENREC_CONFIG")
	if configPath == "" {
		configPath = config.DefaultPath()
	}
	outLog.Printf("[STARTUP] Loading configuration from %s...", configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	outLog.Printf("[STARTUP] backend=%s output_root=%s notifier=%s", cfg.Backend, cfg.OutputRoot, cfg.Notifier)

	diag, err := diaglog.New(diaglog.DefaultPath())
	if err != nil {
		errLog.Printf("Warning: diagnostic log unavailable: %v", err)
		diag = diaglog.NewNoOp()
	}
	defer diag.Close()

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	rec, err := newRecorder(rootCtx, cfg, diag)
	if err != nil {
		return err
	}
	defer func() {
		if err := rec.Close(); err != nil {
			errLog.Printf("Warning: failed to close recorder: %v", err)
		}
	}()

	notifier, err := notify.New(cfg.Notifier, appName)
	if err != nil {
		return fmt.Errorf("notifications unavailable: %w", err)
	}
	defer notifier.Close()

	var indexer desktop.MediaIndexer = desktop.NopIndexer{}
	if idx, err := desktop.NewDBusIndexer(); err == nil {
		indexer = idx
	} else {
		errLog.Printf("Warning: media index rescans disabled: %v", err)
	}

	var cues desktop.CuePlayer = desktop.Silent{}
	if cfg.Cues {
		cues = desktop.NewSoundPlayer()
	}

	store := settings.NewStore(settings.DefaultPath())
	ctrl := controller.New(controller.Deps{
		Recorder: rec,
		Notifier: notifier,
		Settings: store,
		Display:  newDisplay(cfg),
		Cues:     cues,
		Logger:   diag,
	}, controller.Options{
		OutputRoot: cfg.OutputRoot,
		Defaults:   cfg.ControllerDefaults(),
		Version:    Version,
	})

	ipcDir := ipc.DefaultDir()
	status := &statusWriter{dir: ipcDir, backend: rec.Name(), ctrl: ctrl, store: store}
	ctrl.OnStateChange(status.onStateChange)
	status.write()

	quit := make(chan struct{}, 1)
	gw := gateway.New(gateway.Deps{
		Controller: ctrl,
		Settings:   store,
		Notifier:   notifier,
		Indexer:    indexer,
		Launcher:   desktop.NewLauncher(),
		Logger:     diag,
		OnHandled:  status.onHandled,
		OnQuit: func() {
			select {
			case quit <- struct{}{}:
			default:
			}
		},
	})

	// Recorder events outlive the inputs so a shutdown stop can finish.
	eventsCtx, cancelEvents := context.WithCancel(rootCtx)
	defer cancelEvents()
	go ctrl.Run(eventsCtx)

	gwCtx, cancelGateway := context.WithCancel(rootCtx)
	gwDone := make(chan struct{})
	go func() {
		defer close(gwDone)
		gw.Run(gwCtx)
	}()

	inputsCtx, cancelInputs := context.WithCancel(rootCtx)
	go gw.PumpActions(inputsCtx, notifier.Actions())

	watcher := &ipc.Watcher{Dir: ipcDir, PollInterval: cfg.CommandPoll, Logf: errLog.Printf}
	go func() {
		err := watcher.Run(inputsCtx, func(cmd ipc.Command) {
			submitCommand(inputsCtx, gw, status, cmd)
		})
		if err != nil && inputsCtx.Err() == nil {
			errLog.Printf("Command watcher stopped: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	outLog.Println("[STARTUP] Signal handlers registered (SIGINT, SIGTERM)")
	outLog.Printf("[RUNNING] Screenrec Core is running (commands: %s)", ipc.CommandsDir(ipcDir))

	select {
	case sig := <-sigChan:
		outLog.Printf("[SHUTDOWN] Received signal: %v", sig)
		diag.Log(diaglog.LogEntry{
			Component: diaglog.ComponentCore,
			Event:     diaglog.EventSignalReceived,
			Payload:   map[string]interface{}{"signal": sig.String()},
		})
	case <-quit:
		outLog.Println("[SHUTDOWN] Quit command received")
	}

	cancelInputs()
	cancelGateway()
	<-gwDone

	if err := stopForShutdown(ctrl, cfg.StopTimeout); err != nil {
		errLog.Printf("[SHUTDOWN] Recording did not finalize: %v", err)
	}
	if err := notifier.Cancel(context.Background()); err != nil {
		errLog.Printf("Warning: failed to withdraw notification: %v", err)
	}
	diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentCore,
		Event:     diaglog.EventProcessExit,
	})
	outLog.Println("[SHUTDOWN] Done")
	return nil
}

func newRecorder(ctx context.Context, cfg *config.Config, diag *diaglog.Logger) (recorder.Recorder, error) {
	switch cfg.Backend {
	case config.BackendOBS:
		outLog.Printf("[STARTUP] Connecting to OBS WebSocket at %s...", cfg.OBS.URL)
		client := obsws.NewClient(cfg.OBS.URL, cfg.OBS.Password)
		client.SetLogger(diag)
		if err := client.ConnectWithRetry(ctx); err != nil {
			errLog.Println("Please ensure OBS is running and WebSocket server is enabled")
			errLog.Println("  1. Open OBS Studio")
			errLog.Println("  2. Go to Tools > WebSocket Server Settings")
			errLog.Println("  3. Enable 'Enable WebSocket server'")
			return nil, fmt.Errorf("failed to connect to OBS: %w", err)
		}
		if obsVersion, wsVersion, err := client.GetVersion(ctx); err == nil {
			outLog.Printf("[STARTUP] Connected to OBS %s (WebSocket %s)", obsVersion, wsVersion)
			health := validation.CheckOBSHealth(obsVersion, wsVersion)
			outLog.Printf("[STARTUP] OBS Health: %s", health.Message)
			if !health.OK {
				errLog.Println("[STARTUP] WARNING: OBS compatibility check found issues:")
				for _, issue := range health.Issues {
					errLog.Printf("  - %s", issue)
				}
				for _, fix := range health.Fixes {
					errLog.Printf("  fix: %s", fix)
				}
				errLog.Println("Continuing anyway, but recording may not work properly.")
			}
		}
		rec := recorder.NewOBSRecorder(client)
		rec.SetLogger(diag)
		return rec, nil
	default:
		rec := recorder.NewFFmpegRecorder(recorder.FFmpegConfig{
			BinaryPath:  cfg.FFmpeg.Path,
			Display:     cfg.FFmpeg.Display,
			AudioSource: cfg.FFmpeg.AudioSource,
		})
		rec.SetLogger(diag)
		outLog.Printf("[STARTUP] Using ffmpeg recorder (%s)", cfg.FFmpeg.Path)
		return rec, nil
	}
}

// newDisplay prefers RandR and falls back to the configured static display.
func newDisplay(cfg *config.Config) display.Display {
	static := display.Static{Rot: cfg.Display.Rotation, Width: cfg.Display.Width, Height: cfg.Display.Height}
	if cfg.Display.X11 == "" {
		return static
	}
	x, err := display.NewX11(cfg.Display.X11)
	if err != nil {
		errLog.Printf("Warning: %v; using static display", err)
		return static
	}
	return x
}

func initLogging() error {
	logDir := "/tmp"

	// Rotate logs if they exceed 10MB
	outLogPath := filepath.Join(logDir, "screenrec-core.out.log")
	errLogPath := filepath.Join(logDir, "screenrec-core.err.log")

	if err := rotateLogIfNeeded(outLogPath, 10*1024*1024); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to rotate out log: %v\n", err)
	}
	if err := rotateLogIfNeeded(errLogPath, 10*1024*1024); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to rotate err log: %v\n", err)
	}

	outFile, err := os.OpenFile(outLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	errFile, err := os.OpenFile(errLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	outLog = log.New(outFile, logPrefix+" ", log.LstdFlags)
	errLog = log.New(errFile, logPrefix+" ERROR: ", log.LstdFlags)

	// Library packages log through the standard logger.
	log.SetOutput(outFile)
	log.SetPrefix(logPrefix + " ")
	return nil
}

// rotateLogIfNeeded renames logPath to logPath.old once it exceeds maxSize.
func rotateLogIfNeeded(logPath string, maxSize int64) error {
	info, err := os.Stat(logPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() < maxSize {
		return nil
	}

	oldPath := logPath + ".old"
	if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove old log: %w", err)
	}
	return os.Rename(logPath, oldPath)
}
