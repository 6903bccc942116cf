package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tiroq/screenrec/internal/config"
	"github.com/tiroq/screenrec/internal/ipc"
	"github.com/tiroq/screenrec/internal/pidfile"
	"github.com/tiroq/screenrec/internal/settings"
)

var (
	waitReply   bool
	waitTimeout time.Duration
)

var toggleCmd = &cobra.Command{
	Use:   "toggle",
	Short: "Start recording, or stop the active recording",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(cmd.OutOrStdout(), ipc.Command{Action: ipc.ActionToggle})
	},
}

var touchesCmd = &cobra.Command{
	Use:   "touches",
	Short: "Toggle the show-touches setting",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(cmd.OutOrStdout(), ipc.Command{Action: ipc.ActionShowTouches})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <path>",
	Short: "Delete a finished recording",
	Long: `Delete a finished recording and dismiss its notification.

Only files inside the daemon's recordings folder (<output_root>/ScreenRecorder)
are deleted. Any other path is refused; the notification is still dismissed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendPath(cmd.OutOrStdout(), ipc.ActionDelete, args[0])
	},
}

var openCmd = &cobra.Command{
	Use:   "open <path>",
	Short: "Open a recording in the default viewer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendPath(cmd.OutOrStdout(), ipc.ActionOpen, args[0])
	},
}

var shareCmd = &cobra.Command{
	Use:   "share <path>",
	Short: "Copy a recording to the clipboard",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendPath(cmd.OutOrStdout(), ipc.ActionShare, args[0])
	},
}

var quitCmd = &cobra.Command{
	Use:   "quit",
	Short: "Stop the daemon, finalizing any active recording",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(cmd.OutOrStdout(), ipc.Command{Action: ipc.ActionQuit})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printStatus(cmd.OutOrStdout())
	},
}

func init() {
	for _, c := range []*cobra.Command{toggleCmd, touchesCmd, deleteCmd, openCmd, shareCmd, quitCmd} {
		c.Flags().BoolVarP(&waitReply, "wait", "w", false, "wait until the daemon has handled the command")
		c.Flags().DurationVar(&waitTimeout, "timeout", 10*time.Second, "how long --wait blocks")
	}
}

func sendPath(out io.Writer, action ipc.Action, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	return send(out, ipc.Command{Action: action, Path: abs})
}

func send(out io.Writer, cmd ipc.Command) error {
	if _, running := pidfile.Running(pidfile.GetPIDFilePath("screenrec-core")); !running {
		slog.Warn("screenrec-core does not appear to be running; the command stays queued")
	}
	cmd, err := ipc.WriteCommand(ipcDir, cmd)
	if err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}
	slog.Debug("command queued", "id", cmd.ID, "action", cmd.Action, "path", cmd.Path)
	if !waitReply {
		fmt.Fprintf(out, "Sent %s\n", cmd.Action)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	status, err := ipc.WaitForCommand(ctx, ipcDir, cmd.ID, 100*time.Millisecond)
	if err != nil {
		return fmt.Errorf("no reply for %s: %w", cmd.Action, err)
	}
	if status.LastError != "" {
		return fmt.Errorf("%s failed: %s", cmd.Action, status.LastError)
	}
	fmt.Fprintf(out, "%s handled, state %s\n", cmd.Action, status.State)
	return nil
}

func printStatus(out io.Writer) error {
	pid, running := pidfile.Running(pidfile.GetPIDFilePath("screenrec-core"))
	status, err := ipc.ReadStatus(ipcDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(out, "screenrec-core: no status yet")
			return nil
		}
		return fmt.Errorf("failed to read status: %w", err)
	}

	if running {
		fmt.Fprintf(out, "Daemon:        running (PID %d)\n", pid)
	} else {
		fmt.Fprintln(out, "Daemon:        not running (status may be stale)")
	}
	fmt.Fprintf(out, "State:         %s\n", status.State)
	fmt.Fprintf(out, "Backend:       %s\n", status.Backend)
	fmt.Fprintf(out, "Show touches:  %v\n", status.ShowTouches)
	if status.File != "" {
		fmt.Fprintf(out, "File:          %s\n", status.File)
	}
	if status.StartedAt != nil {
		fmt.Fprintf(out, "Recording for: %s\n", time.Since(*status.StartedAt).Round(time.Second))
	}
	if status.LastAction != "" {
		fmt.Fprintf(out, "Last action:   %s\n", status.LastAction)
	}
	if status.LastError != "" {
		fmt.Fprintf(out, "Last error:    %s\n", status.LastError)
	}
	fmt.Fprintf(out, "Updated:       %s\n", status.Timestamp.Format(time.RFC3339))
	return nil
}

var settingsFile string

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Read and change recording settings",
	Long: `Recording settings are read fresh at every start:
  output_dimensions  "<width>x<height>", empty for the default
  bitrate            bits per second, 0 for the default
  frame_rate         frames per second, 0 for the default
  record_audio       true or false
  show_touches       true or false`,
}

var settingsGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Print one setting or all of them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := settings.NewStore(settingsFile)
		if len(args) == 1 {
			v, err := store.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		}
		snap, err := store.Snapshot()
		if err != nil {
			return err
		}
		values := snap.Map()
		for _, k := range settings.Keys() {
			fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", k, values[k])
		}
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := settings.NewStore(settingsFile).Set(args[0], args[1]); err != nil {
			return err
		}
		slog.Debug("setting updated", "key", args[0], "value", args[1], "file", settingsFile)
		return nil
	},
}

var configFile string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective daemon configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		out, err := cfg.YAML()
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	settingsCmd.PersistentFlags().StringVar(&settingsFile, "file", settings.DefaultPath(), "settings file")
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)

	configCmd.Flags().StringVar(&configFile, "config", config.DefaultPath(), "config file")
}
