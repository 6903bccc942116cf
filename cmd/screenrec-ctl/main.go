// Command screenrec-ctl controls a running screenrec-core through its
// command spool and reads back its status.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tiroq/screenrec/internal/ipc"
)

var (
	ipcDir       string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "screenrec-ctl",
	Short: "Control the screenrec-core screen recorder",
	Long: `screenrec-ctl sends control commands to a running screenrec-core
and shows its status.

Start or stop a recording with 'screenrec-ctl toggle', flip the pointer
overlay with 'screenrec-ctl touches', and remove a finished recording with
'screenrec-ctl delete <path>'.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(verboseLevel)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&ipcDir, "dir", ipc.DefaultDir(), "daemon state directory")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug")

	rootCmd.AddCommand(toggleCmd)
	rootCmd.AddCommand(touchesCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(shareCmd)
	rootCmd.AddCommand(quitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(configCmd)
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	slogLevel := slog.LevelInfo
	if level >= 1 {
		slogLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(handler))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
