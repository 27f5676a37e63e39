//go:build linux && (amd64 || arm64)

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	v4l2q "github.com/mdella/go-v4l2q"
	"github.com/mdella/go-v4l2q/internal/logging"
)

// Persistent flags shared by every subcommand
var (
	devicePath string
	verbose    bool
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "v4l2q",
		Short: "Inspect and stream V4L2 devices",
		Long: `v4l2q drives the streaming I/O path of a V4L2 device: it negotiates
formats, allocates driver buffers, runs capture and memory-to-memory
loops and reports what the device did.`,
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logConfig := logging.DefaultConfig()
			if verbose {
				logConfig.Level = logging.LevelDebug
			}
			logger := logging.NewLogger(logConfig)
			logging.SetDefault(logger)
		},
	}

	cmd.PersistentFlags().StringVarP(&devicePath, "device", "d",
		v4l2q.DefaultDevicePath, "video device node")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable debug logging")

	cmd.AddCommand(newInfoCmd())
	cmd.AddCommand(newCaptureCmd())
	cmd.AddCommand(newEncodeCmd())

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// formatSize formats a byte count as a human-readable string
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	units := []string{"K", "M", "G", "T"}
	return fmt.Sprintf("%.1f %sB", float64(bytes)/float64(div), units[exp])
}
