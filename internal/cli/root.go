// Package cli wires the recorder together behind a cobra command tree.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/chiba-lab/3DTracker/internal/version"
)

func NewRootCmd() *cobra.Command {
	var debug bool

	rootCmd := &cobra.Command{
		Use:   "quadcam",
		Short: "Synchronized multi-camera video recorder",
		Long: "Records up to four cameras to disk at a fixed, shared output rate.\n" +
			"Recording is either trigger-gated (start/stop edges on digital lines\n" +
			"published over MQTT) or runs for a fixed duration.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})))
		},
	}

	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.Full() + "\n")

	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(NewRecordCmd())

	return rootCmd
}
