// Command scantrack runs the 2D rangefinder tracking pipeline and its
// maintenance tools.
package main

import (
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/scantrack/internal/lidar"
	"github.com/banshee-data/scantrack/internal/version"
)

var (
	flagDB    string
	flagDiag  bool
	flagTrace bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "scantrack",
		Short: "Track objects in front of a 2D scanning rangefinder",
		Long: `scantrack reads range scans from a SCIP 2.0 sensor (serial, TCP or a
recorded session), detects objects inside a configured area, tracks them
across frames and serves the result over HTTP and websocket.`,
		Version:      version.String(),
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configureLogging(os.Stderr)
		},
	}

	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "scantrack.db", "Path to the SQLite track database")
	rootCmd.PersistentFlags().BoolVar(&flagDiag, "diag", false, "Enable the diagnostic log stream")
	rootCmd.PersistentFlags().BoolVar(&flagTrace, "trace", false, "Enable the per-frame trace log stream")

	rootCmd.AddCommand(newServeCmd(), newMigrateCmd(), newPlotCmd())
	return rootCmd
}

// configureLogging routes the ops stream to w always, and the diag and
// trace streams only when requested.
func configureLogging(w io.Writer) {
	writers := lidar.LogWriters{Ops: w}
	if flagDiag {
		writers.Diag = w
	}
	if flagTrace {
		writers.Trace = w
	}
	lidar.SetLogWriters(writers)
	log.SetOutput(w)
}
