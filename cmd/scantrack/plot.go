package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/scantrack/internal/lidar/monitor"
	sqlite "github.com/banshee-data/scantrack/internal/lidar/storage/sqlite"
)

func newPlotCmd() *cobra.Command {
	var (
		out       string
		state     string
		maxTracks int
		maxPoints int
		sizeInch  float64
	)

	cmd := &cobra.Command{
		Use:   "plot",
		Short: "Render persisted track trails to an image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *sqlite.DB) error {
				n, err := monitor.PlotTrails(sqlite.NewStore(db), out, monitor.TrailPlotOptions{
					State:     state,
					MaxTracks: maxTracks,
					MaxPoints: maxPoints,
					Size:      vg.Length(sizeInch) * vg.Inch,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d track trails to %s\n", n, out)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "trails.png", "Output image (.png, .svg or .pdf)")
	cmd.Flags().StringVar(&state, "state", "", `Only plot tracks in this state ("active" or "removed")`)
	cmd.Flags().IntVar(&maxTracks, "tracks", 50, "Most recent tracks to plot")
	cmd.Flags().IntVar(&maxPoints, "points", 0, "Observations per track, 0 for all")
	cmd.Flags().Float64Var(&sizeInch, "size", 8, "Image width and height in inches")
	return cmd
}
