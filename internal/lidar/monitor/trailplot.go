package monitor

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	sqlite "github.com/banshee-data/scantrack/internal/lidar/storage/sqlite"
)

// TrailPlotOptions selects which persisted tracks PlotTrails draws.
type TrailPlotOptions struct {
	State     string // "" for any state
	MaxTracks int    // most recent first; 0 for 50
	MaxPoints int    // per track; 0 for all
	Size      vg.Length
}

// PlotTrails draws the observation trail of each persisted track as a line
// in the sensor frame and saves it to path. The image format follows the
// file extension. It returns the number of tracks drawn.
func PlotTrails(store *sqlite.Store, path string, opts TrailPlotOptions) (int, error) {
	if opts.MaxTracks <= 0 {
		opts.MaxTracks = 50
	}
	if opts.Size <= 0 {
		opts.Size = 8 * vg.Inch
	}

	tracks, err := store.Tracks(opts.State, opts.MaxTracks)
	if err != nil {
		return 0, fmt.Errorf("failed to list tracks: %w", err)
	}

	p := plot.New()
	p.Title.Text = "Track trails"
	p.X.Label.Text = "X (mm)"
	p.Y.Label.Text = "Y (mm)"
	p.Add(plotter.NewGrid())

	origin, err := plotter.NewScatter(plotter.XYs{{X: 0, Y: 0}})
	if err != nil {
		return 0, err
	}
	origin.GlyphStyle.Shape = draw.CrossGlyph{}
	p.Add(origin)
	p.Legend.Add("sensor", origin)

	drawn := 0
	for i, tr := range tracks {
		obs, err := store.TrackObservations(tr.TrackID, opts.MaxPoints)
		if err != nil {
			return drawn, fmt.Errorf("failed to load observations for %s: %w", tr.TrackID, err)
		}
		if len(obs) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(obs))
		for j, o := range obs {
			pts[j] = plotter.XY{X: o.X, Y: o.Y}
		}

		line, err := plotter.NewLine(pts)
		if err != nil {
			return drawn, fmt.Errorf("failed to build trail for %s: %w", tr.TrackID, err)
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)

		start, err := plotter.NewScatter(pts[:1])
		if err != nil {
			return drawn, err
		}
		start.GlyphStyle.Color = line.Color
		start.GlyphStyle.Shape = draw.CircleGlyph{}

		p.Add(line, start)
		p.Legend.Add(shortID(tr.TrackID), line)
		drawn++
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return drawn, err
		}
	}
	if err := p.Save(opts.Size, opts.Size, path); err != nil {
		return drawn, fmt.Errorf("failed to save plot: %w", err)
	}
	return drawn, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
