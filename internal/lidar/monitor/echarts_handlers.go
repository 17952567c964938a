package monitor

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// handleRangeChart plots the latest conditioned frame against the
// constraint table, one point per step. Steps where the range dips below
// the constraint are what the clusterer sees as foreground.
func (ws *WebServer) handleRangeChart(w http.ResponseWriter, r *http.Request) {
	res := ws.pipeline.Snapshot()
	constraints := ws.pipeline.Geometry().Constraints()
	if len(res.Conditioned) == 0 || len(constraints) != len(res.Conditioned) {
		ws.writeJSONError(w, http.StatusNotFound, "no frame processed yet")
		return
	}

	x := make([]string, len(res.Conditioned))
	ranges := make([]opts.LineData, len(res.Conditioned))
	limits := make([]opts.LineData, len(constraints))
	for i := range res.Conditioned {
		x[i] = strconv.Itoa(i)
		ranges[i] = opts.LineData{Value: res.Conditioned[i]}
		limits[i] = opts.LineData{Value: constraints[i]}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Scan range", Width: "100%", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Conditioned range vs constraint", Subtitle: fmt.Sprintf("seq=%d detections=%d", res.Seq, len(res.Detections))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "step"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "mm"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(x).
		AddSeries("range", ranges, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)})).
		AddSeries("constraint", limits, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	ws.renderChart(w, line)
}

// handleTrackChart plots detections and tracks of the latest frame in the
// sensor frame.
func (ws *WebServer) handleTrackChart(w http.ResponseWriter, r *http.Request) {
	res := ws.pipeline.Snapshot()

	maxAbs := 1.0
	grow := func(x, y float64) {
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(x), math.Abs(y)))
	}

	dets := make([]opts.ScatterData, 0, len(res.Detections))
	for _, d := range res.Detections {
		grow(d.Position.X, d.Position.Y)
		dets = append(dets, opts.ScatterData{Value: []interface{}{d.Position.X, d.Position.Y}})
	}
	tracks := make([]opts.ScatterData, 0, len(res.Tracks))
	for _, t := range res.Tracks {
		grow(t.Position.X, t.Position.Y)
		tracks = append(tracks, opts.ScatterData{Name: t.TrackID, Value: []interface{}{t.Position.X, t.Position.Y}})
	}
	pad := maxAbs * 1.05

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Scan tracks", Width: "800px", Height: "800px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Detections and tracks", Subtitle: fmt.Sprintf("seq=%d tracks=%d", res.Seq, len(res.Tracks))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (mm)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (mm)", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("detections", dets, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
	scatter.AddSeries("tracks", tracks, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}))

	ws.renderChart(w, scatter)
}

type renderer interface {
	Render(w io.Writer) error
}

func (ws *WebServer) renderChart(w http.ResponseWriter, chart renderer) {
	var buf bytes.Buffer
	if err := chart.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
