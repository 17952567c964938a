package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scantrack/internal/config"
	"github.com/banshee-data/scantrack/internal/lidar/l2frames"
	"github.com/banshee-data/scantrack/internal/lidar/pipeline"
	sqlite "github.com/banshee-data/scantrack/internal/lidar/storage/sqlite"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func scanWithObject(step int, distance int64) []int64 {
	d := make([]int64, 1440)
	for i := range d {
		d[i] = 7000
	}
	for i := step - 10; i <= step+10; i++ {
		d[i] = distance
	}
	return d
}

func newPipeline(t *testing.T, opts pipeline.Options) *pipeline.Pipeline {
	t.Helper()
	cfg := pipeline.DefaultConfig()
	cfg.Tracker.UseSmoothing = false
	p, err := pipeline.New(cfg, opts)
	require.NoError(t, err)
	return p
}

func processObject(t *testing.T, p *pipeline.Pipeline) {
	t.Helper()
	_, err := p.Process(l2frames.ScanFrame{Distances: scanWithObject(540, 2000), Timestamp: t0, Seq: 1})
	require.NoError(t, err)
}

func get(t *testing.T, ws *WebServer, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	ws.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

// ---------------------------------------------------------------------------
// Live snapshot endpoints
// ---------------------------------------------------------------------------

func TestHealth(t *testing.T) {
	t.Parallel()
	ws := NewWebServer(WebServerConfig{Pipeline: newPipeline(t, pipeline.Options{})})
	w := get(t, ws, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","version":"dev"}`, w.Body.String())
}

func TestEndpointsBeforeFirstFrame(t *testing.T) {
	t.Parallel()
	ws := NewWebServer(WebServerConfig{Pipeline: newPipeline(t, pipeline.Options{})})

	var frame FrameResponse
	w := get(t, ws, "/api/scan/frame")
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &frame)
	assert.Equal(t, 0, frame.Steps)
	assert.NotNil(t, frame.Distances)

	var tracks TracksListResponse
	decode(t, get(t, ws, "/api/scan/tracks"), &tracks)
	assert.Equal(t, 0, tracks.Count)

	var geo GeometryResponse
	decode(t, get(t, ws, "/api/scan/geometry"), &geo)
	assert.Equal(t, 0, geo.Steps)
	assert.Equal(t, "radius", geo.CropMethod)
	assert.NotNil(t, geo.Constraints)

	assert.Equal(t, http.StatusNotFound, get(t, ws, "/debug/scan/range").Code)
}

func TestEndpointsAfterFrame(t *testing.T) {
	t.Parallel()
	p := newPipeline(t, pipeline.Options{})
	processObject(t, p)
	ws := NewWebServer(WebServerConfig{Pipeline: p})

	t.Run("frame", func(t *testing.T) {
		t.Parallel()
		var frame FrameResponse
		decode(t, get(t, ws, "/api/scan/frame"), &frame)
		assert.Equal(t, uint64(1), frame.Seq)
		assert.Equal(t, 1440, frame.Steps)
		assert.Equal(t, int64(2000), frame.Distances[540])
		assert.Equal(t, "2026-03-01T12:00:00Z", frame.Timestamp)
	})

	t.Run("detections", func(t *testing.T) {
		t.Parallel()
		var body struct {
			Count      int                 `json:"count"`
			Detections []DetectionResponse `json:"detections"`
		}
		decode(t, get(t, ws, "/api/scan/detections"), &body)
		require.Equal(t, 1, body.Count)
		d := body.Detections[0]
		assert.Equal(t, 530, d.FirstStep)
		assert.Equal(t, 550, d.LastStep)
		assert.InDelta(t, 0, d.Position.X, 1e-6)
		assert.InDelta(t, 2000, d.Position.Y, 1e-6)
	})

	t.Run("tracks", func(t *testing.T) {
		t.Parallel()
		var tracks TracksListResponse
		decode(t, get(t, ws, "/api/scan/tracks"), &tracks)
		require.Equal(t, 1, tracks.Count)
		tr := tracks.Tracks[0]
		assert.NotEmpty(t, tr.TrackID)
		assert.Equal(t, "active", tr.State)
		assert.Equal(t, 1, tr.ObservationCount)
		assert.InDelta(t, 2000, tr.Position.Y, 1e-6)
	})

	t.Run("geometry", func(t *testing.T) {
		t.Parallel()
		var geo GeometryResponse
		decode(t, get(t, ws, "/api/scan/geometry?directions=1"), &geo)
		assert.Equal(t, 1440, geo.Steps)
		assert.Len(t, geo.Constraints, 1440)
		assert.Equal(t, int64(7000), geo.MaxDistance)
		require.Len(t, geo.Directions, 1440)
		assert.InDelta(t, 1, geo.Directions[540].Y, 1e-9)

		var bare GeometryResponse
		decode(t, get(t, ws, "/api/scan/geometry"), &bare)
		assert.Empty(t, bare.Directions)
	})

	t.Run("stats", func(t *testing.T) {
		t.Parallel()
		var stats map[string]interface{}
		decode(t, get(t, ws, "/api/scan/stats"), &stats)
		assert.Equal(t, 1.0, stats["frames"])
		assert.Equal(t, 1.0, stats["active_tracks"])
		assert.Equal(t, 1.0, stats["last_seq"])
	})

	t.Run("charts", func(t *testing.T) {
		t.Parallel()
		for _, path := range []string{"/debug/scan/range", "/debug/scan/tracks"} {
			w := get(t, ws, path)
			assert.Equal(t, http.StatusOK, w.Code, path)
			assert.Contains(t, w.Header().Get("Content-Type"), "text/html", path)
			assert.Contains(t, w.Body.String(), "echarts", path)
		}
	})
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()
	ws := NewWebServer(WebServerConfig{Pipeline: newPipeline(t, pipeline.Options{})})
	req := httptest.NewRequest(http.MethodPost, "/api/scan/tracks", nil)
	w := httptest.NewRecorder()
	ws.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

// ---------------------------------------------------------------------------
// Configuration and history
// ---------------------------------------------------------------------------

func TestParams(t *testing.T) {
	t.Parallel()
	p := newPipeline(t, pipeline.Options{})

	ws := NewWebServer(WebServerConfig{Pipeline: p})
	assert.Equal(t, http.StatusNotFound, get(t, ws, "/api/scan/params").Code)

	ws = NewWebServer(WebServerConfig{Pipeline: p, Tuning: config.EmptyTuningConfig()})
	w := get(t, ws, "/api/scan/params")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestTrackHistory(t *testing.T) {
	t.Parallel()

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()
		ws := NewWebServer(WebServerConfig{Pipeline: newPipeline(t, pipeline.Options{})})
		assert.Equal(t, http.StatusServiceUnavailable, get(t, ws, "/api/scan/tracks/history").Code)
	})

	t.Run("persisted", func(t *testing.T) {
		t.Parallel()
		db, err := sqlite.OpenMigrated(filepath.Join(t.TempDir(), "scan.db"))
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		store := sqlite.NewStore(db)

		p := newPipeline(t, pipeline.Options{Persistence: sqlite.NewRecorder(store)})
		processObject(t, p)
		ws := NewWebServer(WebServerConfig{Pipeline: p, Store: store})

		var body struct {
			Count  int                  `json:"count"`
			Tracks []sqlite.TrackRecord `json:"tracks"`
		}
		decode(t, get(t, ws, "/api/scan/tracks/history?state=active&limit=10"), &body)
		require.Equal(t, 1, body.Count)
		assert.Equal(t, "active", body.Tracks[0].State)

		decode(t, get(t, ws, "/api/scan/tracks/history?state=removed"), &body)
		assert.Equal(t, 0, body.Count)

		assert.Equal(t, http.StatusBadRequest, get(t, ws, "/api/scan/tracks/history?state=bogus").Code)
		assert.Equal(t, http.StatusBadRequest, get(t, ws, "/api/scan/tracks/history?limit=5000").Code)
		assert.Equal(t, http.StatusBadRequest, get(t, ws, "/api/scan/tracks/history?limit=x").Code)
	})
}

func TestAttach(t *testing.T) {
	t.Parallel()
	ws := NewWebServer(WebServerConfig{
		Pipeline: newPipeline(t, pipeline.Options{}),
		Attach: []func(*http.ServeMux){
			func(mux *http.ServeMux) {
				mux.HandleFunc("/extra", func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusTeapot)
				})
			},
		},
	})
	assert.Equal(t, http.StatusTeapot, get(t, ws, "/extra").Code)
}

// ---------------------------------------------------------------------------
// Trail plot
// ---------------------------------------------------------------------------

func TestPlotTrails(t *testing.T) {
	t.Parallel()
	db, err := sqlite.OpenMigrated(filepath.Join(t.TempDir(), "scan.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := sqlite.NewStore(db)

	p := newPipeline(t, pipeline.Options{Persistence: sqlite.NewRecorder(store)})
	for i, step := range []int{540, 542, 544, 546} {
		_, err := p.Process(l2frames.ScanFrame{
			Distances: scanWithObject(step, 2000),
			Timestamp: t0.Add(time.Duration(i) * 25 * time.Millisecond),
			Seq:       uint64(i + 1),
		})
		require.NoError(t, err)
	}

	out := filepath.Join(t.TempDir(), "plots", "trails.png")
	n, err := PlotTrails(store, out, TrailPlotOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.FileExists(t, out)

	n, err = PlotTrails(store, filepath.Join(t.TempDir(), "empty.png"), TrailPlotOptions{State: "removed"})
	require.NoError(t, err)
	assert.Zero(t, n)
}
