package monitor

import (
	"net/http"
	"strconv"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/scantrack/internal/lidar/l2frames"
	"github.com/banshee-data/scantrack/internal/lidar/l5tracks"
)

// Position is a point in the sensor frame (mm, +Y forward).
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func position(v r2.Vec) Position { return Position{X: v.X, Y: v.Y} }

// FrameResponse is the latest conditioned frame.
type FrameResponse struct {
	Seq       uint64  `json:"seq"`
	Timestamp string  `json:"timestamp,omitempty"`
	Steps     int     `json:"steps"`
	Distances []int64 `json:"distances"`
}

// DetectionResponse is one detection of the latest frame.
type DetectionResponse struct {
	Index     int      `json:"index"`
	FirstStep int      `json:"first_step"`
	LastStep  int      `json:"last_step"`
	Distance  float64  `json:"distance"`
	Position  Position `json:"position"`
	Size      float64  `json:"size"`
}

// TrackResponse represents a track in JSON API responses.
type TrackResponse struct {
	TrackID          string   `json:"track_id"`
	State            string   `json:"state"`
	Position         Position `json:"position"`
	RawPosition      Position `json:"raw_position"`
	Delta            Position `json:"delta"`
	Width            float64  `json:"width"`
	Misses           int      `json:"misses"`
	ObservationCount int      `json:"observation_count"`
	AgeSeconds       float64  `json:"age_seconds"`
	FirstSeen        string   `json:"first_seen"`
	LastSeen         string   `json:"last_seen"`
}

// TracksListResponse is the JSON response for listing tracks.
type TracksListResponse struct {
	Tracks    []TrackResponse `json:"tracks"`
	Count     int             `json:"count"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// GeometryResponse describes the active direction and constraint tables.
type GeometryResponse struct {
	Steps              int        `json:"steps"`
	StepsPerRevolution int        `json:"steps_per_revolution"`
	FrontStep          int        `json:"front_step"`
	FirstStep          int        `json:"first_step"`
	CropMethod         string     `json:"crop_method"`
	MaxDistance        int64      `json:"max_detection_dist,omitempty"`
	RectWidth          float64    `json:"detect_rect_width,omitempty"`
	RectHeight         float64    `json:"detect_rect_height,omitempty"`
	Constraints        []int64    `json:"constraints"`
	Directions         []Position `json:"directions,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func trackResponse(t l5tracks.TrackedObject, now time.Time) TrackResponse {
	return TrackResponse{
		TrackID:          t.TrackID,
		State:            string(t.State),
		Position:         position(t.Position),
		RawPosition:      position(t.RawPosition),
		Delta:            position(t.Delta),
		Width:            t.Width,
		Misses:           t.Misses,
		ObservationCount: t.ObservationCount,
		AgeSeconds:       t.Age(now).Seconds(),
		FirstSeen:        formatTime(t.CreatedAt),
		LastSeen:         formatTime(t.LastSeen),
	}
}

func (ws *WebServer) handleFrame(w http.ResponseWriter, r *http.Request) {
	if !ws.requireGET(w, r) {
		return
	}
	res := ws.pipeline.Snapshot()
	distances := res.Conditioned
	if distances == nil {
		distances = []int64{}
	}
	ws.writeJSON(w, http.StatusOK, FrameResponse{
		Seq:       res.Seq,
		Timestamp: formatTime(res.Timestamp),
		Steps:     len(distances),
		Distances: distances,
	})
}

func (ws *WebServer) handleDetections(w http.ResponseWriter, r *http.Request) {
	if !ws.requireGET(w, r) {
		return
	}
	res := ws.pipeline.Snapshot()
	out := make([]DetectionResponse, 0, len(res.Detections))
	for _, d := range res.Detections {
		out = append(out, DetectionResponse{
			Index:     d.Index,
			FirstStep: d.Raw.First(),
			LastStep:  d.Raw.Last(),
			Distance:  d.Distance,
			Position:  position(d.Position),
			Size:      d.Size,
		})
	}
	ws.writeJSON(w, http.StatusOK, map[string]interface{}{
		"seq":        res.Seq,
		"timestamp":  formatTime(res.Timestamp),
		"detections": out,
		"count":      len(out),
	})
}

func (ws *WebServer) handleTracks(w http.ResponseWriter, r *http.Request) {
	if !ws.requireGET(w, r) {
		return
	}
	res := ws.pipeline.Snapshot()
	out := make([]TrackResponse, 0, len(res.Tracks))
	for _, t := range res.Tracks {
		out = append(out, trackResponse(t, res.Timestamp))
	}
	ws.writeJSON(w, http.StatusOK, TracksListResponse{
		Tracks:    out,
		Count:     len(out),
		Timestamp: formatTime(res.Timestamp),
	})
}

// handleTrackHistory lists persisted tracks.
// Query params:
//   - state (optional; "active" or "removed")
//   - limit (optional; default 100, max 1000)
func (ws *WebServer) handleTrackHistory(w http.ResponseWriter, r *http.Request) {
	if !ws.requireGET(w, r) {
		return
	}
	if ws.store == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "track persistence is not enabled")
		return
	}
	state := r.URL.Query().Get("state")
	if state != "" && state != string(l5tracks.TrackActive) && state != string(l5tracks.TrackRemoved) {
		ws.writeJSONError(w, http.StatusBadRequest, "invalid 'state' parameter")
		return
	}
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil || v <= 0 || v > 1000 {
			ws.writeJSONError(w, http.StatusBadRequest, "invalid 'limit' parameter")
			return
		}
		limit = v
	}

	tracks, err := ws.store.Tracks(state, limit)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ws.writeJSON(w, http.StatusOK, map[string]interface{}{
		"tracks": tracks,
		"count":  len(tracks),
	})
}

func (ws *WebServer) handleGeometry(w http.ResponseWriter, r *http.Request) {
	if !ws.requireGET(w, r) {
		return
	}
	g := ws.pipeline.Geometry()
	cfg := g.Config()
	resp := GeometryResponse{
		Steps:              g.Steps(),
		StepsPerRevolution: cfg.StepsPerRevolution,
		FrontStep:          cfg.FrontStep,
		FirstStep:          cfg.FirstStep,
		CropMethod:         string(cfg.Shape.Method),
		Constraints:        g.Constraints(),
	}
	switch cfg.Shape.Method {
	case l2frames.CropRadius:
		resp.MaxDistance = cfg.Shape.MaxDistance
	default:
		resp.RectWidth = cfg.Shape.Width
		resp.RectHeight = cfg.Shape.Height
	}
	if resp.Constraints == nil {
		resp.Constraints = []int64{}
	}
	if r.URL.Query().Get("directions") == "1" {
		for _, d := range g.Directions() {
			resp.Directions = append(resp.Directions, position(d))
		}
	}
	ws.writeJSON(w, http.StatusOK, resp)
}

func (ws *WebServer) handleParams(w http.ResponseWriter, r *http.Request) {
	if !ws.requireGET(w, r) {
		return
	}
	if ws.tuning == nil {
		ws.writeJSONError(w, http.StatusNotFound, "no tuning configuration loaded")
		return
	}
	ws.writeJSON(w, http.StatusOK, ws.tuning)
}

func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if !ws.requireGET(w, r) {
		return
	}
	res := ws.pipeline.Snapshot()
	stats := ws.pipeline.Stats()
	ws.writeJSON(w, http.StatusOK, map[string]interface{}{
		"frames":        stats.Frames,
		"skipped":       stats.Skipped,
		"active_tracks": len(res.Tracks),
		"last_seq":      res.Seq,
	})
}
