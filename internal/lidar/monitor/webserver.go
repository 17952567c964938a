// Package monitor serves the HTTP view of a running scan pipeline: JSON
// snapshots of the latest frame, detections and tracks, and quick echarts
// debug pages.
package monitor

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/banshee-data/scantrack/internal/config"
	"github.com/banshee-data/scantrack/internal/lidar"
	"github.com/banshee-data/scantrack/internal/lidar/l2frames"
	"github.com/banshee-data/scantrack/internal/lidar/pipeline"
	sqlite "github.com/banshee-data/scantrack/internal/lidar/storage/sqlite"
	"github.com/banshee-data/scantrack/internal/version"
)

// PipelineView is the read side of a pipeline. *pipeline.Pipeline
// satisfies it.
type PipelineView interface {
	Snapshot() pipeline.Result
	Geometry() *l2frames.Geometry
	Stats() pipeline.Stats
}

var _ PipelineView = (*pipeline.Pipeline)(nil)

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address  string
	Pipeline PipelineView
	Store    *sqlite.Store        // optional: enables track history
	Tuning   *config.TuningConfig // optional: served at /api/scan/params

	// Attach registers additional routes (admin pages, websocket stream)
	// on the server mux.
	Attach []func(*http.ServeMux)
}

// WebServer handles the HTTP interface for monitoring the scan pipeline.
type WebServer struct {
	address  string
	pipeline PipelineView
	store    *sqlite.Store
	tuning   *config.TuningConfig
	server   *http.Server
	mux      *http.ServeMux
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(cfg WebServerConfig) *WebServer {
	ws := &WebServer{
		address:  cfg.Address,
		pipeline: cfg.Pipeline,
		store:    cfg.Store,
		tuning:   cfg.Tuning,
	}
	ws.mux = ws.setupRoutes()
	for _, attach := range cfg.Attach {
		attach(ws.mux)
	}
	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           ws.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return ws
}

// Handler returns the server's routes.
func (ws *WebServer) Handler() http.Handler { return ws.mux }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (ws *WebServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	log.Printf("HTTP server routine stopped")
	return nil
}

func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/scan/frame", ws.handleFrame)
	mux.HandleFunc("/api/scan/detections", ws.handleDetections)
	mux.HandleFunc("/api/scan/tracks", ws.handleTracks)
	mux.HandleFunc("/api/scan/tracks/history", ws.handleTrackHistory)
	mux.HandleFunc("/api/scan/geometry", ws.handleGeometry)
	mux.HandleFunc("/api/scan/params", ws.handleParams)
	mux.HandleFunc("/api/scan/stats", ws.handleStats)
	mux.HandleFunc("/debug/scan/range", ws.handleRangeChart)
	mux.HandleFunc("/debug/scan/tracks", ws.handleTrackChart)

	return mux
}

func (ws *WebServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		lidar.Diagf("[Monitor] JSON encoding error: %v", err)
	}
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	ws.writeJSON(w, status, map[string]string{"error": msg})
}

// requireGET rejects anything but GET and reports whether to continue.
func (ws *WebServer) requireGET(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ws.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Version})
}
