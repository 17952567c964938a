package l5tracks

import (
	"time"

	"github.com/banshee-data/scantrack/internal/lidar/l4perception"
)

// TrackerInterface abstracts the tracking implementation so the pipeline
// can be driven with a test double or a replay harness.
type TrackerInterface interface {
	// Update processes one frame of detections and returns its events.
	Update(detections []l4perception.Detection, now time.Time) []Event

	// GetActiveTracks returns copies of the active tracks.
	GetActiveTracks() []TrackedObject

	// GetTrack returns a copy of an active track by ID.
	GetTrack(trackID string) (TrackedObject, bool)

	// GetTrackCount returns active and lifetime counts.
	GetTrackCount() TrackCounts

	// GetLastAssociations returns the detection-to-track mapping from the
	// most recent Update.
	GetLastAssociations() []string

	// Subscribe registers a lifecycle listener.
	Subscribe(l Listener) (unsubscribe func())

	// Reset clears all tracks.
	Reset()
}

var _ TrackerInterface = (*Tracker)(nil)
