package l5tracks

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/scantrack/internal/config"
	"github.com/banshee-data/scantrack/internal/lidar"
	"github.com/banshee-data/scantrack/internal/lidar/l4perception"
)

// TrackState represents the lifecycle state of a track.
type TrackState string

const (
	TrackActive  TrackState = "active"  // Matched recently, or missing for fewer than MaxMisses frames
	TrackRemoved TrackState = "removed" // Terminal; the identity is never reused
)

// TrackerConfig holds configuration parameters for the tracker.
type TrackerConfig struct {
	DistanceThresholdForMerge float64       // Maximum association distance (mm)
	MaxMisses                 int           // Consecutive missed frames before removal
	MaxTracks                 int           // Spawn cap on active tracks, 0 for unlimited
	UseSmoothing              bool          // Critically damped smoothing; false replaces directly
	SmoothTime                time.Duration // Damping time constant
	MaxSmoothSpeed            float64       // Damping speed cap (mm/s), +Inf for none
	DefaultWidth              float64       // Width when no size is estimated (mm)
	DefaultFrameInterval      time.Duration // dt used for the first update
	MaxFrameInterval          time.Duration // Upper clamp on dt between updates
}

// DefaultTrackerConfig returns the built-in tracker defaults.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfigFromTuning(config.EmptyTuningConfig())
}

// TrackerConfigFromTuning builds a TrackerConfig from a loaded TuningConfig.
func TrackerConfigFromTuning(cfg *config.TuningConfig) TrackerConfig {
	return TrackerConfig{
		DistanceThresholdForMerge: cfg.GetDistanceThresholdForMerge(),
		MaxMisses:                 cfg.GetMissingFrameLimit(),
		MaxTracks:                 cfg.GetMaxTracks(),
		UseSmoothing:              cfg.GetUseSmoothing(),
		SmoothTime:                cfg.GetSmoothTime(),
		MaxSmoothSpeed:            cfg.GetMaxSmoothSpeed(),
		DefaultWidth:              cfg.GetDefaultWidth(),
		DefaultFrameInterval:      cfg.GetFrameInterval(),
		MaxFrameInterval:          cfg.GetMaxFrameInterval(),
	}
}

// TrackedObject represents a single tracked object in the tracker.
type TrackedObject struct {
	// Identity
	TrackID string
	State   TrackState

	// Kinematics (sensor frame, mm)
	Position    r2.Vec // smoothed
	RawPosition r2.Vec // last associated detection
	Delta       r2.Vec // change in smoothed position at the last match
	Width       float64

	// Lifecycle
	CreatedAt        time.Time
	LastSeen         time.Time
	Misses           int // Consecutive frames without a match
	ObservationCount int

	velocity r2.Vec // SmoothDamp state
}

// Age returns how long the object has existed at now.
func (o *TrackedObject) Age(now time.Time) time.Duration {
	return now.Sub(o.CreatedAt)
}

// Tracker links detections across frames. Tracks are held in creation
// order, which is also the association order.
type Tracker struct {
	config TrackerConfig

	tracks     []*TrackedObject
	lastUpdate time.Time

	// Lifetime counters (reset via Reset)
	TracksCreated int
	TracksLost    int

	// lastAssociations is indexed by detection; each element is the trackID
	// the detection was matched to or spawned, or "" when dropped by MaxTracks.
	lastAssociations []string

	listeners listenerSet

	mu sync.RWMutex
}

// NewTracker creates a new tracker with the specified configuration.
func NewTracker(cfg TrackerConfig) *Tracker {
	return &Tracker{config: cfg.normalized()}
}

// normalized raises MaxMisses to 1 so a track survives its spawn frame.
func (c TrackerConfig) normalized() TrackerConfig {
	if c.MaxMisses < 1 {
		c.MaxMisses = 1
	}
	return c
}

// Config returns a copy of the active configuration.
func (t *Tracker) Config() TrackerConfig {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.config
}

// UpdateConfig applies fn to a copy of the configuration under the tracker
// lock and installs the normalized result.
func (t *Tracker) UpdateConfig(fn func(*TrackerConfig)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cfg := t.config
	fn(&cfg)
	t.config = cfg.normalized()
}

// Reset clears all tracks and counters. Listeners stay subscribed.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = nil
	t.lastUpdate = time.Time{}
	t.lastAssociations = nil
	t.TracksCreated = 0
	t.TracksLost = 0
}

// Update associates this frame's detections with the active tracks and
// returns the lifecycle events it caused: created events first, in
// detection order, then lost events, in track order. Listeners receive the
// same events before Update returns.
func (t *Tracker) Update(detections []l4perception.Detection, now time.Time) []Event {
	events := t.update(detections, now)
	t.listeners.notify(events)
	return events
}

func (t *Tracker) update(detections []l4perception.Detection, now time.Time) []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	dt := t.frameInterval(now)
	t.lastUpdate = now

	claimed := make([]bool, len(detections))
	t.lastAssociations = make([]string, len(detections))
	unclaimed := len(detections)

	// Step 1-3: each track, in creation order, takes its nearest unclaimed
	// detection if it is within the merge threshold; otherwise it ages.
	for _, track := range t.tracks {
		if unclaimed == 0 {
			track.Misses++
			continue
		}
		best, bestDist := -1, math.Inf(1)
		for j := range detections {
			if claimed[j] {
				continue
			}
			if d := r2.Norm(r2.Sub(detections[j].Position, track.Position)); d < bestDist {
				best, bestDist = j, d
			}
		}
		if best < 0 || bestDist > t.config.DistanceThresholdForMerge {
			track.Misses++
			continue
		}
		claimed[best] = true
		unclaimed--
		t.lastAssociations[best] = track.TrackID
		t.match(track, detections[best], now, dt)
	}

	var events []Event

	// Step 4: spawn new tracks from unclaimed detections.
	active := len(t.tracks)
	for j, det := range detections {
		if claimed[j] {
			continue
		}
		if t.config.MaxTracks > 0 && active >= t.config.MaxTracks {
			lidar.Diagf("[Tracker] max tracks %d reached, dropping detection at step %d", t.config.MaxTracks, det.Index)
			continue
		}
		track := t.spawn(det, now)
		t.lastAssociations[j] = track.TrackID
		active++
		events = append(events, newEvent(EventCreated, track, now))
	}

	// Step 5: remove tracks whose miss count reached the limit.
	kept := t.tracks[:0]
	for _, track := range t.tracks {
		if track.Misses < t.config.MaxMisses {
			kept = append(kept, track)
			continue
		}
		track.State = TrackRemoved
		t.TracksLost++
		events = append(events, newEvent(EventLost, track, now))
		lidar.Opsf("[Tracker] track %s lost after %d missed frames (age %s)", track.TrackID, track.Misses, track.Age(now).Round(time.Millisecond))
	}
	for i := len(kept); i < len(t.tracks); i++ {
		t.tracks[i] = nil
	}
	t.tracks = kept

	lidar.Tracef("[Tracker] detections=%d active=%d events=%d dt=%.3fs", len(detections), len(t.tracks), len(events), dt)
	return events
}

// frameInterval returns dt in seconds since the previous update, clamped to
// (0, MaxFrameInterval]. The first update and non-increasing timestamps use
// DefaultFrameInterval.
func (t *Tracker) frameInterval(now time.Time) float64 {
	if t.lastUpdate.IsZero() || !now.After(t.lastUpdate) {
		return t.config.DefaultFrameInterval.Seconds()
	}
	dt := now.Sub(t.lastUpdate)
	if t.config.MaxFrameInterval > 0 && dt > t.config.MaxFrameInterval {
		dt = t.config.MaxFrameInterval
	}
	return dt.Seconds()
}

func (t *Tracker) match(track *TrackedObject, det l4perception.Detection, now time.Time, dt float64) {
	prev := track.Position
	if t.config.UseSmoothing {
		next := SmoothDamp(prev, det.Position, &track.velocity, t.config.SmoothTime.Seconds(), t.config.MaxSmoothSpeed, dt)
		if isFinite(next) {
			track.Position = next
		} else {
			track.Position, track.velocity = det.Position, r2.Vec{}
		}
	} else {
		track.Position = det.Position
	}
	track.Delta = r2.Sub(track.Position, prev)
	track.RawPosition = det.Position
	if det.Size > 0 {
		track.Width = det.Size
	}
	track.Misses = 0
	track.LastSeen = now
	track.ObservationCount++
}

func (t *Tracker) spawn(det l4perception.Detection, now time.Time) *TrackedObject {
	width := t.config.DefaultWidth
	if det.Size > 0 {
		width = det.Size
	}
	track := &TrackedObject{
		TrackID:          uuid.NewString(),
		State:            TrackActive,
		Position:         det.Position,
		RawPosition:      det.Position,
		Width:            width,
		CreatedAt:        now,
		LastSeen:         now,
		ObservationCount: 1,
	}
	t.tracks = append(t.tracks, track)
	t.TracksCreated++
	lidar.Diagf("[Tracker] track %s created at (%.0f, %.0f)", track.TrackID, det.Position.X, det.Position.Y)
	return track
}

func isFinite(v r2.Vec) bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0)
}

// GetActiveTracks returns copies of the active tracks in creation order.
func (t *Tracker) GetActiveTracks() []TrackedObject {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TrackedObject, len(t.tracks))
	for i, track := range t.tracks {
		out[i] = *track
	}
	return out
}

// GetTrack returns a copy of the active track with the given ID.
func (t *Tracker) GetTrack(trackID string) (TrackedObject, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, track := range t.tracks {
		if track.TrackID == trackID {
			return *track, true
		}
	}
	return TrackedObject{}, false
}

// TrackCounts summarises the tracker state.
type TrackCounts struct {
	Active  int `json:"active"`
	Created int `json:"created"`
	Lost    int `json:"lost"`
}

// GetTrackCount returns the number of active tracks and lifetime totals.
func (t *Tracker) GetTrackCount() TrackCounts {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return TrackCounts{Active: len(t.tracks), Created: t.TracksCreated, Lost: t.TracksLost}
}

// GetLastAssociations returns, per detection of the most recent Update, the
// trackID that consumed it.
func (t *Tracker) GetLastAssociations() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.lastAssociations...)
}
