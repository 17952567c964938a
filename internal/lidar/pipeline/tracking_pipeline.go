package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/scantrack/internal/config"
	"github.com/banshee-data/scantrack/internal/lidar"
	"github.com/banshee-data/scantrack/internal/lidar/l2frames"
	"github.com/banshee-data/scantrack/internal/lidar/l3condition"
	"github.com/banshee-data/scantrack/internal/lidar/l4perception"
	"github.com/banshee-data/scantrack/internal/lidar/l5tracks"
	"github.com/banshee-data/scantrack/internal/timeutil"
)

// Config gathers the per-layer configuration.
type Config struct {
	Geometry    l2frames.GeometryConfig
	Conditioner l3condition.ConditionerConfig
	Clusterer   l4perception.Clusterer
	Estimator   l4perception.Estimator
	Tracker     l5tracks.TrackerConfig
}

// DefaultConfig returns the built-in defaults for every layer.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyTuningConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		Geometry:    l2frames.GeometryConfigFromTuning(cfg),
		Conditioner: l3condition.ConditionerConfigFromTuning(cfg),
		Clusterer:   l4perception.ClustererFromTuning(cfg),
		Estimator:   l4perception.EstimatorFromTuning(cfg),
		Tracker:     l5tracks.TrackerConfigFromTuning(cfg),
	}
}

// Options holds optional collaborators. Zero values are replaced with
// defaults: a new Tracker, the real clock, and no sinks.
type Options struct {
	Tracker     l5tracks.TrackerInterface // Use interface for dependency injection and testing
	Persistence PersistenceSink
	Publish     PublishSink
	Clock       timeutil.Clock // stamps frames that arrive without a timestamp
}

// Result is the outcome of processing one frame.
type Result struct {
	Seq         uint64
	Timestamp   time.Time
	Skipped     bool                     // true when the frame was empty
	Conditioned []int64                  // constraint-clamped, smoothed ranges
	Detections  []l4perception.Detection // ephemeral, this frame only
	Tracks      []l5tracks.TrackedObject // active after the update
	Events      []l5tracks.Event         // created then lost
}

// Stats counts processed and skipped frames.
type Stats struct {
	Frames  uint64 `json:"frames"`
	Skipped uint64 `json:"skipped"`
}

// Pipeline runs raw frames through conditioning, clustering, estimation and
// tracking. Process must be called from a single goroutine; Snapshot and the
// accessors are safe to call concurrently with it.
type Pipeline struct {
	geometry    *l2frames.Geometry
	conditioner *l3condition.Conditioner
	clusterer   l4perception.Clusterer
	estimator   l4perception.Estimator
	tracker     l5tracks.TrackerInterface
	persistence PersistenceSink
	publish     PublishSink
	clock       timeutil.Clock

	frames  atomic.Uint64
	skipped atomic.Uint64

	mu   sync.RWMutex
	last Result
}

// New validates cfg and assembles a Pipeline. Invalid shape or smoothing
// parameters are configuration faults.
func New(cfg Config, opts Options) (*Pipeline, error) {
	geometry, err := l2frames.NewGeometry(cfg.Geometry)
	if err != nil {
		return nil, fmt.Errorf("geometry: %w", err)
	}
	conditioner, err := l3condition.NewConditioner(cfg.Conditioner)
	if err != nil {
		return nil, fmt.Errorf("conditioner: %w", err)
	}

	p := &Pipeline{
		geometry:    geometry,
		conditioner: conditioner,
		clusterer:   cfg.Clusterer,
		estimator:   cfg.Estimator,
		tracker:     opts.Tracker,
		clock:       opts.Clock,
	}
	if isNilInterface(p.tracker) {
		p.tracker = l5tracks.NewTracker(cfg.Tracker)
	}
	if isNilInterface(p.clock) {
		p.clock = timeutil.RealClock{}
	}
	if !isNilInterface(opts.Persistence) {
		p.persistence = opts.Persistence
	}
	if !isNilInterface(opts.Publish) {
		p.publish = opts.Publish
	}

	lidar.Diagf("[Pipeline] crop=%s margin=%d noise=%d position=%s merge=%.0fmm misses=%d smoothing=%v",
		cfg.Geometry.Shape.Method, cfg.Clusterer.Margin, cfg.Clusterer.NoiseLimit,
		cfg.Estimator.Mode, cfg.Tracker.DistanceThresholdForMerge, cfg.Tracker.MaxMisses, cfg.Tracker.UseSmoothing)
	return p, nil
}

// Process runs one frame through every stage. An empty frame is skipped
// without touching any state. A non-nil error is a configuration fault and
// processing must stop.
func (p *Pipeline) Process(frame l2frames.ScanFrame) (Result, error) {
	if frame.Len() == 0 {
		p.skipped.Add(1)
		lidar.Tracef("[Pipeline] frame %d empty, skipped", frame.Seq)
		return Result{Seq: frame.Seq, Timestamp: frame.Timestamp, Skipped: true}, nil
	}

	// A short frame is a changed step count, not a skippable one.
	if err := p.geometry.Ensure(frame.Len()); err != nil {
		lidar.Opsf("[Pipeline] configuration fault on frame %d: %v", frame.Seq, err)
		return Result{}, fmt.Errorf("frame %d: %w", frame.Seq, err)
	}
	dirs, constraints := p.geometry.Directions(), p.geometry.Constraints()

	ts := frame.Timestamp
	if ts.IsZero() {
		ts = p.clock.Now()
	}

	// Step 1: clamp to the field of view and smooth.
	conditioned, err := p.conditioner.Condition(frame.Distances, constraints)
	if err != nil {
		return Result{}, fmt.Errorf("frame %d: %w", frame.Seq, err)
	}

	// Step 2: contiguous foreground runs.
	raw := p.clusterer.Cluster(conditioned, constraints)

	// Step 3: one position per run.
	detections := p.estimator.EstimateAll(raw, dirs)

	// Step 4: associate, age, spawn and remove.
	events := p.tracker.Update(detections, ts)
	tracks := p.tracker.GetActiveTracks()

	res := Result{
		Seq:         frame.Seq,
		Timestamp:   ts,
		Conditioned: conditioned,
		Detections:  detections,
		Tracks:      tracks,
		Events:      events,
	}
	p.frames.Add(1)

	// Step 5: adapters. Sink failures are logged, never fatal.
	if p.persistence != nil {
		if err := p.persistence.PersistFrame(ts, tracks, events); err != nil {
			lidar.Opsf("[Pipeline] persist frame %d: %v", frame.Seq, err)
		}
	}
	if p.publish != nil {
		p.publish.PublishFrame(ts, tracks, events)
	}

	p.mu.Lock()
	p.last = res
	p.mu.Unlock()

	lidar.Tracef("[Pipeline] frame %d: steps=%d detections=%d tracks=%d events=%d",
		frame.Seq, frame.Len(), len(detections), len(tracks), len(events))
	return res, nil
}

// Snapshot returns the result of the most recent processed frame. The
// slices are shared with other readers and must not be modified.
func (p *Pipeline) Snapshot() Result {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

// Subscribe registers a lifecycle listener on the tracker.
func (p *Pipeline) Subscribe(l l5tracks.Listener) (unsubscribe func()) {
	return p.tracker.Subscribe(l)
}

// Geometry returns the direction and constraint tables' owner.
func (p *Pipeline) Geometry() *l2frames.Geometry { return p.geometry }

// Tracker returns the tracker driven by the pipeline.
func (p *Pipeline) Tracker() l5tracks.TrackerInterface { return p.tracker }

// Stats returns frame counters.
func (p *Pipeline) Stats() Stats {
	return Stats{Frames: p.frames.Load(), Skipped: p.skipped.Load()}
}
