package l2frames

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/scantrack/internal/config"
)

var (
	// ErrStepCountChanged is returned when a frame arrives with a different
	// number of steps than the one the tables were built for.
	ErrStepCountChanged = errors.New("scan step count changed")
	// ErrInvalidShape is returned for a non-positive or unknown crop shape.
	ErrInvalidShape = errors.New("invalid detection shape")
	// ErrEmptyFrame is returned when geometry is requested for zero steps.
	ErrEmptyFrame = errors.New("empty scan frame")
)

// CropMethod selects the field-of-view shape.
type CropMethod string

const (
	CropRadius CropMethod = config.CropRadius // Circle of MaxDistance around the sensor
	CropRect   CropMethod = config.CropRect   // Rectangle ahead of the sensor
)

// ShapeConfig describes the detection area.
type ShapeConfig struct {
	Method      CropMethod
	MaxDistance int64   // radius mode (mm)
	Width       float64 // rect mode, centred on the forward axis (mm)
	Height      float64 // rect mode, depth along the forward axis (mm)
}

// Validate rejects shapes that cannot produce a constraint table.
func (s ShapeConfig) Validate() error {
	switch s.Method {
	case CropRadius:
		if s.MaxDistance <= 0 {
			return fmt.Errorf("%w: max distance %d", ErrInvalidShape, s.MaxDistance)
		}
	case CropRect:
		if !(s.Width > 0) || !(s.Height > 0) {
			return fmt.Errorf("%w: rect %gx%g", ErrInvalidShape, s.Width, s.Height)
		}
	default:
		return fmt.Errorf("%w: unknown method %q", ErrInvalidShape, s.Method)
	}
	return nil
}

// GeometryConfig holds the sensor's angular layout and the detection shape.
type GeometryConfig struct {
	StepsPerRevolution int // angular steps in a full turn
	FrontStep          int // sensor step that faces the forward (+Y) axis
	FirstStep          int // sensor step reported at frame index 0
	Shape              ShapeConfig
}

// DefaultGeometryConfig returns the geometry of a UTM-30LX with a 7 m radius.
func DefaultGeometryConfig() GeometryConfig {
	return GeometryConfigFromTuning(config.EmptyTuningConfig())
}

// GeometryConfigFromTuning builds a GeometryConfig from a loaded TuningConfig.
func GeometryConfigFromTuning(cfg *config.TuningConfig) GeometryConfig {
	return GeometryConfig{
		StepsPerRevolution: cfg.GetStepsPerRevolution(),
		FrontStep:          cfg.GetFrontStep(),
		FirstStep:          cfg.GetFirstStep(),
		Shape: ShapeConfig{
			Method:      CropMethod(cfg.GetCropMethod()),
			MaxDistance: cfg.GetMaxDetectionDist(),
			Width:       cfg.GetDetectRectWidth(),
			Height:      cfg.GetDetectRectHeight(),
		},
	}
}

// DirectionTable holds one unit vector per frame index.
type DirectionTable []r2.Vec

// NewDirectionTable computes directions for n steps. Index i maps to sensor
// step FirstStep+i; the front step points along +Y.
func NewDirectionTable(cfg GeometryConfig, n int) DirectionTable {
	res := 2 * math.Pi / float64(cfg.StepsPerRevolution)
	dirs := make(DirectionTable, n)
	for i := range dirs {
		theta := float64(cfg.FirstStep+i-cfg.FrontStep)*res + math.Pi/2
		dirs[i] = r2.Vec{X: math.Cos(theta), Y: math.Sin(theta)}
	}
	return dirs
}

// AngleToX returns the unsigned angle in [0, π] between v and +X. A zero
// vector yields NaN.
func AngleToX(v r2.Vec) float64 {
	return math.Acos(r2.Cos(v, r2.Vec{X: 1}))
}

// ConstraintTable holds the maximum accepted distance per frame index.
type ConstraintTable []int64

// NewConstraintTable computes the constraint for every direction.
func NewConstraintTable(dirs DirectionTable, shape ShapeConfig) (ConstraintTable, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	out := make(ConstraintTable, len(dirs))
	for i, d := range dirs {
		if shape.Method == CropRadius {
			out[i] = shape.MaxDistance
			continue
		}
		out[i] = rectConstraint(d, shape.Width, shape.Height)
	}
	return out, nil
}

// rectConstraint returns the distance along d to the boundary of a
// width×height rectangle whose bottom edge is centred on the sensor.
func rectConstraint(d r2.Vec, width, height float64) int64 {
	if d.Y <= 0 {
		return 0
	}
	a := AngleToX(d)
	halfW := width / 2
	corner := math.Atan(height / halfW)

	var r float64
	if a < corner || a > math.Pi-corner {
		r = halfW / math.Abs(math.Cos(a))
	} else {
		r = height / math.Sin(a)
	}
	if math.IsNaN(r) || math.IsInf(r, 0) || r < 0 {
		return 0
	}
	return int64(r)
}

// Geometry owns the direction and constraint tables. They are built lazily
// from the first frame's step count and reused for the session.
type Geometry struct {
	mu          sync.Mutex
	cfg         GeometryConfig
	steps       int
	dirs        DirectionTable
	constraints ConstraintTable
}

// NewGeometry validates cfg and returns an uninitialised Geometry.
func NewGeometry(cfg GeometryConfig) (*Geometry, error) {
	if cfg.StepsPerRevolution <= 0 {
		return nil, fmt.Errorf("%w: steps per revolution %d", ErrInvalidShape, cfg.StepsPerRevolution)
	}
	if err := cfg.Shape.Validate(); err != nil {
		return nil, err
	}
	return &Geometry{cfg: cfg}, nil
}

// Ensure builds the tables for steps on first use. Later calls with the same
// count are no-ops; a different count is a configuration fault.
func (g *Geometry) Ensure(steps int) error {
	if steps <= 0 {
		return ErrEmptyFrame
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.steps != 0 {
		if g.steps != steps {
			return fmt.Errorf("%w: built for %d steps, got %d", ErrStepCountChanged, g.steps, steps)
		}
		return nil
	}

	dirs := NewDirectionTable(g.cfg, steps)
	constraints, err := NewConstraintTable(dirs, g.cfg.Shape)
	if err != nil {
		return err
	}
	g.steps, g.dirs, g.constraints = steps, dirs, constraints
	return nil
}

// Steps returns the step count the tables were built for, or 0.
func (g *Geometry) Steps() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.steps
}

// Directions returns the direction table, or nil before Ensure. Callers must
// treat the result as read-only.
func (g *Geometry) Directions() DirectionTable {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dirs
}

// Constraints returns the constraint table, or nil before Ensure. Callers
// must treat the result as read-only.
func (g *Geometry) Constraints() ConstraintTable {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.constraints
}

// Config returns the active geometry configuration.
func (g *Geometry) Config() GeometryConfig {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg
}
