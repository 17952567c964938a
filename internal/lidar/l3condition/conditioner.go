package l3condition

import (
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/scantrack/internal/config"
	"github.com/banshee-data/scantrack/internal/lidar"
)

var (
	// ErrInvalidFactor is returned when the temporal factor is outside (0, 1].
	ErrInvalidFactor = errors.New("temporal smoothing factor must be in (0, 1]")
	// ErrLengthMismatch is returned when a frame and the constraint table differ in length.
	ErrLengthMismatch = errors.New("frame and constraint length differ")
)

// ConditionerConfig holds the optional smoothing stages.
type ConditionerConfig struct {
	SpatialSmoothing  bool
	KernelSize        int // moving-average window, normalised to odd
	TemporalSmoothing bool
	TemporalFactor    float64 // weight of the current frame, (0, 1]
}

// DefaultConditionerConfig returns both smoothing stages disabled.
func DefaultConditionerConfig() ConditionerConfig {
	return ConditionerConfigFromTuning(config.EmptyTuningConfig())
}

// ConditionerConfigFromTuning builds a ConditionerConfig from a loaded TuningConfig.
func ConditionerConfigFromTuning(cfg *config.TuningConfig) ConditionerConfig {
	return ConditionerConfig{
		SpatialSmoothing:  cfg.GetSmoothDistanceCurve(),
		KernelSize:        cfg.GetSmoothKernelSize(),
		TemporalSmoothing: cfg.GetSmoothByTime(),
		TemporalFactor:    cfg.GetTimeSmoothFactor(),
	}
}

// Conditioner turns raw frames into conditioned frames. The temporal stage
// keeps the previous conditioned frame; with it disabled Condition is a pure
// function of its inputs.
type Conditioner struct {
	cfg ConditionerConfig

	mu   sync.Mutex
	prev []int64
}

// NewConditioner validates cfg and returns a Conditioner.
func NewConditioner(cfg ConditionerConfig) (*Conditioner, error) {
	if cfg.TemporalSmoothing && !(cfg.TemporalFactor > 0 && cfg.TemporalFactor <= 1) {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidFactor, cfg.TemporalFactor)
	}
	cfg.KernelSize = OddWindow(cfg.KernelSize)
	return &Conditioner{cfg: cfg}, nil
}

// Config returns the active configuration with the window normalised.
func (c *Conditioner) Config() ConditionerConfig {
	return c.cfg
}

// Condition clamps raw to constraints, then applies the enabled smoothing
// stages. The result has the same length as raw and is never negative.
func (c *Conditioner) Condition(raw, constraints []int64) ([]int64, error) {
	if len(raw) != len(constraints) {
		return nil, fmt.Errorf("%w: frame %d, constraints %d", ErrLengthMismatch, len(raw), len(constraints))
	}
	out := ApplyConstraints(raw, constraints)

	if c.cfg.SpatialSmoothing {
		out = MovingAverage(out, c.cfg.KernelSize)
	}
	if c.cfg.TemporalSmoothing {
		out = c.smoothByTime(out)
	}
	return out, nil
}

// Reset drops the temporal state; the next frame seeds it again.
func (c *Conditioner) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prev = nil
}

func (c *Conditioner) smoothByTime(cur []int64) []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.prev) != len(cur) {
		if c.prev != nil {
			lidar.Diagf("[Conditioner] temporal state length %d != frame %d, reseeding", len(c.prev), len(cur))
		}
		c.prev = append([]int64(nil), cur...)
		return cur
	}

	out := make([]int64, len(cur))
	for i, v := range cur {
		p := float64(c.prev[i])
		out[i] = int64(p + c.cfg.TemporalFactor*(float64(v)-p))
	}
	copy(c.prev, out)
	return out
}

// ApplyConstraints replaces readings beyond the constraint, and readings of
// zero or less, with the constraint itself.
func ApplyConstraints(raw, constraints []int64) []int64 {
	n := len(raw)
	if len(constraints) < n {
		n = len(constraints)
	}
	out := make([]int64, n)
	for i := 0; i < n; i++ {
		c := constraints[i]
		if v := raw[i]; v > c || v <= 0 {
			out[i] = c
		} else {
			out[i] = v
		}
	}
	return out
}
