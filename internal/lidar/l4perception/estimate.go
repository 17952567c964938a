package l4perception

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/scantrack/internal/config"
	"github.com/banshee-data/scantrack/internal/lidar/l2frames"
)

// PositionMode selects the representative step of a detection.
type PositionMode string

const (
	PositionMedian  PositionMode = config.PositionMedian
	PositionAverage PositionMode = config.PositionAverage
)

// Estimator derives a position, and optionally a size, per detection.
type Estimator struct {
	Mode         PositionMode
	EstimateSize bool
}

// DefaultEstimator returns median positioning without size estimation.
func DefaultEstimator() Estimator {
	return EstimatorFromTuning(config.EmptyTuningConfig())
}

// EstimatorFromTuning builds an Estimator from a loaded TuningConfig.
func EstimatorFromTuning(cfg *config.TuningConfig) Estimator {
	return Estimator{
		Mode:         PositionMode(cfg.GetPositionMode()),
		EstimateSize: cfg.GetEstimateSize(),
	}
}

// Estimate returns the detection with its position filled in.
func (e Estimator) Estimate(d RawDetection, dirs l2frames.DirectionTable) Detection {
	out := Detection{Raw: d}
	if e.Mode == PositionAverage {
		out.Index, out.Distance = d.AverageIndex(), d.AverageDistance()
	} else {
		out.Index, out.Distance = d.MedianIndex(), float64(d.MedianDistance())
	}
	out.Position = PolarToCartesian(dirs, out.Index, out.Distance)

	if e.EstimateSize {
		first := PolarToCartesian(dirs, d.First(), float64(d.Distances[0]))
		last := PolarToCartesian(dirs, d.Last(), float64(d.Distances[len(d.Distances)-1]))
		out.Size = r2.Norm(r2.Sub(last, first))
	}
	return out
}

// EstimateAll estimates every detection, preserving order.
func (e Estimator) EstimateAll(raw []RawDetection, dirs l2frames.DirectionTable) []Detection {
	out := make([]Detection, len(raw))
	for i, d := range raw {
		out[i] = e.Estimate(d, dirs)
	}
	return out
}

// PolarToCartesian places distance along the direction of step index. The
// angle is measured from +X, so the result lies on the step's own ray.
// Out-of-range indices and non-finite directions yield the zero vector.
func PolarToCartesian(dirs l2frames.DirectionTable, index int, distance float64) r2.Vec {
	if index < 0 || index >= len(dirs) {
		return r2.Vec{}
	}
	theta := math.Atan2(dirs[index].Y, dirs[index].X)
	if math.IsNaN(theta) || math.IsInf(distance, 0) || math.IsNaN(distance) {
		return r2.Vec{}
	}
	return r2.Scale(distance, r2.Vec{X: math.Cos(theta), Y: math.Sin(theta)})
}
