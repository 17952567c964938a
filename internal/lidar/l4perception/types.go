package l4perception

import (
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/stat"
)

// RawDetection is a contiguous run of foreground steps from one frame.
// Indices and Distances are index-aligned and non-empty.
type RawDetection struct {
	Indices   []int
	Distances []int64
}

// Len returns the number of member steps.
func (d RawDetection) Len() int { return len(d.Indices) }

// First returns the first member's index.
func (d RawDetection) First() int { return d.Indices[0] }

// Last returns the last member's index.
func (d RawDetection) Last() int { return d.Indices[len(d.Indices)-1] }

// MedianIndex returns the middle member's index (upper middle for even runs).
func (d RawDetection) MedianIndex() int { return d.Indices[len(d.Indices)/2] }

// MedianDistance returns the middle member's distance.
func (d RawDetection) MedianDistance() int64 { return d.Distances[len(d.Distances)/2] }

// AverageIndex returns the truncated mean of the member indices.
func (d RawDetection) AverageIndex() int {
	idx := make([]float64, len(d.Indices))
	for i, v := range d.Indices {
		idx[i] = float64(v)
	}
	return int(stat.Mean(idx, nil))
}

// AverageDistance returns the mean member distance.
func (d RawDetection) AverageDistance() float64 {
	dist := make([]float64, len(d.Distances))
	for i, v := range d.Distances {
		dist[i] = float64(v)
	}
	return stat.Mean(dist, nil)
}

// Detection is a RawDetection with its estimated position.
type Detection struct {
	Raw      RawDetection
	Index    int     // representative step
	Distance float64 // representative distance (mm)
	Position r2.Vec  // sensor frame, +Y forward (mm)
	Size     float64 // first-to-last member span (mm), 0 unless estimated
}
