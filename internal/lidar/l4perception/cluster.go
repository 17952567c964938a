package l4perception

import (
	"github.com/banshee-data/scantrack/internal/config"
)

// Clusterer groups foreground steps into contiguous runs.
type Clusterer struct {
	Margin     int64 // a step is foreground iff distance < constraint - Margin
	NoiseLimit int   // runs shorter than this are discarded
}

// DefaultClusterer returns margin 20 and noise limit 7.
func DefaultClusterer() Clusterer {
	return ClustererFromTuning(config.EmptyTuningConfig())
}

// ClustererFromTuning builds a Clusterer from a loaded TuningConfig.
func ClustererFromTuning(cfg *config.TuningConfig) Clusterer {
	return Clusterer{
		Margin:     cfg.GetClusterMargin(),
		NoiseLimit: cfg.GetNoiseLimit(),
	}
}

// IsForeground reports whether distance is inside the constraint by more
// than the margin.
func (c Clusterer) IsForeground(distance, constraint int64) bool {
	return distance < constraint-c.Margin
}

// Cluster scans conditioned in step order and returns one RawDetection per
// run of consecutive foreground steps with at least NoiseLimit members.
// A single background step always ends a run. Inputs of different length
// are clustered over the shorter prefix.
func (c Clusterer) Cluster(conditioned, constraints []int64) []RawDetection {
	n := len(conditioned)
	if len(constraints) < n {
		n = len(constraints)
	}
	minLen := c.NoiseLimit
	if minLen < 1 {
		minLen = 1
	}

	var out []RawDetection
	start := -1
	flush := func(end int) {
		if start >= 0 && end-start >= minLen {
			out = append(out, newRawDetection(conditioned, start, end))
		}
		start = -1
	}

	for i := 0; i < n; i++ {
		if c.IsForeground(conditioned[i], constraints[i]) {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(n)
	return out
}

func newRawDetection(conditioned []int64, start, end int) RawDetection {
	d := RawDetection{
		Indices:   make([]int, 0, end-start),
		Distances: make([]int64, 0, end-start),
	}
	for i := start; i < end; i++ {
		d.Indices = append(d.Indices, i)
		d.Distances = append(d.Distances, conditioned[i])
	}
	return d
}
