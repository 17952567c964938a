package l4perception

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/scantrack/internal/config"
	"github.com/banshee-data/scantrack/internal/lidar/l2frames"
)

func constraints(n int, v int64) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func defaultDirs(n int) l2frames.DirectionTable {
	return l2frames.NewDirectionTable(l2frames.DefaultGeometryConfig(), n)
}

// ---------------------------------------------------------------------------
// Clusterer
// ---------------------------------------------------------------------------

func TestClusterSingleRun(t *testing.T) {
	t.Parallel()
	c := Clusterer{Margin: 20, NoiseLimit: 3}
	frame := []int64{500, 500, 200, 190, 210, 500, 500, 500, 500, 500}

	got := c.Cluster(frame, constraints(10, 500))
	require.Len(t, got, 1)
	assert.Equal(t, []int{2, 3, 4}, got[0].Indices)
	assert.Equal(t, []int64{200, 190, 210}, got[0].Distances)
}

func TestClusterMarginIsStrict(t *testing.T) {
	t.Parallel()
	c := Clusterer{Margin: 20, NoiseLimit: 1}
	// 480 == 500-20 is background; 479 is foreground.
	got := c.Cluster([]int64{480, 479, 480}, constraints(3, 500))
	require.Len(t, got, 1)
	assert.Equal(t, []int{1}, got[0].Indices)
}

func TestClusterNeverBridgesGap(t *testing.T) {
	t.Parallel()
	c := Clusterer{Margin: 20, NoiseLimit: 2}
	frame := []int64{100, 100, 100, 500, 100, 100, 100}
	got := c.Cluster(frame, constraints(7, 500))
	require.Len(t, got, 2)
	assert.Equal(t, []int{0, 1, 2}, got[0].Indices)
	assert.Equal(t, []int{4, 5, 6}, got[1].Indices)
}

func TestClusterEdgesAndNoise(t *testing.T) {
	t.Parallel()
	c := Clusterer{Margin: 20, NoiseLimit: 3}

	t.Run("runs touching both ends", func(t *testing.T) {
		t.Parallel()
		frame := []int64{10, 10, 10, 500, 500, 10, 10, 10}
		got := c.Cluster(frame, constraints(8, 500))
		require.Len(t, got, 2)
		assert.Equal(t, 0, got[0].First())
		assert.Equal(t, 7, got[1].Last())
	})

	t.Run("short runs dropped", func(t *testing.T) {
		t.Parallel()
		frame := []int64{10, 10, 500, 10, 500, 10, 10, 10, 10}
		got := c.Cluster(frame, constraints(9, 500))
		require.Len(t, got, 1)
		assert.Equal(t, []int{5, 6, 7, 8}, got[0].Indices)
	})

	t.Run("empty frame", func(t *testing.T) {
		t.Parallel()
		assert.Empty(t, c.Cluster(nil, nil))
	})

	t.Run("zero constraint never foreground", func(t *testing.T) {
		t.Parallel()
		assert.Empty(t, c.Cluster([]int64{0, 0, 0, 0}, constraints(4, 0)))
	})

	t.Run("length mismatch uses prefix", func(t *testing.T) {
		t.Parallel()
		got := c.Cluster([]int64{10, 10, 10, 10, 10}, constraints(3, 500))
		require.Len(t, got, 1)
		assert.Equal(t, 3, got[0].Len())
	})
}

func TestClusterProperties(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(7))
	c := Clusterer{Margin: 20, NoiseLimit: 4}

	for trial := 0; trial < 200; trial++ {
		n := 1 + rng.Intn(200)
		cons := constraints(n, 1000)
		frame := make([]int64, n)
		for i := range frame {
			if rng.Intn(3) == 0 {
				frame[i] = 1000
			} else {
				frame[i] = int64(rng.Intn(1000))
			}
		}
		got := c.Cluster(frame, cons)
		for _, d := range got {
			require.GreaterOrEqual(t, d.Len(), c.NoiseLimit)
			for k := 1; k < d.Len(); k++ {
				require.Equal(t, d.Indices[k-1]+1, d.Indices[k], "members must be contiguous")
			}
			for _, idx := range d.Indices {
				require.True(t, c.IsForeground(frame[idx], cons[idx]))
			}
			// Maximal: neighbours outside the run are background.
			if d.First() > 0 {
				require.False(t, c.IsForeground(frame[d.First()-1], cons[d.First()-1]))
			}
			if d.Last() < n-1 {
				require.False(t, c.IsForeground(frame[d.Last()+1], cons[d.Last()+1]))
			}
		}
	}
}

func TestClustererFromTuning(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Clusterer{Margin: 20, NoiseLimit: 7}, DefaultClusterer())

	m, n := int64(5), 2
	assert.Equal(t, Clusterer{Margin: 5, NoiseLimit: 2},
		ClustererFromTuning(&config.TuningConfig{ClusterMargin: &m, NoiseLimit: &n}))
}

// ---------------------------------------------------------------------------
// RawDetection helpers
// ---------------------------------------------------------------------------

func TestRawDetectionStats(t *testing.T) {
	t.Parallel()
	d := RawDetection{
		Indices:   []int{10, 11, 12, 13},
		Distances: []int64{400, 300, 200, 101},
	}
	assert.Equal(t, 12, d.MedianIndex())
	assert.Equal(t, int64(200), d.MedianDistance())
	assert.Equal(t, 11, d.AverageIndex()) // 11.5 truncated
	assert.InDelta(t, 250.25, d.AverageDistance(), 1e-9)
}

// ---------------------------------------------------------------------------
// Estimator
// ---------------------------------------------------------------------------

func TestEstimateSingleMemberRoundTrip(t *testing.T) {
	t.Parallel()
	dirs := defaultDirs(1081)

	for _, idx := range []int{0, 100, 180, 400, 540, 700, 900, 1080} {
		d := RawDetection{Indices: []int{idx}, Distances: []int64{1234}}
		for _, mode := range []PositionMode{PositionMedian, PositionAverage} {
			got := Estimator{Mode: mode}.Estimate(d, dirs)
			assert.InDelta(t, 1234, r2.Norm(got.Position), 1e-6, "index %d", idx)
			assert.InDelta(t, 1.0, r2.Cos(got.Position, dirs[idx]), 1e-9, "index %d angle", idx)
		}
	}
}

func TestEstimateMedianVsAverage(t *testing.T) {
	t.Parallel()
	dirs := defaultDirs(1081)
	d := RawDetection{
		Indices:   []int{538, 539, 540, 541, 542, 543},
		Distances: []int64{1000, 1000, 1000, 900, 2000, 2000},
	}

	med := Estimator{Mode: PositionMedian}.Estimate(d, dirs)
	assert.Equal(t, 541, med.Index)
	assert.Equal(t, 900.0, med.Distance)

	avg := Estimator{Mode: PositionAverage}.Estimate(d, dirs)
	assert.Equal(t, 540, avg.Index) // 540.5 truncated
	assert.InDelta(t, 1316.6667, avg.Distance, 1e-3)
	// Straight ahead.
	assert.InDelta(t, 0, avg.Position.X, 1e-9)
	assert.InDelta(t, avg.Distance, avg.Position.Y, 1e-9)
	assert.Zero(t, avg.Size)
}

func TestEstimateSize(t *testing.T) {
	t.Parallel()
	dirs := defaultDirs(1081)
	// 360 steps apart at 1000mm: a quarter turn, chord = 1000*sqrt(2).
	d := RawDetection{
		Indices:   []int{180, 360, 540},
		Distances: []int64{1000, 1000, 1000},
	}
	got := Estimator{Mode: PositionMedian, EstimateSize: true}.Estimate(d, dirs)
	assert.InDelta(t, 1000*math.Sqrt2, got.Size, 1e-6)
}

func TestEstimateIsDeterministic(t *testing.T) {
	t.Parallel()
	dirs := defaultDirs(1081)
	d := RawDetection{Indices: []int{300, 301, 302}, Distances: []int64{700, 710, 720}}
	e := Estimator{Mode: PositionAverage, EstimateSize: true}
	assert.Equal(t, e.Estimate(d, dirs), e.Estimate(d, dirs))
}

func TestPolarToCartesianDegenerate(t *testing.T) {
	t.Parallel()
	dirs := l2frames.DirectionTable{{X: math.NaN(), Y: 1}, {X: 0, Y: 1}}
	assert.Equal(t, r2.Vec{}, PolarToCartesian(dirs, 0, 100))
	assert.Equal(t, r2.Vec{}, PolarToCartesian(dirs, 5, 100))
	assert.Equal(t, r2.Vec{}, PolarToCartesian(dirs, -1, 100))
	assert.Equal(t, r2.Vec{}, PolarToCartesian(dirs, 1, math.NaN()))
	got := PolarToCartesian(dirs, 1, 100)
	assert.InDelta(t, 100, got.Y, 1e-9)
}

func TestEstimateAll(t *testing.T) {
	t.Parallel()
	dirs := defaultDirs(1081)
	raw := []RawDetection{
		{Indices: []int{10}, Distances: []int64{100}},
		{Indices: []int{20}, Distances: []int64{200}},
	}
	got := DefaultEstimator().EstimateAll(raw, dirs)
	require.Len(t, got, 2)
	assert.Equal(t, 10, got[0].Index)
	assert.Equal(t, 20, got[1].Index)
	assert.Empty(t, DefaultEstimator().EstimateAll(nil, dirs))
}
