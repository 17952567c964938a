package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/scantrack/internal/lidar"
	"github.com/banshee-data/scantrack/internal/timeutil"
)

// ErrNoSource is returned by Run when the runner has no frame source.
var ErrNoSource = errors.New("pipeline runner has no frame source")

// Runner drives a Pipeline from a FrameSource on a fixed tick.
type Runner struct {
	Pipeline *Pipeline
	Source   FrameSource
	Clock    timeutil.Clock
	Interval time.Duration

	// OnResult, when non-nil, is called after every processed frame.
	OnResult func(Result)
}

// Run processes the latest frame on every tick until ctx is done or a
// configuration fault occurs. A tick with no new frame is a no-op, so a
// stalled sensor never advances the tracker.
func (r *Runner) Run(ctx context.Context) error {
	if r.Source == nil || isNilInterface(r.Source) {
		return ErrNoSource
	}
	clock := r.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	interval := r.Interval
	if interval <= 0 {
		interval = 25 * time.Millisecond
	}

	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	var lastSeq uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
		}

		frame, ok := r.Source.Snapshot()
		if !ok {
			continue
		}
		if frame.Seq != 0 && frame.Seq == lastSeq {
			continue
		}
		lastSeq = frame.Seq

		res, err := r.Pipeline.Process(frame)
		if err != nil {
			lidar.Opsf("[Runner] halting: %v", err)
			return err
		}
		if r.OnResult != nil {
			r.OnResult(res)
		}
	}
}
