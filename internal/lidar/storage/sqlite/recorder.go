package sqlite

import (
	"fmt"
	"time"

	"github.com/banshee-data/scantrack/internal/lidar"
	"github.com/banshee-data/scantrack/internal/lidar/l5tracks"
)

// pruneInterval is how often the recorder purges expired removed tracks.
const pruneInterval = time.Minute

// Recorder writes pipeline output to a Store: every matched track gets an
// observation row and an updated summary, and lifecycle events update the
// track state.
type Recorder struct {
	store *Store

	// RemovedTTL, when positive, is how long removed tracks are kept.
	RemovedTTL time.Duration

	lastPrune time.Time
}

// NewRecorder creates a Recorder writing to store.
func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store}
}

// PersistFrame records one frame in a single transaction.
func (r *Recorder) PersistFrame(ts time.Time, tracks []l5tracks.TrackedObject, events []l5tracks.Event) error {
	tx, err := r.store.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, e := range events {
		if e.Kind == l5tracks.EventCreated {
			if err := upsertTrack(tx, RecordFromTrack(e.Track)); err != nil {
				return err
			}
		}
	}

	observed := 0
	for _, t := range tracks {
		if !t.LastSeen.Equal(ts) {
			continue
		}
		if err := upsertTrack(tx, RecordFromTrack(t)); err != nil {
			return err
		}
		if err := insertObservation(tx, ObservationFromTrack(t, ts)); err != nil {
			return err
		}
		observed++
	}

	for _, e := range events {
		if e.Kind == l5tracks.EventLost {
			// Upsert rather than update: the track may predate the recorder.
			if err := upsertTrack(tx, RecordFromTrack(e.Track)); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	lidar.Tracef("[Recorder] frame %s: observations=%d events=%d", ts.Format(time.RFC3339Nano), observed, len(events))

	if r.RemovedTTL > 0 && ts.Sub(r.lastPrune) >= pruneInterval {
		r.lastPrune = ts
		n, err := r.store.PruneRemovedTracks(ts, r.RemovedTTL)
		if err != nil {
			return err
		}
		if n > 0 {
			lidar.Diagf("[Recorder] pruned %d removed tracks older than %s", n, r.RemovedTTL)
		}
	}
	return nil
}
