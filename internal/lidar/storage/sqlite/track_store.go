package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/scantrack/internal/lidar/l5tracks"
)

var ErrTrackNotFound = errors.New("track not found")

// TrackRecord is the persisted summary of one track.
type TrackRecord struct {
	TrackID          string  `json:"track_id"`
	State            string  `json:"state"`
	StartUnixNanos   int64   `json:"start_unix_nanos"`
	EndUnixNanos     int64   `json:"end_unix_nanos"`
	ObservationCount int     `json:"observation_count"`
	X                float64 `json:"x"`
	Y                float64 `json:"y"`
	Width            float64 `json:"width"`
}

// Observation is one frame's state of a matched track.
type Observation struct {
	TrackID     string  `json:"track_id"`
	TSUnixNanos int64   `json:"ts_unix_nanos"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	RawX        float64 `json:"raw_x"`
	RawY        float64 `json:"raw_y"`
	Width       float64 `json:"width"`
}

// RecordFromTrack converts a tracker snapshot to its stored form.
func RecordFromTrack(t l5tracks.TrackedObject) TrackRecord {
	return TrackRecord{
		TrackID:          t.TrackID,
		State:            string(t.State),
		StartUnixNanos:   t.CreatedAt.UnixNano(),
		EndUnixNanos:     t.LastSeen.UnixNano(),
		ObservationCount: t.ObservationCount,
		X:                t.Position.X,
		Y:                t.Position.Y,
		Width:            t.Width,
	}
}

// ObservationFromTrack converts a tracker snapshot taken at ts to an
// observation row.
func ObservationFromTrack(t l5tracks.TrackedObject, ts time.Time) Observation {
	return Observation{
		TrackID:     t.TrackID,
		TSUnixNanos: ts.UnixNano(),
		X:           t.Position.X,
		Y:           t.Position.Y,
		RawX:        t.RawPosition.X,
		RawY:        t.RawPosition.Y,
		Width:       t.Width,
	}
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// Store reads and writes scan tracks.
type Store struct {
	db *DB
}

// NewStore creates a Store over a migrated database.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database.
func (s *Store) DB() *DB { return s.db }

// UpsertTrack inserts or updates a track summary.
func (s *Store) UpsertTrack(rec TrackRecord) error {
	return upsertTrack(s.db, rec)
}

func upsertTrack(db execer, rec TrackRecord) error {
	// ON CONFLICT DO UPDATE keeps the row, so observations are not cascaded away.
	_, err := db.Exec(`
		INSERT INTO scan_tracks (
			track_id, track_state, start_unix_nanos, end_unix_nanos,
			observation_count, x, y, width
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(track_id) DO UPDATE SET
			track_state = excluded.track_state,
			end_unix_nanos = excluded.end_unix_nanos,
			observation_count = excluded.observation_count,
			x = excluded.x,
			y = excluded.y,
			width = excluded.width
	`,
		rec.TrackID, rec.State, rec.StartUnixNanos, rec.EndUnixNanos,
		rec.ObservationCount, rec.X, rec.Y, rec.Width,
	)
	if err != nil {
		return fmt.Errorf("upsert track: %w", err)
	}
	return nil
}

// MarkTrackRemoved sets a track's state to removed.
func (s *Store) MarkTrackRemoved(trackID string) error {
	return markTrackRemoved(s.db, trackID)
}

func markTrackRemoved(db execer, trackID string) error {
	res, err := db.Exec(`UPDATE scan_tracks SET track_state = ? WHERE track_id = ?`,
		string(l5tracks.TrackRemoved), trackID)
	if err != nil {
		return fmt.Errorf("mark track removed: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrTrackNotFound, trackID)
	}
	return nil
}

// InsertObservation records one frame of a track.
func (s *Store) InsertObservation(obs Observation) error {
	return insertObservation(s.db, obs)
}

func insertObservation(db execer, obs Observation) error {
	_, err := db.Exec(`
		INSERT OR REPLACE INTO scan_track_obs (
			track_id, ts_unix_nanos, x, y, raw_x, raw_y, width
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		obs.TrackID, obs.TSUnixNanos, obs.X, obs.Y, obs.RawX, obs.RawY, obs.Width,
	)
	if err != nil {
		return fmt.Errorf("insert track observation: %w", err)
	}
	return nil
}

// GetTrack returns one track summary.
func (s *Store) GetTrack(trackID string) (TrackRecord, error) {
	row := s.db.QueryRow(`
		SELECT track_id, track_state, start_unix_nanos, end_unix_nanos,
			observation_count, x, y, width
		FROM scan_tracks WHERE track_id = ?
	`, trackID)
	rec, err := scanTrack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TrackRecord{}, fmt.Errorf("%w: %s", ErrTrackNotFound, trackID)
	}
	return rec, err
}

// Tracks returns the newest tracks first. An empty state matches any state;
// limit <= 0 means no limit.
func (s *Store) Tracks(state string, limit int) ([]TrackRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT track_id, track_state, start_unix_nanos, end_unix_nanos,
			observation_count, x, y, width
		FROM scan_tracks
		WHERE ? = '' OR track_state = ?
		ORDER BY start_unix_nanos DESC
		LIMIT ?
	`, state, state, limit)
	if err != nil {
		return nil, fmt.Errorf("query tracks: %w", err)
	}
	defer rows.Close()

	var tracks []TrackRecord
	for rows.Next() {
		rec, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, rec)
	}
	return tracks, rows.Err()
}

// ActiveTracks returns tracks that have not been removed.
func (s *Store) ActiveTracks() ([]TrackRecord, error) {
	return s.Tracks(string(l5tracks.TrackActive), 0)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrack(row rowScanner) (TrackRecord, error) {
	var rec TrackRecord
	var end sql.NullInt64
	err := row.Scan(&rec.TrackID, &rec.State, &rec.StartUnixNanos, &end,
		&rec.ObservationCount, &rec.X, &rec.Y, &rec.Width)
	if err != nil {
		return TrackRecord{}, err
	}
	rec.EndUnixNanos = end.Int64
	return rec, nil
}

// TrackObservations returns a track's observations oldest first.
func (s *Store) TrackObservations(trackID string, limit int) ([]Observation, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT track_id, ts_unix_nanos, x, y, raw_x, raw_y, width
		FROM scan_track_obs
		WHERE track_id = ?
		ORDER BY ts_unix_nanos ASC
		LIMIT ?
	`, trackID, limit)
	if err != nil {
		return nil, fmt.Errorf("query track observations: %w", err)
	}
	defer rows.Close()

	var out []Observation
	for rows.Next() {
		var o Observation
		if err := rows.Scan(&o.TrackID, &o.TSUnixNanos, &o.X, &o.Y, &o.RawX, &o.RawY, &o.Width); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// PruneRemovedTracks deletes removed tracks, and their observations, whose
// last sighting is older than now-ttl. It returns the number of tracks
// deleted.
func (s *Store) PruneRemovedTracks(now time.Time, ttl time.Duration) (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM scan_tracks
		WHERE track_state = ? AND end_unix_nanos < ?
	`, string(l5tracks.TrackRemoved), now.Add(-ttl).UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune removed tracks: %w", err)
	}
	return res.RowsAffected()
}
