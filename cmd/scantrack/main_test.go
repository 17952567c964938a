package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scantrack/internal/lidar/l1link"
	sqlite "github.com/banshee-data/scantrack/internal/lidar/storage/sqlite"
)

// These tests share the package-level flag variables, so they do not run in
// parallel.

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute(), out.String())
	return out.String()
}

// writeReplay records a session in which an object drifts across the
// forward axis at 2 m.
func writeReplay(t *testing.T, frames int) string {
	t.Helper()
	var b strings.Builder
	for i := 0; i < frames; i++ {
		d := make([]int64, 1440)
		for j := range d {
			d[j] = 7000
		}
		centre := 540 + i
		for j := centre - 10; j <= centre+10; j++ {
			d[j] = 2000
		}
		b.WriteString(l1link.EncodeScan("MD0000143901000", int64(i*25), d))
	}
	path := filepath.Join(t.TempDir(), "session.scip")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0644))
	return path
}

// ---------------------------------------------------------------------------
// Source selection
// ---------------------------------------------------------------------------

func TestOpenSourceRequiresExactlyOne(t *testing.T) {
	_, _, err := openSource(context.Background(), serveOptions{})
	assert.ErrorIs(t, err, errNoSource)

	_, _, err = openSource(context.Background(), serveOptions{replayPath: "a", pcapPath: "b"})
	assert.ErrorIs(t, err, errNoSource)
}

func TestOpenSourceReplay(t *testing.T) {
	port, live, err := openSource(context.Background(), serveOptions{replayPath: writeReplay(t, 2)})
	require.NoError(t, err)
	defer port.Close()
	assert.False(t, live)
	assert.IsType(t, &l1link.ReplayPort{}, port)
}

func TestLoadTuning(t *testing.T) {
	cfg, err := loadTuning("")
	require.NoError(t, err)
	assert.Equal(t, 1440, cfg.GetStepsPerRevolution())

	_, err = loadTuning(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func TestMigrateCommands(t *testing.T) {
	db := filepath.Join(t.TempDir(), "scan.db")

	assert.Contains(t, execute(t, "migrate", "version", "--db", db), "schema version 0")
	assert.Contains(t, execute(t, "migrate", "up", "--db", db), "schema version 2")
	assert.Contains(t, execute(t, "migrate", "down", "--db", db), "schema version 1")
}

func TestServeReplayThenPlot(t *testing.T) {
	db := filepath.Join(t.TempDir(), "scan.db")
	flagDB = db

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := runServe(ctx, serveOptions{
		replayPath:     writeReplay(t, 8),
		replayInterval: 5 * time.Millisecond,
		exitOnEOF:      true,
		listen:         "127.0.0.1:0",
		persist:        true,
		interval:       5 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, ctx.Err(), "replay should finish on its own")

	store, err := sqlite.Open(db)
	require.NoError(t, err)
	tracks, err := sqlite.NewStore(store).Tracks("", 0)
	store.Close()
	require.NoError(t, err)
	require.NotEmpty(t, tracks)
	assert.InDelta(t, 2000, tracks[0].Y, 100)

	out := filepath.Join(t.TempDir(), "trails.png")
	assert.Contains(t, execute(t, "plot", "--db", db, "--out", out), "wrote 1 track trails")
	assert.FileExists(t, out)
}
