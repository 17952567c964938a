package stream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scantrack/internal/lidar/l2frames"
	"github.com/banshee-data/scantrack/internal/lidar/l5tracks"
	"github.com/banshee-data/scantrack/internal/lidar/pipeline"
)

var (
	_ pipeline.PublishSink = (*Hub)(nil)
	_ l5tracks.Listener    = (*Hub)(nil)
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func dial(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	mux := http.NewServeMux()
	hub.Attach(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + DefaultPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func scanWithObject(step int, distance int64) []int64 {
	d := make([]int64, 1440)
	for i := range d {
		d[i] = 7000
	}
	for i := step - 10; i <= step+10; i++ {
		d[i] = distance
	}
	return d
}

// ---------------------------------------------------------------------------
// Fan-out
// ---------------------------------------------------------------------------

func TestPublishFrame(t *testing.T) {
	t.Parallel()
	hub := NewHub()
	conn := dial(t, hub)

	hub.PublishFrame(t0, []l5tracks.TrackedObject{{TrackID: "a", State: l5tracks.TrackActive, Width: 120}}, nil)

	msg := readMessage(t, conn)
	assert.Equal(t, TypeFrame, msg.Type)
	assert.True(t, t0.Equal(msg.Timestamp))
	require.Len(t, msg.Tracks, 1)
	assert.Equal(t, "a", msg.Tracks[0].TrackID)
	assert.Equal(t, "active", msg.Tracks[0].State)
	assert.Equal(t, 120.0, msg.Tracks[0].Width)
}

func TestPipelineEventsReachClients(t *testing.T) {
	t.Parallel()
	hub := NewHub()
	conn := dial(t, hub)

	cfg := pipeline.DefaultConfig()
	cfg.Tracker.UseSmoothing = false
	cfg.Tracker.MaxMisses = 1
	p, err := pipeline.New(cfg, pipeline.Options{Publish: hub})
	require.NoError(t, err)
	unsubscribe := p.Subscribe(hub)
	defer unsubscribe()

	_, err = p.Process(l2frames.ScanFrame{Distances: scanWithObject(540, 2000), Timestamp: t0, Seq: 1})
	require.NoError(t, err)

	created := readMessage(t, conn)
	assert.Equal(t, TypeTrackCreated, created.Type)
	require.NotNil(t, created.Track)
	assert.InDelta(t, 2000, created.Track.Position.Y, 1e-6)

	frame := readMessage(t, conn)
	assert.Equal(t, TypeFrame, frame.Type)
	require.Len(t, frame.Tracks, 1)
	assert.Equal(t, created.Track.TrackID, frame.Tracks[0].TrackID)

	_, err = p.Process(l2frames.ScanFrame{Distances: scanWithObject(540, 7000), Timestamp: t0.Add(25 * time.Millisecond), Seq: 2})
	require.NoError(t, err)

	lost := readMessage(t, conn)
	assert.Equal(t, TypeTrackLost, lost.Type)
	assert.Equal(t, created.Track.TrackID, lost.Track.TrackID)
	assert.Equal(t, "removed", lost.Track.State)
}

func TestNoClientsIsNoop(t *testing.T) {
	t.Parallel()
	hub := NewHub()
	hub.PublishFrame(t0, nil, nil)
	assert.Zero(t, hub.sent.Load())
}

// ---------------------------------------------------------------------------
// Slow clients and shutdown
// ---------------------------------------------------------------------------

func TestSlowClientIsDropped(t *testing.T) {
	t.Parallel()
	hub := NewHub()
	slow := &client{id: "slow", send: make(chan []byte, 1)}
	require.True(t, hub.add(slow))

	hub.PublishFrame(t0, nil, nil)
	assert.Equal(t, 1, hub.ClientCount())

	hub.PublishFrame(t0, nil, nil)
	assert.Equal(t, 0, hub.ClientCount())
	assert.Equal(t, uint64(1), hub.Dropped())

	_, ok := <-slow.send
	assert.True(t, ok, "buffered message is still delivered")
	_, ok = <-slow.send
	assert.False(t, ok, "send channel closed on drop")
}

func TestClose(t *testing.T) {
	t.Parallel()
	hub := NewHub()
	conn := dial(t, hub)

	hub.Close()
	assert.Equal(t, 0, hub.ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived), "got %v", err)

	assert.False(t, hub.add(&client{id: "late", send: make(chan []byte, 1)}))
}

func TestClientDisconnectUnregisters(t *testing.T) {
	t.Parallel()
	hub := NewHub()
	conn := dial(t, hub)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}
