// Package stream pushes live track state to websocket clients. A Hub is both
// a pipeline publish sink (one "frame" message per processed frame) and a
// tracker listener (one message per created or lost event).
package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/banshee-data/scantrack/internal/lidar"
	"github.com/banshee-data/scantrack/internal/lidar/l5tracks"
)

const (
	// DefaultPath is where Attach mounts the hub.
	DefaultPath = "/ws/events"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBufferSize = 64
)

// Message types.
const (
	TypeFrame        = "frame"
	TypeTrackCreated = "track_created"
	TypeTrackLost    = "track_lost"
)

// Position is a point in the sensor frame (mm).
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Track is the wire form of a tracked object.
type Track struct {
	TrackID          string   `json:"track_id"`
	State            string   `json:"state"`
	Position         Position `json:"position"`
	RawPosition      Position `json:"raw_position"`
	Width            float64  `json:"width"`
	Misses           int      `json:"misses"`
	ObservationCount int      `json:"observation_count"`
}

// Message is one websocket text frame sent to clients.
type Message struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Tracks    []Track   `json:"tracks,omitempty"`
	Track     *Track    `json:"track,omitempty"`
}

func wireTrack(t l5tracks.TrackedObject) Track {
	return Track{
		TrackID:          t.TrackID,
		State:            string(t.State),
		Position:         Position{X: t.Position.X, Y: t.Position.Y},
		RawPosition:      Position{X: t.RawPosition.X, Y: t.RawPosition.Y},
		Width:            t.Width,
		Misses:           t.Misses,
		ObservationCount: t.ObservationCount,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans messages out to connected clients. Sends never block: a client
// whose buffer is full is disconnected.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*client
	closed  bool

	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]*client)}
}

// Attach mounts the hub at DefaultPath.
func (h *Hub) Attach(mux *http.ServeMux) {
	mux.Handle(DefaultPath, h)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns how many clients were disconnected for falling behind.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// PublishFrame sends the active tracks of a processed frame. Lifecycle
// events reach clients through OnTrackEvent.
func (h *Hub) PublishFrame(ts time.Time, tracks []l5tracks.TrackedObject, _ []l5tracks.Event) {
	msg := Message{Type: TypeFrame, Timestamp: ts, Tracks: make([]Track, 0, len(tracks))}
	for _, t := range tracks {
		msg.Tracks = append(msg.Tracks, wireTrack(t))
	}
	h.broadcast(msg)
}

// OnTrackEvent sends a created or lost notification.
func (h *Hub) OnTrackEvent(e l5tracks.Event) {
	typ := TypeTrackCreated
	if e.Kind == l5tracks.EventLost {
		typ = TypeTrackLost
	}
	t := wireTrack(e.Track)
	h.broadcast(Message{Type: typ, Timestamp: e.Time, Track: &t})
}

func (h *Hub) broadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return
	}
	b, err := json.Marshal(msg)
	if err != nil {
		lidar.Opsf("[Stream] failed to encode %s message: %v", msg.Type, err)
		return
	}
	for id, c := range h.clients {
		select {
		case c.send <- b:
			h.sent.Add(1)
		default:
			lidar.Diagf("[Stream] client %s fell behind, disconnecting", id)
			h.dropped.Add(1)
			h.removeLocked(id)
		}
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	return true
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(id)
}

func (h *Hub) removeLocked(id string) {
	if c, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(c.send)
	}
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id := range h.clients {
		h.removeLocked(id)
	}
}

// ServeHTTP upgrades the request and streams messages until the client
// goes away or falls behind.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		lidar.Diagf("[Stream] upgrade failed: %v", err)
		return
	}
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
	if !h.add(c) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}
	lidar.Diagf("[Stream] client %s connected from %s", c.id, r.RemoteAddr)

	go c.writePump()
	go c.readPump(h)
}

// readPump discards client messages and unregisters the client once the
// connection fails.
func (c *client) readPump(h *Hub) {
	defer func() {
		h.remove(c.id)
		c.conn.Close()
		lidar.Diagf("[Stream] client %s disconnected", c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				lidar.Diagf("[Stream] client %s read error: %v", c.id, err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
