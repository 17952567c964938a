package l5tracks

import (
	"sync"
	"time"
)

// EventKind distinguishes lifecycle notifications.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventLost    EventKind = "lost"
)

// Event is a lifecycle notification. Track is a copy taken when the event
// fired.
type Event struct {
	Kind    EventKind     `json:"kind"`
	TrackID string        `json:"track_id"`
	Time    time.Time     `json:"time"`
	Track   TrackedObject `json:"-"`
}

func newEvent(kind EventKind, track *TrackedObject, now time.Time) Event {
	return Event{Kind: kind, TrackID: track.TrackID, Time: now, Track: *track}
}

// Listener receives lifecycle events synchronously from Tracker.Update.
// Implementations must not call Update.
type Listener interface {
	OnTrackEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

// OnTrackEvent calls f(e).
func (f ListenerFunc) OnTrackEvent(e Event) { f(e) }

type listenerSet struct {
	mu     sync.Mutex
	nextID int
	byID   map[int]Listener
}

// Subscribe registers l for lifecycle events and returns a function that
// unsubscribes it. The returned function is safe to call more than once.
func (t *Tracker) Subscribe(l Listener) (unsubscribe func()) {
	return t.listeners.add(l)
}

func (s *listenerSet) add(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byID == nil {
		s.byID = make(map[int]Listener)
	}
	id := s.nextID
	s.nextID++
	s.byID[id] = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.byID, id)
	}
}

func (s *listenerSet) snapshot() []Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Listener, 0, len(s.byID))
	for _, l := range s.byID {
		out = append(out, l)
	}
	return out
}

func (s *listenerSet) notify(events []Event) {
	if len(events) == 0 {
		return
	}
	listeners := s.snapshot()
	for _, e := range events {
		for _, l := range listeners {
			l.OnTrackEvent(e)
		}
	}
}
