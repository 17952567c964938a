package pipeline

import (
	"reflect"
	"time"

	"github.com/banshee-data/scantrack/internal/lidar/l1link"
	"github.com/banshee-data/scantrack/internal/lidar/l2frames"
	"github.com/banshee-data/scantrack/internal/lidar/l5tracks"
)

// isNilInterface checks if an interface value is nil or contains a nil pointer.
func isNilInterface(i interface{}) bool {
	if i == nil {
		return true
	}
	v := reflect.ValueOf(i)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// FrameSource yields the latest frame from the sensor link. ok is false
// when nothing has been received yet. l2frames.ScanBuffer satisfies it.
type FrameSource interface {
	Snapshot() (frame l2frames.ScanFrame, ok bool)
}

var (
	_ FrameSource     = (*l2frames.ScanBuffer)(nil)
	_ l1link.FrameSink = (*l2frames.ScanBuffer)(nil)
)

// PersistenceSink writes pipeline outputs to storage. It is an adapter, not
// a domain layer, so implementations live outside the layer packages
// (e.g. internal/lidar/storage/sqlite).
type PersistenceSink interface {
	// PersistFrame records the frame's lifecycle events and the state of
	// every active track.
	PersistFrame(ts time.Time, tracks []l5tracks.TrackedObject, events []l5tracks.Event) error
}

// PublishSink sends pipeline outputs to external consumers (websocket
// clients, debug views). Implementations must not block.
type PublishSink interface {
	PublishFrame(ts time.Time, tracks []l5tracks.TrackedObject, events []l5tracks.Event)
}
