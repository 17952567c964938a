// Package lidar holds process-wide concerns shared by the scan tracking
// layers: the three logging streams and their configuration.
package lidar

import (
	"io"
	"log"
	"sync"
)

// LogWriters holds the io.Writers for each logging stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

// Stream identifies one of the three logging streams.
type Stream int

const (
	// StreamOps carries actionable warnings, faults and track lifecycle events.
	StreamOps Stream = iota
	// StreamDiag carries day-to-day diagnostics and tuning context.
	StreamDiag
	// StreamTrace carries per-frame telemetry.
	StreamTrace
)

var (
	mu      sync.RWMutex
	loggers [3]*log.Logger
)

// SetLogWriters configures all three logging streams at once.
// Pass nil for any writer to disable that stream.
func SetLogWriters(w LogWriters) {
	mu.Lock()
	defer mu.Unlock()
	loggers[StreamOps] = newLogger(w.Ops)
	loggers[StreamDiag] = newLogger(w.Diag)
	loggers[StreamTrace] = newLogger(w.Trace)
}

// SetLegacyLogger routes all three streams to a single writer.
// Pass nil to disable all logging.
func SetLegacyLogger(w io.Writer) {
	SetLogWriters(LogWriters{Ops: w, Diag: w, Trace: w})
}

// Enabled reports whether the stream currently has a writer. Callers use it
// to skip building expensive per-frame trace arguments.
func Enabled(s Stream) bool {
	mu.RLock()
	defer mu.RUnlock()
	return loggers[s] != nil
}

func newLogger(w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, "[scan] ", log.LstdFlags|log.Lmicroseconds)
}

func logf(s Stream, format string, args ...interface{}) {
	mu.RLock()
	l := loggers[s]
	mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// Opsf logs to the ops stream.
func Opsf(format string, args ...interface{}) { logf(StreamOps, format, args...) }

// Diagf logs to the diag stream.
func Diagf(format string, args ...interface{}) { logf(StreamDiag, format, args...) }

// Tracef logs to the trace stream.
func Tracef(format string, args ...interface{}) { logf(StreamTrace, format, args...) }
