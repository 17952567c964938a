package l1link

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/scantrack/internal/lidar"
	"github.com/banshee-data/scantrack/internal/timeutil"
)

var ErrWriteFailed = errors.New("failed to write to sensor link")

// Porter is the minimal interface needed for a sensor connection. Serial
// ports, TCP connections and replay readers all satisfy it.
type Porter interface {
	io.ReadWriter
	io.Closer
}

// FrameSink receives each decoded range frame. The slice is owned by the
// sink after the call. l2frames.ScanBuffer satisfies it.
type FrameSink interface {
	Store(distances []int64, ts time.Time) uint64
}

// Stats counts link activity.
type Stats struct {
	Frames   uint64 `json:"frames"`
	Errors   uint64 `json:"errors"`
	Commands uint64 `json:"commands"`
}

// Link speaks SCIP over a Porter. Monitor decodes range responses into the
// sink; any number of subscribers can tap the raw lines.
type Link[T Porter] struct {
	port  T
	sink  FrameSink
	clock timeutil.Clock

	params   atomic.Pointer[Params]
	reported chan struct{} // closed by the first PP reply
	once     sync.Once

	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      atomic.Bool

	frames   atomic.Uint64
	errors   atomic.Uint64
	commands atomic.Uint64
}

// NewLink creates a Link over port. A nil clock uses wall time.
func NewLink[T Porter](port T, sink FrameSink, clock timeutil.Clock) *Link[T] {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	l := &Link[T]{
		port:        port,
		sink:        sink,
		clock:       clock,
		subscribers: make(map[string]chan string),
		reported:    make(chan struct{}),
	}
	p := DefaultParams()
	l.params.Store(&p)
	return l
}

// Params returns the most recent PP report, or DefaultParams.
func (l *Link[T]) Params() Params {
	return *l.params.Load()
}

// ParamsReported returns a channel that is closed once the sensor has
// answered PP.
func (l *Link[T]) ParamsReported() <-chan struct{} {
	return l.reported
}

// Stats returns link counters.
func (l *Link[T]) Stats() Stats {
	return Stats{Frames: l.frames.Load(), Errors: l.errors.Load(), Commands: l.commands.Load()}
}

// Subscribe creates a channel that receives every raw line read from the
// sensor. Lines are dropped for subscribers that are not keeping up.
func (l *Link[T]) Subscribe() (string, chan string) {
	id := uuid.NewString()
	ch := make(chan string, 64)
	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	l.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (l *Link[T]) Unsubscribe(id string) {
	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	if ch, ok := l.subscribers[id]; ok {
		close(ch)
		delete(l.subscribers, id)
	}
}

// SendCommand writes a command line to the sensor.
func (l *Link[T]) SendCommand(command string) error {
	l.commandMu.Lock()
	defer l.commandMu.Unlock()
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := l.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	l.commands.Add(1)
	lidar.Diagf("[Link] sent %q", strings.TrimSpace(command))
	return nil
}

// Initialize asks for the sensor specification, switches the laser on and
// starts continuous measurement over the default range. Monitor must be
// running to consume the replies; a PP reply updates Params.
func (l *Link[T]) Initialize() error {
	for _, command := range []string{
		Simple(CmdParams),
		Simple(CmdLaserOn),
		l.Params().MeasureCommand(),
	} {
		if err := l.SendCommand(command); err != nil {
			return err
		}
	}
	return nil
}

// Stop ends continuous measurement and switches the laser off.
func (l *Link[T]) Stop() error {
	return l.SendCommand(Simple(CmdLaserOff))
}

// Monitor reads responses until ctx is done or the port reaches EOF.
// Malformed responses are logged and skipped.
func (l *Link[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(l.port)
	scan.Buffer(make([]byte, 0, 4096), 1<<20)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking Scan runs apart from the loop below so cancellation is
	// noticed even while the port is idle.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- strings.TrimSuffix(scan.Text(), "\r"):
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	var block []string
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			if l.closing.Load() {
				return nil
			}
			return err

		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					if !l.closing.Load() {
						return err
					}
				default:
				}
				if len(block) > 0 {
					l.handle(block)
				}
				return nil
			}
			if l.closing.Load() {
				return nil
			}
			l.fanOut(line)

			if line != "" {
				block = append(block, line)
				continue
			}
			if len(block) > 0 {
				l.handle(block)
				block = block[:0]
			}
		}
	}
}

func (l *Link[T]) fanOut(line string) {
	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	for _, ch := range l.subscribers {
		select {
		case ch <- line:
		default:
		}
	}
}

func (l *Link[T]) handle(block []string) {
	resp, err := ParseResponse(block)
	if err != nil {
		l.errors.Add(1)
		lidar.Opsf("[Link] dropping response %q: %v", resp.Echo, err)
		return
	}

	switch {
	case resp.Command() == CmdParams:
		p, err := ParseParams(resp)
		if err != nil {
			l.errors.Add(1)
			lidar.Opsf("[Link] bad PP reply: %v", err)
			return
		}
		l.params.Store(&p)
		l.once.Do(func() { close(l.reported) })
		lidar.Opsf("[Link] sensor %s: steps=%d range=[%d,%d] front=%d dmin=%d dmax=%d",
			p.Model, p.Steps, p.FirstStep, p.LastStep, p.FrontStep, p.MinDist, p.MaxDist)

	case resp.HasData():
		distances, err := resp.Distances(l.Params().MinDist)
		if err != nil {
			l.errors.Add(1)
			lidar.Opsf("[Link] bad range block: %v", err)
			return
		}
		l.frames.Add(1)
		if l.sink != nil {
			seq := l.sink.Store(distances, l.clock.Now())
			lidar.Tracef("[Link] frame %d: %d steps, sensor ts %d", seq, len(distances), resp.Timestamp)
		}

	default:
		lidar.Diagf("[Link] %s status %s", resp.Command(), resp.Status)
	}
}

// Close closes all subscriber channels and the port.
func (l *Link[T]) Close() error {
	l.closing.Store(true)

	l.subscriberMu.Lock()
	for id, ch := range l.subscribers {
		close(ch)
		delete(l.subscribers, id)
	}
	l.subscriberMu.Unlock()
	return l.port.Close()
}
