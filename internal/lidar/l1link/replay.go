package l1link

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// maxReplaySize bounds replay fixtures read from disk.
const maxReplaySize = 256 << 20

// ReplayPort plays recorded sensor output back as if it came from a live
// sensor, releasing one response block per interval. Commands written to it
// are recorded and otherwise ignored.
type ReplayPort struct {
	blocks   [][]byte
	next     int
	cur      []byte
	interval time.Duration

	mu       sync.Mutex
	commands []string

	done      chan struct{}
	closeOnce sync.Once
}

// NewReplayPort splits data into response blocks. interval 0 replays as fast
// as the reader consumes.
func NewReplayPort(data []byte, interval time.Duration) *ReplayPort {
	return &ReplayPort{
		blocks:   splitBlocks(data),
		interval: interval,
		done:     make(chan struct{}),
	}
}

// OpenReplay loads a SCIP text capture from path.
func OpenReplay(path string, interval time.Duration) (*ReplayPort, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxReplaySize {
		return nil, fmt.Errorf("replay file %s too large (%d bytes)", path, info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewReplayPort(data, interval), nil
}

// splitBlocks cuts data after every blank line, keeping the terminators.
func splitBlocks(data []byte) [][]byte {
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	var blocks [][]byte
	for len(data) > 0 {
		i := bytes.Index(data, []byte("\n\n"))
		if i < 0 {
			blocks = append(blocks, data)
			break
		}
		blocks = append(blocks, data[:i+2])
		data = data[i+2:]
	}
	return blocks
}

// Blocks returns the number of response blocks in the replay.
func (r *ReplayPort) Blocks() int { return len(r.blocks) }

// Read returns the next bytes of the replay, waiting interval before each
// block after the first. It returns io.EOF at the end or after Close.
func (r *ReplayPort) Read(p []byte) (int, error) {
	select {
	case <-r.done:
		return 0, io.EOF
	default:
	}
	if len(r.cur) == 0 {
		if r.next >= len(r.blocks) {
			return 0, io.EOF
		}
		if r.next > 0 && r.interval > 0 {
			timer := time.NewTimer(r.interval)
			select {
			case <-timer.C:
			case <-r.done:
				timer.Stop()
				return 0, io.EOF
			}
		}
		r.cur = r.blocks[r.next]
		r.next++
	}
	n := copy(p, r.cur)
	r.cur = r.cur[n:]
	return n, nil
}

// Write records a command.
func (r *ReplayPort) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, string(p))
	return len(p), nil
}

// Commands returns the commands written so far.
func (r *ReplayPort) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}

// Close ends the replay; a blocked Read returns io.EOF.
func (r *ReplayPort) Close() error {
	r.closeOnce.Do(func() { close(r.done) })
	return nil
}
