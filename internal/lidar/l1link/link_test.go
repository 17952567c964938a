package l1link

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/banshee-data/scantrack/internal/timeutil"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type frameRecorder struct {
	mu     sync.Mutex
	frames [][]int64
	times  []time.Time
}

func (r *frameRecorder) Store(distances []int64, ts time.Time) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, distances)
	r.times = append(r.times, ts)
	return uint64(len(r.frames))
}

func (r *frameRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func ppBlock(params ...string) string {
	return strings.Join(ppLines(params...), "\n") + "\n\n"
}

func scan(values ...int64) string {
	return EncodeScan("MD0000000300", 0, values)
}

type failingPort struct {
	n   int
	err error
}

func (p *failingPort) Read([]byte) (int, error)    { return 0, io.EOF }
func (p *failingPort) Write(b []byte) (int, error) { return p.n, p.err }
func (p *failingPort) Close() error                { return nil }

// localHostRequest creates a request that passes tsweb's loopback check.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

// ---------------------------------------------------------------------------
// Monitor
// ---------------------------------------------------------------------------

func TestMonitorDecodesFramesIntoSink(t *testing.T) {
	t.Parallel()
	data := ppBlock("MODL:TEST", "DMIN:100", "ARES:4", "AMIN:0", "AMAX:3", "AFRT:1") +
		"MD0000000300\n" + withSum(StatusOK) + "\n\n" +
		scan(50, 500, 1000, 2000) +
		scan(600, 700, 800, 900)

	port := NewReplayPort([]byte(data), 0)
	sink := &frameRecorder{}
	mc := timeutil.NewMockClock(t0)
	link := NewLink(port, sink, mc)

	require.NoError(t, link.Monitor(context.Background()))

	require.Equal(t, 2, sink.count())
	assert.Equal(t, []int64{0, 500, 1000, 2000}, sink.frames[0], "readings below DMIN decode to 0")
	assert.Equal(t, []int64{600, 700, 800, 900}, sink.frames[1])
	assert.Equal(t, t0, sink.times[0])

	p := link.Params()
	assert.Equal(t, "TEST", p.Model)
	assert.Equal(t, 4, p.Steps)
	assert.Equal(t, Stats{Frames: 2}, link.Stats())

	select {
	case <-link.ParamsReported():
	default:
		t.Fatal("PP reply not reported")
	}
}

func TestMonitorSkipsCorruptResponses(t *testing.T) {
	t.Parallel()
	good := scan(500, 600, 700)
	bad := strings.Replace(scan(500, 600, 700), "MD0000000300\n99b\n", "MD0000000300\n99c\n", 1)
	port := NewReplayPort([]byte(bad+good), 0)
	sink := &frameRecorder{}
	link := NewLink(port, sink, nil)

	require.NoError(t, link.Monitor(context.Background()))
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, uint64(1), link.Stats().Errors)
}

func TestMonitorHandlesUnterminatedTail(t *testing.T) {
	t.Parallel()
	data := strings.TrimSuffix(scan(500, 600, 700), "\n")
	sink := &frameRecorder{}
	link := NewLink(NewReplayPort([]byte(data), 0), sink, nil)

	require.NoError(t, link.Monitor(context.Background()))
	assert.Equal(t, 1, sink.count())
}

func TestMonitorStopsOnCancel(t *testing.T) {
	t.Parallel()
	server, client := net.Pipe()
	defer server.Close()
	link := NewLink(client, &frameRecorder{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- link.Monitor(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
	require.NoError(t, link.Close())
}

func TestSubscribersReceiveRawLines(t *testing.T) {
	t.Parallel()
	link := NewLink(NewReplayPort([]byte(scan(500)), 0), &frameRecorder{}, nil)
	id, ch := link.Subscribe()

	require.NoError(t, link.Monitor(context.Background()))
	assert.Equal(t, "MD0000000300", <-ch)
	assert.Equal(t, withSum(StatusStreaming), <-ch)

	link.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok)
	link.Unsubscribe(id)
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func TestInitializeSendsStartupCommands(t *testing.T) {
	t.Parallel()
	port := NewReplayPort(nil, 0)
	link := NewLink(port, nil, nil)

	require.NoError(t, link.Initialize())
	require.NoError(t, link.Stop())
	assert.Equal(t, []string{"PP\n", "BM\n", "MD0000108001000\n", "QT\n"}, port.Commands())
	assert.Equal(t, uint64(4), link.Stats().Commands)
}

func TestSendCommandErrors(t *testing.T) {
	t.Parallel()

	t.Run("write error", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("boom")
		link := NewLink(&failingPort{err: boom}, nil, nil)
		assert.ErrorIs(t, link.SendCommand("PP"), boom)
	})

	t.Run("short write", func(t *testing.T) {
		t.Parallel()
		link := NewLink(&failingPort{n: 1}, nil, nil)
		assert.ErrorIs(t, link.SendCommand("PP"), ErrWriteFailed)
		assert.ErrorIs(t, link.Initialize(), ErrWriteFailed)
	})
}

// ---------------------------------------------------------------------------
// Replay
// ---------------------------------------------------------------------------

func TestSplitBlocks(t *testing.T) {
	t.Parallel()
	blocks := splitBlocks([]byte("A\r\nB\r\n\r\nC\n\nD"))
	require.Len(t, blocks, 3)
	assert.Equal(t, "A\nB\n\n", string(blocks[0]))
	assert.Equal(t, "C\n\n", string(blocks[1]))
	assert.Equal(t, "D", string(blocks[2]))
}

func TestReplayPortCloseUnblocksRead(t *testing.T) {
	t.Parallel()
	port := NewReplayPort([]byte("A\n\nB\n\n"), time.Hour)
	buf := make([]byte, 16)
	n, err := port.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "A\n\n", string(buf[:n]))

	done := make(chan error, 1)
	go func() {
		_, err := port.Read(buf)
		done <- err
	}()
	require.NoError(t, port.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(time.Second):
		t.Fatal("read did not unblock")
	}
}

func TestOpenReplay(t *testing.T) {
	t.Parallel()
	path := t.TempDir() + "/capture.scip"
	require.NoError(t, os.WriteFile(path, []byte(scan(500, 600)+scan(700, 800)), 0o644))

	port, err := OpenReplay(path, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, port.Blocks())

	_, err = OpenReplay(t.TempDir()+"/missing.scip", 0)
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// PCAP
// ---------------------------------------------------------------------------

type segment struct {
	src, dst int
	payload  string
}

func buildCapture(t *testing.T, segments ...segment) []byte {
	t.Helper()
	var out bytes.Buffer
	w := pcapgo.NewWriter(&out)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	for i, seg := range segments {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
			DstMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 6},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolTCP,
			SrcIP:    net.IP{192, 168, 0, 10},
			DstIP:    net.IP{192, 168, 0, 2},
		}
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(seg.src),
			DstPort: layers.TCPPort(seg.dst),
			Seq:     uint32(1000 + i),
			PSH:     true,
			ACK:     true,
			Window:  1024,
		}
		require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(seg.payload)))
		data := buf.Bytes()
		require.NoError(t, w.WritePacket(gopacket.CaptureInfo{
			Timestamp:     t0.Add(time.Duration(i) * 25 * time.Millisecond),
			CaptureLength: len(data),
			Length:        len(data),
		}, data))
	}
	return out.Bytes()
}

func TestExtractSensorStream(t *testing.T) {
	t.Parallel()
	frame := scan(500, 600, 700)
	half := len(frame) / 2
	capture := buildCapture(t,
		segment{50000, DefaultSensorPort, "MD0000000300\n"},
		segment{DefaultSensorPort, 50000, frame[:half]},
		segment{DefaultSensorPort, 50000, frame[half:]},
	)

	stream, err := ExtractSensorStream(bytes.NewReader(capture), DefaultSensorPort)
	require.NoError(t, err)
	assert.Equal(t, frame, string(stream))

	sink := &frameRecorder{}
	link := NewLink(NewReplayPort(stream, 0), sink, nil)
	require.NoError(t, link.Monitor(context.Background()))
	require.Equal(t, 1, sink.count())
	assert.Equal(t, []int64{500, 600, 700}, sink.frames[0])
}

func TestExtractSensorStreamRejectsGarbage(t *testing.T) {
	t.Parallel()
	_, err := ExtractSensorStream(strings.NewReader("not a pcap"), DefaultSensorPort)
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Serial options
// ---------------------------------------------------------------------------

func TestPortOptions(t *testing.T) {
	t.Parallel()

	opts, err := PortOptions{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}, opts)

	mode, err := PortOptions{StopBits: 2, Parity: "even"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.EvenParity, mode.Parity)

	for _, bad := range []PortOptions{{DataBits: 9}, {StopBits: 3}, {Parity: "mark"}} {
		_, err := bad.SerialMode()
		assert.Error(t, err, "%+v", bad)
	}
}

// ---------------------------------------------------------------------------
// Admin routes
// ---------------------------------------------------------------------------

func TestAttachAdminRoutes(t *testing.T) {
	t.Parallel()
	port := NewReplayPort(nil, 0)
	link := NewLink(port, nil, nil)
	mux := http.NewServeMux()
	link.AttachAdminRoutes(mux)

	t.Run("console", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/scan-link", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "scan-link-command")
	})

	t.Run("command", func(t *testing.T) {
		form := url.Values{"command": {"PP"}}
		req := localHostRequest(http.MethodPost, "/debug/scan-link-command", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, port.Commands(), "PP\n")
	})

	t.Run("missing command", func(t *testing.T) {
		req := localHostRequest(http.MethodPost, "/debug/scan-link-command", strings.NewReader(""))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("stats", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/scan-link-stats", nil))
		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Params Params `json:"params"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, DefaultParams(), body.Params)
	})
}
