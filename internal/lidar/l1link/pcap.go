package l1link

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/scantrack/internal/lidar"
)

// ExtractSensorStream returns the TCP payload sent from sensorPort in a
// classic pcap capture, in capture order. Retransmissions are not removed,
// so captures should be taken on a quiet link.
func ExtractSensorStream(r io.Reader, sensorPort int) ([]byte, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read pcap header: %w", err)
	}
	source := gopacket.NewPacketSource(reader, reader.LinkType())

	var stream []byte
	packets, matched := 0, 0
	for {
		packet, err := source.NextPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("packet %d: %w", packets, err)
		}
		packets++

		tcpLayer := packet.Layer(layers.LayerTypeTCP)
		if tcpLayer == nil {
			continue
		}
		tcp, ok := tcpLayer.(*layers.TCP)
		if !ok || int(tcp.SrcPort) != sensorPort || len(tcp.Payload) == 0 {
			continue
		}
		matched++
		stream = append(stream, tcp.Payload...)
	}
	lidar.Diagf("[Link] pcap: %d packets, %d from port %d, %d bytes", packets, matched, sensorPort, len(stream))
	return stream, nil
}

// OpenPCAP replays the sensor side of a captured TCP session.
func OpenPCAP(path string, sensorPort int, interval time.Duration) (*ReplayPort, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file %s: %w", path, err)
	}
	defer f.Close()

	stream, err := ExtractSensorStream(f, sensorPort)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewReplayPort(stream, interval), nil
}
