package l1link

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrChecksum  = errors.New("scip checksum mismatch")
	ErrMalformed = errors.New("malformed scip response")
	ErrStatus    = errors.New("scip command rejected")
)

// Command mnemonics.
const (
	CmdVersion     = "VV"
	CmdParams      = "PP"
	CmdStatus      = "II"
	CmdLaserOn     = "BM"
	CmdLaserOff    = "QT"
	CmdMeasure     = "MD" // continuous, 3-character encoding
	CmdGetDistance = "GD" // single scan, 3-character encoding
	CmdMeasureEcho = "ME" // continuous, distance and intensity
)

// Status codes carried on the second line of a response.
const (
	StatusOK        = "00"
	StatusStreaming = "99" // MD/ME data follows
)

// dataLineWidth is the maximum payload length of one data line.
const dataLineWidth = 64

// MD builds a continuous measurement request. count 0 means until QT.
func MD(start, end, cluster, interval, count int) string {
	return fmt.Sprintf("%s%04d%04d%02d%01d%02d\n", CmdMeasure, start, end, cluster, interval, count)
}

// GD builds a single-scan request.
func GD(start, end, cluster int) string {
	return fmt.Sprintf("%s%04d%04d%02d\n", CmdGetDistance, start, end, cluster)
}

// Simple returns a parameterless command such as VV, PP, BM or QT.
func Simple(cmd string) string {
	return cmd + "\n"
}

// Checksum returns the SCIP check character for s: the low six bits of the
// byte sum, offset by 0x30.
func Checksum(s string) byte {
	var sum byte
	for i := 0; i < len(s); i++ {
		sum += s[i]
	}
	return (sum & 0x3f) + 0x30
}

// verifyLine strips and checks the trailing check character. Parameter
// lines ("NAME:value;") are summed without the separator.
func verifyLine(line string) (string, error) {
	if len(line) < 2 {
		return "", fmt.Errorf("%w: line %q too short", ErrMalformed, line)
	}
	payload, sum := line[:len(line)-1], line[len(line)-1]
	if Checksum(payload) == sum {
		return payload, nil
	}
	if p, ok := strings.CutSuffix(payload, ";"); ok && Checksum(p) == sum {
		return payload, nil
	}
	return "", fmt.Errorf("%w: line %q", ErrChecksum, line)
}

// Decode decodes a 2-, 3- or 4-character SCIP value.
func Decode(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty value", ErrMalformed)
	}
	var v int64
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x30 || c > 0x6f {
			return 0, fmt.Errorf("%w: character %q out of range", ErrMalformed, c)
		}
		v = v<<6 | int64(c-0x30)
	}
	return v, nil
}

// Encode is the inverse of Decode for a fixed width.
func Encode(v int64, width int) string {
	b := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		b[i] = byte(v&0x3f) + 0x30
		v >>= 6
	}
	return string(b)
}

// Response is one SCIP reply: everything between a command echo and the
// terminating blank line.
type Response struct {
	Echo      string
	Status    string
	Timestamp int64    // sensor milliseconds, wraps at 2^24
	Lines     []string // remaining lines with check characters removed
}

// Command returns the two-letter mnemonic of the echoed command.
func (r Response) Command() string {
	if len(r.Echo) < 2 {
		return ""
	}
	return r.Echo[:2]
}

// HasData reports whether the response carries a range block.
func (r Response) HasData() bool {
	switch r.Command() {
	case CmdMeasure, CmdMeasureEcho:
		return r.Status == StatusStreaming && len(r.Lines) > 0
	case CmdGetDistance:
		return r.Status == StatusOK && len(r.Lines) > 0
	}
	return false
}

// ParseResponse validates and splits the lines of one response block. The
// blank terminator must not be included.
func ParseResponse(lines []string) (Response, error) {
	if len(lines) < 2 {
		return Response{}, fmt.Errorf("%w: %d lines", ErrMalformed, len(lines))
	}
	resp := Response{Echo: lines[0]}

	status := lines[1]
	switch len(status) {
	case 1:
		// Some firmware answers malformed commands with a bare status char.
		resp.Status = status
		return resp, fmt.Errorf("%w: %q status %q", ErrStatus, resp.Echo, status)
	case 2:
		resp.Status = status
	default:
		s, err := verifyLine(status)
		if err != nil {
			return resp, err
		}
		resp.Status = s
	}
	if resp.Status != StatusOK && resp.Status != StatusStreaming {
		return resp, fmt.Errorf("%w: %q status %q", ErrStatus, resp.Echo, resp.Status)
	}

	rest := lines[2:]
	if cmd := resp.Command(); (cmd == CmdMeasure || cmd == CmdMeasureEcho || cmd == CmdGetDistance) && len(rest) > 0 {
		ts, err := verifyLine(rest[0])
		if err != nil {
			return resp, fmt.Errorf("timestamp: %w", err)
		}
		if resp.Timestamp, err = Decode(ts); err != nil {
			return resp, fmt.Errorf("timestamp: %w", err)
		}
		rest = rest[1:]
	}

	for _, line := range rest {
		payload, err := verifyLine(line)
		if err != nil {
			return resp, err
		}
		resp.Lines = append(resp.Lines, payload)
	}
	return resp, nil
}

// Distances decodes the 3-character range block. Readings below minDistance
// are sensor error codes and decode to 0, which conditioning treats as no
// echo.
func (r Response) Distances(minDistance int64) ([]int64, error) {
	data := strings.Join(r.Lines, "")
	if len(data)%3 != 0 {
		return nil, fmt.Errorf("%w: data length %d not a multiple of 3", ErrMalformed, len(data))
	}
	out := make([]int64, len(data)/3)
	for i := range out {
		v, err := Decode(data[3*i : 3*i+3])
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		if v < minDistance {
			v = 0
		}
		out[i] = v
	}
	return out, nil
}

// EncodeScan renders distances as a complete MD data response, as the sensor
// would send it. Used to build replay fixtures.
func EncodeScan(echo string, timestamp int64, distances []int64) string {
	var b strings.Builder
	writeLine := func(s string) {
		b.WriteString(s)
		b.WriteByte(Checksum(s))
		b.WriteByte('\n')
	}
	b.WriteString(strings.TrimSuffix(echo, "\n"))
	b.WriteByte('\n')
	writeLine(StatusStreaming)
	writeLine(Encode(timestamp, 4))

	var data strings.Builder
	for _, d := range distances {
		data.WriteString(Encode(d, 3))
	}
	s := data.String()
	for len(s) > 0 {
		n := min(dataLineWidth, len(s))
		writeLine(s[:n])
		s = s[n:]
	}
	b.WriteByte('\n')
	return b.String()
}
