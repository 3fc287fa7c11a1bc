package flowserver

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"strconv"
	"strings"

	"github.com/banshee-data/poolflow/internal/flowmap"
	"github.com/banshee-data/poolflow/internal/geometry"
)

// Client command opcodes. Each is a single byte; opcodes 2, 5 and 7 are
// followed by a big-endian uint32 length and that many payload bytes.
const (
	CmdRequestFrame       byte = 1
	CmdEditedFrame        byte = 2
	CmdStartStreaming     byte = 3
	CmdStopStreaming      byte = 4
	CmdCalibrationPoints  byte = 5
	CmdRequestTransformed byte = 6
	CmdJetVectors         byte = 7
)

// Server message types. Every message is type byte, big-endian uint32
// length, JPEG payload.
const (
	MsgFlowMap          byte = 1
	MsgFrame            byte = 2
	MsgTransformedFrame byte = 3
)

// DefaultMaxPayload caps a single inbound payload.
const DefaultMaxPayload = 32 << 20

var (
	// ErrPayloadTooLarge is returned when a length prefix exceeds the limit.
	ErrPayloadTooLarge = errors.New("flowserver: payload exceeds limit")
	// ErrBadPoints is returned for calibration payloads that are not exactly
	// four integer points.
	ErrBadPoints = errors.New("flowserver: malformed calibration points")
)

func commandName(op byte) string {
	switch op {
	case CmdRequestFrame:
		return "request_frame"
	case CmdEditedFrame:
		return "edited_frame"
	case CmdStartStreaming:
		return "start_streaming"
	case CmdStopStreaming:
		return "stop_streaming"
	case CmdCalibrationPoints:
		return "calibration_points"
	case CmdRequestTransformed:
		return "request_transformed"
	case CmdJetVectors:
		return "jet_vectors"
	default:
		return fmt.Sprintf("unknown(%d)", op)
	}
}

// readPayload reads a length-prefixed payload. A short read returns the
// underlying io error.
func readPayload(r io.Reader, limit int) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if limit > 0 && uint64(n) > uint64(limit) {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, n, limit)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read payload (%d bytes): %w", n, err)
	}
	return buf, nil
}

// writeMessage writes one framed server message in a single Write.
func writeMessage(w io.Writer, typ byte, payload []byte) error {
	buf := make([]byte, 5+len(payload))
	buf[0] = typ
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(payload)))
	copy(buf[5:], payload)
	_, err := w.Write(buf)
	return err
}

// ParsePoints parses "x,y;x,y;x,y;x,y". Segments without a comma are
// ignored; any other malformed segment, or a count other than four, is an
// error.
func ParsePoints(s string) ([]geometry.Point, error) {
	var pts []geometry.Point
	for _, seg := range strings.Split(s, ";") {
		if !strings.Contains(seg, ",") {
			continue
		}
		parts := strings.Split(seg, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: segment %q", ErrBadPoints, seg)
		}
		x, errX := strconv.Atoi(strings.TrimSpace(parts[0]))
		y, errY := strconv.Atoi(strings.TrimSpace(parts[1]))
		if errX != nil || errY != nil {
			return nil, fmt.Errorf("%w: segment %q", ErrBadPoints, seg)
		}
		pts = append(pts, geometry.Pt(float64(x), float64(y)))
	}
	if len(pts) != 4 {
		return nil, fmt.Errorf("%w: got %d points, want 4", ErrBadPoints, len(pts))
	}
	return pts, nil
}

// ParseJets parses "sx,sy,ex,ey;...". Every group of exactly four integers
// is kept; anything else is skipped.
func ParseJets(s string) []flowmap.JetVector {
	var out []flowmap.JetVector
	for _, seg := range strings.Split(s, ";") {
		if strings.Count(seg, ",") != 3 {
			continue
		}
		parts := strings.Split(seg, ",")
		var v [4]int
		ok := true
		for i, p := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				ok = false
				break
			}
			v[i] = n
		}
		if !ok {
			tracef("skipping malformed jet %q", seg)
			continue
		}
		out = append(out, flowmap.JetVector{Start: image.Pt(v[0], v[1]), End: image.Pt(v[2], v[3])})
	}
	return out
}

// FormatJets is the inverse of ParseJets.
func FormatJets(jets []flowmap.JetVector) string {
	parts := make([]string, len(jets))
	for i, j := range jets {
		parts[i] = j.String()
	}
	return strings.Join(parts, ";")
}
