// Package websocket decodes WebSocket frames out of captured traffic and
// records MCP sessions for inspection.
//
// Payloads are assumed to be unmasked (server-to-client traffic). The mask bit
// is never evaluated; a masked frame decodes with the mask key counted as
// payload, so its extracted bytes are garbage.
package websocket

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrTooShort is returned when the buffer cannot hold the declared header.
var ErrTooShort = errors.New("websocket: frame too short")

// Header lengths for the three payload-length encodings.
const (
	shortHeaderLen    = 2
	extended16HeadLen = 4
	extended64HeadLen = 10

	finBit      = 0x80
	rsvBits     = 0x70
	opcodeBits  = 0x0F
	lengthBits  = 0x7F
	len16Marker = 126
	len64Marker = 127
)

// Frame is a decoded WebSocket frame header.
type Frame struct {
	Fin           bool
	Reserved      uint8 // RSV1-3, accepted but not validated
	Opcode        Opcode
	HeaderLength  uint32
	PayloadOffset uint32
	PayloadLength uint32

	// Truncated is set when the buffer holds fewer payload bytes than declared.
	Truncated bool
}

// Decode parses the frame header at the start of buf.
//
// Only a buffer too short for the header itself is an error; an incomplete
// body is reported through Frame.Truncated.
func Decode(buf []byte) (*Frame, error) {
	if len(buf) < shortHeaderLen {
		return nil, ErrTooShort
	}

	f := &Frame{
		Fin:          buf[0]&finBit != 0,
		Reserved:     (buf[0] & rsvBits) >> 4,
		Opcode:       Opcode(buf[0] & opcodeBits),
		HeaderLength: shortHeaderLen,
	}

	switch code := buf[1] & lengthBits; code {
	case len16Marker:
		if len(buf) < extended16HeadLen {
			return nil, ErrTooShort
		}
		f.PayloadLength = uint32(binary.BigEndian.Uint16(buf[2:4]))
		f.HeaderLength = extended16HeadLen
	case len64Marker:
		if len(buf) < extended64HeadLen {
			return nil, ErrTooShort
		}
		n := binary.BigEndian.Uint64(buf[2:10])
		if n > math.MaxUint32 {
			n = math.MaxUint32
		}
		f.PayloadLength = uint32(n)
		f.HeaderLength = extended64HeadLen
	default:
		f.PayloadLength = uint32(code)
	}

	f.PayloadOffset = f.HeaderLength
	f.Truncated = uint64(f.HeaderLength)+uint64(f.PayloadLength) > uint64(len(buf))
	return f, nil
}

// FrameLength returns header plus declared payload length.
func (f *Frame) FrameLength() uint64 {
	return uint64(f.HeaderLength) + uint64(f.PayloadLength)
}

// Payload returns the captured payload bytes of buf. For a truncated frame
// this is the available prefix. The result aliases buf.
func (f *Frame) Payload(buf []byte) []byte {
	start := uint64(f.PayloadOffset)
	if start >= uint64(len(buf)) {
		return nil
	}
	end := start + uint64(f.PayloadLength)
	if end > uint64(len(buf)) {
		end = uint64(len(buf))
	}
	return buf[start:end]
}
