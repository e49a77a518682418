package websocket

import "time"

// Opcode identifies the WebSocket frame type (RFC 6455 section 5.2).
type Opcode uint8

// Frame opcodes. Values 3-7 and 11-15 are reserved.
const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// String returns the display name of the opcode.
func (o Opcode) String() string {
	switch o {
	case OpContinuation:
		return "Continuation"
	case OpText:
		return "Text"
	case OpBinary:
		return "Binary"
	case OpClose:
		return "Close"
	case OpPing:
		return "Ping"
	case OpPong:
		return "Pong"
	default:
		return "Reserved"
	}
}

// IsControl reports whether the opcode is a control frame (close, ping, pong).
func (o Opcode) IsControl() bool {
	return o&0x08 != 0
}

// Direction of a captured frame relative to the MCP server.
type Direction string

const (
	ToClient Direction = "server_to_client"
	ToServer Direction = "client_to_server"
)

// RawFrame is one frame buffer cut out of a captured byte stream.
type RawFrame struct {
	Offset    int64 // stream offset of the first header byte
	Data      []byte
	Truncated bool
}

// RecordedFrame is a frame as kept by the Recorder.
type RecordedFrame struct {
	Timestamp time.Time `json:"timestamp"`
	Direction Direction `json:"direction"`
	Offset    int64     `json:"offset"`
	Opcode    string    `json:"opcode"`
	Size      int       `json:"size"`
	Truncated bool      `json:"truncated,omitempty"`
	Summary   string    `json:"summary,omitempty"`
}
