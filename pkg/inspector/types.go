// Package inspector dissects MCP JSON-RPC traffic carried in WebSocket
// frames, from single frame buffers, captured byte streams, hex dumps, a
// forwarding proxy or a live probe.
package inspector

import (
	"time"

	"github.com/PentesterFlow/MCPInspector/internal/dissect"
	"github.com/PentesterFlow/MCPInspector/internal/metrics"
	"github.com/PentesterFlow/MCPInspector/internal/output"
	"github.com/PentesterFlow/MCPInspector/internal/parser"
	"github.com/PentesterFlow/MCPInspector/internal/ratelimit"
	"github.com/PentesterFlow/MCPInspector/internal/state"
	"github.com/PentesterFlow/MCPInspector/internal/websocket"
)

// Dissection is one decoded frame and the MCP message it carries.
type Dissection struct {
	Fin           bool   `json:"fin"`
	Opcode        string `json:"opcode"`
	HeaderLength  uint32 `json:"header_length"`
	PayloadOffset uint32 `json:"payload_offset"`
	PayloadLength uint32 `json:"payload_length"`
	Truncated     bool   `json:"truncated"`

	// Consumed is the declared frame length: header plus payload.
	Consumed uint64 `json:"consumed"`

	// Payload holds the captured payload bytes.
	Payload []byte `json:"-"`

	IsMCP             bool            `json:"mcp"`
	Message           *parser.Message `json:"message,omitempty"`
	Description       string          `json:"description,omitempty"`
	Target            string          `json:"target,omitempty"`
	TargetDescription string          `json:"target_description,omitempty"`
	Summary           string          `json:"summary"`
}

// Method returns the message method or "".
func (d *Dissection) Method() string {
	if d.Message == nil {
		return ""
	}
	return d.Message.MethodName()
}

// Report is the outcome of dissecting one capture.
type Report = output.Report

// Record is a dissected frame as stored in history.
type Record = dissect.Record

// SessionInfo summarizes a stored session.
type SessionInfo = state.SessionInfo

// ProbeReport is the outcome of a live probe: what was exchanged and the
// dissection of everything the server sent.
type ProbeReport struct {
	Probe  *websocket.ProbeResult `json:"probe"`
	Report *Report                `json:"report"`
}

// Stats contains the inspector's counters.
type Stats struct {
	Metrics  *metrics.Snapshot       `json:"metrics"`
	State    state.Stats             `json:"state"`
	Recorder websocket.RecorderStats `json:"recorder"`
	Limiter  ratelimit.LimiterStats  `json:"limiter"`
	Uptime   time.Duration           `json:"uptime"`
}

func convertResult(r *dissect.Result) *Dissection {
	return &Dissection{
		Fin:               r.Frame.Fin,
		Opcode:            r.Frame.Opcode.String(),
		HeaderLength:      r.Frame.HeaderLength,
		PayloadOffset:     r.Frame.PayloadOffset,
		PayloadLength:     r.Frame.PayloadLength,
		Truncated:         r.Frame.Truncated,
		Consumed:          r.Consumed,
		Payload:           r.Payload,
		IsMCP:             r.IsMCP,
		Message:           r.Message,
		Description:       r.Description,
		Target:            r.Target,
		TargetDescription: r.TargetDescription,
		Summary:           r.Summary,
	}
}
