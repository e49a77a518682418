// Package dissect runs one captured WebSocket frame through the decoder, the
// field extractor and the method catalog.
package dissect

import (
	"fmt"
	"strings"

	"github.com/PentesterFlow/MCPInspector/internal/catalog"
	"github.com/PentesterFlow/MCPInspector/internal/parser"
	"github.com/PentesterFlow/MCPInspector/internal/websocket"
)

// MCPVersion is the only jsonrpc value treated as MCP traffic.
const MCPVersion = "2.0"

// Options controls dissection.
type Options struct {
	// ExtractTruncated runs the extractor over the captured prefix of a
	// truncated text frame. Off by default.
	ExtractTruncated bool
}

// Result is the outcome of dissecting one frame buffer.
type Result struct {
	Frame   *websocket.Frame
	Payload []byte // captured payload bytes, aliases the input buffer

	// Message is set for text frames with a payload, even when the version is
	// not MCP's.
	Message *parser.Message
	IsMCP   bool

	Description       string // catalog description of the method
	Target            string // tool name or resource URI addressed by the call
	TargetDescription string

	Summary string

	// Unparsed marks a truncated text frame whose payload was not extracted.
	Unparsed bool

	// Consumed is the declared frame length: header plus payload.
	Consumed uint64
}

// Dissect decodes buf and, for complete non-empty text frames, extracts the
// JSON-RPC fields. Only a buffer too short for the frame header is an error.
func Dissect(buf []byte, opts Options) (*Result, error) {
	f, err := websocket.Decode(buf)
	if err != nil {
		return nil, err
	}

	r := &Result{
		Frame:    f,
		Payload:  f.Payload(buf),
		Consumed: f.FrameLength(),
	}

	if f.Opcode == websocket.OpText && f.PayloadLength > 0 && len(r.Payload) > 0 {
		if !f.Truncated || opts.ExtractTruncated {
			r.Message = parser.Extract(string(r.Payload))
			r.IsMCP = r.Message.IsJSONRPC2()
		} else {
			r.Unparsed = true
		}
	}

	if r.IsMCP {
		r.describe()
		r.Summary = Summary(r.Message)
	} else {
		r.Summary = FrameSummary(f)
	}
	return r, nil
}

func (r *Result) describe() {
	method := r.Message.MethodName()
	if desc, ok := catalog.Describe(method); ok {
		r.Description = desc
	}
	if r.Message.Params == nil {
		return
	}

	var target *string
	switch method {
	case "tools/call":
		target = parser.LookupString(*r.Message.Params, "name")
	case "resources/read":
		target = parser.LookupString(*r.Message.Params, "uri")
	}
	if target == nil {
		return
	}
	r.Target = *target
	if desc, ok := catalog.Describe(r.Target); ok {
		r.TargetDescription = desc
	}
}

// Summary renders the one-line info text for an MCP message: "MCP <method>",
// " (Encrypted)" for encrypted requests and " [ERROR <code>]" for any non-zero
// error code, with or without a method.
func Summary(msg *parser.Message) string {
	if msg == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString("MCP")
	if msg.Method != nil {
		b.WriteString(" ")
		b.WriteString(*msg.Method)
		if msg.Encrypted {
			b.WriteString(" (Encrypted)")
		}
	}
	if code := msg.Code(); code != 0 {
		fmt.Fprintf(&b, " [ERROR %d]", code)
	}
	return b.String()
}

// FrameSummary renders the info text for a frame that carries no MCP message.
func FrameSummary(f *websocket.Frame) string {
	s := fmt.Sprintf("WebSocket %s, %d bytes", f.Opcode, f.PayloadLength)
	if f.Truncated {
		s += " (truncated)"
	}
	return s
}
