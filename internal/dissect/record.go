package dissect

import (
	"crypto/md5"
	"encoding/hex"
	"time"

	"github.com/PentesterFlow/MCPInspector/internal/parser"
	"github.com/PentesterFlow/MCPInspector/internal/websocket"
)

// Record is a dissected frame as written to output and kept in history.
type Record struct {
	Session   string              `json:"session"`
	Seq       uint64              `json:"seq,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
	Direction websocket.Direction `json:"direction"`
	Offset    int64               `json:"offset"`

	Opcode        string `json:"opcode"`
	Fin           bool   `json:"fin"`
	HeaderLength  uint32 `json:"header_length"`
	PayloadLength uint32 `json:"payload_length"`
	Captured      int    `json:"captured"`
	Truncated     bool   `json:"truncated,omitempty"`
	Hash          string `json:"hash"`

	// Payload holds the captured bytes of text frames only.
	Payload string `json:"payload,omitempty"`

	IsMCP             bool            `json:"mcp"`
	Message           *parser.Message `json:"message,omitempty"`
	Description       string          `json:"description,omitempty"`
	Target            string          `json:"target,omitempty"`
	TargetDescription string          `json:"target_description,omitempty"`
	Summary           string          `json:"summary"`
}

// Record converts r into a history record for the given capture position.
func (r *Result) Record(session string, dir websocket.Direction, offset int64) *Record {
	rec := &Record{
		Session:           session,
		Timestamp:         time.Now(),
		Direction:         dir,
		Offset:            offset,
		Opcode:            r.Frame.Opcode.String(),
		Fin:               r.Frame.Fin,
		HeaderLength:      r.Frame.HeaderLength,
		PayloadLength:     r.Frame.PayloadLength,
		Captured:          len(r.Payload),
		Truncated:         r.Frame.Truncated,
		Hash:              ContentHash(r.Payload),
		IsMCP:             r.IsMCP,
		Message:           r.Message,
		Description:       r.Description,
		Target:            r.Target,
		TargetDescription: r.TargetDescription,
		Summary:           r.Summary,
	}
	if r.Frame.Opcode == websocket.OpText {
		rec.Payload = string(r.Payload)
	}
	return rec
}

// Method returns the record's method or "".
func (rec *Record) Method() string {
	if rec.Message == nil {
		return ""
	}
	return rec.Message.MethodName()
}

// ContentHash returns a short digest of payload for duplicate detection.
func ContentHash(payload []byte) string {
	sum := md5.Sum(payload)
	return hex.EncodeToString(sum[:8])
}
