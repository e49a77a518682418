package output

import (
	"time"

	"github.com/PentesterFlow/MCPInspector/internal/dissect"
)

// Report summarizes one dissection run.
type Report struct {
	Session     string        `json:"session"`
	Source      string        `json:"source,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration"`
	Statistics  Statistics    `json:"statistics"`

	// Frames is only filled by non-streaming JSON output.
	Frames []*dissect.Record `json:"frames,omitempty"`
}

// Statistics counts what a run saw.
type Statistics struct {
	Frames      int            `json:"frames"`
	Bytes       int64          `json:"bytes"`
	Truncated   int            `json:"truncated"`
	MCPMessages int            `json:"mcp_messages"`
	Encrypted   int            `json:"encrypted"`
	Errors      int            `json:"errors"`
	Duplicates  int            `json:"duplicates"`
	ByOpcode    map[string]int `json:"by_opcode"`
	ByMethod    map[string]int `json:"by_method"`
	ByErrorCode map[int32]int  `json:"by_error_code,omitempty"`
}

// MethodCount pairs a method with its number of messages.
type MethodCount struct {
	Method string `json:"method"`
	Count  int    `json:"count"`
}

// StreamEvent is one line of streaming JSON output.
type StreamEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}
