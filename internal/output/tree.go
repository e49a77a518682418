package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/PentesterFlow/MCPInspector/internal/catalog"
	"github.com/PentesterFlow/MCPInspector/internal/dissect"
)

// TreeWriter renders each record as an indented protocol tree:
//
//	Frame 1 @0 (server_to_client): MCP tools/call
//	  MCP WebSocket
//	    WebSocket Opcode: 1 (Text)
//	    FIN: true
//	    Payload Length: 57
//	    WebSocket Payload: {...}
//	    Model Context Protocol
//	      MCP Version: 2.0
//	      Method: tools/call (Call a tool)
//	      ...
type TreeWriter struct {
	mu     sync.Mutex
	writer io.Writer
	count  int
	closed bool
}

// NewTreeWriter creates a new tree writer.
func NewTreeWriter(w io.Writer) *TreeWriter {
	return &TreeWriter{writer: w}
}

type tree struct {
	b strings.Builder
}

func (t *tree) line(depth int, format string, args ...interface{}) {
	t.b.WriteString(strings.Repeat("  ", depth))
	fmt.Fprintf(&t.b, format, args...)
	t.b.WriteByte('\n')
}

func (t *tree) str(depth int, label string, v *string) {
	if v != nil {
		t.line(depth, "%s: %s", label, *v)
	}
}

// WriteDissection writes the tree of one record.
func (w *TreeWriter) WriteDissection(rec *dissect.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.count++

	var t tree
	t.line(0, "Frame %d @%d (%s): %s", w.count, rec.Offset, rec.Direction, rec.Summary)
	t.line(1, "MCP WebSocket")
	t.line(2, "WebSocket Opcode: %s", rec.Opcode)
	t.line(2, "FIN: %t", rec.Fin)
	t.line(2, "Payload Length: %d", rec.PayloadLength)
	if rec.Truncated {
		t.line(2, "[Truncated: %d of %d bytes captured]", rec.Captured, rec.PayloadLength)
	}
	if rec.Payload != "" {
		t.line(2, "WebSocket Payload: %s", rec.Payload)
	}

	if rec.IsMCP && rec.Message != nil {
		writeMessage(&t, 2, rec)
	}

	_, err := io.WriteString(w.writer, t.b.String())
	return err
}

func writeMessage(t *tree, depth int, rec *dissect.Record) {
	m := rec.Message

	t.line(depth, "Model Context Protocol")
	depth++
	t.str(depth, "MCP Version", m.Version)
	if m.Method != nil {
		if rec.Description != "" {
			t.line(depth, "Method: %s (%s)", *m.Method, rec.Description)
		} else {
			t.line(depth, "Method: %s", *m.Method)
		}
	}
	if rec.Target != "" {
		if rec.TargetDescription != "" {
			t.line(depth, "Target: %s (%s)", rec.Target, rec.TargetDescription)
		} else {
			t.line(depth, "Target: %s", rec.Target)
		}
	}
	t.str(depth, "Request ID", m.ID)

	if m.Encrypted {
		t.line(depth, "Encryption")
		t.line(depth+1, "Encrypted: true")
		t.str(depth+1, "Ciphertext", m.Ciphertext)
		t.str(depth+1, "IV", m.IV)
		t.str(depth+1, "Ratchet Header", m.RatchetHeader)
	}

	t.str(depth, "Parameters", m.Params)
	t.str(depth, "Result", m.Result)
	if m.ErrorCode != nil {
		t.line(depth, "Error Code: %d", *m.ErrorCode)
	}
	t.str(depth, "Error Message", m.ErrorMessage)
	t.str(depth, "Agent ID", m.AgentID)
}

// WriteSummary writes the report as a tree.
func (w *TreeWriter) WriteSummary(report *Report) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	s := report.Statistics
	var t tree
	t.line(0, "Session %s", report.Session)
	if report.Source != "" {
		t.line(1, "Source: %s", report.Source)
	}
	t.line(1, "Duration: %s", report.Duration)
	t.line(1, "Frames: %d (%d bytes, %d truncated)", s.Frames, s.Bytes, s.Truncated)
	t.line(1, "MCP Messages: %d (%d encrypted, %d errors)", s.MCPMessages, s.Encrypted, s.Errors)
	if s.Duplicates > 0 {
		t.line(1, "Duplicates: %d", s.Duplicates)
	}

	if len(s.ByOpcode) > 0 {
		t.line(1, "Opcodes")
		for _, op := range sortedKeys(s.ByOpcode) {
			t.line(2, "%s: %d", op, s.ByOpcode[op])
		}
	}

	if methods := report.TopMethods(0); len(methods) > 0 {
		t.line(1, "Methods")
		for _, mc := range methods {
			if desc, ok := catalog.Describe(mc.Method); ok {
				t.line(2, "%s (%s): %d", mc.Method, desc, mc.Count)
			} else {
				t.line(2, "%s: %d", mc.Method, mc.Count)
			}
		}
	}

	_, err := io.WriteString(w.writer, t.b.String())
	return err
}

// Flush flushes the writer.
func (w *TreeWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return flush(w.writer)
}

// Close closes the writer.
func (w *TreeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	return closeWriter(w.writer)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
