package output

import (
	"fmt"
	"io"
	"sync"

	"github.com/PentesterFlow/MCPInspector/internal/dissect"
)

// SummaryWriter writes one info line per frame, like a packet list.
type SummaryWriter struct {
	mu     sync.Mutex
	writer io.Writer
	count  int
	closed bool
}

// NewSummaryWriter creates a new summary writer.
func NewSummaryWriter(w io.Writer) *SummaryWriter {
	return &SummaryWriter{writer: w}
}

// WriteDissection writes the info line of rec.
func (s *SummaryWriter) WriteDissection(rec *dissect.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.count++

	_, err := fmt.Fprintf(s.writer, "%6d  %10d  %-16s  %s\n",
		s.count, rec.Offset, rec.Direction, rec.Summary)
	return err
}

// WriteSummary writes a one-line total.
func (s *SummaryWriter) WriteSummary(report *Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	st := report.Statistics
	_, err := fmt.Fprintf(s.writer, "%s: %d frames, %d MCP messages, %d errors, %d truncated\n",
		report.Session, st.Frames, st.MCPMessages, st.Errors, st.Truncated)
	return err
}

// Flush flushes the writer.
func (s *SummaryWriter) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return flush(s.writer)
}

// Close closes the writer.
func (s *SummaryWriter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return closeWriter(s.writer)
}
