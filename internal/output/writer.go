// Package output renders dissection records and run reports.
package output

import (
	"io"

	"github.com/PentesterFlow/MCPInspector/internal/dissect"
)

// Output formats.
const (
	FormatJSON    = "json"
	FormatTree    = "tree"
	FormatSummary = "summary"
)

// Writer defines the interface for output writers.
type Writer interface {
	// WriteDissection writes one dissected frame
	WriteDissection(rec *dissect.Record) error

	// WriteSummary writes the report of a finished run
	WriteSummary(report *Report) error

	// Flush flushes any buffered output
	Flush() error

	// Close closes the writer
	Close() error
}

// Config holds output configuration.
type Config struct {
	Format   string
	Pretty   bool
	Stream   bool
	FilePath string
}

// NewWriter creates a new output writer. Unknown formats fall back to JSON.
func NewWriter(w io.Writer, config Config) Writer {
	switch config.Format {
	case FormatTree:
		return NewTreeWriter(w)
	case FormatSummary:
		return NewSummaryWriter(w)
	default:
		return NewJSONWriter(w, config.Pretty, config.Stream)
	}
}
