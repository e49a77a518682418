package output

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/PentesterFlow/MCPInspector/internal/dissect"
)

// JSONWriter writes output in JSON format. In stream mode every record is
// written at once as a {"type":"frame"} event; otherwise records are held
// until WriteSummary and written inside the report.
type JSONWriter struct {
	mu      sync.Mutex
	writer  io.Writer
	pretty  bool
	stream  bool
	pending []*dissect.Record
	closed  bool
}

// NewJSONWriter creates a new JSON writer.
func NewJSONWriter(w io.Writer, pretty, stream bool) *JSONWriter {
	return &JSONWriter{
		writer: w,
		pretty: pretty,
		stream: stream,
	}
}

// WriteDissection writes or buffers one record.
func (j *JSONWriter) WriteDissection(rec *dissect.Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}

	if !j.stream {
		j.pending = append(j.pending, rec)
		return nil
	}

	return j.writeValue(StreamEvent{
		Type: "frame",
		Data: rec,
	})
}

// WriteSummary writes the report. Buffered records are attached to it.
func (j *JSONWriter) WriteSummary(report *Report) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}

	if j.stream {
		return j.writeValue(StreamEvent{
			Type: "summary",
			Data: report,
		})
	}

	out := *report
	out.Frames = j.pending
	j.pending = nil
	return j.writeValue(&out)
}

// writeValue marshals v followed by a newline.
func (j *JSONWriter) writeValue(v interface{}) error {
	var data []byte
	var err error

	if j.pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}

	if err != nil {
		return err
	}

	data = append(data, '\n')
	_, err = j.writer.Write(data)
	return err
}

// Flush flushes the writer.
func (j *JSONWriter) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	return flush(j.writer)
}

// Close closes the writer.
func (j *JSONWriter) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.closed = true
	return closeWriter(j.writer)
}

func flush(w io.Writer) error {
	if flusher, ok := w.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}

func closeWriter(w io.Writer) error {
	if closer, ok := w.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
