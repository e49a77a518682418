package output

import (
	"sort"
	"time"

	"github.com/PentesterFlow/MCPInspector/internal/dissect"
)

// NewReport starts a report for session.
func NewReport(session, source string) *Report {
	return &Report{
		Session:   session,
		Source:    source,
		StartedAt: time.Now(),
		Statistics: Statistics{
			ByOpcode:    make(map[string]int),
			ByMethod:    make(map[string]int),
			ByErrorCode: make(map[int32]int),
		},
	}
}

// Add counts rec.
func (r *Report) Add(rec *dissect.Record) {
	s := &r.Statistics
	s.Frames++
	s.Bytes += int64(rec.HeaderLength) + int64(rec.Captured)
	s.ByOpcode[rec.Opcode]++
	if rec.Truncated {
		s.Truncated++
	}
	if !rec.IsMCP || rec.Message == nil {
		return
	}

	s.MCPMessages++
	if rec.Message.Encrypted {
		s.Encrypted++
	}
	if method := rec.Method(); method != "" {
		s.ByMethod[method]++
	}
	if code := rec.Message.Code(); code != 0 {
		s.Errors++
		s.ByErrorCode[code]++
	}
}

// Finish stamps the completion time.
func (r *Report) Finish() {
	r.CompletedAt = time.Now()
	r.Duration = r.CompletedAt.Sub(r.StartedAt)
}

// TopMethods returns the n most frequent methods, ties broken by name.
// n <= 0 returns all of them.
func (r *Report) TopMethods(n int) []MethodCount {
	counts := make([]MethodCount, 0, len(r.Statistics.ByMethod))
	for method, count := range r.Statistics.ByMethod {
		counts = append(counts, MethodCount{Method: method, Count: count})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Method < counts[j].Method
	})
	if n > 0 && len(counts) > n {
		counts = counts[:n]
	}
	return counts
}
