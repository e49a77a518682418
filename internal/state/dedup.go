package state

import (
	"strconv"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/PentesterFlow/MCPInspector/internal/dissect"
)

// Deduplicator detects frames seen before, such as TCP retransmissions or
// a capture imported twice into the same session.
type Deduplicator struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	exact  map[string]struct{} // resolves Bloom filter false positives
	fpRate float64
}

// NewDeduplicator creates a deduplicator sized for estimatedFrames.
func NewDeduplicator(estimatedFrames int) *Deduplicator {
	if estimatedFrames < 1000 {
		estimatedFrames = 1000
	}

	fpRate := 0.001

	return &Deduplicator{
		filter: bloom.NewWithEstimates(uint(estimatedFrames), fpRate),
		exact:  make(map[string]struct{}),
		fpRate: fpRate,
	}
}

// FrameKey identifies a frame by session, direction, stream offset and
// content hash.
func FrameKey(session, direction string, offset int64, hash string) string {
	var b strings.Builder
	b.Grow(len(session) + len(direction) + len(hash) + 24)
	b.WriteString(session)
	b.WriteByte('|')
	b.WriteString(direction)
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(offset, 10))
	b.WriteByte('|')
	b.WriteString(hash)
	return b.String()
}

// RecordKey returns the FrameKey of a record.
func RecordKey(rec *dissect.Record) string {
	return FrameKey(rec.Session, string(rec.Direction), rec.Offset, rec.Hash)
}

// Add adds a key.
func (d *Deduplicator) Add(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.add(key)
}

func (d *Deduplicator) add(key string) {
	if _, exists := d.exact[key]; !exists {
		d.filter.AddString(key)
		d.exact[key] = struct{}{}
	}
}

// HasSeen checks if a key has been added.
func (d *Deduplicator) HasSeen(key string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.has(key)
}

func (d *Deduplicator) has(key string) bool {
	if !d.filter.TestString(key) {
		return false
	}
	_, exists := d.exact[key]
	return exists
}

// Seen adds key and reports whether it was already present.
func (d *Deduplicator) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.has(key) {
		return true
	}
	d.add(key)
	return false
}

// AddBatch adds multiple keys at once.
func (d *Deduplicator) AddBatch(keys []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, key := range keys {
		d.add(key)
	}
}

// Count returns the number of distinct keys.
func (d *Deduplicator) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.exact)
}

// Reset forgets every key.
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.filter.ClearAll()
	d.exact = make(map[string]struct{})
}

// FalsePositiveRate returns the configured Bloom filter false positive rate.
func (d *Deduplicator) FalsePositiveRate() float64 {
	return d.fpRate
}
