// Package metrics provides metrics collection for the MCP inspector.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// payload size bucket upper bounds in bytes; the last bucket is open-ended.
var sizeBounds = [...]int64{64, 256, 1 << 10, 4 << 10, 16 << 10, 64 << 10, 256 << 10, 1 << 20, 16 << 20}

const numBuckets = len(sizeBounds) + 1

// Collector collects and aggregates metrics.
type Collector struct {
	// Frame counters
	framesTotal     atomic.Int64
	framesTruncated atomic.Int64
	framesTooShort  atomic.Int64
	duplicates      atomic.Int64
	bytesTotal      atomic.Int64

	// Message counters
	messagesTotal atomic.Int64
	mcpMessages   atomic.Int64
	encrypted     atomic.Int64
	rpcErrors     atomic.Int64

	// Connection counters
	connectionsTotal    atomic.Int64
	connectionsRejected atomic.Int64
	activeConnections   atomic.Int64
	dialRetries         atomic.Int64
	errorsTotal         atomic.Int64

	// Rate tracking
	framesInWindow atomic.Int64
	windowStart    atomic.Int64

	// Histogram of captured payload sizes
	sizeBuckets [numBuckets]atomic.Int64

	mu         sync.RWMutex
	opcodes    map[string]int64
	methods    map[string]int64
	errorCodes map[int32]int64
	errorTypes map[string]int64

	startTime time.Time
}

// New creates a new metrics collector.
func New() *Collector {
	now := time.Now()
	c := &Collector{
		opcodes:    make(map[string]int64),
		methods:    make(map[string]int64),
		errorCodes: make(map[int32]int64),
		errorTypes: make(map[string]int64),
		startTime:  now,
	}
	c.windowStart.Store(now.UnixNano())
	return c
}

// RecordFrame records one decoded frame.
func (c *Collector) RecordFrame(opcode string, payloadLen int, truncated bool) {
	c.framesTotal.Add(1)
	c.framesInWindow.Add(1)
	c.bytesTotal.Add(int64(payloadLen))
	if truncated {
		c.framesTruncated.Add(1)
	}
	c.sizeBuckets[bucket(int64(payloadLen))].Add(1)

	c.mu.Lock()
	c.opcodes[opcode]++
	c.mu.Unlock()
}

// RecordTooShort records a buffer that could not hold a frame header.
func (c *Collector) RecordTooShort() {
	c.framesTooShort.Add(1)
}

// RecordDuplicate records a frame dropped as a retransmission.
func (c *Collector) RecordDuplicate() {
	c.duplicates.Add(1)
}

// RecordMessage records an extracted text payload. method is empty for
// responses and non-MCP payloads; code is the JSON-RPC error code or 0.
func (c *Collector) RecordMessage(method string, mcp, encrypted bool, code int32) {
	c.messagesTotal.Add(1)
	if !mcp {
		return
	}
	c.mcpMessages.Add(1)
	if encrypted {
		c.encrypted.Add(1)
	}
	if code != 0 {
		c.rpcErrors.Add(1)
	}

	c.mu.Lock()
	if method != "" {
		c.methods[method]++
	}
	if code != 0 {
		c.errorCodes[code]++
	}
	c.mu.Unlock()
}

// RecordConnection records an accepted proxy connection and returns a func
// to call when it closes.
func (c *Collector) RecordConnection() func() {
	c.connectionsTotal.Add(1)
	c.activeConnections.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { c.activeConnections.Add(-1) })
	}
}

// RecordRejected records a connection refused by admission control.
func (c *Collector) RecordRejected() {
	c.connectionsRejected.Add(1)
}

// RecordRetry records an upstream dial retry.
func (c *Collector) RecordRetry() {
	c.dialRetries.Add(1)
}

// RecordError records an error by type.
func (c *Collector) RecordError(errorType string) {
	c.errorsTotal.Add(1)

	c.mu.Lock()
	c.errorTypes[errorType]++
	c.mu.Unlock()
}

func bucket(n int64) int {
	for i, bound := range sizeBounds {
		if n < bound {
			return i
		}
	}
	return numBuckets - 1
}

// FramesPerSecond returns the frame rate over the current 10s window.
func (c *Collector) FramesPerSecond() float64 {
	const window = 10 * time.Second
	now := time.Now().UnixNano()
	start := c.windowStart.Load()

	elapsed := time.Duration(now - start)
	if elapsed >= window {
		if c.windowStart.CompareAndSwap(start, now) {
			c.framesInWindow.Store(0)
		}
		return 0
	}
	if elapsed <= 0 {
		return 0
	}
	return float64(c.framesInWindow.Load()) / elapsed.Seconds()
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() *Snapshot {
	s := &Snapshot{
		Timestamp:           time.Now(),
		FramesTotal:         c.framesTotal.Load(),
		FramesTruncated:     c.framesTruncated.Load(),
		FramesTooShort:      c.framesTooShort.Load(),
		Duplicates:          c.duplicates.Load(),
		BytesTotal:          c.bytesTotal.Load(),
		MessagesTotal:       c.messagesTotal.Load(),
		MCPMessages:         c.mcpMessages.Load(),
		EncryptedMessages:   c.encrypted.Load(),
		RPCErrors:           c.rpcErrors.Load(),
		ConnectionsTotal:    c.connectionsTotal.Load(),
		ConnectionsRejected: c.connectionsRejected.Load(),
		ActiveConnections:   c.activeConnections.Load(),
		DialRetries:         c.dialRetries.Load(),
		ErrorsTotal:         c.errorsTotal.Load(),
		FramesPerSecond:     c.FramesPerSecond(),
		Opcodes:             make(map[string]int64),
		Methods:             make(map[string]int64),
		ErrorCodes:          make(map[int32]int64),
		ErrorTypes:          make(map[string]int64),
		PayloadSizeHist:     make([]int64, numBuckets),
	}

	c.mu.RLock()
	s.Uptime = time.Since(c.startTime)
	for k, v := range c.opcodes {
		s.Opcodes[k] = v
	}
	for k, v := range c.methods {
		s.Methods[k] = v
	}
	for k, v := range c.errorCodes {
		s.ErrorCodes[k] = v
	}
	for k, v := range c.errorTypes {
		s.ErrorTypes[k] = v
	}
	c.mu.RUnlock()

	for i := range c.sizeBuckets {
		s.PayloadSizeHist[i] = c.sizeBuckets[i].Load()
	}
	return s
}

// Reset resets all metrics.
func (c *Collector) Reset() {
	for _, v := range []*atomic.Int64{
		&c.framesTotal, &c.framesTruncated, &c.framesTooShort, &c.duplicates,
		&c.bytesTotal, &c.messagesTotal, &c.mcpMessages, &c.encrypted,
		&c.rpcErrors, &c.connectionsTotal, &c.connectionsRejected,
		&c.activeConnections, &c.dialRetries, &c.errorsTotal, &c.framesInWindow,
	} {
		v.Store(0)
	}
	for i := range c.sizeBuckets {
		c.sizeBuckets[i].Store(0)
	}

	c.mu.Lock()
	c.opcodes = make(map[string]int64)
	c.methods = make(map[string]int64)
	c.errorCodes = make(map[int32]int64)
	c.errorTypes = make(map[string]int64)
	c.startTime = time.Now()
	c.mu.Unlock()

	c.windowStart.Store(time.Now().UnixNano())
}

// Snapshot represents a point-in-time view of metrics.
type Snapshot struct {
	Timestamp           time.Time        `json:"timestamp"`
	Uptime              time.Duration    `json:"uptime"`
	FramesTotal         int64            `json:"frames_total"`
	FramesTruncated     int64            `json:"frames_truncated"`
	FramesTooShort      int64            `json:"frames_too_short"`
	Duplicates          int64            `json:"duplicates"`
	BytesTotal          int64            `json:"bytes_total"`
	MessagesTotal       int64            `json:"messages_total"`
	MCPMessages         int64            `json:"mcp_messages"`
	EncryptedMessages   int64            `json:"encrypted_messages"`
	RPCErrors           int64            `json:"rpc_errors"`
	ConnectionsTotal    int64            `json:"connections_total"`
	ConnectionsRejected int64            `json:"connections_rejected"`
	ActiveConnections   int64            `json:"active_connections"`
	DialRetries         int64            `json:"dial_retries"`
	ErrorsTotal         int64            `json:"errors_total"`
	FramesPerSecond     float64          `json:"frames_per_second"`
	Opcodes             map[string]int64 `json:"opcodes"`
	Methods             map[string]int64 `json:"methods"`
	ErrorCodes          map[int32]int64  `json:"error_codes"`
	ErrorTypes          map[string]int64 `json:"error_types"`
	PayloadSizeHist     []int64          `json:"payload_size_histogram"`
}

// MCPRatio returns the share of extracted messages that were MCP (0-1).
func (s *Snapshot) MCPRatio() float64 {
	if s.MessagesTotal == 0 {
		return 0
	}
	return float64(s.MCPMessages) / float64(s.MessagesTotal)
}

// Summary returns a human-readable summary.
func (s *Snapshot) Summary() map[string]interface{} {
	return map[string]interface{}{
		"uptime":             s.Uptime.String(),
		"frames_total":       s.FramesTotal,
		"frames_truncated":   s.FramesTruncated,
		"frames_too_short":   s.FramesTooShort,
		"duplicates":         s.Duplicates,
		"bytes_total":        s.BytesTotal,
		"mcp_messages":       s.MCPMessages,
		"mcp_ratio":          s.MCPRatio(),
		"encrypted_messages": s.EncryptedMessages,
		"rpc_errors":         s.RPCErrors,
		"connections_total":  s.ConnectionsTotal,
		"errors_total":       s.ErrorsTotal,
	}
}

// Global metrics collector.
var globalCollector = New()

// SetGlobal sets the global metrics collector.
func SetGlobal(c *Collector) {
	globalCollector = c
}

// Global returns the global metrics collector.
func Global() *Collector {
	return globalCollector
}
