package metrics

import (
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	c := New()
	if c == nil {
		t.Fatal("New() returned nil")
	}
}

func TestCollector_RecordFrame(t *testing.T) {
	c := New()

	c.RecordFrame("Text", 100, false)
	c.RecordFrame("Text", 20, true)
	c.RecordFrame("Ping", 0, false)

	snap := c.Snapshot()
	if snap.FramesTotal != 3 {
		t.Errorf("FramesTotal = %d, want 3", snap.FramesTotal)
	}
	if snap.FramesTruncated != 1 {
		t.Errorf("FramesTruncated = %d, want 1", snap.FramesTruncated)
	}
	if snap.BytesTotal != 120 {
		t.Errorf("BytesTotal = %d, want 120", snap.BytesTotal)
	}
	if snap.Opcodes["Text"] != 2 {
		t.Errorf("Opcodes[Text] = %d, want 2", snap.Opcodes["Text"])
	}
	if snap.Opcodes["Ping"] != 1 {
		t.Errorf("Opcodes[Ping] = %d, want 1", snap.Opcodes["Ping"])
	}
}

func TestCollector_PayloadSizeBuckets(t *testing.T) {
	c := New()

	c.RecordFrame("Text", 0, false)        // bucket 0
	c.RecordFrame("Text", 63, false)       // bucket 0
	c.RecordFrame("Text", 64, false)       // bucket 1
	c.RecordFrame("Text", 1000, false)     // bucket 2
	c.RecordFrame("Binary", 32<<20, false) // open-ended bucket

	snap := c.Snapshot()
	if len(snap.PayloadSizeHist) != numBuckets {
		t.Fatalf("len(PayloadSizeHist) = %d, want %d", len(snap.PayloadSizeHist), numBuckets)
	}
	if snap.PayloadSizeHist[0] != 2 {
		t.Errorf("bucket 0 = %d, want 2", snap.PayloadSizeHist[0])
	}
	if snap.PayloadSizeHist[1] != 1 {
		t.Errorf("bucket 1 = %d, want 1", snap.PayloadSizeHist[1])
	}
	if snap.PayloadSizeHist[2] != 1 {
		t.Errorf("bucket 2 = %d, want 1", snap.PayloadSizeHist[2])
	}
	if snap.PayloadSizeHist[numBuckets-1] != 1 {
		t.Errorf("last bucket = %d, want 1", snap.PayloadSizeHist[numBuckets-1])
	}
}

func TestCollector_RecordMessage(t *testing.T) {
	c := New()

	c.RecordMessage("tools/call", true, false, 0)
	c.RecordMessage("tools/call", true, true, 0)
	c.RecordMessage("", true, false, -32601)
	c.RecordMessage("", false, false, 5)

	snap := c.Snapshot()
	if snap.MessagesTotal != 4 {
		t.Errorf("MessagesTotal = %d, want 4", snap.MessagesTotal)
	}
	if snap.MCPMessages != 3 {
		t.Errorf("MCPMessages = %d, want 3", snap.MCPMessages)
	}
	if snap.EncryptedMessages != 1 {
		t.Errorf("EncryptedMessages = %d, want 1", snap.EncryptedMessages)
	}
	if snap.RPCErrors != 1 {
		t.Errorf("RPCErrors = %d, want 1", snap.RPCErrors)
	}
	if snap.Methods["tools/call"] != 2 {
		t.Errorf("Methods[tools/call] = %d, want 2", snap.Methods["tools/call"])
	}
	if snap.ErrorCodes[-32601] != 1 {
		t.Errorf("ErrorCodes[-32601] = %d, want 1", snap.ErrorCodes[-32601])
	}
	if _, ok := snap.ErrorCodes[5]; ok {
		t.Error("non-MCP error codes should not be counted")
	}
}

func TestCollector_Connections(t *testing.T) {
	c := New()

	done1 := c.RecordConnection()
	done2 := c.RecordConnection()
	c.RecordRejected()

	if got := c.Snapshot().ActiveConnections; got != 2 {
		t.Errorf("ActiveConnections = %d, want 2", got)
	}

	done1()
	done1() // idempotent
	done2()

	snap := c.Snapshot()
	if snap.ActiveConnections != 0 {
		t.Errorf("ActiveConnections = %d, want 0", snap.ActiveConnections)
	}
	if snap.ConnectionsTotal != 2 {
		t.Errorf("ConnectionsTotal = %d, want 2", snap.ConnectionsTotal)
	}
	if snap.ConnectionsRejected != 1 {
		t.Errorf("ConnectionsRejected = %d, want 1", snap.ConnectionsRejected)
	}
}

func TestCollector_Counters(t *testing.T) {
	c := New()

	c.RecordTooShort()
	c.RecordDuplicate()
	c.RecordDuplicate()
	c.RecordRetry()

	snap := c.Snapshot()
	if snap.FramesTooShort != 1 {
		t.Errorf("FramesTooShort = %d, want 1", snap.FramesTooShort)
	}
	if snap.Duplicates != 2 {
		t.Errorf("Duplicates = %d, want 2", snap.Duplicates)
	}
	if snap.DialRetries != 1 {
		t.Errorf("DialRetries = %d, want 1", snap.DialRetries)
	}
}

func TestCollector_RecordError(t *testing.T) {
	c := New()

	c.RecordError("network")
	c.RecordError("network")
	c.RecordError("timeout")

	snap := c.Snapshot()
	if snap.ErrorsTotal != 3 {
		t.Errorf("ErrorsTotal = %d, want 3", snap.ErrorsTotal)
	}
	if snap.ErrorTypes["network"] != 2 {
		t.Errorf("ErrorTypes[network] = %d, want 2", snap.ErrorTypes["network"])
	}
	if snap.ErrorTypes["timeout"] != 1 {
		t.Errorf("ErrorTypes[timeout] = %d, want 1", snap.ErrorTypes["timeout"])
	}
}

func TestCollector_Reset(t *testing.T) {
	c := New()

	c.RecordFrame("Text", 10, true)
	c.RecordMessage("initialize", true, false, 0)
	c.RecordError("storage")
	c.Reset()

	snap := c.Snapshot()
	if snap.FramesTotal != 0 || snap.MCPMessages != 0 || snap.ErrorsTotal != 0 {
		t.Errorf("counters not reset: %+v", snap)
	}
	if len(snap.Opcodes) != 0 || len(snap.Methods) != 0 {
		t.Error("maps not reset")
	}
	for i, n := range snap.PayloadSizeHist {
		if n != 0 {
			t.Errorf("bucket %d = %d after reset", i, n)
		}
	}
}

func TestCollector_FramesPerSecond(t *testing.T) {
	c := New()

	for i := 0; i < 10; i++ {
		c.RecordFrame("Text", 1, false)
	}
	time.Sleep(10 * time.Millisecond)

	if fps := c.FramesPerSecond(); fps <= 0 {
		t.Errorf("FramesPerSecond() = %v, want > 0", fps)
	}
}

func TestSnapshot_MCPRatio(t *testing.T) {
	tests := []struct {
		name     string
		messages int64
		mcp      int64
		want     float64
	}{
		{"no messages", 0, 0, 0},
		{"all mcp", 4, 4, 1},
		{"half", 4, 2, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Snapshot{MessagesTotal: tt.messages, MCPMessages: tt.mcp}
			if got := s.MCPRatio(); got != tt.want {
				t.Errorf("MCPRatio() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSnapshot_Summary(t *testing.T) {
	s := &Snapshot{
		Uptime:      time.Minute,
		FramesTotal: 500,
		MCPMessages: 20,
	}

	summary := s.Summary()
	if summary["frames_total"] != int64(500) {
		t.Errorf("summary[frames_total] = %v, want 500", summary["frames_total"])
	}
	if summary["mcp_messages"] != int64(20) {
		t.Errorf("summary[mcp_messages] = %v, want 20", summary["mcp_messages"])
	}
	if summary["uptime"] != "1m0s" {
		t.Errorf("summary[uptime] = %v, want 1m0s", summary["uptime"])
	}
}

func TestGlobal(t *testing.T) {
	if Global() == nil {
		t.Fatal("Global() returned nil")
	}
}

func TestSetGlobal(t *testing.T) {
	original := Global()
	defer SetGlobal(original)

	newCollector := New()
	SetGlobal(newCollector)

	if Global() != newCollector {
		t.Error("SetGlobal() did not set the global collector")
	}
}

func TestCollector_Concurrent(t *testing.T) {
	c := New()
	done := make(chan bool)

	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				c.RecordFrame("Text", j, false)
				c.RecordMessage("tools/list", true, false, 0)
				c.RecordError("test")
				closeConn := c.RecordConnection()
				closeConn()
			}
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	snap := c.Snapshot()
	if snap.FramesTotal != 1000 {
		t.Errorf("FramesTotal = %d, want 1000", snap.FramesTotal)
	}
	if snap.Methods["tools/list"] != 1000 {
		t.Errorf("Methods[tools/list] = %d, want 1000", snap.Methods["tools/list"])
	}
	if snap.ActiveConnections != 0 {
		t.Errorf("ActiveConnections = %d, want 0", snap.ActiveConnections)
	}
}

func TestSnapshot_Uptime(t *testing.T) {
	c := New()
	time.Sleep(10 * time.Millisecond)
	snap := c.Snapshot()

	if snap.Uptime < 10*time.Millisecond {
		t.Errorf("Uptime = %v, should be >= 10ms", snap.Uptime)
	}
}
