package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PentesterFlow/MCPInspector/internal/parser"
)

// =============================================================================
// Test MCP Server
// =============================================================================

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func createTestWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if handler != nil {
			handler(conn)
		} else {
			replyToRequests(conn)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// replyToRequests answers every request that carries an id.
func replyToRequests(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		id := parser.Extract(string(msg)).ID
		if id == nil {
			continue
		}
		reply := `{"jsonrpc":"2.0","id":` + *id + `,"result":{}}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
			return
		}
	}
}

func httpToWS(url string) string {
	return strings.Replace(url, "http://", "ws://", 1)
}

// textFrames splits a probe capture and returns the text payloads.
func textFrames(t *testing.T, stream []byte) []string {
	t.Helper()
	s := NewSplitter(strings.NewReader(string(stream)), 0)

	var texts []string
	for {
		raw, err := s.Next()
		if errors.Is(err, io.EOF) {
			return texts
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		f, err := Decode(raw.Data)
		if err != nil || f.Opcode != OpText {
			continue
		}
		texts = append(texts, string(f.Payload(raw.Data)))
	}
}

// =============================================================================
// Prober Tests
// =============================================================================

func TestNewProber(t *testing.T) {
	p := NewProber()

	if p == nil {
		t.Fatal("NewProber() returned nil")
	}
	if p.maxMsgs != 100 {
		t.Errorf("maxMsgs = %d, want 100", p.maxMsgs)
	}
	if p.msgTimeout != 5*time.Second {
		t.Errorf("msgTimeout = %v, want 5s", p.msgTimeout)
	}
	if len(p.methods) != len(DefaultProbeMethods) {
		t.Errorf("methods = %v, want %v", p.methods, DefaultProbeMethods)
	}
}

func TestProber_SetHeaders(t *testing.T) {
	p := NewProber()

	p.SetHeaders(map[string]string{
		"X-Custom":      "value",
		"Authorization": "Bearer token",
	})

	if p.headers.Get("X-Custom") != "value" {
		t.Error("X-Custom header not set")
	}
	if p.headers.Get("Authorization") != "Bearer token" {
		t.Error("Authorization header not set")
	}
}

func TestProber_Probe(t *testing.T) {
	var gotAuth string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		replyToRequests(conn)
	}))
	defer srv.Close()

	p := NewProber()
	p.SetHeaders(map[string]string{"Authorization": "Bearer t"})
	rec := NewRecorder(10)
	p.SetRecorder(rec)

	result, err := p.Probe(context.Background(), httpToWS(srv.URL))
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}

	// initialize, notifications/initialized, tools/list, resources/list
	if result.Sent != 4 {
		t.Errorf("Sent = %d, want 4", result.Sent)
	}
	if result.Received != 3 {
		t.Errorf("Received = %d, want 3", result.Received)
	}
	if len(result.Unanswered) != 0 {
		t.Errorf("Unanswered = %v, want none", result.Unanswered)
	}
	if !strings.HasPrefix(string(result.Stream), "HTTP/1.1 101") {
		t.Errorf("capture should start with the upgrade response, got %q", result.Stream)
	}

	texts := textFrames(t, result.Stream)
	if len(texts) != 3 {
		t.Fatalf("captured %d text frames, want 3", len(texts))
	}
	for i, text := range texts {
		want := `"id":` + string(rune('1'+i))
		if !strings.Contains(text, want) {
			t.Errorf("frame %d = %q, want %s", i, text, want)
		}
	}

	mu.Lock()
	if gotAuth != "Bearer t" {
		t.Errorf("Authorization = %q, want custom header", gotAuth)
	}
	mu.Unlock()

	session := rec.GetSession(result.URL)
	if session == nil {
		t.Fatal("probe session not recorded")
	}
	if session.TotalSent != 3 || session.Active {
		t.Errorf("session = %+v, want 3 sent and ended", session)
	}
}

func TestProber_Probe_Methods(t *testing.T) {
	srv := createTestWSServer(t, nil)

	p := NewProber()
	p.SetMethods([]string{"prompts/list"})

	result, err := p.Probe(context.Background(), httpToWS(srv.URL))
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if result.Sent != 3 || result.Received != 2 {
		t.Errorf("Sent = %d, Received = %d; want 3, 2", result.Sent, result.Received)
	}
}

func TestProber_Probe_NoReply(t *testing.T) {
	srv := createTestWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	p := NewProber()
	p.SetMessageTimeout(100 * time.Millisecond)

	result, err := p.Probe(context.Background(), httpToWS(srv.URL))
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if result.Received != 0 {
		t.Errorf("Received = %d, want 0", result.Received)
	}
	want := []string{"initialize", "tools/list", "resources/list"}
	if strings.Join(result.Unanswered, ",") != strings.Join(want, ",") {
		t.Errorf("Unanswered = %v, want %v", result.Unanswered, want)
	}
}

func TestProber_Probe_Notifications(t *testing.T) {
	// The server pushes a notification before each reply.
	srv := createTestWSServer(t, func(conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			id := parser.Extract(string(msg)).ID
			if id == nil {
				continue
			}
			conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","method":"notifications/chess/game_state"}`))
			conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":`+*id+`,"result":{}}`))
		}
	})

	p := NewProber()
	result, err := p.Probe(context.Background(), httpToWS(srv.URL))
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if result.Received != 6 {
		t.Errorf("Received = %d, want 6", result.Received)
	}
	if len(textFrames(t, result.Stream)) != 6 {
		t.Error("notifications missing from capture")
	}
}

func TestProber_Probe_MaxMessages(t *testing.T) {
	srv := createTestWSServer(t, nil)

	p := NewProber()
	p.SetMaxMessages(1)

	result, err := p.Probe(context.Background(), httpToWS(srv.URL))
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if result.Received != 1 {
		t.Errorf("Received = %d, want 1", result.Received)
	}
	if len(result.Unanswered) != 2 {
		t.Errorf("Unanswered = %v, want 2 methods", result.Unanswered)
	}
}

func TestProber_Probe_DialError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	p := NewProber()
	if _, err := p.Probe(context.Background(), httpToWS(srv.URL)); err == nil {
		t.Error("Probe() should fail when the upgrade is refused")
	}
}

func TestProber_Probe_Cancelled(t *testing.T) {
	srv := createTestWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	p := NewProber()
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	result, err := p.Probe(ctx, httpToWS(srv.URL))
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("cancellation should interrupt the reply wait")
	}
	if len(result.Unanswered) == 0 {
		t.Error("cancelled probe should report unanswered requests")
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"ws://localhost:8082/mcp", "ws://localhost:8082/mcp", false},
		{"wss://example.com/mcp", "wss://example.com/mcp", false},
		{"http://localhost:8082/mcp", "ws://localhost:8082/mcp", false},
		{"https://example.com/mcp", "wss://example.com/mcp", false},
		{"ftp://example.com/mcp", "wss://example.com/mcp", false},
		{"/mcp", "", true},
		{"://bad", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeURL(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeURL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("NormalizeURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSplitStrings(t *testing.T) {
	got := splitStrings(" mcp , , json ", ",")
	if len(got) != 2 || got[0] != "mcp" || got[1] != "json" {
		t.Errorf("splitStrings() = %v", got)
	}
}

// =============================================================================
// Recorder Tests
// =============================================================================

func frame(dir Direction, opcode string, size int) RecordedFrame {
	return RecordedFrame{Direction: dir, Opcode: opcode, Size: size}
}

func TestNewRecorder(t *testing.T) {
	tests := []struct {
		max  int
		want int
	}{
		{0, 1000},
		{-1, 1000},
		{50, 50},
	}

	for _, tt := range tests {
		r := NewRecorder(tt.max)
		if r.maxFrames != tt.want {
			t.Errorf("NewRecorder(%d).maxFrames = %d, want %d", tt.max, r.maxFrames, tt.want)
		}
	}
}

func TestRecorder_SessionLifecycle(t *testing.T) {
	r := NewRecorder(10)

	r.StartSession("s")
	if got := r.ActiveSessions(); len(got) != 1 || got[0] != "s" {
		t.Errorf("ActiveSessions() = %v", got)
	}

	r.EndSession("s")
	r.EndSession("missing")

	session := r.GetSession("s")
	if session.Active || session.EndTime.IsZero() {
		t.Errorf("ended session = %+v", session)
	}
	if len(r.ActiveSessions()) != 0 {
		t.Error("no session should be active")
	}
	if r.GetSession("missing") != nil {
		t.Error("GetSession() of unknown session should be nil")
	}
}

func TestRecorder_Record(t *testing.T) {
	r := NewRecorder(2)

	r.Record("auto", frame(ToServer, "Text", 10))
	r.Record("auto", frame(ToClient, "Text", 20))
	r.Record("auto", frame(ToClient, "Ping", 0))

	session := r.GetSession("auto")
	if session == nil {
		t.Fatal("Record() should create the session")
	}
	if len(session.Frames) != 2 || session.Dropped != 1 {
		t.Errorf("Frames = %d, Dropped = %d; want 2, 1", len(session.Frames), session.Dropped)
	}
	if session.TotalSent != 1 || session.TotalReceived != 2 {
		t.Errorf("Sent = %d, Received = %d; want 1, 2", session.TotalSent, session.TotalReceived)
	}
	if session.Frames[0].Timestamp.IsZero() {
		t.Error("Record() should stamp frames")
	}

	// Copies do not alias the recorder's state.
	session.Frames[0].Size = 999
	if r.GetSession("auto").Frames[0].Size != 10 {
		t.Error("GetSession() returned shared frames")
	}
}

func TestRecorder_Stats(t *testing.T) {
	r := NewRecorder(10)
	r.StartSession("a")
	r.Record("a", frame(ToClient, "Text", 100))
	r.Record("b", frame(ToClient, "Binary", 50))
	r.EndSession("b")

	stats := r.Stats()
	if stats.TotalSessions != 2 || stats.ActiveSessions != 1 {
		t.Errorf("sessions = %d/%d, want 2/1", stats.ActiveSessions, stats.TotalSessions)
	}
	if stats.TotalFrames != 2 || stats.TotalBytes != 150 {
		t.Errorf("frames = %d, bytes = %d; want 2, 150", stats.TotalFrames, stats.TotalBytes)
	}

	r.Clear()
	if r.Stats().TotalSessions != 0 {
		t.Error("Clear() should drop all sessions")
	}
}

func TestRecorder_ExportJSON(t *testing.T) {
	r := NewRecorder(10)
	r.Record("s", RecordedFrame{Direction: ToClient, Opcode: "Text", Size: 5, Summary: "MCP ping"})

	data, err := r.ExportJSON()
	if err != nil {
		t.Fatalf("ExportJSON() error = %v", err)
	}

	var sessions []RecordedSession
	if err := json.Unmarshal(data, &sessions); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Frames[0].Summary != "MCP ping" {
		t.Errorf("exported = %+v", sessions)
	}
	if sessions[0].Frames[0].Direction != ToClient {
		t.Errorf("Direction = %q", sessions[0].Frames[0].Direction)
	}
}

func TestRecorder_Analyze(t *testing.T) {
	r := NewRecorder(10)
	r.Record("s", frame(ToServer, "Text", 10))
	r.Record("s", frame(ToClient, "Text", 30))
	r.Record("s", RecordedFrame{Direction: ToClient, Opcode: "Binary", Size: 20, Truncated: true})

	a := r.Analyze("s")
	if a == nil {
		t.Fatal("Analyze() returned nil")
	}
	if a.FrameCount != 3 || a.SentCount != 1 || a.ReceivedCount != 2 {
		t.Errorf("counts = %+v", a)
	}
	if a.MinSize != 10 || a.MaxSize != 30 || a.AverageSize != 20 {
		t.Errorf("sizes = %d/%d/%d, want 10/30/20", a.MinSize, a.MaxSize, a.AverageSize)
	}
	if a.Opcodes["Text"] != 2 || a.Truncated != 1 {
		t.Errorf("Opcodes = %v, Truncated = %d", a.Opcodes, a.Truncated)
	}

	if r.Analyze("missing") != nil {
		t.Error("Analyze() of unknown session should be nil")
	}

	r.StartSession("empty")
	if a := r.Analyze("empty"); a == nil || a.FrameCount != 0 {
		t.Errorf("Analyze(empty) = %+v", a)
	}
}

func TestRecorder_Concurrent(t *testing.T) {
	r := NewRecorder(1000)
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.Record("shared", frame(ToClient, "Text", 1))
				r.Stats()
			}
		}()
	}
	wg.Wait()

	if got := r.GetSession("shared").TotalReceived; got != 500 {
		t.Errorf("TotalReceived = %d, want 500", got)
	}
}
