package websocket

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PentesterFlow/MCPInspector/internal/parser"
)

// ClientName is announced in the initialize request.
const ClientName = "mcpinspector"

// DefaultProbeMethods are requested after initialize when none are set.
var DefaultProbeMethods = []string{"tools/list", "resources/list"}

// Prober opens an MCP WebSocket session, asks the server a few questions and
// returns every byte the server sent, handshake included, for dissection.
type Prober struct {
	mu         sync.RWMutex
	dialer     *websocket.Dialer
	headers    http.Header
	methods    []string
	maxMsgs    int
	msgTimeout time.Duration
	insecure   bool
	recorder   *Recorder
}

// ProbeResult is the outcome of one probe.
type ProbeResult struct {
	URL         string        `json:"url"`
	Protocols   []string      `json:"protocols,omitempty"`
	Stream      []byte        `json:"-"` // server to client bytes as read from the socket
	Sent        int           `json:"sent"`
	Received    int           `json:"received"`
	Unanswered  []string      `json:"unanswered,omitempty"`
	ConnectTime time.Time     `json:"connect_time"`
	Duration    time.Duration `json:"duration"`
}

// NewProber creates a prober with default settings.
func NewProber() *Prober {
	return &Prober{
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			Subprotocols:     []string{"mcp"},
		},
		headers:    make(http.Header),
		methods:    DefaultProbeMethods,
		maxMsgs:    100,
		msgTimeout: 5 * time.Second,
	}
}

// SetHeaders sets custom headers for the handshake.
func (p *Prober) SetHeaders(headers map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for k, v := range headers {
		p.headers.Set(k, v)
	}
}

// SetMethods sets the methods requested after initialize.
func (p *Prober) SetMethods(methods []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.methods = append([]string(nil), methods...)
}

// SetMaxMessages bounds how many server messages are read.
func (p *Prober) SetMaxMessages(max int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxMsgs = max
}

// SetMessageTimeout sets how long to wait for each reply.
func (p *Prober) SetMessageTimeout(timeout time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgTimeout = timeout
}

// SetInsecure disables TLS certificate verification for wss URLs.
func (p *Prober) SetInsecure(insecure bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.insecure = insecure
}

// SetRecorder logs sent requests to r under the probed URL.
func (p *Prober) SetRecorder(r *Recorder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recorder = r
}

// NormalizeURL maps http(s) schemes to ws(s); anything else becomes wss.
func NormalizeURL(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	switch parsed.Scheme {
	case "ws", "wss":
		// OK
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "wss"
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("missing host in %q", raw)
	}
	return parsed.String(), nil
}

// Probe connects to wsURL, sends initialize and the configured methods one by
// one, and waits for each reply. A reply that does not arrive within the
// message timeout ends the probe without error.
func (p *Prober) Probe(ctx context.Context, wsURL string) (*ProbeResult, error) {
	target, err := NormalizeURL(wsURL)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	headers := p.headers.Clone()
	methods := append([]string(nil), p.methods...)
	maxMsgs := p.maxMsgs
	timeout := p.msgTimeout
	recorder := p.recorder
	dialer := *p.dialer
	insecure := p.insecure
	p.mu.RUnlock()

	capture := &captureBuffer{}
	dialer.NetDialContext = capture.dial
	dialer.NetDialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return capture.dialTLS(ctx, network, addr, insecure)
	}

	result := &ProbeResult{URL: target, ConnectTime: time.Now()}
	defer func() { result.Duration = time.Since(result.ConnectTime) }()

	conn, resp, err := dialer.DialContext(ctx, target, headers)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if resp != nil {
		if protocols := resp.Header.Get("Sec-WebSocket-Protocol"); protocols != "" {
			result.Protocols = splitStrings(protocols, ",")
		}
	}

	if recorder != nil {
		recorder.StartSession(target)
		defer recorder.EndSession(target)
	}

	// Unblock reads when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	requests := append([]string{"initialize"}, methods...)
	for i, method := range requests {
		if result.Received >= maxMsgs || ctx.Err() != nil {
			result.Unanswered = append(result.Unanswered, requests[i:]...)
			break
		}

		id := strconv.Itoa(i + 1)
		msg := request(id, method)
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return nil, err
		}
		result.Sent++
		if recorder != nil {
			recorder.Record(target, RecordedFrame{
				Timestamp: time.Now(),
				Direction: ToServer,
				Opcode:    OpText.String(),
				Size:      len(msg),
				Summary:   "MCP " + method,
			})
		}

		if !p.awaitReply(conn, id, timeout, maxMsgs, result) {
			result.Unanswered = append(result.Unanswered, requests[i:]...)
			break
		}

		if method == "initialize" {
			note := []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
			if err := conn.WriteMessage(websocket.TextMessage, note); err != nil {
				return nil, err
			}
			result.Sent++
		}
	}

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))

	result.Stream = capture.Bytes()
	return result, nil
}

// awaitReply reads server messages until one carries id. It reports false on
// timeout, read error or when maxMsgs messages have been read.
func (p *Prober) awaitReply(conn *websocket.Conn, id string, timeout time.Duration, maxMsgs int, result *ProbeResult) bool {
	for result.Received < maxMsgs {
		conn.SetReadDeadline(time.Now().Add(timeout))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return false
		}
		result.Received++

		if msgType != websocket.TextMessage {
			continue
		}
		if got := parser.Extract(string(data)).ID; got != nil && *got == id {
			return true
		}
	}
	return false
}

func request(id, method string) []byte {
	var params string
	if method == "initialize" {
		params = `{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"` + ClientName + `","version":"1.0"}}`
	} else {
		params = `{}`
	}
	return []byte(`{"jsonrpc":"2.0","id":` + id + `,"method":"` + method + `","params":` + params + `}`)
}

func splitStrings(s, sep string) []string {
	result := make([]string, 0)
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}

// captureBuffer collects every byte read from the dialed connection.
type captureBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *captureBuffer) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return &recordingConn{Conn: conn, capture: c}, nil
}

// dialTLS terminates TLS itself so the capture holds plaintext frames.
func (c *captureBuffer) dialTLS(ctx context.Context, network, addr string, insecure bool) (net.Conn, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	tlsConn := tls.Client(raw, &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: insecure,
		NextProtos:         []string{"http/1.1"},
	})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, err
	}
	return &recordingConn{Conn: tlsConn, capture: c}, nil
}

func (c *captureBuffer) write(p []byte) {
	c.mu.Lock()
	c.buf.Write(p)
	c.mu.Unlock()
}

// Bytes returns a copy of the captured bytes.
func (c *captureBuffer) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.buf.Bytes()...)
}

// recordingConn copies inbound bytes into its capture buffer.
type recordingConn struct {
	net.Conn
	capture *captureBuffer
}

func (r *recordingConn) Read(p []byte) (int, error) {
	n, err := r.Conn.Read(p)
	if n > 0 {
		r.capture.write(p[:n])
	}
	return n, err
}
