// Package proxy forwards MCP WebSocket connections to an upstream server and
// dissects the server's frames as they pass.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	inspecterrors "github.com/PentesterFlow/MCPInspector/internal/errors"
	"github.com/PentesterFlow/MCPInspector/internal/dissect"
	"github.com/PentesterFlow/MCPInspector/internal/logger"
	"github.com/PentesterFlow/MCPInspector/internal/metrics"
	"github.com/PentesterFlow/MCPInspector/internal/parser"
	"github.com/PentesterFlow/MCPInspector/internal/ratelimit"
	"github.com/PentesterFlow/MCPInspector/internal/websocket"
)

// DefaultListenAddr is the MCP WebSocket port.
const DefaultListenAddr = ":8082"

// Idle peers are dropped from the admission limiter on this schedule.
const (
	pruneInterval = time.Minute
	peerIdle      = 10 * time.Minute
)

// FrameFunc receives each dissected server frame. It is called from one
// goroutine per connection.
type FrameFunc func(rec *dissect.Record)

// Config holds proxy configuration.
type Config struct {
	ListenAddr   string
	Upstream     string
	MaxFrameSize int
	DialTimeout  time.Duration
	Options      dissect.Options

	// CloseTimeout bounds how long a client may keep sending once the
	// upstream has closed.
	CloseTimeout time.Duration

	// SessionPrefix names connections "<prefix>-<n>".
	SessionPrefix string
}

// Proxy is a TCP forwarder that tees the upstream-to-client direction into a
// frame splitter.
type Proxy struct {
	cfg     Config
	onFrame FrameFunc

	log     *logger.Logger
	metrics *metrics.Collector
	limiter *ratelimit.Limiter
	retrier *inspecterrors.Retrier
	breaker *inspecterrors.Breaker

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closing  bool

	wg     sync.WaitGroup
	nextID atomic.Int64

	pruneEvery time.Duration
	peerIdle   time.Duration
}

// New creates a proxy. onFrame may be nil.
func New(cfg Config, onFrame FrameFunc) *Proxy {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 2 * time.Second
	}
	if cfg.SessionPrefix == "" {
		cfg.SessionPrefix = "proxy"
	}

	return &Proxy{
		cfg:     cfg,
		onFrame: onFrame,
		log:     logger.Global().WithComponent("proxy"),
		metrics: metrics.Global(),
		limiter: ratelimit.NewLimiter(0, 1),
		retrier: inspecterrors.NewDefaultRetrier(),
		breaker: inspecterrors.NewBreaker(inspecterrors.DefaultBreakerConfig()),
		conns:   make(map[net.Conn]struct{}),

		pruneEvery: pruneInterval,
		peerIdle:   peerIdle,
	}
}

// SetLogger replaces the logger.
func (p *Proxy) SetLogger(l *logger.Logger) { p.log = l.WithComponent("proxy") }

// SetMetrics replaces the metrics collector.
func (p *Proxy) SetMetrics(m *metrics.Collector) { p.metrics = m }

// SetLimiter replaces the connection admission limiter.
func (p *Proxy) SetLimiter(l *ratelimit.Limiter) { p.limiter = l }

// SetRetrier replaces the upstream dial retry policy.
func (p *Proxy) SetRetrier(r *inspecterrors.Retrier) { p.retrier = r }

// SetBreaker replaces the upstream circuit breaker.
func (p *Proxy) SetBreaker(b *inspecterrors.Breaker) { p.breaker = b }

// Addr returns the listening address, or nil before Serve.
func (p *Proxy) Addr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// ListenAndServe listens on the configured address and serves until ctx is
// done or Shutdown is called.
func (p *Proxy) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", p.cfg.ListenAddr)
	if err != nil {
		return inspecterrors.NewNetworkError("", "listen "+p.cfg.ListenAddr, err)
	}
	return p.Serve(ctx, ln)
}

// Serve accepts connections on ln. It returns nil after a shutdown.
func (p *Proxy) Serve(ctx context.Context, ln net.Listener) error {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		ln.Close()
		return nil
	}
	p.listener = ln
	p.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	pruned := make(chan struct{})
	defer close(pruned)
	go p.prunePeers(pruned)

	p.log.Infof("Proxying %s -> %s", ln.Addr(), p.cfg.Upstream)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || p.isClosing() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return err
		}

		if !p.limiter.Allow(conn.RemoteAddr()) {
			p.metrics.RecordRejected()
			p.log.WithPeer(conn.RemoteAddr().String()).Warn("Connection rate exceeded")
			conn.Close()
			continue
		}

		p.mu.Lock()
		if p.closing {
			p.mu.Unlock()
			conn.Close()
			return nil
		}
		p.wg.Add(1)
		p.mu.Unlock()

		go func() {
			defer p.wg.Done()
			p.handle(ctx, conn)
		}()
	}
}

// prunePeers drops idle peers from the limiter until done is closed.
func (p *Proxy) prunePeers(done <-chan struct{}) {
	ticker := time.NewTicker(p.pruneEvery)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if n := p.limiter.Prune(p.peerIdle); n > 0 {
				p.log.WithField("peers", n).Debug("Pruned idle peers")
			}
		}
	}
}

func (p *Proxy) isClosing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closing
}

func (p *Proxy) track(c net.Conn, add bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if add {
		if p.closing {
			return false
		}
		p.conns[c] = struct{}{}
	} else {
		delete(p.conns, c)
	}
	return true
}

// dial connects to the upstream through the breaker and retrier.
func (p *Proxy) dial(ctx context.Context, session string) (net.Conn, error) {
	if !p.breaker.Allow() {
		return nil, inspecterrors.NewBreakerOpenError(p.cfg.Upstream)
	}

	attempts := 0
	conn, result := inspecterrors.DoWithResult(ctx, p.retrier, "dial", session,
		func(ctx context.Context) (net.Conn, error) {
			attempts++
			if attempts > 1 {
				p.metrics.RecordRetry()
			}
			d := net.Dialer{Timeout: p.cfg.DialTimeout}
			return d.DialContext(ctx, "tcp", p.cfg.Upstream)
		})

	if !result.Success {
		err := inspecterrors.Categorize(result.LastError, session)
		p.breaker.Record(err)
		return nil, err
	}
	p.breaker.Record(nil)
	return conn, nil
}

// handle proxies one client connection.
func (p *Proxy) handle(ctx context.Context, client net.Conn) {
	defer client.Close()

	session := fmt.Sprintf("%s-%d", p.cfg.SessionPrefix, p.nextID.Add(1))
	peer := client.RemoteAddr().String()
	log := p.log.WithSession(session).WithPeer(peer)

	if !p.track(client, true) {
		return
	}
	defer p.track(client, false)

	upstream, err := p.dial(ctx, session)
	if err != nil {
		p.metrics.RecordError(inspecterrors.GetErrorType(err).String())
		log.ErrorEvent(err, session, "dial")
		return
	}
	defer upstream.Close()
	if !p.track(upstream, true) {
		return
	}
	defer p.track(upstream, false)

	done := p.metrics.RecordConnection()
	defer done()
	start := time.Now()
	log.ConnectionEvent(peer, p.cfg.Upstream, "open", 0)

	pr, pw := io.Pipe()
	dissected := make(chan struct{})
	go func() {
		defer close(dissected)
		p.dissect(session, pr, log)
	}()

	var sent atomic.Int64
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		n, _ := io.Copy(upstream, client)
		sent.Store(n)
		closeWrite(upstream)
	}()

	received, err := io.Copy(client, io.TeeReader(upstream, pw))
	if err != nil && !inspecterrors.IsClosed(err) && !p.isClosing() {
		log.WithError(err).Debug("Upstream copy ended")
	}
	pw.Close()
	closeWrite(client)
	client.SetReadDeadline(time.Now().Add(p.cfg.CloseTimeout))

	<-forwarded
	<-dissected

	log.WithField("sent", sent.Load()).
		WithField("received", received).
		ConnectionEvent(peer, p.cfg.Upstream, "close", time.Since(start))
}

// dissect splits the server byte stream and reports every frame. It keeps
// draining r after a split error so the forwarder never blocks.
func (p *Proxy) dissect(session string, r io.Reader, log *logger.Logger) {
	defer io.Copy(io.Discard, r)

	splitter := websocket.NewSplitter(r, p.cfg.MaxFrameSize)
	for {
		raw, err := splitter.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				log.ErrorEvent(inspecterrors.NewCaptureError(session, "split", err), session, "split")
			}
			return
		}

		res, err := dissect.Dissect(raw.Data, p.cfg.Options)
		if err != nil {
			p.metrics.RecordTooShort()
			log.FrameEvent(logger.DebugLevel, session, raw.Offset, "", 0).Msg("Frame header incomplete")
			continue
		}

		p.metrics.RecordFrame(res.Frame.Opcode.String(), len(res.Payload), res.Frame.Truncated)
		if res.Message != nil {
			p.metrics.RecordMessage(res.Message.MethodName(), res.IsMCP, res.Message.Encrypted, res.Message.Code())
		}
		if res.Unparsed {
			derr := inspecterrors.NewTruncatedError(session, raw.Offset, uint64(res.Frame.PayloadLength), len(res.Payload))
			p.metrics.RecordError(derr.Type.String())
			log.WithOffset(raw.Offset).WithError(derr).Warn("Truncated text frame not parsed")
		}

		rec := res.Record(session, websocket.ToClient, raw.Offset)
		log.FrameEvent(logger.DebugLevel, session, raw.Offset, rec.Opcode, rec.PayloadLength).Msg(rec.Summary)
		if res.IsMCP {
			log.MessageEvent(session, rec.Method(), parser.Value(res.Message.ID), rec.Summary)
		}
		if p.onFrame != nil {
			p.onFrame(rec)
		}
	}
}

// Shutdown stops accepting, waits for open connections until ctx expires and
// then closes whatever is left.
func (p *Proxy) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closing = true
	if p.listener != nil {
		p.listener.Close()
	}
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
	}

	p.mu.Lock()
	for c := range p.conns {
		c.Close()
	}
	p.mu.Unlock()

	<-drained
	return ctx.Err()
}

func closeWrite(c net.Conn) {
	if cw, ok := c.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
		return
	}
	c.Close()
}
