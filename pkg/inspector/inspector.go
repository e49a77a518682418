package inspector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/PentesterFlow/MCPInspector/internal/dissect"
	inspecterrors "github.com/PentesterFlow/MCPInspector/internal/errors"
	"github.com/PentesterFlow/MCPInspector/internal/logger"
	"github.com/PentesterFlow/MCPInspector/internal/metrics"
	"github.com/PentesterFlow/MCPInspector/internal/output"
	"github.com/PentesterFlow/MCPInspector/internal/parser"
	"github.com/PentesterFlow/MCPInspector/internal/proxy"
	"github.com/PentesterFlow/MCPInspector/internal/ratelimit"
	"github.com/PentesterFlow/MCPInspector/internal/shutdown"
	"github.com/PentesterFlow/MCPInspector/internal/state"
	"github.com/PentesterFlow/MCPInspector/internal/websocket"
)

// Default session names.
const (
	StreamSession  = "stream"
	HexSession     = "hexdump"
	ProxySession   = "proxy"
	shutdownWindow = 10 * time.Second
)

// Inspector is the main dissection orchestrator.
type Inspector struct {
	config          *Config
	logger          *logger.Logger
	logLevel        *logger.Level
	metrics         *metrics.Collector
	store           state.Store
	state           *state.Manager
	recorder        *websocket.Recorder
	limiter         *ratelimit.Limiter
	shutdownHandler *shutdown.Handler

	outputWriter io.Writer
	output       output.Writer

	// mu serializes output writes and report updates; proxy frames arrive
	// from one goroutine per connection.
	mu        sync.Mutex
	proxy     *proxy.Proxy
	startTime time.Time
}

// New creates a new inspector with the given options.
func New(opts ...Option) (*Inspector, error) {
	i := &Inspector{
		config:    DefaultConfig(),
		startTime: time.Now(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(i); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if i.config == nil {
		return nil, fmt.Errorf("invalid configuration: %w", inspecterrors.NewConfigError("config", "is nil"))
	}
	if err := i.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	i.initLogger()

	if i.metrics == nil {
		i.metrics = metrics.New()
	}
	i.recorder = websocket.NewRecorder(0)
	i.limiter = ratelimit.NewLimiter(i.config.RateLimit.ConnectionsPerSecond, i.config.RateLimit.Burst)

	if err := i.initState(); err != nil {
		return nil, err
	}
	if err := i.initOutput(); err != nil {
		i.state.Close()
		return nil, err
	}

	i.shutdownHandler = shutdown.New(shutdown.Config{
		Timeout: shutdownWindow,
		Logger:  i.logger,
		OnShutdownDone: func(r shutdown.Result) {
			if r.HasErrors() {
				i.logger.Warnf("Shutdown completed in %v with %d errors", r.Elapsed, len(r.Errors))
			}
		},
	})
	i.registerShutdownCallbacks()

	return i, nil
}

func (i *Inspector) initLogger() {
	if i.logger != nil {
		if i.logLevel != nil {
			i.logger.SetLevel(*i.logLevel)
		}
		return
	}

	level := logger.WarnLevel
	if i.config.Debug {
		level = logger.DebugLevel
	} else if i.config.Verbose {
		level = logger.InfoLevel
	}
	if i.logLevel != nil {
		level = *i.logLevel
	}
	i.logger = logger.New(logger.Config{
		Level:     level,
		Pretty:    true,
		Component: "inspector",
	})
}

// initState opens the history store. Without a state file, history lives in
// memory.
func (i *Inspector) initState() error {
	store := i.store
	if store == nil {
		if i.config.State.Enabled {
			bs, err := state.NewBoltStore(i.config.State.FilePath)
			if err != nil {
				return fmt.Errorf("failed to create state store: %w",
					inspecterrors.NewStorageError("", "open "+i.config.State.FilePath, err))
			}
			store = bs
		} else {
			store = state.NewMemoryStore()
		}
	}

	estimated := 0
	if i.config.Dedup.Enabled {
		estimated = i.config.Dedup.EstimatedFrames
	}
	i.store = store
	i.state = state.NewManager(store, estimated)
	return nil
}

// initOutput opens the output file or wraps the given writer. Writers passed
// in are never closed by the inspector.
func (i *Inspector) initOutput() error {
	var w io.Writer
	if path := i.config.Output.FilePath; path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		w = f
	} else {
		target := i.outputWriter
		if target == nil {
			target = os.Stdout
		}
		w = struct{ io.Writer }{target}
	}

	i.output = output.NewWriter(w, output.Config{
		Format:   i.config.Output.Format,
		Pretty:   i.config.Output.Pretty,
		Stream:   i.config.Output.Stream,
		FilePath: i.config.Output.FilePath,
	})
	return nil
}

// registerShutdownCallbacks registers cleanup in reverse order of use: the
// proxy (registered by Proxy) stops first, the store closes last.
func (i *Inspector) registerShutdownCallbacks() {
	i.shutdownHandler.Register("state", func(ctx context.Context) error {
		return i.state.Close()
	})

	i.shutdownHandler.Register("output", func(ctx context.Context) error {
		i.mu.Lock()
		defer i.mu.Unlock()
		if err := i.output.Flush(); err != nil {
			return err
		}
		return i.output.Close()
	})

	i.shutdownHandler.RegisterFunc("stats", func() {
		i.logger.StatsEvent(i.metrics.Snapshot().Summary())
	})
}

func (i *Inspector) options() dissect.Options {
	return dissect.Options{ExtractTruncated: i.config.ExtractTruncated}
}

// DissectFrame dissects one frame buffer. It fails only when buf is too
// short for the frame header.
func (i *Inspector) DissectFrame(buf []byte) (*Dissection, error) {
	res, err := dissect.Dissect(buf, i.options())
	if err != nil {
		i.metrics.RecordTooShort()
		return nil, inspecterrors.NewTooShortError("", 0)
	}
	i.recordMetrics(res)
	return convertResult(res), nil
}

// DissectStream splits a captured server-to-client byte stream into frames
// and dissects each one. An HTTP upgrade exchange at the start is skipped.
// Frames already recorded for session are not reported again.
func (i *Inspector) DissectStream(ctx context.Context, session string, r io.Reader) (*Report, error) {
	if session == "" {
		session = StreamSession
	}
	return i.dissectStream(ctx, session, "stream", r)
}

func (i *Inspector) dissectStream(ctx context.Context, session, source string, r io.Reader) (*Report, error) {
	report := output.NewReport(session, source)
	log := i.logger.WithComponent("dissect").WithSession(session)

	i.beginSession(session)
	defer i.recorder.EndSession(session)

	splitter := websocket.NewSplitter(r, i.config.MaxFrameSize)
	for {
		if ctx.Err() != nil {
			i.finish(report)
			return report, inspecterrors.NewCancelledError(session, "dissect stream")
		}

		raw, err := splitter.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			derr := inspecterrors.NewCaptureError(session, "split", err).At(splitter.Offset())
			i.metrics.RecordError(derr.Type.String())
			i.finish(report)
			return report, derr
		}

		i.process(session, raw.Offset, raw.Data, report, log)
	}

	log.WithField("frames", report.Statistics.Frames).Info("Stream dissected")
	return report, i.finish(report)
}

// DissectHex dissects a hex dump holding one frame per line. Frames are
// given the offsets they would have in a contiguous stream.
func (i *Inspector) DissectHex(ctx context.Context, session string, r io.Reader) (*Report, error) {
	if session == "" {
		session = HexSession
	}

	frames, err := websocket.ParseHexDump(r)
	if err != nil {
		derr := inspecterrors.NewCaptureError(session, "parse hex dump", err)
		i.metrics.RecordError(derr.Type.String())
		return nil, derr
	}

	report := output.NewReport(session, "hexdump")
	log := i.logger.WithComponent("dissect").WithSession(session)

	i.beginSession(session)
	defer i.recorder.EndSession(session)

	var offset int64
	for _, data := range frames {
		if ctx.Err() != nil {
			i.finish(report)
			return report, inspecterrors.NewCancelledError(session, "dissect hex dump")
		}
		i.process(session, offset, data, report, log)
		offset += int64(len(data))
	}

	return report, i.finish(report)
}

// beginSession starts a recorder session unless one is already open under
// the same name, as after a probe.
func (i *Inspector) beginSession(session string) {
	if i.recorder.GetSession(session) == nil {
		i.recorder.StartSession(session)
	}
}

// process dissects one captured frame buffer and reports it.
func (i *Inspector) process(session string, offset int64, data []byte, report *Report, log *logger.Logger) {
	res, err := dissect.Dissect(data, i.options())
	if err != nil {
		i.metrics.RecordTooShort()
		log.FrameEvent(logger.DebugLevel, session, offset, "", 0).Msg("Frame header incomplete")
		return
	}
	i.recordMetrics(res)
	if res.Unparsed {
		derr := inspecterrors.NewTruncatedError(session, offset, uint64(res.Frame.PayloadLength), len(res.Payload))
		i.metrics.RecordError(derr.Type.String())
		log.WithOffset(offset).WithError(derr).Warn("Truncated text frame not parsed")
	}

	rec := res.Record(session, websocket.ToClient, offset)
	log.FrameEvent(logger.DebugLevel, session, offset, rec.Opcode, rec.PayloadLength).Msg(rec.Summary)
	if res.IsMCP {
		log.MessageEvent(session, rec.Method(), parser.Value(res.Message.ID), rec.Summary)
	}
	i.emit(rec, report)
}

func (i *Inspector) recordMetrics(res *dissect.Result) {
	i.metrics.RecordFrame(res.Frame.Opcode.String(), len(res.Payload), res.Frame.Truncated)
	if res.Message != nil {
		i.metrics.RecordMessage(res.Message.MethodName(), res.IsMCP, res.Message.Encrypted, res.Message.Code())
	}
}

// emit saves rec to history and, unless it is a retransmission, writes it
// out and counts it in report.
func (i *Inspector) emit(rec *dissect.Record, report *Report) {
	saved, err := i.state.Record(rec)
	if err != nil {
		derr := inspecterrors.NewStorageError(rec.Session, "save", err).At(rec.Offset)
		i.metrics.RecordError(derr.Type.String())
		i.logger.ErrorEvent(derr, rec.Session, "save")
	} else if !saved {
		i.metrics.RecordDuplicate()
		i.mu.Lock()
		report.Statistics.Duplicates++
		i.mu.Unlock()
		return
	}

	i.recorder.Record(rec.Session, websocket.RecordedFrame{
		Timestamp: rec.Timestamp,
		Direction: rec.Direction,
		Offset:    rec.Offset,
		Opcode:    rec.Opcode,
		Size:      rec.Captured,
		Truncated: rec.Truncated,
		Summary:   rec.Summary,
	})

	i.mu.Lock()
	defer i.mu.Unlock()
	report.Add(rec)
	if err := i.output.WriteDissection(rec); err != nil {
		i.logger.WithError(err).Warn("Failed to write dissection")
	}
}

// finish closes report and writes its summary.
func (i *Inspector) finish(report *Report) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	report.Finish()
	if err := i.output.WriteSummary(report); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return i.output.Flush()
}

// Proxy forwards client connections to the configured upstream and
// dissects every server frame until ctx is done or the inspector closes.
func (i *Inspector) Proxy(ctx context.Context) error {
	if i.config.Upstream == "" {
		return inspecterrors.NewConfigError("upstream", "is required to proxy")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(i.shutdownHandler.Context(), cancel)
	defer stop()

	report := output.NewReport(ProxySession, "proxy "+i.config.Addr()+" -> "+i.config.Upstream)

	// Connection numbers restart every run, so the run start keeps their
	// sessions apart in a persistent store.
	prefix := ProxySession + "-" + strconv.FormatInt(time.Now().UnixNano(), 36)

	p := proxy.New(proxy.Config{
		ListenAddr:    i.config.Addr(),
		Upstream:      i.config.Upstream,
		MaxFrameSize:  i.config.MaxFrameSize,
		Options:       i.options(),
		SessionPrefix: prefix,
	}, func(rec *dissect.Record) {
		i.emit(rec, report)
	})
	p.SetLogger(i.logger)
	p.SetMetrics(i.metrics)
	p.SetLimiter(i.limiter)

	i.mu.Lock()
	i.proxy = p
	i.mu.Unlock()

	// Output closes after this callback, so wait for the report summary.
	finished := make(chan struct{})
	defer close(finished)
	i.shutdownHandler.Register("proxy", func(ctx context.Context) error {
		err := p.Shutdown(ctx)
		select {
		case <-finished:
		case <-ctx.Done():
		}
		return err
	})

	err := p.ListenAndServe(ctx)

	drainCtx, drainCancel := context.WithTimeout(context.Background(), shutdownWindow)
	defer drainCancel()
	p.Shutdown(drainCtx)

	i.mu.Lock()
	i.proxy = nil
	i.mu.Unlock()

	if ferr := i.finish(report); err == nil {
		err = ferr
	}
	return err
}

// ProxyAddr returns the address the running proxy listens on, or nil.
func (i *Inspector) ProxyAddr() net.Addr {
	i.mu.Lock()
	p := i.proxy
	i.mu.Unlock()

	if p == nil {
		return nil
	}
	return p.Addr()
}

// Probe opens an MCP session with a live endpoint, sends initialize and the
// configured methods, and dissects everything the server sent back.
func (i *Inspector) Probe(ctx context.Context, url string) (*ProbeReport, error) {
	prober := websocket.NewProber()
	prober.SetHeaders(i.config.Probe.Headers)
	prober.SetMethods(i.config.Probe.Methods)
	prober.SetMaxMessages(i.config.Probe.MaxMessages)
	prober.SetMessageTimeout(i.config.Probe.Timeout)
	prober.SetInsecure(i.config.Probe.Insecure)
	prober.SetRecorder(i.recorder)

	log := i.logger.WithComponent("probe")

	result, err := prober.Probe(ctx, url)
	if err != nil {
		derr := inspecterrors.Categorize(err, url)
		i.metrics.RecordError(derr.Type.String())
		log.ErrorEvent(derr, url, "probe")
		return nil, derr
	}

	log.WithSession(result.URL).
		WithField("sent", result.Sent).
		WithField("received", result.Received).
		WithDuration(result.Duration).
		Info("Probe complete")
	if len(result.Unanswered) > 0 {
		log.WithField("methods", result.Unanswered).Warn("Requests left unanswered")
	}

	report, err := i.dissectStream(ctx, result.URL, "probe", bytes.NewReader(result.Stream))
	return &ProbeReport{Probe: result, Report: report}, err
}

// History returns the recorded frames of a session in capture order.
func (i *Inspector) History(session string) ([]*Record, error) {
	records, err := i.state.History(session)
	if err != nil {
		return nil, inspecterrors.NewStorageError(session, "list", err)
	}
	return records, nil
}

// Sessions lists recorded sessions.
func (i *Inspector) Sessions() ([]SessionInfo, error) {
	sessions, err := i.state.Sessions()
	if err != nil {
		return nil, inspecterrors.NewStorageError("", "sessions", err)
	}
	return sessions, nil
}

// Forget deletes a session from history.
func (i *Inspector) Forget(session string) error {
	if err := i.state.Forget(session); err != nil {
		return inspecterrors.NewStorageError(session, "delete", err)
	}
	return nil
}

// Stats returns the inspector's counters.
func (i *Inspector) Stats() Stats {
	return Stats{
		Metrics:  i.metrics.Snapshot(),
		State:    i.state.Stats(),
		Recorder: i.recorder.Stats(),
		Limiter:  i.limiter.Stats(),
		Uptime:   time.Since(i.startTime),
	}
}

// Config returns a copy of the configuration.
func (i *Inspector) Config() *Config {
	return i.config.Clone()
}

// Metrics returns the metrics collector.
func (i *Inspector) Metrics() *metrics.Collector {
	return i.metrics
}

// Recorder returns the per-session frame log.
func (i *Inspector) Recorder() *websocket.Recorder {
	return i.recorder
}

// ShutdownContext returns a context cancelled when the inspector starts
// closing.
func (i *Inspector) ShutdownContext() context.Context {
	return i.shutdownHandler.Context()
}

// ListenForSignals closes the inspector on SIGINT or SIGTERM. The returned
// channel is closed once cleanup has finished.
func (i *Inspector) ListenForSignals() <-chan struct{} {
	return i.shutdownHandler.ListenAndShutdown()
}

// Close stops a running proxy, flushes output and closes the history store.
func (i *Inspector) Close() error {
	i.shutdownHandler.Shutdown()
	return errors.Join(i.shutdownHandler.Result().Errors...)
}
