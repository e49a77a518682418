// Package shutdown stops a running inspector cleanly: the proxy listener is
// closed first, open connections drain, then writers and the history store
// are flushed and closed.
package shutdown

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/PentesterFlow/MCPInspector/internal/logger"
)

// Handler manages graceful shutdown.
type Handler struct {
	mu sync.Mutex

	callbacks []namedCallback

	isShuttingDown atomic.Bool
	done           chan struct{}
	timeout        time.Duration
	result         Result

	// Cancelled when shutdown begins.
	ctx    context.Context
	cancel context.CancelFunc

	signals []os.Signal
	sigChan chan os.Signal
	log     *logger.Logger

	onShutdownDone func(Result)
}

type namedCallback struct {
	name string
	fn   Callback
}

// Callback is a function called during shutdown.
type Callback func(ctx context.Context) error

// Config holds shutdown configuration.
type Config struct {
	Timeout        time.Duration
	Signals        []os.Signal
	Logger         *logger.Logger
	OnShutdownDone func(Result)
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 10 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// New creates a new shutdown handler. cfg.Signals are only caught once Wait
// or ListenAndShutdown is called.
func New(cfg Config) *Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if len(cfg.Signals) == 0 {
		cfg.Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Global()
	}

	ctx, cancel := context.WithCancel(context.Background())

	h := &Handler{
		done:           make(chan struct{}),
		timeout:        cfg.Timeout,
		ctx:            ctx,
		cancel:         cancel,
		signals:        cfg.Signals,
		sigChan:        make(chan os.Signal, 1),
		log:            cfg.Logger.WithComponent("shutdown"),
		onShutdownDone: cfg.OnShutdownDone,
	}

	return h
}

// NewDefault creates a handler with default configuration.
func NewDefault() *Handler {
	return New(DefaultConfig())
}

// Register registers a shutdown callback with a name. Callbacks run in
// reverse registration order.
func (h *Handler) Register(name string, callback Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.callbacks = append(h.callbacks, namedCallback{name: name, fn: callback})
}

// RegisterFunc registers a simple cleanup function.
func (h *Handler) RegisterFunc(name string, fn func()) {
	h.Register(name, func(ctx context.Context) error {
		fn()
		return nil
	})
}

// RegisterCloser registers c to be closed on shutdown.
func (h *Handler) RegisterCloser(name string, c io.Closer) {
	h.Register(name, func(ctx context.Context) error {
		return c.Close()
	})
}

// Context returns the shutdown context.
// This context is cancelled when shutdown begins.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// IsShuttingDown returns whether shutdown is in progress.
func (h *Handler) IsShuttingDown() bool {
	return h.isShuttingDown.Load()
}

// Done returns a channel that is closed when shutdown completes.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Result returns the outcome of a completed shutdown.
func (h *Handler) Result() Result {
	<-h.done
	return h.result
}

// Wait blocks until a shutdown signal is received, then shuts down.
func (h *Handler) Wait() {
	h.WaitWithContext(context.Background())
}

// WaitWithContext waits for a signal or ctx cancellation, then shuts down.
func (h *Handler) WaitWithContext(ctx context.Context) {
	signal.Notify(h.sigChan, h.signals...)
	defer signal.Stop(h.sigChan)

	select {
	case sig := <-h.sigChan:
		h.log.Infof("Received %s", sig)
		h.Shutdown()
	case <-ctx.Done():
		h.Shutdown()
	case <-h.ctx.Done():
		// Already shutting down
	}
}

// ListenAndShutdown starts listening for signals in the background and
// returns a channel closed when shutdown completes.
func (h *Handler) ListenAndShutdown() <-chan struct{} {
	go h.Wait()
	return h.done
}

// Shutdown cancels the handler context and runs every callback in LIFO
// order, each bounded by the shared timeout.
func (h *Handler) Shutdown() {
	if !h.isShuttingDown.CompareAndSwap(false, true) {
		return
	}

	start := time.Now()
	h.log.Info("Shutting down")

	h.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), h.timeout)
	defer shutdownCancel()

	h.mu.Lock()
	callbacks := make([]namedCallback, len(h.callbacks))
	copy(callbacks, h.callbacks)
	h.mu.Unlock()

	var errs []error
	for i := len(callbacks) - 1; i >= 0; i-- {
		cb := callbacks[i]
		if err := h.executeCallback(shutdownCtx, cb); err != nil {
			h.log.WithError(err).Warnf("Shutdown step %s failed", cb.name)
			errs = append(errs, err)
		}
	}

	h.result = Result{Elapsed: time.Since(start), Errors: errs}
	h.log.WithDuration(h.result.Elapsed).Info("Shutdown complete")

	if h.onShutdownDone != nil {
		h.onShutdownDone(h.result)
	}

	close(h.done)
}

// executeCallback runs one callback, giving up when ctx expires.
func (h *Handler) executeCallback(ctx context.Context, cb namedCallback) error {
	done := make(chan error, 1)

	go func() {
		done <- cb.fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &TimeoutError{CallbackName: cb.name}
	}
}

// TimeoutError is returned when a callback times out.
type TimeoutError struct {
	CallbackName string
}

func (e *TimeoutError) Error() string {
	return "shutdown callback timed out: " + e.CallbackName
}

// Result holds the result of a shutdown.
type Result struct {
	Elapsed time.Duration
	Errors  []error
}

// HasErrors returns whether any errors occurred during shutdown.
func (r Result) HasErrors() bool {
	return len(r.Errors) > 0
}
