package inspector

import (
	"io"
	"time"

	"github.com/PentesterFlow/MCPInspector/internal/logger"
	"github.com/PentesterFlow/MCPInspector/internal/metrics"
	"github.com/PentesterFlow/MCPInspector/internal/state"
)

// Option is a functional option for configuring the Inspector.
type Option func(*Inspector) error

// WithConfig sets the entire configuration.
func WithConfig(config *Config) Option {
	return func(i *Inspector) error {
		i.config = config
		return nil
	}
}

// WithPort sets the proxy port.
func WithPort(port int) Option {
	return func(i *Inspector) error {
		i.config.Port = port
		return nil
	}
}

// WithListenAddr sets the proxy listen address.
func WithListenAddr(addr string) Option {
	return func(i *Inspector) error {
		i.config.ListenAddr = addr
		return nil
	}
}

// WithUpstream sets the server the proxy forwards to.
func WithUpstream(addr string) Option {
	return func(i *Inspector) error {
		i.config.Upstream = addr
		return nil
	}
}

// WithExtractTruncated enables extraction on truncated text frames.
func WithExtractTruncated(enabled bool) Option {
	return func(i *Inspector) error {
		i.config.ExtractTruncated = enabled
		return nil
	}
}

// WithMaxFrameSize bounds how much of one frame the splitter buffers.
func WithMaxFrameSize(n int) Option {
	return func(i *Inspector) error {
		if n < 2 {
			n = 2
		}
		i.config.MaxFrameSize = n
		return nil
	}
}

// WithOutput sets the output writer.
func WithOutput(w io.Writer) Option {
	return func(i *Inspector) error {
		i.outputWriter = w
		return nil
	}
}

// WithOutputFormat sets the output format (json, tree or summary).
func WithOutputFormat(format string) Option {
	return func(i *Inspector) error {
		i.config.Output.Format = format
		return nil
	}
}

// WithOutputFile sets the output file path.
func WithOutputFile(path string) Option {
	return func(i *Inspector) error {
		i.config.Output.FilePath = path
		return nil
	}
}

// WithPrettyOutput enables/disables pretty JSON output.
func WithPrettyOutput(pretty bool) Option {
	return func(i *Inspector) error {
		i.config.Output.Pretty = pretty
		return nil
	}
}

// WithStreamMode enables streaming JSON output.
func WithStreamMode(stream bool) Option {
	return func(i *Inspector) error {
		i.config.Output.Stream = stream
		return nil
	}
}

// WithStateFile persists history to a bbolt file.
func WithStateFile(path string) Option {
	return func(i *Inspector) error {
		i.config.State.FilePath = path
		i.config.State.Enabled = true
		return nil
	}
}

// WithStore sets a custom history store. It takes precedence over the state
// configuration.
func WithStore(store state.Store) Option {
	return func(i *Inspector) error {
		i.store = store
		return nil
	}
}

// WithDedup enables/disables retransmission detection.
func WithDedup(enabled bool, estimatedFrames int) Option {
	return func(i *Inspector) error {
		i.config.Dedup.Enabled = enabled
		if estimatedFrames > 0 {
			i.config.Dedup.EstimatedFrames = estimatedFrames
		}
		return nil
	}
}

// WithRateLimit sets per-peer proxy connection admission.
func WithRateLimit(connectionsPerSecond float64, burst int) Option {
	return func(i *Inspector) error {
		i.config.RateLimit.ConnectionsPerSecond = connectionsPerSecond
		i.config.RateLimit.Burst = burst
		return nil
	}
}

// WithProbeTimeout sets how long the probe waits for each reply.
func WithProbeTimeout(timeout time.Duration) Option {
	return func(i *Inspector) error {
		i.config.Probe.Timeout = timeout
		return nil
	}
}

// WithProbeMethods sets the methods requested after initialize.
func WithProbeMethods(methods ...string) Option {
	return func(i *Inspector) error {
		i.config.Probe.Methods = methods
		return nil
	}
}

// WithProbeMaxMessages bounds how many server messages a probe reads.
func WithProbeMaxMessages(n int) Option {
	return func(i *Inspector) error {
		if n < 1 {
			n = 1
		}
		i.config.Probe.MaxMessages = n
		return nil
	}
}

// WithProbeHeaders sets extra handshake headers for the probe.
func WithProbeHeaders(headers map[string]string) Option {
	return func(i *Inspector) error {
		if i.config.Probe.Headers == nil {
			i.config.Probe.Headers = make(map[string]string)
		}
		for k, v := range headers {
			i.config.Probe.Headers[k] = v
		}
		return nil
	}
}

// WithInsecure skips TLS verification when probing wss endpoints.
func WithInsecure(insecure bool) Option {
	return func(i *Inspector) error {
		i.config.Probe.Insecure = insecure
		return nil
	}
}

// WithVerbose enables/disables verbose logging.
func WithVerbose(verbose bool) Option {
	return func(i *Inspector) error {
		i.config.Verbose = verbose
		return nil
	}
}

// WithDebug enables/disables debug mode.
func WithDebug(debug bool) Option {
	return func(i *Inspector) error {
		i.config.Debug = debug
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *logger.Logger) Option {
	return func(i *Inspector) error {
		i.logger = l
		return nil
	}
}

// WithLogLevel sets the log level.
func WithLogLevel(level logger.Level) Option {
	return func(i *Inspector) error {
		i.logLevel = &level
		return nil
	}
}

// WithMetrics sets a custom metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(i *Inspector) error {
		i.metrics = m
		return nil
	}
}
