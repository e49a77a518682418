package inspector

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	inspecterrors "github.com/PentesterFlow/MCPInspector/internal/errors"
	"github.com/PentesterFlow/MCPInspector/internal/output"
	"github.com/PentesterFlow/MCPInspector/internal/websocket"
)

// DefaultPort is the TCP port MCP WebSocket traffic is expected on.
const DefaultPort = 8082

// Config holds all inspector configuration.
type Config struct {
	// Port the proxy listens on when ListenAddr is empty
	Port int `json:"port" yaml:"port"`

	// Proxy listen address, overrides Port
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`

	// Upstream MCP server the proxy forwards to (host:port)
	Upstream string `json:"upstream" yaml:"upstream"`

	// Run the field extractor over the captured prefix of truncated frames
	ExtractTruncated bool `json:"extract_truncated" yaml:"extract_truncated"`

	// Largest frame the stream splitter buffers
	MaxFrameSize int `json:"max_frame_size" yaml:"max_frame_size"`

	// Output configuration
	Output OutputConfig `json:"output" yaml:"output"`

	// Dissection history
	State StateConfig `json:"state" yaml:"state"`

	// Retransmission detection
	Dedup DedupConfig `json:"dedup" yaml:"dedup"`

	// Proxy connection admission
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`

	// Live probe settings
	Probe ProbeConfig `json:"probe" yaml:"probe"`

	// Verbose logging
	Verbose bool `json:"verbose" yaml:"verbose"`

	// Debug mode
	Debug bool `json:"debug" yaml:"debug"`
}

// OutputConfig defines output configuration.
type OutputConfig struct {
	Format   string `json:"format" yaml:"format"` // json, tree or summary
	FilePath string `json:"file_path" yaml:"file_path"`
	Pretty   bool   `json:"pretty" yaml:"pretty"`
	Stream   bool   `json:"stream" yaml:"stream"`
}

// StateConfig defines history persistence. When disabled, history is kept
// in memory for the life of the inspector.
type StateConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	FilePath string `json:"file_path" yaml:"file_path"`
}

// DedupConfig defines retransmission detection.
type DedupConfig struct {
	Enabled         bool `json:"enabled" yaml:"enabled"`
	EstimatedFrames int  `json:"estimated_frames" yaml:"estimated_frames"`
}

// RateLimitConfig bounds how fast each client peer may open proxy
// connections. Zero disables the limit.
type RateLimitConfig struct {
	ConnectionsPerSecond float64 `json:"connections_per_second" yaml:"connections_per_second"`
	Burst                int     `json:"burst" yaml:"burst"`
}

// ProbeConfig defines how live endpoints are probed.
type ProbeConfig struct {
	Timeout     time.Duration     `json:"timeout" yaml:"timeout"`
	MaxMessages int               `json:"max_messages" yaml:"max_messages"`
	Methods     []string          `json:"methods" yaml:"methods"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Insecure    bool              `json:"insecure" yaml:"insecure"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:         DefaultPort,
		MaxFrameSize: websocket.DefaultMaxFrameSize,
		Output: OutputConfig{
			Format: output.FormatTree,
			Pretty: true,
		},
		State: StateConfig{
			Enabled:  false,
			FilePath: "mcpinspector.db",
		},
		Dedup: DedupConfig{
			Enabled:         true,
			EstimatedFrames: 100000,
		},
		RateLimit: RateLimitConfig{
			ConnectionsPerSecond: 10,
			Burst:                20,
		},
		Probe: ProbeConfig{
			Timeout:     5 * time.Second,
			MaxMessages: 100,
			Methods:     append([]string(nil), websocket.DefaultProbeMethods...),
		},
	}
}

// ReplayConfig returns a configuration for re-reading captures where every
// frame should be reported, repeats included.
func ReplayConfig() *Config {
	c := DefaultConfig()
	c.Dedup.Enabled = false
	c.ExtractTruncated = true
	c.Output.Format = output.FormatSummary
	return c
}

// LoadFromFile loads configuration from a file (JSON or YAML).
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()

	// Try YAML first, then JSON
	if err := yaml.Unmarshal(data, config); err != nil {
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return config, nil
}

// SaveToFile saves configuration to a file. A ".json" path is written as
// JSON, anything else as YAML.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".json") {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// Addr returns the proxy listen address.
func (c *Config) Addr() string {
	if c.ListenAddr != "" {
		return c.ListenAddr
	}
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return inspecterrors.NewConfigError("port", "must be between 1 and 65535")
	}

	if c.MaxFrameSize < 2 {
		return inspecterrors.NewConfigError("max_frame_size", "must hold at least a frame header")
	}

	switch c.Output.Format {
	case output.FormatJSON, output.FormatTree, output.FormatSummary:
	default:
		return inspecterrors.NewConfigError("output.format", fmt.Sprintf("unknown format %q", c.Output.Format))
	}

	if c.State.Enabled && c.State.FilePath == "" {
		return inspecterrors.NewConfigError("state.file_path", "is required when state is enabled")
	}

	if c.Dedup.Enabled && c.Dedup.EstimatedFrames < 1 {
		return inspecterrors.NewConfigError("dedup.estimated_frames", "must be at least 1")
	}

	if c.RateLimit.ConnectionsPerSecond < 0 {
		return inspecterrors.NewConfigError("rate_limit.connections_per_second", "must not be negative")
	}

	if c.Probe.Timeout <= 0 {
		return inspecterrors.NewConfigError("probe.timeout", "must be positive")
	}

	if c.Probe.MaxMessages < 1 {
		return inspecterrors.NewConfigError("probe.max_messages", "must be at least 1")
	}

	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	data, _ := json.Marshal(c)
	clone := &Config{}
	json.Unmarshal(data, clone)
	return clone
}
