package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/PentesterFlow/MCPInspector/internal/catalog"
	"github.com/PentesterFlow/MCPInspector/internal/output"
	"github.com/PentesterFlow/MCPInspector/pkg/inspector"
)

var (
	version = "1.0.0"

	// Global flags
	configFile string
	verbose    bool
	debug      bool
	format     string
	outputFile string
	stateFile  string

	// Dissect flags
	hexDump          bool
	session          string
	extractTruncated bool
	noDedup          bool
	maxFrameSize     int

	// Proxy flags
	listenAddr string
	upstream   string
	port       int
	rateLimit  float64
	burst      int

	// Probe flags
	probeTimeout int
	probeMethods []string
	probeHeaders []string
	maxMessages  int
	insecure     bool

	// Catalog flags
	catalogKind string

	// History flags
	forget bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mcpinspector",
		Short: "MCPInspector - MCP over WebSocket dissector",
		Long: `MCPInspector - A dissector for MCP JSON-RPC 2.0 messages carried in WebSocket frames.

Decodes captured byte streams and hex dumps, sits between a client and an MCP
server as a forwarding proxy, or probes a live endpoint.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	dissectCmd := &cobra.Command{
		Use:   "dissect [file]",
		Short: "Dissect a captured server stream",
		Long:  "Dissect a captured server-to-client byte stream, or a hex dump with --hex. Use - to read stdin.",
		Args:  cobra.ExactArgs(1),
		RunE:  runDissect,
	}

	proxyCmd := &cobra.Command{
		Use:   "proxy",
		Short: "Proxy and dissect live traffic",
		Long:  "Forward client connections to an MCP server and dissect every frame the server sends.",
		RunE:  runProxy,
	}

	probeCmd := &cobra.Command{
		Use:   "probe [url]",
		Short: "Probe a live MCP endpoint",
		Long:  "Open an MCP session, send initialize and the probe methods, and dissect the replies.",
		Args:  cobra.ExactArgs(1),
		RunE:  runProbe,
	}

	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "List known methods, tools and resources",
		RunE:  runCatalog,
	}

	historyCmd := &cobra.Command{
		Use:   "history [session]",
		Short: "Show recorded sessions",
		Long:  "List the sessions in the state file, or print the frames of one session.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Debug mode")
	rootCmd.PersistentFlags().StringVarP(&format, "format", "f", "tree", "Output format (tree, summary, json)")
	rootCmd.PersistentFlags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	rootCmd.PersistentFlags().StringVar(&stateFile, "state-file", "", "State file for frame history")

	// Dissect flags
	dissectCmd.Flags().BoolVar(&hexDump, "hex", false, "Input is a hex dump, one frame per line")
	dissectCmd.Flags().StringVarP(&session, "session", "s", "", "Session name (default: stream or hexdump)")
	dissectCmd.Flags().BoolVar(&extractTruncated, "extract-truncated", false, "Extract fields from truncated text frames")
	dissectCmd.Flags().BoolVar(&noDedup, "no-dedup", false, "Report frames already seen in this session")
	dissectCmd.Flags().IntVar(&maxFrameSize, "max-frame-size", 0, "Largest frame buffered, in bytes")

	// Proxy flags
	proxyCmd.Flags().StringVarP(&upstream, "upstream", "u", "", "MCP server address (host:port)")
	proxyCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "Listen address (overrides --port)")
	proxyCmd.Flags().IntVarP(&port, "port", "p", inspector.DefaultPort, "Listen port")
	proxyCmd.Flags().Float64VarP(&rateLimit, "rate-limit", "r", 10, "New connections per second per peer (0 = unlimited)")
	proxyCmd.Flags().IntVar(&burst, "burst", 20, "Connection burst per peer")
	proxyCmd.Flags().BoolVar(&extractTruncated, "extract-truncated", false, "Extract fields from truncated text frames")

	// Probe flags
	probeCmd.Flags().IntVarP(&probeTimeout, "timeout", "t", 5, "Seconds to wait for each reply")
	probeCmd.Flags().StringArrayVarP(&probeMethods, "method", "m", nil, "Method to request after initialize (repeatable)")
	probeCmd.Flags().StringArrayVarP(&probeHeaders, "header", "H", nil, "Handshake header as 'Name: value' (repeatable)")
	probeCmd.Flags().IntVar(&maxMessages, "max-messages", 100, "Maximum server messages to read")
	probeCmd.Flags().BoolVarP(&insecure, "insecure", "k", false, "Skip TLS verification")

	// Catalog flags
	catalogCmd.Flags().StringVar(&catalogKind, "kind", "", "Only list one kind (method, tool, resource)")

	// History flags
	historyCmd.Flags().BoolVar(&forget, "forget", false, "Delete the session instead of printing it")

	// Add commands
	rootCmd.AddCommand(dissectCmd)
	rootCmd.AddCommand(proxyCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(historyCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig starts from the config file, if any, and applies the global
// flags the user set.
func loadConfig(cmd *cobra.Command, base *inspector.Config) (*inspector.Config, error) {
	config := base
	if configFile != "" {
		fileConfig, err := inspector.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		config = fileConfig
	}

	flags := cmd.Flags()
	if flags.Changed("format") || configFile == "" {
		config.Output.Format = format
	}
	if flags.Changed("output") {
		config.Output.FilePath = outputFile
	}
	if flags.Changed("state-file") {
		config.State.Enabled = true
		config.State.FilePath = stateFile
	}
	if flags.Changed("extract-truncated") {
		config.ExtractTruncated = extractTruncated
	}
	config.Verbose = config.Verbose || verbose
	config.Debug = config.Debug || debug
	return config, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
			fmt.Fprintf(os.Stderr, "\nReceived interrupt signal, stopping...\n")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

func runDissect(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd, inspector.DefaultConfig())
	if err != nil {
		return err
	}
	if noDedup {
		config.Dedup.Enabled = false
	}
	if cmd.Flags().Changed("max-frame-size") {
		config.MaxFrameSize = maxFrameSize
	}

	in, err := openInput(args[0])
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer in.Close()

	i, err := inspector.New(inspector.WithConfig(config))
	if err != nil {
		return fmt.Errorf("failed to create inspector: %w", err)
	}
	defer i.Close()

	ctx, cancel := signalContext()
	defer cancel()

	var report *inspector.Report
	if hexDump {
		report, err = i.DissectHex(ctx, session, in)
	} else {
		report, err = i.DissectStream(ctx, session, in)
	}
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("dissect failed: %w", err)
	}

	if verbose && report != nil {
		printStats(report)
	}
	return nil
}

func runProxy(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd, inspector.DefaultConfig())
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("upstream") {
		config.Upstream = upstream
	}
	if flags.Changed("listen") {
		config.ListenAddr = listenAddr
	}
	if flags.Changed("port") {
		config.Port = port
	}
	if flags.Changed("rate-limit") {
		config.RateLimit.ConnectionsPerSecond = rateLimit
	}
	if flags.Changed("burst") {
		config.RateLimit.Burst = burst
	}
	if config.Upstream == "" {
		return fmt.Errorf("--upstream is required")
	}

	i, err := inspector.New(inspector.WithConfig(config))
	if err != nil {
		return fmt.Errorf("failed to create inspector: %w", err)
	}
	defer i.Close()

	// A signal closes the inspector, which stops the proxy.
	i.ListenForSignals()

	printBanner(config)

	if err := i.Proxy(context.Background()); err != nil {
		return fmt.Errorf("proxy failed: %w", err)
	}
	return nil
}

func runProbe(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd, inspector.DefaultConfig())
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("timeout") {
		config.Probe.Timeout = time.Duration(probeTimeout) * time.Second
	}
	if flags.Changed("method") {
		config.Probe.Methods = probeMethods
	}
	if flags.Changed("max-messages") {
		config.Probe.MaxMessages = maxMessages
	}
	if flags.Changed("insecure") {
		config.Probe.Insecure = insecure
	}

	opts := []inspector.Option{inspector.WithConfig(config)}
	if len(probeHeaders) > 0 {
		headers, err := parseHeaders(probeHeaders)
		if err != nil {
			return err
		}
		opts = append(opts, inspector.WithProbeHeaders(headers))
	}

	i, err := inspector.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create inspector: %w", err)
	}
	defer i.Close()

	ctx, cancel := signalContext()
	defer cancel()

	result, err := i.Probe(ctx, args[0])
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	if result == nil {
		return nil
	}

	p := result.Probe
	fmt.Fprintf(os.Stderr, "\nProbed %s in %v: %d sent, %d received\n",
		p.URL, p.Duration.Round(time.Millisecond), p.Sent, p.Received)
	if len(p.Protocols) > 0 {
		fmt.Fprintf(os.Stderr, "Subprotocols: %s\n", strings.Join(p.Protocols, ", "))
	}
	if len(p.Unanswered) > 0 {
		fmt.Fprintf(os.Stderr, "Unanswered:   %s\n", strings.Join(p.Unanswered, ", "))
	}
	return nil
}

func parseHeaders(raw []string) (map[string]string, error) {
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q, want 'Name: value'", h)
		}
		headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return headers, nil
}

func runCatalog(cmd *cobra.Command, args []string) error {
	var entries []catalog.Descriptor
	switch catalogKind {
	case "":
		entries = catalog.All()
	case "method":
		entries = catalog.Methods()
	case "tool":
		entries = catalog.Tools()
	case "resource":
		entries = catalog.Resources()
	default:
		return fmt.Errorf("unknown kind %q (method, tool, resource)", catalogKind)
	}

	for _, d := range entries {
		fmt.Printf("%-9s %-36s %s\n", d.Kind, d.Name, d.Description)
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd, inspector.DefaultConfig())
	if err != nil {
		return err
	}
	if !config.State.Enabled {
		return fmt.Errorf("history needs --state-file or state.enabled in the config file")
	}
	if _, err := os.Stat(config.State.FilePath); err != nil {
		return fmt.Errorf("failed to open state file: %w", err)
	}

	i, err := inspector.New(inspector.WithConfig(config), inspector.WithOutput(io.Discard))
	if err != nil {
		return fmt.Errorf("failed to create inspector: %w", err)
	}
	defer i.Close()

	if len(args) == 0 {
		sessions, err := i.Sessions()
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions recorded")
			return nil
		}
		for _, s := range sessions {
			fmt.Printf("%-40s %8d frames  %s - %s\n", s.Name, s.Frames,
				s.First.Format(time.RFC3339), s.Last.Format(time.RFC3339))
		}
		return nil
	}

	name := args[0]
	if forget {
		if err := i.Forget(name); err != nil {
			return err
		}
		fmt.Printf("Forgot session %s\n", name)
		return nil
	}

	records, err := i.History(name)
	if err != nil {
		return err
	}

	w := output.NewWriter(struct{ io.Writer }{os.Stdout}, output.Config{
		Format: config.Output.Format,
		Pretty: config.Output.Pretty,
		Stream: true,
	})
	report := output.NewReport(name, config.State.FilePath)
	for _, rec := range records {
		report.Add(rec)
		if err := w.WriteDissection(rec); err != nil {
			return err
		}
	}
	report.Finish()
	if err := w.WriteSummary(report); err != nil {
		return err
	}
	return w.Flush()
}

func printBanner(config *inspector.Config) {
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "╔══════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(os.Stderr, "║                     MCPInspector v1.0                        ║")
	fmt.Fprintln(os.Stderr, "╚══════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "Listen:     %s\n", config.Addr())
	fmt.Fprintf(os.Stderr, "Upstream:   %s\n", config.Upstream)
	if config.RateLimit.ConnectionsPerSecond > 0 {
		fmt.Fprintf(os.Stderr, "Rate Limit: %.0f conn/s per peer\n", config.RateLimit.ConnectionsPerSecond)
	}
	fmt.Fprintln(os.Stderr)
}

func printStats(report *inspector.Report) {
	st := report.Statistics
	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "Duration:      %v\n", report.Duration.Round(time.Millisecond))
	fmt.Fprintf(os.Stderr, "Frames:        %d\n", st.Frames)
	fmt.Fprintf(os.Stderr, "MCP Messages:  %d\n", st.MCPMessages)
	fmt.Fprintf(os.Stderr, "Errors:        %d\n", st.Errors)
	fmt.Fprintf(os.Stderr, "Truncated:     %d\n", st.Truncated)
	fmt.Fprintf(os.Stderr, "Duplicates:    %d\n", st.Duplicates)

	if top := report.TopMethods(5); len(top) > 0 {
		fmt.Fprintln(os.Stderr, "Top Methods:")
		for _, m := range top {
			fmt.Fprintf(os.Stderr, "  %-36s %d\n", m.Method, m.Count)
		}
	}
}
