package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-mdpreview/internal/app"
	"go-mdpreview/internal/browser"
	"go-mdpreview/internal/config"
	"go-mdpreview/internal/contracts"
	"go-mdpreview/internal/tracing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

type options struct {
	configPath  string
	noOpen      bool
	host        string
	port        int
	mode        string
	debounce    time.Duration
	stylesheet  string
	metricsAddr string
	trace       bool
	verbose     bool

	noHeadingIDs   bool
	math           bool
	wikiLinks      bool
	mermaid        bool
	noHighlight    bool
	highlightStyle string
	noRawHTML      bool
	sanitize       bool
}

func newRootCmd() *cobra.Command {
	cmd, _ := newCommand()
	return cmd
}

func newCommand() (*cobra.Command, *options) {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "mdpreview [file]",
		Short: "Live preview a markdown document in the browser",
		Long: `mdpreview renders a markdown document, serves it on localhost and
updates every open browser tab whenever the file changes on disk.

The document defaults to README.md in the current directory.

Examples:
  mdpreview
  mdpreview docs/guide.md --port=8080
  mdpreview notes.md --mode=fragment --math --no-open`,
		Args:          cobra.MaximumNArgs(1),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(cmd, args, opts)
			if err != nil {
				return err
			}
			return run(cmd, cfg, newLogger(cmd.ErrOrStderr(), opts.verbose))
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	f.BoolVar(&opts.noOpen, "no-open", false, "Do not open a browser")
	f.StringVar(&opts.host, "host", config.DefaultHost, "Host to bind to")
	f.IntVarP(&opts.port, "port", "p", config.DefaultPort, "Port to listen on (0 picks a free port)")
	f.StringVarP(&opts.mode, "mode", "m", string(contracts.PolicyReload), "Update delivery: reload or fragment")
	f.DurationVar(&opts.debounce, "debounce", 50*time.Millisecond, "Quiet period before re-rendering after a change")
	f.StringVar(&opts.stylesheet, "stylesheet", config.DefaultStylesheet, "Stylesheet URL for the page")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	f.BoolVar(&opts.trace, "trace", false, "Write render trace spans to stderr")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "Debug logging")

	f.BoolVar(&opts.noHeadingIDs, "no-heading-ids", false, "Do not generate heading anchors")
	f.BoolVar(&opts.math, "math", false, "Render $math$ with MathJax")
	f.BoolVar(&opts.wikiLinks, "wikilinks", false, "Resolve [[wiki]] style links")
	f.BoolVar(&opts.mermaid, "mermaid", false, "Render mermaid diagrams")
	f.BoolVar(&opts.noHighlight, "no-highlight", false, "Disable code highlighting")
	f.StringVar(&opts.highlightStyle, "highlight-style", "github", "Chroma style for code blocks")
	f.BoolVar(&opts.noRawHTML, "no-raw-html", false, "Drop raw HTML from the document")
	f.BoolVar(&opts.sanitize, "sanitize", false, "Sanitize the rendered HTML")

	return cmd, opts
}

// buildConfig layers the config file and explicitly set flags over the defaults.
func buildConfig(cmd *cobra.Command, args []string, opts *options) (config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return cfg, err
		}
	}
	if len(args) == 1 {
		cfg.Document = args[0]
	}

	f := cmd.Flags()
	if f.Changed("no-open") {
		cfg.Open = !opts.noOpen
	}
	if f.Changed("host") {
		cfg.Host = opts.host
	}
	if f.Changed("port") {
		cfg.Port = opts.port
	}
	if f.Changed("mode") {
		mode, err := contracts.ParsePolicy(opts.mode)
		if err != nil {
			return cfg, err
		}
		cfg.Mode = mode
	}
	if f.Changed("debounce") {
		cfg.Debounce = opts.debounce
	}
	if f.Changed("stylesheet") {
		cfg.Stylesheet = opts.stylesheet
	}
	if f.Changed("metrics-addr") {
		cfg.MetricsAddr = opts.metricsAddr
	}
	if f.Changed("trace") {
		cfg.Trace = opts.trace
	}

	if f.Changed("no-heading-ids") {
		cfg.Render.HeadingIDs = !opts.noHeadingIDs
	}
	if f.Changed("math") {
		cfg.Render.Math = opts.math
	}
	if f.Changed("wikilinks") {
		cfg.Render.WikiLinks = opts.wikiLinks
	}
	if f.Changed("mermaid") {
		cfg.Render.Mermaid = opts.mermaid
	}
	if f.Changed("no-highlight") {
		cfg.Render.Highlight = !opts.noHighlight
	}
	if f.Changed("highlight-style") {
		cfg.Render.HighlightStyle = opts.highlightStyle
	}
	if f.Changed("no-raw-html") {
		cfg.Render.RawHTML = !opts.noRawHTML
	}
	if f.Changed("sanitize") {
		cfg.Render.Sanitize = opts.sanitize
	}
	return cfg, nil
}

func run(cmd *cobra.Command, cfg config.Config, logger *slog.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if cfg.Trace {
		shutdown, err := tracing.Install(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				logger.Warn("flush traces", "error", err)
			}
		}()
	}

	// Startup errors surface here, before any port is bound.
	preview, err := app.NewLivePreview(cfg, logger, registry)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return preview.Run(ctx, func(url string) {
		fmt.Fprintf(cmd.OutOrStdout(), "Previewing %s at %s\n", cfg.Document, url)
		if !cfg.Open {
			return
		}
		if err := browser.Open(url); err != nil {
			logger.Warn("could not open browser", "url", url, "error", err)
		}
	})
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
