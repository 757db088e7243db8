package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"go-mdpreview/internal/config"
	"go-mdpreview/internal/metrics"
	"go-mdpreview/internal/page"
	"go-mdpreview/internal/render"
	httptransport "go-mdpreview/internal/transport/http"
	"go-mdpreview/internal/watch"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

const shutdownTimeout = 5 * time.Second

// LivePreview is the server context for one document: it ties the change
// source, the render pipeline, the connection hub and the HTTP server
// together and sequences their startup and shutdown.
type LivePreview struct {
	cfg      config.Config
	doc      Document
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	step      renderStep
	assembler *page.Assembler
	hub       *httptransport.Hub
	pipeline  *Pipeline
	server    *httptransport.PreviewServer

	watcher       *watch.Watcher
	listener      net.Listener
	metricsServer *http.Server
	stopWatch     context.CancelFunc
	watchers      sync.WaitGroup
	hubDone       chan struct{}
	serveDone     chan struct{}
	serveErr      error

	started      bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// NewLivePreview validates cfg and resolves the document. Both checks run
// before anything is bound, so their errors are fatal startup errors.
func NewLivePreview(cfg config.Config, logger *slog.Logger, registry *prometheus.Registry) (*LivePreview, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	path, err := cfg.ResolveDocument()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	var highlightCSS string
	if cfg.Render.Highlight {
		highlightCSS, err = render.HighlightCSS(cfg.Render.HighlightStyle)
		if err != nil {
			return nil, fmt.Errorf("highlight stylesheet: %w", err)
		}
	}

	assembler, err := page.NewAssembler(page.Options{
		Stylesheet:     cfg.Stylesheet,
		ReconnectDelay: cfg.ReconnectDelay,
		HighlightCSS:   highlightCSS,
		Math:           cfg.Render.Math,
		Mermaid:        cfg.Render.Mermaid,
	})
	if err != nil {
		return nil, fmt.Errorf("page template: %w", err)
	}

	m := metrics.New(registry)
	doc := Document{Path: path}
	renderer := render.New(cfg.Render)
	hub := httptransport.NewHub(logger, m)
	tp := otel.GetTracerProvider()

	s := &LivePreview{
		cfg:       cfg,
		doc:       doc,
		logger:    logger,
		registry:  registry,
		metrics:   m,
		step:      newRenderStep(doc, renderer, m, tp),
		assembler: assembler,
		hub:       hub,
		pipeline: NewPipeline(PipelineConfig{
			Document:   doc,
			Renderer:   renderer,
			Dispatcher: hub,
			Policy:     cfg.Mode,
			Quiet:      cfg.Debounce,
			Logger:     logger,
			Metrics:    m,

			TracerProvider: tp,
		}),
		hubDone:   make(chan struct{}),
		serveDone: make(chan struct{}),
	}
	s.server = httptransport.NewPreviewServer(hub, s, logger)
	return s, nil
}

// Document returns the previewed document.
func (s *LivePreview) Document() Document {
	return s.doc
}

// Start begins watching, binds the listener and serves in the background.
func (s *LivePreview) Start(ctx context.Context) error {
	if s.started {
		return errors.New("preview already started")
	}

	watcher, err := watch.New(s.doc.Path, s.logger)
	if err != nil {
		return err
	}
	watcher.OnError = func(error) { s.metrics.WatchError() }

	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		_ = watcher.Close()
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr(), err)
	}

	if s.cfg.MetricsAddr != "" {
		mln, err := net.Listen("tcp", s.cfg.MetricsAddr)
		if err != nil {
			_ = ln.Close()
			_ = watcher.Close()
			return fmt.Errorf("listen on %s: %w", s.cfg.MetricsAddr, err)
		}
		s.metricsServer = &http.Server{
			Handler:           metrics.Handler(s.registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := s.metricsServer.Serve(mln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("metrics server", "error", err)
			}
		}()
	}

	s.started = true
	s.watcher = watcher
	s.listener = ln

	watchCtx, stopWatch := context.WithCancel(context.WithoutCancel(ctx))
	s.stopWatch = stopWatch

	go func() {
		defer close(s.hubDone)
		s.hub.Run(context.WithoutCancel(ctx))
	}()

	s.watchers.Add(2)
	go func() {
		defer s.watchers.Done()
		s.pipeline.Run(watchCtx)
	}()
	go func() {
		defer s.watchers.Done()
		watcher.Run(watchCtx, s.pipeline.OnChange)
	}()

	go func() {
		defer close(s.serveDone)
		s.serveErr = s.server.Serve(ln)
	}()

	s.logger.Info("preview server listening", "document", s.doc.Path, "url", s.URL(), "mode", s.cfg.Mode)
	return nil
}

// URL is the browser address of the running server.
func (s *LivePreview) URL() string {
	host := s.cfg.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	port := s.cfg.Port
	if s.listener != nil {
		if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			port = addr.Port
		}
	}
	return fmt.Sprintf("http://%s", net.JoinHostPort(host, fmt.Sprint(port)))
}

// RenderPage renders the document from disk and assembles the full page.
func (s *LivePreview) RenderPage(ctx context.Context) ([]byte, error) {
	fragment, err := s.step.render(ctx, metrics.SourcePage)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := s.assembler.Assemble(&buf, s.doc.Name(), fragment); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Run starts the preview, calls ready with its URL, and blocks until ctx is
// cancelled or the server fails. It always shuts down before returning.
func (s *LivePreview) Run(ctx context.Context, ready func(url string)) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	if ready != nil {
		ready(s.URL())
	}

	select {
	case <-ctx.Done():
	case <-s.serveDone:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return s.serveErr
}

// Shutdown stops the filesystem watch, then closes the server and releases
// the port, then closes every live connection. Later calls return the
// first result.
func (s *LivePreview) Shutdown(ctx context.Context) error {
	if !s.started {
		return nil
	}

	s.shutdownOnce.Do(func() {
		s.logger.Info("shutting down", "document", s.doc.Path)

		_ = s.watcher.Close()
		s.stopWatch()
		s.watchers.Wait()

		err := s.server.Shutdown(ctx)
		<-s.serveDone

		if s.metricsServer != nil {
			if merr := s.metricsServer.Shutdown(ctx); merr != nil && err == nil {
				err = merr
			}
		}

		s.hub.Stop()
		<-s.hubDone
		s.shutdownErr = err
	})
	return s.shutdownErr
}
