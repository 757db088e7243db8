package app

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go-mdpreview/internal/contracts"
	"go-mdpreview/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "go-mdpreview/internal/app"

// Document is the previewed file, identified by its absolute path.
type Document struct {
	Path string
}

// Name is the basename shown as the page title.
func (d Document) Name() string {
	return filepath.Base(d.Path)
}

// FragmentRenderer converts markdown to an HTML fragment.
type FragmentRenderer interface {
	ConvertFragment(source []byte) (string, error)
}

// Dispatcher fans a payload out to every open connection.
type Dispatcher interface {
	Broadcast(payload []byte) int
}

// renderStep reads the document from disk and renders all of it. Nothing is
// cached between calls.
type renderStep struct {
	doc      Document
	renderer FragmentRenderer
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

func newRenderStep(doc Document, renderer FragmentRenderer, m *metrics.Metrics, tp trace.TracerProvider) renderStep {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return renderStep{doc: doc, renderer: renderer, metrics: m, tracer: tp.Tracer(tracerName)}
}

func (r renderStep) render(ctx context.Context, source string) (string, error) {
	_, span := r.tracer.Start(ctx, "render", trace.WithAttributes(
		attribute.String("mdpreview.document", r.doc.Path),
		attribute.String("mdpreview.source", source),
	))
	defer span.End()

	start := time.Now()
	fragment, err := r.convert()
	r.metrics.ObserveRender(source, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return fragment, nil
}

func (r renderStep) convert() (string, error) {
	source, err := os.ReadFile(r.doc.Path)
	if err != nil {
		return "", err
	}
	return r.renderer.ConvertFragment(source)
}

// PipelineConfig wires a Pipeline.
type PipelineConfig struct {
	Document   Document
	Renderer   FragmentRenderer
	Dispatcher Dispatcher
	Policy     contracts.Policy
	// Quiet is the quiescence window: a render runs this long after the
	// last change signal of a burst.
	Quiet   time.Duration
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// TracerProvider receives a span per render. Defaults to the global provider.
	TracerProvider trace.TracerProvider
}

// Pipeline coalesces change signals and broadcasts one render per burst.
type Pipeline struct {
	step       renderStep
	dispatcher Dispatcher
	policy     contracts.Policy
	quiet      time.Duration
	logger     *slog.Logger

	signals chan struct{}
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNop()
	}
	return &Pipeline{
		step:       newRenderStep(cfg.Document, cfg.Renderer, cfg.Metrics, cfg.TracerProvider),
		dispatcher: cfg.Dispatcher,
		policy:     cfg.Policy,
		quiet:      cfg.Quiet,
		logger:     cfg.Logger,
		signals:    make(chan struct{}, 1),
	}
}

// OnChange records a change signal. It never blocks; a signal already
// waiting for the loop stands in for this one.
func (p *Pipeline) OnChange() {
	select {
	case p.signals <- struct{}{}:
	default:
	}
}

// Run owns the debounce timer until ctx is cancelled. Each signal replaces
// the pending render; renders and broadcasts run on this goroutine, so
// updates reach clients in render order.
func (p *Pipeline) Run(ctx context.Context) {
	timer := time.NewTimer(p.quiet)
	stopTimer(timer)
	defer timer.Stop()

	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return

		case <-p.signals:
			stopTimer(timer)
			timer.Reset(p.quiet)
			fire = timer.C

		case <-fire:
			fire = nil
			p.fire(ctx)
		}
	}
}

func (p *Pipeline) fire(ctx context.Context) {
	fragment, err := p.step.render(ctx, metrics.SourceWatch)
	if err != nil {
		p.logger.Error("render failed, keeping previous content", "path", p.step.doc.Path, "error", err)
		return
	}

	delivered := p.dispatcher.Broadcast(p.policy.Payload(fragment))
	p.logger.Info("document updated", "document", p.step.doc.Name(), "clients", delivered)
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
