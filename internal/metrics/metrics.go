// Package metrics holds the Prometheus collectors for the preview server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mdpreview"

// Render sources.
const (
	SourceWatch = "watch"
	SourcePage  = "page"
)

// Broadcast payload kinds.
const (
	KindReload   = "reload"
	KindFragment = "fragment"
)

// Metrics groups every collector the server updates.
type Metrics struct {
	renders        *prometheus.CounterVec
	renderDuration prometheus.Histogram
	broadcasts     *prometheus.CounterVec
	sendFailures   prometheus.Counter
	connections    prometheus.Gauge
	watchErrors    prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		renders: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renders_total",
			Help:      "Document renders by trigger source and result",
		}, []string{"source", "result"}),

		renderDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Time spent reading and rendering the document",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}),

		broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Payloads fanned out to connected browsers by payload kind",
		}, []string{"kind"}),

		sendFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Per-connection send failures during broadcast",
		}),

		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Currently open live-update connections",
		}),

		watchErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watch_errors_total",
			Help:      "Errors reported by the filesystem watch",
		}),
	}
}

// NewNop returns metrics registered on a private registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler serves the text exposition format for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRender(source string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.renders.WithLabelValues(source, result).Inc()
	m.renderDuration.Observe(d.Seconds())
}

func (m *Metrics) Broadcast(kind string) { m.broadcasts.WithLabelValues(kind).Inc() }

func (m *Metrics) SendFailure() { m.sendFailures.Inc() }

func (m *Metrics) SetConnections(n int) { m.connections.Set(float64(n)) }

func (m *Metrics) WatchError() { m.watchErrors.Inc() }
