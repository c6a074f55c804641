// Package metrics exposes Prometheus collectors for the orchestrator service.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

// Metrics holds the HTTP and orchestrator collectors. It satisfies
// orchestrator.Recorder.
type Metrics struct {
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	dispatchesTotal            *prometheus.CounterVec
	stallsTotal                *prometheus.CounterVec
	historyCursor              prometheus.Gauge
}

// New registers the collectors on reg. A nil reg uses the default registry.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		),
		httpRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		),
		dispatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_dispatches_total",
				Help: "Run attempts per mode, labeled by outcome.",
			},
			[]string{"mode", "result"},
		),
		stallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrape_jobs_stalled_total",
				Help: "Jobs the watchdog failed for inactivity.",
			},
			[]string{"mode"},
		),
		historyCursor: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "scrape_history_cursor",
				Help: "Next listing page the history loop will fetch.",
			},
		),
	}
	for _, c := range []prometheus.Collector{
		m.httpRequestsTotal,
		m.httpRequestDurationSeconds,
		m.dispatchesTotal,
		m.stallsTotal,
		m.historyCursor,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

// Handler returns an http.Handler exposing the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest increments the HTTP request metrics.
func (m *Metrics) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveDispatch counts a run attempt.
func (m *Metrics) ObserveDispatch(mode scrape.JobMode, result string) {
	m.dispatchesTotal.WithLabelValues(string(mode), result).Inc()
}

// ObserveStall counts a watchdog failure.
func (m *Metrics) ObserveStall(mode scrape.JobMode) {
	m.stallsTotal.WithLabelValues(string(mode)).Inc()
}

// SetCursor records the current history cursor.
func (m *Metrics) SetCursor(cursor int) {
	m.historyCursor.Set(float64(cursor))
}
