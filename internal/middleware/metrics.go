package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's prometheus collectors. It also observes the
// annotation stores.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	annotationsCreated prometheus.Counter
	persistFailures    *prometheus.CounterVec
	activeSessions     prometheus.Gauge
}

// NewMetrics registers every collector on reg.
func NewMetrics(reg *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planpin_http_requests_total",
				Help: "Total number of HTTP requests processed.",
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "planpin_http_request_duration_seconds",
				Help:    "HTTP request latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		annotationsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "planpin_annotations_created_total",
			Help: "Annotations placed on documents.",
		}),
		persistFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "planpin_persist_failures_total",
				Help: "Failed loads and saves of project documents.",
			},
			[]string{"op"},
		),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "planpin_viewer_sessions_active",
			Help: "Open websocket viewer sessions.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.requestsTotal, m.requestDuration, m.annotationsCreated, m.persistFailures, m.activeSessions,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Middleware records request counts and latency by route template.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := newRecorder(w)
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}
		m.requestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) AnnotationCreated() { m.annotationsCreated.Inc() }

func (m *Metrics) PersistFailed(op string) { m.persistFailures.WithLabelValues(op).Inc() }

func (m *Metrics) SessionOpened() { m.activeSessions.Inc() }

func (m *Metrics) SessionClosed() { m.activeSessions.Dec() }
