package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/snapsolpay/ledger-engine/ledger"
)

// =============================================================================
// METRICS - Prometheus collectors on a private registry
// =============================================================================

// Metrics implements ledger.Observer and instruments the router. Each
// instance owns its registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	commands    *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	httpTotal   *prometheus.CounterVec
	httpLatency *prometheus.HistogramVec
	flushes     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_commands_applied_total",
			Help: "Ledger commands that changed state",
		}, []string{"kind", "command"}),
		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_commands_rejected_total",
			Help: "Ledger commands rejected by validation",
		}, []string{"kind", "command", "reason"}),
		httpTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_http_requests_total",
			Help: "Total HTTP requests",
		}, []string{"method", "route", "status"}),
		httpLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_http_request_duration_seconds",
			Help:    "Request latency",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"method", "route"}),
		flushes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_flush_retries_total",
			Help: "Scheduled retries of failed ledger saves",
		}, []string{"kind", "result"}),
	}
}

func (m *Metrics) CommandApplied(kind, command string) {
	m.commands.WithLabelValues(kind, command).Inc()
}

func (m *Metrics) CommandRejected(kind, command string, reason ledger.Reason) {
	m.rejections.WithLabelValues(kind, command, string(reason)).Inc()
}

func (m *Metrics) flushRetried(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.flushes.WithLabelValues(kind, result).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request count and latency by route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpLatency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
