package observability

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thiagu-r/dairy-sub000/internal/reconcile"
)

// Metrics collects the Prometheus metrics of the API process.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	reconcileTotal  *prometheus.CounterVec
	reconcileTime   *prometheus.HistogramVec
	pricesDefaulted *prometheus.CounterVec
}

// NewMetrics builds a private registry with the HTTP and reconciliation collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dairy_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dairy_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	reconciles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dairy_reconcile_total",
		Help: "Reconciliation units by operation and outcome.",
	}, []string{"op", "outcome"})
	reconcileTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dairy_reconcile_duration_seconds",
		Help:    "Duration of reconciliation units including lock wait.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	defaulted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dairy_price_defaulted_total",
		Help: "Item prices that fell back to zero because no price was found.",
	}, []string{"path"})
	registry.MustRegister(requests, duration, reconciles, reconcileTime, defaulted)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		reconcileTotal:  reconciles,
		reconcileTime:   reconcileTime,
		pricesDefaulted: defaulted,
	}
}

var _ reconcile.Recorder = (*Metrics)(nil)

// Handler returns the http.Handler serving /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request counts and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveReconcile records one reconciliation unit.
func (m *Metrics) ObserveReconcile(op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.reconcileTotal.WithLabelValues(op, outcome(err)).Inc()
	m.reconcileTime.WithLabelValues(op).Observe(elapsed.Seconds())
}

// PriceDefaulted counts a price lookup that found nothing.
func (m *Metrics) PriceDefaulted(path string) {
	if m == nil {
		return
	}
	m.pricesDefaulted.WithLabelValues(path).Inc()
}

// Registerer exposes the registry for collectors owned by other packages.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

func outcome(err error) string {
	var syncErr *reconcile.SyncError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &syncErr):
		return "item_failure"
	default:
		return "error"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
