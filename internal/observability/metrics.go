package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	jobmetrics "github.com/odyssey-erp/odyssey-p2p/internal/jobs"
)

// Metrics collects Prometheus metrics for the HTTP surface, the reconciliation engine and jobs.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	classifications *prometheus.CounterVec
	payments        *prometheus.CounterVec
	paidAmount      prometheus.Counter
	jobs            *jobmetrics.Metrics
}

// NewMetrics initialises a private registry with every collector registered.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "p2p_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "p2p_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	classifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "p2p_invoice_classifications_total",
		Help: "Invoice validations by resulting action.",
	}, []string{"action"})
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "p2p_payment_transactions_total",
		Help: "Recorded payment transactions by resulting approval status.",
	}, []string{"status"})
	paid := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "p2p_payment_amount_total",
		Help: "Sum of recorded payment amounts.",
	})
	registry.MustRegister(requests, duration, classifications, payments, paid)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		classifications: classifications,
		payments:        payments,
		paidAmount:      paid,
		jobs:            jobmetrics.NewMetrics(registry),
	}
}

// Handler returns the /metrics handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency per route pattern.
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

// ObserveClassification counts one invoice validation outcome.
func (m *Metrics) ObserveClassification(action string) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(action).Inc()
}

// ObservePayment counts one recorded payment and its amount.
func (m *Metrics) ObservePayment(status string, amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(status).Inc()
	m.paidAmount.Add(amount.InexactFloat64())
}

// Jobs returns the job collectors bound to this registry.
func (m *Metrics) Jobs() *jobmetrics.Metrics {
	if m == nil {
		return nil
	}
	return m.jobs
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
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
