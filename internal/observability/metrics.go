package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	invoices        *prometheus.CounterVec
	conflicts       *prometheus.CounterVec
	kotTransitions  *prometheus.CounterVec
	publishFailures *prometheus.CounterVec
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pos_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	invoices := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_invoices_total",
		Help: "Jumlah pembuatan invoice berdasarkan hasil.",
	}, []string{"result"})
	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_stale_conflicts_total",
		Help: "Jumlah konflik versi dokumen yang ditolak.",
	}, []string{"entity"})
	kot := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_kot_transitions_total",
		Help: "Jumlah perpindahan status item KOT.",
	}, []string{"state", "result"})
	publish := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_realtime_publish_failures_total",
		Help: "Jumlah kegagalan publikasi event realtime.",
	}, []string{"event"})
	registry.MustRegister(requests, duration, invoices, conflicts, kot, publish)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		invoices:        invoices,
		conflicts:       conflicts,
		kotTransitions:  kot,
		publishFailures: publish,
	}
}

// InvoiceResult mencatat hasil pembuatan invoice (generated, existing, failed).
func (m *Metrics) InvoiceResult(result string) {
	if m == nil {
		return
	}
	m.invoices.WithLabelValues(result).Inc()
}

// StaleConflict mencatat penolakan tulis karena versi basi.
func (m *Metrics) StaleConflict(entity string) {
	if m == nil {
		return
	}
	m.conflicts.WithLabelValues(entity).Inc()
}

// KOTTransition mencatat percobaan perpindahan status item dapur.
func (m *Metrics) KOTTransition(state string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "rejected"
	}
	m.kotTransitions.WithLabelValues(state, result).Inc()
}

// PublishFailed mencatat event realtime yang gagal dikirim.
func (m *Metrics) PublishFailed(event string) {
	if m == nil {
		return
	}
	m.publishFailures.WithLabelValues(event).Inc()
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
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

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
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
