package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	webhookEventsTotal *prometheus.CounterVec
	dispatchErrors     *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ticket",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ticket",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ticket",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	webhookEventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ticket",
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Inbound webhook messages by outcome.",
		},
		[]string{"service", "outcome"},
	)
	dispatchErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ticket",
			Subsystem: "webhook",
			Name:      "dispatch_errors_total",
			Help:      "Events that could not be handed to the processor.",
		},
		[]string{"service"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		webhookEventsTotal,
		dispatchErrors,
	)

	return &HTTPServerMetrics{
		registry:           registry,
		requestTotal:       requestTotal,
		requestDuration:    requestDuration,
		requestInFlight:    requestInFlight,
		webhookEventsTotal: webhookEventsTotal,
		dispatchErrors:     dispatchErrors,
	}
}

// Registry lets other collectors, such as the conversation metrics of the
// inline dispatcher, share the /metrics endpoint.
func (m *HTTPServerMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/records/"):
		return "/v1/records/{record_id}"
	case strings.HasPrefix(path, "/v1/users/") && strings.HasSuffix(path, "/records/export"):
		return "/v1/users/{identifier}/records/export"
	case strings.HasPrefix(path, "/v1/users/") && strings.HasSuffix(path, "/records"):
		return "/v1/users/{identifier}/records"
	case strings.HasPrefix(path, "/v1/users/"):
		return "/v1/users/{identifier}"
	default:
		return path
	}
}

// RecordWebhookMessage counts one inbound message: dispatched, unsupported,
// skipped or rejected.
func (m *HTTPServerMetrics) RecordWebhookMessage(service, outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.webhookEventsTotal.WithLabelValues(service, outcome).Inc()
}

func (m *HTTPServerMetrics) RecordDispatchError(service string) {
	m.dispatchErrors.WithLabelValues(service).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}
