package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/ticket-assistant/internal/core/domain"
)

// ConversationMetrics implements the conversation observer and the breaker
// state listener on top of one prometheus registry.
type ConversationMetrics struct {
	service  string
	registry *prometheus.Registry

	eventsTotal       *prometheus.CounterVec
	transitionsTotal  *prometheus.CounterVec
	pipelineTotal     *prometheus.CounterVec
	pipelineDuration  *prometheus.HistogramVec
	pipelineInFlight  prometheus.Gauge
	apologiesTotal    *prometheus.CounterVec
	breakerState      *prometheus.GaugeVec
	breakerTransition *prometheus.CounterVec
}

// NewConversationMetrics registers into registry, or into a fresh one when
// registry is nil.
func NewConversationMetrics(service string, registry *prometheus.Registry) *ConversationMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	eventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ticket",
			Subsystem: "conversation",
			Name:      "events_total",
			Help:      "Processed inbound events by kind, starting state and result.",
		},
		[]string{"service", "kind", "state", "status"},
	)
	transitionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ticket",
			Subsystem: "conversation",
			Name:      "transitions_total",
			Help:      "Committed conversation state transitions.",
		},
		[]string{"service", "from", "to"},
	)
	pipelineTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ticket",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Finished extraction runs by record status.",
		},
		[]string{"service", "status"},
	)
	pipelineDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ticket",
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "Extraction run duration in seconds by record status.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"service", "status"},
	)
	pipelineInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ticket",
			Subsystem: "pipeline",
			Name:      "in_flight",
			Help:      "Number of in-flight extraction runs.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	apologiesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ticket",
			Subsystem: "conversation",
			Name:      "apologies_total",
			Help:      "Events answered with the generic apology.",
		},
		[]string{"service"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ticket",
			Subsystem: "resilience",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per operation: 0 closed, 1 half-open, 2 open.",
		},
		[]string{"service", "operation"},
	)
	breakerTransition := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ticket",
			Subsystem: "resilience",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state changes per operation.",
		},
		[]string{"service", "operation", "to"},
	)

	registry.MustRegister(
		eventsTotal,
		transitionsTotal,
		pipelineTotal,
		pipelineDuration,
		pipelineInFlight,
		apologiesTotal,
		breakerState,
		breakerTransition,
	)

	return &ConversationMetrics{
		service:           service,
		registry:          registry,
		eventsTotal:       eventsTotal,
		transitionsTotal:  transitionsTotal,
		pipelineTotal:     pipelineTotal,
		pipelineDuration:  pipelineDuration,
		pipelineInFlight:  pipelineInFlight,
		apologiesTotal:    apologiesTotal,
		breakerState:      breakerState,
		breakerTransition: breakerTransition,
	}
}

func (m *ConversationMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *ConversationMetrics) EventProcessed(kind domain.EventKind, from domain.State, failed bool) {
	status := "success"
	if failed {
		status = "error"
	}
	m.eventsTotal.WithLabelValues(m.service, string(kind), stateLabel(from), status).Inc()
}

func (m *ConversationMetrics) StateChanged(from, to domain.State) {
	m.transitionsTotal.WithLabelValues(m.service, stateLabel(from), stateLabel(to)).Inc()
}

func (m *ConversationMetrics) PipelineStarted() {
	m.pipelineInFlight.Inc()
}

func (m *ConversationMetrics) PipelineFinished(status domain.RecordStatus, duration time.Duration) {
	m.pipelineInFlight.Dec()

	label := string(status)
	if label == "" {
		label = "unknown"
	}
	m.pipelineTotal.WithLabelValues(m.service, label).Inc()
	m.pipelineDuration.WithLabelValues(m.service, label).Observe(duration.Seconds())
}

func (m *ConversationMetrics) Apologized() {
	m.apologiesTotal.WithLabelValues(m.service).Inc()
}

// BreakerStateChanged matches resilience.StateListener.
func (m *ConversationMetrics) BreakerStateChanged(operation string, _, to gobreaker.State) {
	m.breakerState.WithLabelValues(m.service, operation).Set(breakerValue(to))
	m.breakerTransition.WithLabelValues(m.service, operation, to.String()).Inc()
}

func breakerValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func stateLabel(state domain.State) string {
	if state == "" {
		return "none"
	}
	return string(state)
}
