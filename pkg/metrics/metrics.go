package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "quotes"

// ServerMetrics holds the HTTP collectors
type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

// NewServerMetrics registers HTTP collectors on reg
func NewServerMetrics(reg prometheus.Registerer, service string) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"route", "method", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"route"})

	reg.MustRegister(requests, latency)
	return &ServerMetrics{Requests: requests, LatencyMS: latency}
}

// WorkflowMetrics counts orchestration outcomes, compensations and outbound traffic
type WorkflowMetrics struct {
	Runs          *prometheus.CounterVec
	Compensations *prometheus.CounterVec
	HostCalls     *prometheus.CounterVec
	BreakerState  *prometheus.GaugeVec
	Published     *prometheus.CounterVec
}

// NewWorkflowMetrics registers workflow collectors on reg
func NewWorkflowMetrics(reg prometheus.Registerer) *WorkflowMetrics {
	m := &WorkflowMetrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_runs_total",
			Help:      "Workflow runs by name and outcome.",
		}, []string{"workflow", "outcome"}),
		Compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_compensations_total",
			Help:      "Compensating actions executed, by step and outcome.",
		}, []string{"workflow", "step", "outcome"}),
		HostCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commerce_calls_total",
			Help:      "Calls to the commerce platform by operation and outcome.",
		}, []string{"operation", "outcome"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open).",
		}, []string{"breaker"}),
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Outbox events delivered to the broker, by event type and outcome.",
		}, []string{"event_type", "outcome"}),
	}

	reg.MustRegister(m.Runs, m.Compensations, m.HostCalls, m.BreakerState, m.Published)
	return m
}

// Handler exposes the default gatherer
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor exposes a specific gatherer
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// WorkflowRun records a finished workflow
func (m *WorkflowMetrics) WorkflowRun(workflow, outcome string) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(workflow, outcome).Inc()
}

// Compensation records an executed undo
func (m *WorkflowMetrics) Compensation(workflow, step, outcome string) {
	if m == nil {
		return
	}
	m.Compensations.WithLabelValues(workflow, step, outcome).Inc()
}

// HostCall records a call to the commerce platform
func (m *WorkflowMetrics) HostCall(operation, outcome string) {
	if m == nil {
		return
	}
	m.HostCalls.WithLabelValues(operation, outcome).Inc()
}

// SetBreakerState records a breaker transition
func (m *WorkflowMetrics) SetBreakerState(breaker string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(breaker).Set(float64(state))
}

// EventPublished records an outbox delivery attempt
func (m *WorkflowMetrics) EventPublished(eventType, outcome string) {
	if m == nil {
		return
	}
	m.Published.WithLabelValues(eventType, outcome).Inc()
}
