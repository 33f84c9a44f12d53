package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the conversation engine.
type Metrics struct {
	registry *prometheus.Registry

	turnsTotal         *prometheus.CounterVec
	extractionDuration *prometheus.HistogramVec
	workflowStages     *prometheus.CounterVec
	sessionsCompleted  prometheus.Counter
	wsConnections      prometheus.Gauge
}

// NewMetrics creates a metric set on its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderdesk_turns_total",
			Help: "Conversation turns processed, by outcome.",
		}, []string{"outcome"}),
		extractionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orderdesk_extraction_duration_seconds",
			Help:    "Wall time of one extraction round trip.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"provider"}),
		workflowStages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orderdesk_workflow_stages_total",
			Help: "Completion workflow stage executions, by stage and status.",
		}, []string{"stage", "status"}),
		sessionsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "orderdesk_sessions_completed_total",
			Help: "Sessions that reached the complete status.",
		}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orderdesk_ws_connections",
			Help: "Open chat WebSocket connections.",
		}),
	}

	reg.MustRegister(m.turnsTotal, m.extractionDuration, m.workflowStages,
		m.sessionsCompleted, m.wsConnections)
	return m
}

// RecordTurn records a processed turn. Outcomes: pending, complete, error.
func (m *Metrics) RecordTurn(outcome string) {
	m.turnsTotal.WithLabelValues(outcome).Inc()
}

// RecordExtraction records one extraction round trip against a provider.
func (m *Metrics) RecordExtraction(provider string, d time.Duration) {
	m.extractionDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordWorkflowStage records a completion workflow stage run.
func (m *Metrics) RecordWorkflowStage(stage, status string) {
	m.workflowStages.WithLabelValues(stage, status).Inc()
}

// RecordSessionCompleted increments the completed-session counter.
func (m *Metrics) RecordSessionCompleted() {
	m.sessionsCompleted.Inc()
}

// ConnOpened and ConnClosed track WebSocket connection lifecycle.
func (m *Metrics) ConnOpened() { m.wsConnections.Inc() }
func (m *Metrics) ConnClosed() { m.wsConnections.Dec() }

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
