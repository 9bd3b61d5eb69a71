// Package metrics defines the Prometheus instruments for the escalation engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Escalations       *prometheus.CounterVec
	Assignments       *prometheus.CounterVec
	ClaimAttempts     *prometheus.CounterVec
	Resolutions       *prometheus.CounterVec
	OperationLatency  *prometheus.HistogramVec
	NotifyFailures    *prometheus.CounterVec
	NotifyDropped     prometheus.Counter
	WebSocketClients  prometheus.Gauge
	CapacityCorrected prometheus.Counter
}

// New registers the escalation metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Escalations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escalation_escalations_total",
			Help: "Sessions moved from none to pending, by trigger",
		}, []string{"trigger"}), // trigger: "manual", "auto" or "public"

		Assignments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escalation_assignments_total",
			Help: "Sessions assigned to staff, by mode",
		}, []string{"mode"}), // mode: "auto", "manual", "reassign" or "sweep"

		ClaimAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escalation_claim_attempts_total",
			Help: "Conditional capacity claims, by result",
		}, []string{"result"}), // result: "claimed" or "lost"

		Resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escalation_resolutions_total",
			Help: "Resolve calls, by outcome",
		}, []string{"outcome"}), // outcome: "resolved" or "already_resolved"

		OperationLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "escalation_operation_duration_seconds",
			Help:    "Escalation operation latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"operation"}),

		NotifyFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "escalation_notify_failures_total",
			Help: "Lifecycle events a sink failed to deliver",
		}, []string{"sink"}),

		NotifyDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "escalation_notify_dropped_total",
			Help: "Lifecycle events dropped because the dispatch queue was full",
		}),

		WebSocketClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "escalation_websocket_clients",
			Help: "Connected escalation stream clients",
		}),

		CapacityCorrected: f.NewCounter(prometheus.CounterOpts{
			Name: "escalation_capacity_corrections_total",
			Help: "Staff load counters rewritten by reconciliation",
		}),
	}
}

// RecordEscalation records a none -> pending transition.
func (m *Metrics) RecordEscalation(trigger string) {
	if m == nil {
		return
	}
	m.Escalations.WithLabelValues(trigger).Inc()
}

// RecordAssignment records a session assignment.
func (m *Metrics) RecordAssignment(mode string) {
	if m == nil {
		return
	}
	m.Assignments.WithLabelValues(mode).Inc()
}

// RecordClaim records the result of one conditional claim.
func (m *Metrics) RecordClaim(claimed bool) {
	if m == nil {
		return
	}
	result := "lost"
	if claimed {
		result = "claimed"
	}
	m.ClaimAttempts.WithLabelValues(result).Inc()
}

// RecordResolution records a resolve call.
func (m *Metrics) RecordResolution(alreadyResolved bool) {
	if m == nil {
		return
	}
	outcome := "resolved"
	if alreadyResolved {
		outcome = "already_resolved"
	}
	m.Resolutions.WithLabelValues(outcome).Inc()
}

// ObserveOperation records the latency of a service operation started at start.
func (m *Metrics) ObserveOperation(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.OperationLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// RecordNotifyFailure records a sink delivery failure.
func (m *Metrics) RecordNotifyFailure(sink string) {
	if m == nil {
		return
	}
	m.NotifyFailures.WithLabelValues(sink).Inc()
}

// RecordNotifyDropped records an event dropped on a full queue.
func (m *Metrics) RecordNotifyDropped() {
	if m == nil {
		return
	}
	m.NotifyDropped.Inc()
}

// RecordWebSocketConnect records a new stream client.
func (m *Metrics) RecordWebSocketConnect() {
	if m == nil {
		return
	}
	m.WebSocketClients.Inc()
}

// RecordWebSocketDisconnect records a stream client leaving.
func (m *Metrics) RecordWebSocketDisconnect() {
	if m == nil {
		return
	}
	m.WebSocketClients.Dec()
}

// RecordCapacityCorrections records counters rewritten by reconciliation.
func (m *Metrics) RecordCapacityCorrections(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CapacityCorrected.Add(float64(n))
}
