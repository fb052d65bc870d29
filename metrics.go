package accounts

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "accounts"

// Metrics holds the counters published by the gate, the lifecycle manager
// and the session authority. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gateDecisions      *prometheus.CounterVec
	outcomes           *prometheus.CounterVec
	sessionTransitions *prometheus.CounterVec
	notifications      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// Pass nil to skip registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		gateDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "gate_decisions_total",
				Help:      "Authorization gate decisions by action and result.",
			},
			[]string{"action", "decision"},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "operation_outcomes_total",
				Help:      "Lifecycle operation outcomes by operation and kind.",
			},
			[]string{"operation", "outcome"},
		),
		sessionTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "session_transitions_total",
				Help:      "Session identity transitions by kind.",
			},
			[]string{"transition"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "notifications_total",
				Help:      "Capability link deliveries by intent and result.",
			},
			[]string{"intent", "result"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.gateDecisions, m.outcomes, m.sessionTransitions, m.notifications)
	}
	return m
}

func (m *Metrics) observeGate(action Action, allowed bool) {
	if m == nil {
		return
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.gateDecisions.WithLabelValues(string(action), decision).Inc()
}

func (m *Metrics) observeOutcome(operation string, kind OutcomeKind) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(operation, string(kind)).Inc()
}

func (m *Metrics) observeSession(transition string) {
	if m == nil {
		return
	}
	m.sessionTransitions.WithLabelValues(transition).Inc()
}

func (m *Metrics) observeNotification(intent Intent, err error) {
	if m == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	m.notifications.WithLabelValues(string(intent), result).Inc()
}

// GateDecisions exposes the gate decision counter (for tests and dashboards).
func (m *Metrics) GateDecisions() *prometheus.CounterVec {
	return m.gateDecisions
}

// Outcomes exposes the lifecycle outcome counter.
func (m *Metrics) Outcomes() *prometheus.CounterVec {
	return m.outcomes
}

// SessionTransitions exposes the session transition counter.
func (m *Metrics) SessionTransitions() *prometheus.CounterVec {
	return m.sessionTransitions
}
