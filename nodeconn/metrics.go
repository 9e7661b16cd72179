package nodeconn

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are shared by all pools of a process. A nil *Metrics records nothing.
type Metrics struct {
	established   *prometheus.GaugeVec
	connectFailed *prometheus.CounterVec
	invalidated   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		established: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "peerrpc",
			Subsystem: "pool",
			Name:      "established_connections",
			Help:      "Number of established connections per node and protocol.",
		}, []string{"node", "protocol"}),
		connectFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peerrpc",
			Subsystem: "pool",
			Name:      "connect_failures_total",
			Help:      "Number of acquire calls that failed to connect on all routes.",
		}, []string{"node"}),
		invalidated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peerrpc",
			Subsystem: "pool",
			Name:      "invalidated_connections_total",
			Help:      "Number of connections removed from the pool.",
		}, []string{"node"}),
	}

	reg.MustRegister(m.established, m.connectFailed, m.invalidated)

	return m
}

func (m *Metrics) connAdded(node string, proto Protocol) {
	if m != nil {
		m.established.WithLabelValues(node, proto.String()).Inc()
	}
}

func (m *Metrics) connRemoved(node string, proto Protocol) {
	if m != nil {
		m.established.WithLabelValues(node, proto.String()).Dec()
		m.invalidated.WithLabelValues(node).Inc()
	}
}

func (m *Metrics) connectFailure(node string) {
	if m != nil {
		m.connectFailed.WithLabelValues(node).Inc()
	}
}
