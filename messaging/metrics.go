package messaging

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts exchanges and retries. A nil *Metrics records nothing.
type Metrics struct {
	exchanges *prometheus.CounterVec
	retries   *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peerrpc",
			Subsystem: "messaging",
			Name:      "exchanges_total",
			Help:      "Number of request/response exchanges by outcome.",
		}, []string{"outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peerrpc",
			Subsystem: "messaging",
			Name:      "retries_total",
			Help:      "Number of times a call was restarted, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(m.exchanges, m.retries)

	return m
}

func (m *Metrics) exchange(err error) {
	if m != nil {
		m.exchanges.WithLabelValues(KindOf(err).String()).Inc()
	}
}

func (m *Metrics) retry(reason string) {
	if m != nil {
		m.retries.WithLabelValues(reason).Inc()
	}
}
