package ledger

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the ledger's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	transitions *prometheus.CounterVec
	retries     *prometheus.CounterVec
	outbox      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "transitions_total",
			Help:      "Ledger operations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "commit_retries_total",
			Help:      "Commit attempts repeated after a version conflict or transient failure.",
		}, []string{"op"}),
		outbox: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "outbox_dispatch_total",
			Help:      "Outbox delivery attempts by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.transitions, m.retries, m.outbox)
	}
	return m
}

func (m *Metrics) transition(kind, outcome string) {
	if m != nil {
		m.transitions.WithLabelValues(kind, outcome).Inc()
	}
}

func (m *Metrics) retry(op string) {
	if m != nil {
		m.retries.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) outboxResult(result string) {
	if m != nil {
		m.outbox.WithLabelValues(result).Inc()
	}
}
