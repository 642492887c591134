package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics covers the Pub/Sub relay: per-row outcomes and the size of
// the dead-letter table.
type OutboxMetrics struct {
	relayed *prometheus.CounterVec
	dlqRows *prometheus.GaugeVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sorn_outbox_events_total",
			Help: "Outbox rows relayed to Pub/Sub by result (published, retry, dead_letter).",
		}, []string{"event_type", "result"}),
		dlqRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sorn_outbox_dlq_rows",
			Help: "Rows parked in outbox_dlq by error reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.relayed, m.dlqRows)
	return m
}

func (m *OutboxMetrics) Inc(eventType, result string) {
	if m == nil || m.relayed == nil {
		return
	}
	m.relayed.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}

// SetDLQBacklog replaces the gauge with counts. Reasons missing from counts
// drop out of the exposition.
func (m *OutboxMetrics) SetDLQBacklog(counts map[string]int64) {
	if m == nil || m.dlqRows == nil {
		return
	}
	m.dlqRows.Reset()
	for reason, n := range counts {
		m.dlqRows.WithLabelValues(normalizeLabel(reason)).Set(float64(n))
	}
}
