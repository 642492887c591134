package metrics

import "github.com/prometheus/client_golang/prometheus"

// LifecycleMetrics counts submission state changes and the failures that
// keep a submission where it is.
type LifecycleMetrics struct {
	transitions      *prometheus.CounterVec
	registryFailures *prometheus.CounterVec
	archived         prometheus.Counter
	pruned           *prometheus.CounterVec
}

// NewLifecycleMetrics registers the lifecycle collectors on reg.
func NewLifecycleMetrics(reg prometheus.Registerer) *LifecycleMetrics {
	if reg == nil {
		return &LifecycleMetrics{}
	}
	m := &LifecycleMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sorn_submission_transitions_total",
			Help: "Submission status transitions applied.",
		}, []string{"from", "to"}),
		registryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sorn_registry_failures_total",
			Help: "Failed Federal Register calls by operation.",
		}, []string{"operation"}),
		archived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sorn_submissions_archived_total",
			Help: "Submissions moved into the archive.",
		}),
		pruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sorn_events_pruned_total",
			Help: "Submission events deleted by retention.",
		}, []string{"rule"}),
	}
	reg.MustRegister(m.transitions, m.registryFailures, m.archived, m.pruned)
	return m
}

func (m *LifecycleMetrics) IncTransition(from, to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

func (m *LifecycleMetrics) IncRegistryFailure(operation string) {
	if m == nil || m.registryFailures == nil {
		return
	}
	m.registryFailures.WithLabelValues(normalizeLabel(operation)).Inc()
}

func (m *LifecycleMetrics) AddArchived(n int) {
	if m == nil || m.archived == nil || n <= 0 {
		return
	}
	m.archived.Add(float64(n))
}

func (m *LifecycleMetrics) AddPruned(rule string, n int64) {
	if m == nil || m.pruned == nil || n <= 0 {
		return
	}
	m.pruned.WithLabelValues(normalizeLabel(rule)).Add(float64(n))
}

// DeliveryMetrics covers the event bus and the notification channels.
type DeliveryMetrics struct {
	handlerFailures *prometheus.CounterVec
	notifications   *prometheus.CounterVec
}

// NewDeliveryMetrics registers the delivery collectors on reg.
func NewDeliveryMetrics(reg prometheus.Registerer) *DeliveryMetrics {
	if reg == nil {
		return &DeliveryMetrics{}
	}
	m := &DeliveryMetrics{
		handlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sorn_event_handler_failures_total",
			Help: "Event subscribers that returned an error or panicked.",
		}, []string{"subscriber"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sorn_notifications_total",
			Help: "Notification deliveries by channel and result.",
		}, []string{"channel", "result"}),
	}
	reg.MustRegister(m.handlerFailures, m.notifications)
	return m
}

func (m *DeliveryMetrics) IncHandlerFailure(subscriber string) {
	if m == nil || m.handlerFailures == nil {
		return
	}
	m.handlerFailures.WithLabelValues(normalizeLabel(subscriber)).Inc()
}

// IncNotification records one delivery attempt; ok=false counts a failure.
func (m *DeliveryMetrics) IncNotification(channel string, ok bool) {
	if m == nil || m.notifications == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.notifications.WithLabelValues(normalizeLabel(channel), result).Inc()
}
