package approval

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricRequestsOpened      = "approval_requests_opened_total"
	MetricRequestsResolved    = "approval_requests_resolved_total"
	MetricResolutionConflicts = "approval_resolution_conflicts_total"
)

// Metrics contains Prometheus metrics for the approval queue.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	requestsOpened      *prometheus.CounterVec
	requestsResolved    *prometheus.CounterVec
	resolutionConflicts prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		requestsOpened: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRequestsOpened,
				Help: "Total number of approval requests opened, by approver type",
			},
			[]string{"approver_type"},
		),
		requestsResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRequestsResolved,
				Help: "Total number of approval requests resolved, by decision",
			},
			[]string{"decision"},
		),
		resolutionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricResolutionConflicts,
			Help: "Total number of resolutions rejected because the request was no longer pending",
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all collectors for custom registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.requestsOpened, m.requestsResolved, m.resolutionConflicts}
}

func (m *Metrics) incOpened(t ApproverType) {
	if m != nil {
		m.requestsOpened.WithLabelValues(string(t)).Inc()
	}
}

func (m *Metrics) incResolved(d Decision) {
	if m != nil {
		m.requestsResolved.WithLabelValues(string(d)).Inc()
	}
}

func (m *Metrics) incConflict() {
	if m != nil {
		m.resolutionConflicts.Inc()
	}
}
