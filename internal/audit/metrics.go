package audit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricEntriesRecorded    = "audit_entries_recorded_total"
	MetricRecordFailures     = "audit_record_failures_total"
	MetricUnattributedWrites = "audit_unattributed_writes_total"
)

// Metrics contains Prometheus metrics for the change ledger.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	entriesRecorded    *prometheus.CounterVec
	recordFailures     prometheus.Counter
	unattributedWrites prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		entriesRecorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricEntriesRecorded,
				Help: "Total number of ledger entries recorded, by action",
			},
			[]string{"action"},
		),
		recordFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRecordFailures,
			Help: "Total number of ledger writes that failed in storage and were dropped",
		}),
		unattributedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricUnattributedWrites,
			Help: "Total number of record attempts without an authenticated actor",
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
	return []prometheus.Collector{m.entriesRecorded, m.recordFailures, m.unattributedWrites}
}

func (m *Metrics) incRecorded(action Action) {
	if m != nil {
		m.entriesRecorded.WithLabelValues(string(action)).Inc()
	}
}

func (m *Metrics) incFailure() {
	if m != nil {
		m.recordFailures.Inc()
	}
}

func (m *Metrics) incUnattributed() {
	if m != nil {
		m.unattributedWrites.Inc()
	}
}
