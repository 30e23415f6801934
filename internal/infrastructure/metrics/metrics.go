package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "fleetsync"

// Sync outcome label values.
const (
	OutcomeCreated      = "created"
	OutcomeUpdated      = "updated"
	OutcomeConflicted   = "conflicted"
	OutcomeErrored      = "errored"
	OutcomeUnresolvable = "unresolvable"
	OutcomeSkipped      = "skipped"
	OutcomeStaled       = "staled"
)

// SyncResult is one manufacturer's outcome within a fleet sync.
type SyncResult struct {
	Manufacturer string
	Created      int
	Updated      int
	Conflicted   int
	Errored      int
	Unresolvable int
	Skipped      int
	Staled       int
	Healthy      bool
	Aborted      bool
	Duration     time.Duration
}

// JobSnapshot is a discovery job progress snapshot.
type JobSnapshot struct {
	Manufacturer string
	Status       string
	Terminal     bool
	Total        int
	Processed    int
	Scanned      int
	Submitted    int
}

// Metrics holds the collectors.
type Metrics struct {
	registry *prometheus.Registry

	syncDevices  *prometheus.CounterVec
	syncAborted  *prometheus.CounterVec
	syncDuration *prometheus.HistogramVec
	vendorUp     *prometheus.GaugeVec
	jobItems     *prometheus.GaugeVec
	jobsFinished *prometheus.CounterVec
}

// New creates the collectors and registers them, plus the Go runtime and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		syncDevices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "devices_total",
			Help:      "Device reports processed by fleet sync, by outcome.",
		}, []string{"manufacturer", "outcome"}),
		syncAborted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "aborted_total",
			Help:      "Manufacturer sync passes stopped by a manufacturer-level failure.",
		}, []string{"manufacturer"}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Duration of one manufacturer's sync pass.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"manufacturer"}),
		vendorUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "vendor",
			Name:      "up",
			Help:      "Whether the vendor API passed its last health check (1) or not (0).",
		}, []string{"manufacturer"}),
		jobItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "job_items",
			Help:      "Item counters of the latest discovery job, by kind.",
		}, []string{"manufacturer", "kind"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "jobs_total",
			Help:      "Finished discovery jobs, by final status.",
		}, []string{"manufacturer", "status"}),
	}

	m.registry.MustRegister(
		m.syncDevices,
		m.syncAborted,
		m.syncDuration,
		m.vendorUp,
		m.jobItems,
		m.jobsFinished,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveSync records one manufacturer's sync outcome.
func (m *Metrics) ObserveSync(r SyncResult) {
	for outcome, n := range map[string]int{
		OutcomeCreated:      r.Created,
		OutcomeUpdated:      r.Updated,
		OutcomeConflicted:   r.Conflicted,
		OutcomeErrored:      r.Errored,
		OutcomeUnresolvable: r.Unresolvable,
		OutcomeSkipped:      r.Skipped,
		OutcomeStaled:       r.Staled,
	} {
		m.syncDevices.WithLabelValues(r.Manufacturer, outcome).Add(float64(n))
	}
	if r.Aborted {
		m.syncAborted.WithLabelValues(r.Manufacturer).Inc()
	}
	m.syncDuration.WithLabelValues(r.Manufacturer).Observe(r.Duration.Seconds())

	up := 0.0
	if r.Healthy {
		up = 1
	}
	m.vendorUp.WithLabelValues(r.Manufacturer).Set(up)
}

// ObserveJob records a discovery job snapshot. Terminal snapshots also
// count the job once by status.
func (m *Metrics) ObserveJob(j JobSnapshot) {
	m.jobItems.WithLabelValues(j.Manufacturer, "total").Set(float64(j.Total))
	m.jobItems.WithLabelValues(j.Manufacturer, "processed").Set(float64(j.Processed))
	m.jobItems.WithLabelValues(j.Manufacturer, "scanned").Set(float64(j.Scanned))
	m.jobItems.WithLabelValues(j.Manufacturer, "submitted").Set(float64(j.Submitted))
	if j.Terminal {
		m.jobsFinished.WithLabelValues(j.Manufacturer, j.Status).Inc()
	}
}
