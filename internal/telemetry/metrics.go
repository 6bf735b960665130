package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds mavibot's Prometheus collectors, grounded on
// NayanaChandrika99-DocReasoner/tree_db's internal/metrics package but
// scoped to this engine's own operations instead of gRPC/document
// counters. Unlike the teacher (which uses promauto against the global
// DefaultRegisterer), Metrics carries its own prometheus.Registry so
// opening more than one *mavibot.DB in a process — every test in this
// module does exactly that — never panics on a duplicate registration.
type Metrics struct {
	Registry *prometheus.Registry

	CommitsTotal   *prometheus.CounterVec // label "status": ok|aborted
	CommitDuration prometheus.Histogram
	PagesAllocated prometheus.Counter
	PagesFreed     prometheus.Counter
	ReclaimRuns    prometheus.Counter
	ReclaimedPages prometheus.Counter
	LiveRevisions  prometheus.Gauge
	FreeListDepth  prometheus.Gauge
}

// NewMetrics builds and registers a fresh metrics set.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{Registry: reg}

	m.CommitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mavibot_commits_total",
		Help: "Total number of write transactions resolved, by status.",
	}, []string{"status"})

	m.CommitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mavibot_commit_duration_seconds",
		Help:    "Duration of write transaction commits.",
		Buckets: prometheus.DefBuckets,
	})

	m.PagesAllocated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mavibot_pages_allocated_total",
		Help: "Total number of pages allocated from the free list or file extension.",
	})

	m.PagesFreed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mavibot_pages_freed_total",
		Help: "Total number of pages returned to the free list.",
	})

	m.ReclaimRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mavibot_reclaim_runs_total",
		Help: "Total number of reclaimer passes run inside commit/close_cursor.",
	})

	m.ReclaimedPages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mavibot_reclaimed_pages_total",
		Help: "Total number of superseded pages released by the reclaimer.",
	})

	m.LiveRevisions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mavibot_live_revisions",
		Help: "Number of revisions with at least one pinned reader.",
	})

	m.FreeListDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mavibot_free_list_depth",
		Help: "Approximate number of pages currently on the free list.",
	})

	reg.MustRegister(
		m.CommitsTotal, m.CommitDuration, m.PagesAllocated, m.PagesFreed,
		m.ReclaimRuns, m.ReclaimedPages, m.LiveRevisions, m.FreeListDepth,
	)
	return m
}

// ObserveCommit is a small helper so callers don't have to remember the
// label/duration dance at every call site.
func (m *Metrics) ObserveCommit(status string, start time.Time) {
	if m == nil {
		return
	}
	m.CommitsTotal.WithLabelValues(status).Inc()
	m.CommitDuration.Observe(time.Since(start).Seconds())
}
