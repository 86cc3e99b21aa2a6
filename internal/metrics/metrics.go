// Package metrics exposes Prometheus collectors for the triage pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the triage subsystem accounts for.
type Metrics struct {
	CacheHits           prometheus.Counter
	CacheMisses         prometheus.Counter
	CacheEvictions      prometheus.Counter
	AssignmentsTotal    *prometheus.CounterVec
	AssignmentConflicts prometheus.Counter
	SLABreaches         *prometheus.CounterVec
	SweepDuration       prometheus.Histogram
	EscalationsCreated  *prometheus.CounterVec
	MessagesProcessed   *prometheus.CounterVec
	OpenConversations   prometheus.Gauge
}

// New registers and returns the collector set.
func New() *Metrics {
	return &Metrics{
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "triage_cache_hits_total",
			Help: "Total number of response cache hits",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "triage_cache_misses_total",
			Help: "Total number of response cache misses",
		}),
		CacheEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "triage_cache_evictions_total",
			Help: "Total number of cache entries dropped by the size-bound cleanup",
		}),
		AssignmentsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_assignments_total",
			Help: "Total number of conversation assignments by outcome",
		}, []string{"outcome"}),
		AssignmentConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "triage_assignment_conflicts_total",
			Help: "Total number of optimistic workload-counter conflicts retried",
		}),
		SLABreaches: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_sla_breaches_total",
			Help: "Total number of SLA breaches detected by type",
		}, []string{"type"}),
		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "triage_sla_sweep_duration_seconds",
			Help:    "Time taken to sweep all open conversations for SLA breaches",
			Buckets: prometheus.DefBuckets,
		}),
		EscalationsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_escalations_created_total",
			Help: "Total number of escalations created by priority",
		}, []string{"priority"}),
		MessagesProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_messages_processed_total",
			Help: "Total number of inbound messages processed by status",
		}, []string{"status"}),
		OpenConversations: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "triage_open_conversations",
			Help: "Current number of open conversations",
		}),
	}
}
