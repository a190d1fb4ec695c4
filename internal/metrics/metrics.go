// Package metrics is a read-only instrumentation collaborator: it
// exposes Prometheus counters/gauges that core components update via
// Stats() calls, but it never starts an HTTP exporter itself — wiring a
// /metrics endpoint is left to a collaborator binary, keeping the
// observability-backend Non-goal intact while still instrumenting the
// core (spec §9 supplemented features).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry groups every gauge/counter the core updates. Construct one
// per node and pass it down to the components that report through it.
type Registry struct {
	TierHitRatio      *prometheus.GaugeVec
	TierEntryCount    *prometheus.GaugeVec
	ReplicaLagSeconds *prometheus.GaugeVec
	ConsensusRoundLatency prometheus.Histogram
	QueueDepth        *prometheus.GaugeVec
	ConsensusCommits  prometheus.Counter
	ConsensusViewChanges prometheus.Counter
}

// NewRegistry builds and registers every metric against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		TierHitRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "aerolithdb",
			Subsystem: "storage",
			Name:      "tier_hit_ratio",
			Help:      "Hit ratio for a storage tier, updated on each Stats() poll.",
		}, []string{"tier"}),
		TierEntryCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "aerolithdb",
			Subsystem: "storage",
			Name:      "tier_entry_count",
			Help:      "Entry count for a storage tier.",
		}, []string{"tier"}),
		ReplicaLagSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "aerolithdb",
			Subsystem: "replication",
			Name:      "replica_lag_seconds",
			Help:      "Seconds since a replica's last acknowledged write.",
		}, []string{"node_id"}),
		ConsensusRoundLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aerolithdb",
			Subsystem: "consensus",
			Name:      "round_latency_seconds",
			Help:      "Pre-prepare-to-commit latency for a consensus round.",
			Buckets:   prometheus.DefBuckets,
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "aerolithdb",
			Subsystem: "consensus",
			Name:      "vote_queue_depth",
			Help:      "Pending votes queued per shard.",
		}, []string{"shard"}),
		ConsensusCommits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aerolithdb",
			Subsystem: "consensus",
			Name:      "commits_total",
			Help:      "Total batches committed across all shards.",
		}),
		ConsensusViewChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aerolithdb",
			Subsystem: "consensus",
			Name:      "view_changes_total",
			Help:      "Total view changes triggered by timeout or equivocation.",
		}),
	}
	reg.MustRegister(
		r.TierHitRatio, r.TierEntryCount, r.ReplicaLagSeconds,
		r.ConsensusRoundLatency, r.QueueDepth, r.ConsensusCommits, r.ConsensusViewChanges,
	)
	return r
}

// ObserveTierStats updates the tier gauges from a docstore.TierStats-shaped
// report; kept untyped here (name, entryCount, hits, misses) so metrics
// does not import docstore, avoiding a needless dependency edge.
func (r *Registry) ObserveTierStats(tierName string, entryCount, hits, misses int64) {
	r.TierEntryCount.WithLabelValues(tierName).Set(float64(entryCount))
	total := hits + misses
	if total > 0 {
		r.TierHitRatio.WithLabelValues(tierName).Set(float64(hits) / float64(total))
	}
}
