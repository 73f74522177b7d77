// Package metrics exposes Prometheus metrics for the reconciliation layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Applied    *prometheus.CounterVec
	Duplicates prometheus.Counter
	Conflicts  prometheus.Counter
	ResyncRuns prometheus.Counter
	Drift      prometheus.Counter
}

// New registers the reconciler metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		Applied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "h2ledger_chain_events_applied_total",
			Help: "Chain events applied to the mirror, by kind.",
		}, []string{"kind"}),
		Duplicates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "h2ledger_chain_events_duplicate_total",
			Help: "Redelivered chain events recognized as already applied.",
		}),
		Conflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "h2ledger_chain_events_conflict_total",
			Help: "Chain events whose payload diverged from the mirror on immutable fields.",
		}),
		ResyncRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "h2ledger_resync_runs_total",
			Help: "Full snapshot reconciliation passes completed.",
		}),
		Drift: promauto.NewCounter(prometheus.CounterOpts{
			Name: "h2ledger_resync_drift_corrected_total",
			Help: "Mirror records corrected by a resync pass.",
		}),
	}
}
