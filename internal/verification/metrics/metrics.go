// Package metrics exposes Prometheus metrics for the verification engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Submissions *prometheus.CounterVec
	Resolutions *prometheus.CounterVec
	Swept       prometheus.Counter
}

// New registers the verification metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		Submissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "h2ledger_submissions_total",
			Help: "Production submissions by outcome of the submit call.",
		}, []string{"outcome"}),
		Resolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "h2ledger_resolutions_total",
			Help: "Submission resolutions by terminal status.",
		}, []string{"status"}),
		Swept: promauto.NewCounter(prometheus.CounterOpts{
			Name: "h2ledger_submissions_swept_total",
			Help: "Pending submissions rejected by the expiry sweep.",
		}),
	}
}
