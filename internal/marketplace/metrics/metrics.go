// Package metrics exposes Prometheus metrics for the marketplace engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Listings    *prometheus.CounterVec
	Settlements prometheus.Counter
	FeesTotal   prometheus.Counter
	Oversell    prometheus.Counter
}

// New registers the marketplace metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		Listings: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "h2ledger_listings_total",
			Help: "Listing lifecycle transitions.",
		}, []string{"transition"}),
		Settlements: promauto.NewCounter(prometheus.CounterOpts{
			Name: "h2ledger_settlements_total",
			Help: "Purchase settlements recorded.",
		}),
		FeesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "h2ledger_fees_collected_total",
			Help: "Cumulative platform fees in price units.",
		}),
		Oversell: promauto.NewCounter(prometheus.CounterOpts{
			Name: "h2ledger_oversell_rejections_total",
			Help: "Purchases rejected because the requested amount exceeded the remaining listing amount.",
		}),
	}
}
