// Package metrics exposes Prometheus counters for workflow outcomes. Global
// collectors only; labels are a small fixed result set so cardinality stays
// bounded.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	purchasesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_purchases_total",
		Help: "Purchase workflow invocations by outcome",
	}, []string{"result"})

	ratingsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_ratings_total",
		Help: "Rating workflow invocations by outcome",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(purchasesTotal, ratingsTotal)
}

func IncPurchase(result string) {
	purchasesTotal.WithLabelValues(result).Inc()
}

func IncRating(result string) {
	ratingsTotal.WithLabelValues(result).Inc()
}
