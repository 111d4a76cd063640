// metrics.go - Metrics collection for the registry daemon
package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the daemon.
type Metrics struct {
	registry *prometheus.Registry

	TransitionsTotal *prometheus.CounterVec
	VerifyDuration   *prometheus.HistogramVec
	TreeLeaves       *prometheus.GaugeVec
	RelayedTokens    prometheus.Counter
	RateLimited      prometheus.Counter
}

// NewMetrics creates and registers the daemon's metric collectors on a
// dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		TransitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anonledger",
			Name:      "transitions_total",
			Help:      "Number of transitions applied, by ledger, operation and outcome.",
		}, []string{"ledger", "op", "outcome"}),
		VerifyDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "anonledger",
			Name:      "proof_verify_duration_seconds",
			Help:      "Time spent verifying transition proofs.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"ledger"}),
		TreeLeaves: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "anonledger",
			Name:      "tree_leaves",
			Help:      "Number of leaves appended to each commitment tree.",
		}, []string{"tree"}),
		RelayedTokens: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "anonledger",
			Name:      "relayed_tokens_total",
			Help:      "Number of review tokens relayed across the bridge.",
		}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "anonledger",
			Name:      "rate_limited_requests_total",
			Help:      "Number of requests rejected by the rate limiter.",
		}),
	}
}

// ObserveTransition records the outcome of an applied transition.
func (m *Metrics) ObserveTransition(ledgerName, op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "rejected"
	}
	m.TransitionsTotal.WithLabelValues(ledgerName, op, outcome).Inc()
}
