// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransactionsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "distwiki_transactions_submitted_total",
		Help: "Transactions broadcast and recorded in the ledger, by kind",
	}, []string{"kind"})

	TransactionsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "distwiki_transactions_resolved_total",
		Help: "Ledger records moved to a terminal status, by status",
	}, []string{"status"})

	PendingTransactions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "distwiki_pending_transactions",
		Help: "Ledger records still pending after the last reconciliation pass",
	})

	ContentFetchSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "distwiki_content_fetch_seconds",
		Help:    "Latency of content retrievals from the storage network",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
	}, []string{"outcome"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "distwiki_http_requests_total",
		Help: "HTTP requests processed, by method, route and status code",
	}, []string{"method", "route", "status"})
)
