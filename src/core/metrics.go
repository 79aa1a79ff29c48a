package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Negotiation metrics
	proposalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xnet_proposals_total",
		Help: "Total number of proposals handled",
	}, []string{"direction", "status"})

	acceptancesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xnet_acceptances_total",
		Help: "Total number of acceptances handled",
	}, []string{"direction", "status"})

	exchangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xnet_exchanges_total",
		Help: "Total number of exchanges offered to the ledger",
	}, []string{"source", "status"})

	// Satisfiability metrics
	satisfiabilityDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "xnet_satisfiability_duration_seconds",
		Help:    "Duration of proposal satisfiability checks",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	})

	// Gauge metrics
	liveProposalsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xnet_live_proposals",
		Help: "Current number of pending or sent proposals",
	})

	ledgerSizeGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xnet_ledger_exchanges",
		Help: "Current number of exchanges in the ledger",
	})

	knownUsersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xnet_known_users",
		Help: "Current number of known users",
	})

	eventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xnet_events_dropped_total",
		Help: "Total number of change notifications dropped for slow subscribers",
	})

	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xnet_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xnet_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Traffic directions
const (
	DirectionOutbound = "outbound"
	DirectionInbound  = "inbound"
)

// RecordProposal records a proposal sent or received with its outcome
func RecordProposal(direction string, accepted bool) {
	proposalsTotal.WithLabelValues(direction, outcome(accepted)).Inc()
}

// RecordAcceptance records an acceptance sent or received with its outcome
func RecordAcceptance(direction string, accepted bool) {
	acceptancesTotal.WithLabelValues(direction, outcome(accepted)).Inc()
}

// RecordExchange records an exchange offered to the ledger. Duplicates are not appended.
func RecordExchange(source string, appended bool) {
	status := "appended"
	if !appended {
		status = "duplicate"
	}
	exchangesTotal.WithLabelValues(source, status).Inc()
}

func outcome(accepted bool) string {
	if accepted {
		return "accepted"
	}
	return "rejected"
}
