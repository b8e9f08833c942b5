package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flashbid_requests_total",
			Help: "Total API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flashbid_request_duration_seconds",
			Help:    "Histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// bid submissions, labelled by outcome (accepted, rejected error code)
	BidCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flashbid_bids_total",
			Help: "Total bid submissions",
		},
		[]string{"outcome"},
	)

	// end-to-end latency of the bid hot path
	BidLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "flashbid_bid_duration_seconds",
			Help: "Duration of bid submissions",
			Buckets: []float64{
				0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.25, 0.5, 1,
			},
		},
	)

	// open websocket connections per campaign
	WSConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flashbid_ws_connections",
			Help: "Open websocket connections",
		},
		[]string{"campaign"},
	)

	// ranking snapshots broadcast
	BroadcastCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flashbid_broadcasts_total",
			Help: "Total ranking snapshots broadcast",
		},
	)

	// settlement runs, labelled by result
	SettlementCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flashbid_settlements_total",
			Help: "Total settlement runs",
		},
		[]string{"result"},
	)

	// confirmed orders created by settlement
	OrderCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flashbid_orders_total",
			Help: "Total confirmed orders created",
		},
	)

	// product lock acquisitions that lost the race
	LockContention = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flashbid_lock_contention_total",
			Help: "Total failed product lock acquisitions",
		},
	)

	// rate limit rejections per scope (ip, user)
	RateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flashbid_ratelimit_hits_total",
			Help: "Total rate-limited requests",
		},
		[]string{"scope"},
	)

	// bid-event audit rows that failed to persist
	AuditErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flashbid_audit_errors_total",
			Help: "Total bid audit events dropped",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		BidCount,
		BidLatency,
		WSConnections,
		BroadcastCount,
		SettlementCount,
		OrderCount,
		LockContention,
		RateLimitHits,
		AuditErrors,
	)
}
