package observability

import "time"

// MetricsRegistry provides an interface for recording application metrics
// This replaces direct access to global Prometheus metrics with dependency injection
type MetricsRegistry interface {
	// HTTP request metrics
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	// Bid hot-path metrics
	IncrementBids(outcome string)
	RecordBidLatency(duration time.Duration)

	// Websocket / broadcast metrics
	SetWSConnections(campaign string, count int)
	IncrementBroadcasts()

	// Settlement metrics
	IncrementSettlements(result string)
	IncrementOrders()
	IncrementLockContention()

	// Rate limiting metrics
	IncrementRateLimitHits(scope string)

	// Audit sink metrics
	IncrementAuditErrors()
}

// PrometheusRegistry implements MetricsRegistry using the global Prometheus metrics
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementBids(outcome string) {
	BidCount.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRegistry) RecordBidLatency(duration time.Duration) {
	BidLatency.Observe(duration.Seconds())
}

func (r *PrometheusRegistry) SetWSConnections(campaign string, count int) {
	WSConnections.WithLabelValues(campaign).Set(float64(count))
}

func (r *PrometheusRegistry) IncrementBroadcasts() {
	BroadcastCount.Inc()
}

func (r *PrometheusRegistry) IncrementSettlements(result string) {
	SettlementCount.WithLabelValues(result).Inc()
}

func (r *PrometheusRegistry) IncrementOrders() {
	OrderCount.Inc()
}

func (r *PrometheusRegistry) IncrementLockContention() {
	LockContention.Inc()
}

func (r *PrometheusRegistry) IncrementRateLimitHits(scope string) {
	RateLimitHits.WithLabelValues(scope).Inc()
}

func (r *PrometheusRegistry) IncrementAuditErrors() {
	AuditErrors.Inc()
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementBids(outcome string)                                         {}
func (r *NoOpRegistry) RecordBidLatency(duration time.Duration)                              {}
func (r *NoOpRegistry) SetWSConnections(campaign string, count int)                          {}
func (r *NoOpRegistry) IncrementBroadcasts()                                                 {}
func (r *NoOpRegistry) IncrementSettlements(result string)                                   {}
func (r *NoOpRegistry) IncrementOrders()                                                     {}
func (r *NoOpRegistry) IncrementLockContention()                                             {}
func (r *NoOpRegistry) IncrementRateLimitHits(scope string)                                  {}
func (r *NoOpRegistry) IncrementAuditErrors()                                                {}
