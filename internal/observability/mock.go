package observability

import "time"

// MockMetricsRegistry is a mock implementation of MetricsRegistry for testing
type MockMetricsRegistry struct{}

func (m *MockMetricsRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (m *MockMetricsRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (m *MockMetricsRegistry) IncrementBids(outcome string)                                         {}
func (m *MockMetricsRegistry) RecordBidLatency(duration time.Duration)                              {}
func (m *MockMetricsRegistry) SetWSConnections(campaign string, count int)                          {}
func (m *MockMetricsRegistry) IncrementBroadcasts()                                                 {}
func (m *MockMetricsRegistry) IncrementSettlements(result string)                                   {}
func (m *MockMetricsRegistry) IncrementOrders()                                                     {}
func (m *MockMetricsRegistry) IncrementLockContention()                                             {}
func (m *MockMetricsRegistry) IncrementRateLimitHits(scope string)                                  {}
func (m *MockMetricsRegistry) IncrementAuditErrors()                                                {}
