package messaging

import (
	"time"
)

// MetricsCollector collects request/reply metrics
type MetricsCollector interface {
	// RecordRequest records the outcome and duration of one Call
	RecordRequest(outcome string, duration time.Duration)

	// RecordLateResponse records a reply that matched no pending request
	RecordLateResponse()
}

// NoOpMetricsCollector is a no-op implementation of MetricsCollector
type NoOpMetricsCollector struct{}

// RecordRequest does nothing
func (n *NoOpMetricsCollector) RecordRequest(outcome string, duration time.Duration) {}

// RecordLateResponse does nothing
func (n *NoOpMetricsCollector) RecordLateResponse() {}
