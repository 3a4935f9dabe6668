package scheduler

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines the interface for collecting write scheduler metrics
type MetricsCollector interface {
	RecordWrite(key string, success bool, duration time.Duration)
	RecordDebounceReset(key string)
	RecordCoalesced(key string)
	RecordCanceled(key string)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (n *NoOpMetricsCollector) RecordWrite(key string, success bool, duration time.Duration) {}
func (n *NoOpMetricsCollector) RecordDebounceReset(key string)                              {}
func (n *NoOpMetricsCollector) RecordCoalesced(key string)                                  {}
func (n *NoOpMetricsCollector) RecordCanceled(key string)                                   {}

// Stats is a point-in-time copy of CounterMetrics.
type Stats struct {
	Writes         int64         `json:"writes"`
	WriteFailures  int64         `json:"write_failures"`
	DebounceResets int64         `json:"debounce_resets"`
	Coalesced      int64         `json:"coalesced"`
	Canceled       int64         `json:"canceled"`
	WriteTime      time.Duration `json:"write_time"`
}

// CounterMetrics keeps process-local counters. It is safe for concurrent use.
type CounterMetrics struct {
	writes         atomic.Int64
	failures       atomic.Int64
	debounceResets atomic.Int64
	coalesced      atomic.Int64
	canceled       atomic.Int64
	writeNanos     atomic.Int64
}

func NewCounterMetrics() *CounterMetrics {
	return &CounterMetrics{}
}

func (m *CounterMetrics) RecordWrite(key string, success bool, duration time.Duration) {
	m.writes.Add(1)
	if !success {
		m.failures.Add(1)
	}
	m.writeNanos.Add(int64(duration))
}

func (m *CounterMetrics) RecordDebounceReset(key string) {
	m.debounceResets.Add(1)
}

func (m *CounterMetrics) RecordCoalesced(key string) {
	m.coalesced.Add(1)
}

func (m *CounterMetrics) RecordCanceled(key string) {
	m.canceled.Add(1)
}

// Snapshot returns the current counter values.
func (m *CounterMetrics) Snapshot() Stats {
	return Stats{
		Writes:         m.writes.Load(),
		WriteFailures:  m.failures.Load(),
		DebounceResets: m.debounceResets.Load(),
		Coalesced:      m.coalesced.Load(),
		Canceled:       m.canceled.Load(),
		WriteTime:      time.Duration(m.writeNanos.Load()),
	}
}
