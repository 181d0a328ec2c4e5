package models

import (
	"sync/atomic"
	"time"
)

// Metrics is a per-component observability sink counting operations,
// errors, and cumulative operation time. Each component owns its own
// instance (injected at construction) rather than sharing a package
// global, so tests and multi-instance setups don't interfere.
type Metrics struct {
	component string
	ops       atomic.Int64
	errs      atomic.Int64
	durNanos  atomic.Int64
}

// NewMetrics creates a sink labeled with the owning component's name.
func NewMetrics(component string) *Metrics {
	return &Metrics{component: component}
}

// Record counts one operation that started at the given time.
// A non-nil err also increments the error counter.
func (m *Metrics) Record(start time.Time, err error) {
	if m == nil {
		return
	}
	m.ops.Add(1)
	m.durNanos.Add(int64(time.Since(start)))
	if err != nil {
		m.errs.Add(1)
	}
}

// MetricsSnapshot is a point-in-time copy of a sink's counters.
type MetricsSnapshot struct {
	Component     string        `json:"component"`
	Operations    int64         `json:"operations"`
	Errors        int64         `json:"errors"`
	TotalDuration time.Duration `json:"total_duration"`
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		Component:     m.component,
		Operations:    m.ops.Load(),
		Errors:        m.errs.Load(),
		TotalDuration: time.Duration(m.durNanos.Load()),
	}
}

// Reset zeroes all counters.
func (m *Metrics) Reset() {
	if m == nil {
		return
	}
	m.ops.Store(0)
	m.errs.Store(0)
	m.durNanos.Store(0)
}
