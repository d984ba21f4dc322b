package db

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Metrics tracks operation counts and latencies with relaxed atomics so the
// hot path never blocks. Max latency uses a CAS loop.
type Metrics struct {
	insertCount       atomic.Uint64
	queryCount        atomic.Uint64
	insertLatencyUS   atomic.Uint64
	queryLatencyUS    atomic.Uint64
	maxInsertLatencyUS atomic.Uint64
	maxQueryLatencyUS  atomic.Uint64
}

// NewMetrics returns zeroed metrics.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordInsertLatency folds one insert sample in.
func (m *Metrics) RecordInsertLatency(latency time.Duration) {
	us := uint64(latency.Microseconds())
	m.insertCount.Add(1)
	m.insertLatencyUS.Add(us)
	storeMax(&m.maxInsertLatencyUS, us)
}

// RecordQueryLatency folds one query sample in.
func (m *Metrics) RecordQueryLatency(latency time.Duration) {
	us := uint64(latency.Microseconds())
	m.queryCount.Add(1)
	m.queryLatencyUS.Add(us)
	storeMax(&m.maxQueryLatencyUS, us)
}

func storeMax(slot *atomic.Uint64, value uint64) {
	for {
		current := slot.Load()
		if value <= current || slot.CompareAndSwap(current, value) {
			return
		}
	}
}

// Timer is a scoped latency probe: Stop records the elapsed time.
type Timer struct {
	start  time.Time
	record func(time.Duration)
}

// Stop records the sample. Safe to call once.
func (t Timer) Stop() {
	t.record(time.Since(t.start))
}

// StartInsert opens an insert timer.
func (m *Metrics) StartInsert() Timer {
	return Timer{start: time.Now(), record: m.RecordInsertLatency}
}

// StartQuery opens a query timer.
func (m *Metrics) StartQuery() Timer {
	return Timer{start: time.Now(), record: m.RecordQueryLatency}
}

// Snapshot computes the point-in-time statistics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	insertCount := m.insertCount.Load()
	queryCount := m.queryCount.Load()

	var avgInsert, avgQuery uint64
	if insertCount > 0 {
		avgInsert = m.insertLatencyUS.Load() / insertCount
	}
	if queryCount > 0 {
		avgQuery = m.queryLatencyUS.Load() / queryCount
	}

	return MetricsSnapshot{
		InsertCount:        insertCount,
		QueryCount:         queryCount,
		AvgInsertLatencyUS: avgInsert,
		AvgQueryLatencyUS:  avgQuery,
		MaxInsertLatencyUS: m.maxInsertLatencyUS.Load(),
		MaxQueryLatencyUS:  m.maxQueryLatencyUS.Load(),
	}
}

// Reset zeroes everything for a fresh measurement period.
func (m *Metrics) Reset() {
	m.insertCount.Store(0)
	m.queryCount.Store(0)
	m.insertLatencyUS.Store(0)
	m.queryLatencyUS.Store(0)
	m.maxInsertLatencyUS.Store(0)
	m.maxQueryLatencyUS.Store(0)
}

// MetricsSnapshot is a point-in-time view.
type MetricsSnapshot struct {
	InsertCount        uint64
	QueryCount         uint64
	AvgInsertLatencyUS uint64
	AvgQueryLatencyUS  uint64
	MaxInsertLatencyUS uint64
	MaxQueryLatencyUS  uint64
}

// Summary formats the snapshot for logs.
func (s MetricsSnapshot) Summary() string {
	return fmt.Sprintf(
		"Inserts: %d (avg: %.2fms, max: %.2fms) | Queries: %d (avg: %.2fms, max: %.2fms)",
		s.InsertCount,
		float64(s.AvgInsertLatencyUS)/1000.0,
		float64(s.MaxInsertLatencyUS)/1000.0,
		s.QueryCount,
		float64(s.AvgQueryLatencyUS)/1000.0,
		float64(s.MaxQueryLatencyUS)/1000.0,
	)
}

// HasPerformanceIssues reports whether latencies crossed the warning
// thresholds: avg insert > 10ms or max insert > 100ms, avg query > 100ms or
// max query > 1s.
func (s MetricsSnapshot) HasPerformanceIssues() bool {
	slowInserts := s.AvgInsertLatencyUS > 10_000 || s.MaxInsertLatencyUS > 100_000
	slowQueries := s.AvgQueryLatencyUS > 100_000 || s.MaxQueryLatencyUS > 1_000_000
	return slowInserts || slowQueries
}

// Warnings lists the thresholds that were crossed.
func (s MetricsSnapshot) Warnings() []string {
	var warnings []string
	if s.AvgInsertLatencyUS > 10_000 {
		warnings = append(warnings, fmt.Sprintf("high average insert latency: %.2fms", float64(s.AvgInsertLatencyUS)/1000.0))
	}
	if s.MaxInsertLatencyUS > 100_000 {
		warnings = append(warnings, fmt.Sprintf("high max insert latency: %.2fms", float64(s.MaxInsertLatencyUS)/1000.0))
	}
	if s.AvgQueryLatencyUS > 100_000 {
		warnings = append(warnings, fmt.Sprintf("high average query latency: %.2fms", float64(s.AvgQueryLatencyUS)/1000.0))
	}
	if s.MaxQueryLatencyUS > 1_000_000 {
		warnings = append(warnings, fmt.Sprintf("high max query latency: %.2fms", float64(s.MaxQueryLatencyUS)/1000.0))
	}
	return warnings
}
