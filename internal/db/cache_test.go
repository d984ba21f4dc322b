package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketflow/internal/series"
	"marketflow/pkg/types"
)

func cacheTestSeries() *series.TimeSeries[*series.KlineDataPoint] {
	klines := makeKlines(10, types.TimeframeM1)
	return series.NewKlineTimeSeries(types.TimeframeM1, types.MustPriceStep(0.01), nil, klines)
}

func TestCacheHitAndMiss(t *testing.T) {
	t.Parallel()
	cache := NewQueryCache()

	if _, ok := cache.GetTimeseries(1, types.TimeframeM1, 0, 100); ok {
		t.Fatal("empty cache should miss")
	}

	cache.PutTimeseries(1, types.TimeframeM1, 0, 100, cacheTestSeries())

	cached, ok := cache.GetTimeseries(1, types.TimeframeM1, 0, 100)
	require.True(t, ok)
	assert.Equal(t, 10, cached.Len())

	// A different range is a different key.
	if _, ok := cache.GetTimeseries(1, types.TimeframeM1, 0, 200); ok {
		t.Error("different range must miss")
	}
}

func TestCacheExpiration(t *testing.T) {
	t.Parallel()
	cache := NewQueryCacheWithConfig(100, 50*time.Millisecond)

	cache.PutTrades(1, 0, 100, makeTrades(10))
	if _, ok := cache.GetTrades(1, 0, 100); !ok {
		t.Fatal("fresh entry should hit")
	}

	time.Sleep(100 * time.Millisecond)
	if _, ok := cache.GetTrades(1, 0, 100); ok {
		t.Error("expired entry should miss")
	}
}

func TestCacheEvictionBound(t *testing.T) {
	t.Parallel()
	cache := NewQueryCacheWithConfig(2, 300*time.Second)

	cache.PutTimeseries(1, types.TimeframeM1, 0, 100, cacheTestSeries())
	cache.PutTimeseries(2, types.TimeframeM1, 0, 100, cacheTestSeries())
	cache.PutTimeseries(3, types.TimeframeM1, 0, 100, cacheTestSeries())

	stats := cache.Stats()
	assert.LessOrEqual(t, stats.TimeseriesEntries, 2)
}

func TestCacheInvalidateTicker(t *testing.T) {
	t.Parallel()
	cache := NewQueryCache()

	cache.PutTimeseries(1, types.TimeframeM1, 0, 100, cacheTestSeries())
	cache.PutTrades(1, 0, 100, makeTrades(5))
	cache.PutTimeseries(2, types.TimeframeM1, 0, 100, cacheTestSeries())
	cache.PutTrades(2, 0, 100, makeTrades(5))

	cache.InvalidateTicker(1)

	if _, ok := cache.GetTimeseries(1, types.TimeframeM1, 0, 100); ok {
		t.Error("ticker 1 timeseries should be invalidated")
	}
	if _, ok := cache.GetTrades(1, 0, 100); ok {
		t.Error("ticker 1 trades should be invalidated")
	}
	if _, ok := cache.GetTimeseries(2, types.TimeframeM1, 0, 100); !ok {
		t.Error("ticker 2 timeseries must survive")
	}
	if _, ok := cache.GetTrades(2, 0, 100); !ok {
		t.Error("ticker 2 trades must survive")
	}
}

func TestCacheClearAndStats(t *testing.T) {
	t.Parallel()
	cache := NewQueryCache()

	cache.PutTimeseries(1, types.TimeframeM1, 0, 100, cacheTestSeries())
	cache.PutTrades(1, 0, 100, makeTrades(5))

	stats := cache.Stats()
	assert.Equal(t, 1, stats.TimeseriesEntries)
	assert.Equal(t, 1, stats.TradesEntries)
	assert.Equal(t, defaultCacheSize, stats.MaxEntries)

	cache.Clear()
	stats = cache.Stats()
	assert.Zero(t, stats.TimeseriesEntries)
	assert.Zero(t, stats.TradesEntries)
}

func TestMetricsRecording(t *testing.T) {
	t.Parallel()
	m := NewMetrics()

	m.RecordInsertLatency(5 * time.Millisecond)
	m.RecordInsertLatency(15 * time.Millisecond)
	m.RecordQueryLatency(2 * time.Millisecond)

	snap := m.Snapshot()
	assert.EqualValues(t, 2, snap.InsertCount)
	assert.EqualValues(t, 1, snap.QueryCount)
	assert.EqualValues(t, 10_000, snap.AvgInsertLatencyUS)
	assert.EqualValues(t, 15_000, snap.MaxInsertLatencyUS)

	// Monotone counts, max dominates every sample.
	m.RecordInsertLatency(time.Millisecond)
	snap2 := m.Snapshot()
	assert.Greater(t, snap2.InsertCount, snap.InsertCount)
	assert.GreaterOrEqual(t, snap2.MaxInsertLatencyUS, snap.MaxInsertLatencyUS)
}

func TestMetricsThresholds(t *testing.T) {
	t.Parallel()
	m := NewMetrics()

	m.RecordInsertLatency(time.Millisecond)
	m.RecordQueryLatency(10 * time.Millisecond)
	assert.False(t, m.Snapshot().HasPerformanceIssues())

	m.RecordInsertLatency(150 * time.Millisecond) // max insert > 100ms
	snap := m.Snapshot()
	assert.True(t, snap.HasPerformanceIssues())
	assert.NotEmpty(t, snap.Warnings())

	m.Reset()
	assert.Zero(t, m.Snapshot().InsertCount)
	assert.False(t, m.Snapshot().HasPerformanceIssues())
}

func TestScopedTimer(t *testing.T) {
	t.Parallel()
	m := NewMetrics()

	timer := m.StartInsert()
	time.Sleep(2 * time.Millisecond)
	timer.Stop()

	snap := m.Snapshot()
	assert.EqualValues(t, 1, snap.InsertCount)
	assert.Positive(t, snap.MaxInsertLatencyUS)
}
