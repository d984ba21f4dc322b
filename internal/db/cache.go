package db

import (
	"fmt"
	"sync"
	"time"

	"marketflow/internal/series"
	"marketflow/pkg/types"
)

// defaultCacheSize bounds each cache map.
const defaultCacheSize = 100

// defaultCacheTTL bounds entry freshness.
const defaultCacheTTL = 300 * time.Second

type timeseriesCacheKey struct {
	tickerID  int64
	timeframe string
	startTime uint64
	endTime   uint64
}

type tradesCacheKey struct {
	tickerID  int64
	startTime uint64
	endTime   uint64
}

type cacheEntry[T any] struct {
	data     *T
	cachedAt time.Time
}

func (e *cacheEntry[T]) expired(ttl time.Duration) bool {
	return time.Since(e.cachedAt) > ttl
}

// QueryCache avoids repeated database hits for hot chart ranges. Bounded in
// size and TTL; getters hand out shared pointers that outlive the guard so
// callers never clone. Eviction removes the first entry encountered, which is
// not true LRU but fine at this churn rate.
type QueryCache struct {
	mu         sync.Mutex
	timeseries map[timeseriesCacheKey]cacheEntry[series.TimeSeries[*series.KlineDataPoint]]
	trades     map[tradesCacheKey]cacheEntry[[]types.Trade]

	maxEntries int
	ttl        time.Duration
}

// NewQueryCache uses the default bounds.
func NewQueryCache() *QueryCache {
	return NewQueryCacheWithConfig(defaultCacheSize, defaultCacheTTL)
}

// NewQueryCacheWithConfig sets custom bounds.
func NewQueryCacheWithConfig(maxEntries int, ttl time.Duration) *QueryCache {
	return &QueryCache{
		timeseries: make(map[timeseriesCacheKey]cacheEntry[series.TimeSeries[*series.KlineDataPoint]]),
		trades:     make(map[tradesCacheKey]cacheEntry[[]types.Trade]),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

// GetTimeseries returns the cached series when fresh.
func (c *QueryCache) GetTimeseries(
	tickerID int64,
	timeframe types.Timeframe,
	startTime, endTime uint64,
) (*series.TimeSeries[*series.KlineDataPoint], bool) {
	key := timeseriesCacheKey{tickerID, timeframe.String(), startTime, endTime}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.timeseries[key]
	if !ok {
		return nil, false
	}
	if entry.expired(c.ttl) {
		delete(c.timeseries, key)
		return nil, false
	}
	return entry.data, true
}

// PutTimeseries stores a series, evicting one arbitrary entry when full.
func (c *QueryCache) PutTimeseries(
	tickerID int64,
	timeframe types.Timeframe,
	startTime, endTime uint64,
	ts *series.TimeSeries[*series.KlineDataPoint],
) {
	key := timeseriesCacheKey{tickerID, timeframe.String(), startTime, endTime}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.timeseries) >= c.maxEntries {
		for k := range c.timeseries {
			delete(c.timeseries, k)
			break
		}
	}
	c.timeseries[key] = cacheEntry[series.TimeSeries[*series.KlineDataPoint]]{data: ts, cachedAt: time.Now()}
}

// GetTrades returns the cached trade slice when fresh.
func (c *QueryCache) GetTrades(tickerID int64, startTime, endTime uint64) ([]types.Trade, bool) {
	key := tradesCacheKey{tickerID, startTime, endTime}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.trades[key]
	if !ok {
		return nil, false
	}
	if entry.expired(c.ttl) {
		delete(c.trades, key)
		return nil, false
	}
	return *entry.data, true
}

// PutTrades stores a trade slice, evicting one arbitrary entry when full.
func (c *QueryCache) PutTrades(tickerID int64, startTime, endTime uint64, trades []types.Trade) {
	key := tradesCacheKey{tickerID, startTime, endTime}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.trades) >= c.maxEntries {
		for k := range c.trades {
			delete(c.trades, k)
			break
		}
	}
	c.trades[key] = cacheEntry[[]types.Trade]{data: &trades, cachedAt: time.Now()}
}

// InvalidateTicker drops every entry for the ticker.
func (c *QueryCache) InvalidateTicker(tickerID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.timeseries {
		if key.tickerID == tickerID {
			delete(c.timeseries, key)
		}
	}
	for key := range c.trades {
		if key.tickerID == tickerID {
			delete(c.trades, key)
		}
	}
}

// Clear drops everything.
func (c *QueryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeseries = make(map[timeseriesCacheKey]cacheEntry[series.TimeSeries[*series.KlineDataPoint]])
	c.trades = make(map[tradesCacheKey]cacheEntry[[]types.Trade])
}

// CacheStats summarizes occupancy for monitoring.
type CacheStats struct {
	TimeseriesEntries int
	TradesEntries     int
	MaxEntries        int
	TTLSeconds        uint64
}

// Stats returns a point-in-time summary.
func (c *QueryCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		TimeseriesEntries: len(c.timeseries),
		TradesEntries:     len(c.trades),
		MaxEntries:        c.maxEntries,
		TTLSeconds:        uint64(c.ttl.Seconds()),
	}
}

func (s CacheStats) String() string {
	return fmt.Sprintf("timeseries: %d, trades: %d (cap %d, ttl %ds)",
		s.TimeseriesEntries, s.TradesEntries, s.MaxEntries, s.TTLSeconds)
}
