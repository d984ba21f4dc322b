package series

import (
	"math"
	"sort"

	"marketflow/internal/footprint"
	"marketflow/pkg/types"
)

// TimeSeries is an ordered mapping from bucket start time to datapoint.
// The bucket key of a trade is floor(time / interval) * interval.
type TimeSeries[DP DataPoint] struct {
	Interval types.Timeframe
	TickSize types.PriceStep

	keys     []uint64
	points   map[uint64]DP
	newPoint func() DP
}

// NewTimeSeries builds a series, inserting the klines first and then feeding
// the raw trades to their buckets in arrival order.
func NewTimeSeries[DP DataPoint](
	interval types.Timeframe,
	tickSize types.PriceStep,
	rawTrades []types.Trade,
	klines []types.Kline,
	newPoint func() DP,
) *TimeSeries[DP] {
	ts := &TimeSeries[DP]{
		Interval: interval,
		TickSize: tickSize,
		points:   make(map[uint64]DP),
		newPoint: newPoint,
	}
	ts.InsertKlines(klines)
	ts.InsertTrades(rawTrades)
	return ts
}

// NewKlineTimeSeries is the common instantiation over candle datapoints.
func NewKlineTimeSeries(
	interval types.Timeframe,
	tickSize types.PriceStep,
	rawTrades []types.Trade,
	klines []types.Kline,
) *TimeSeries[*KlineDataPoint] {
	return NewTimeSeries(interval, tickSize, rawTrades, klines, newEmptyKlineDataPoint)
}

func (ts *TimeSeries[DP]) bucketKey(time uint64) uint64 {
	intervalMS := ts.Interval.Milliseconds()
	return time / intervalMS * intervalMS
}

func (ts *TimeSeries[DP]) getOrCreate(key uint64) DP {
	if dp, ok := ts.points[key]; ok {
		return dp
	}
	dp := ts.newPoint()
	ts.points[key] = dp
	i := sort.Search(len(ts.keys), func(i int) bool { return ts.keys[i] >= key })
	ts.keys = append(ts.keys, 0)
	copy(ts.keys[i+1:], ts.keys[i:])
	ts.keys[i] = key
	return dp
}

// Len returns the number of buckets.
func (ts *TimeSeries[DP]) Len() int { return len(ts.points) }

// Get returns the datapoint at the exact bucket key.
func (ts *TimeSeries[DP]) Get(key uint64) (DP, bool) {
	dp, ok := ts.points[key]
	return dp, ok
}

// Keys returns the bucket keys in ascending order. Callers must not mutate.
func (ts *TimeSeries[DP]) Keys() []uint64 { return ts.keys }

// InsertKlines upserts candles on their bucket key. Existing buckets keep
// their footprint.
func (ts *TimeSeries[DP]) InsertKlines(klines []types.Kline) {
	for _, k := range klines {
		dp := ts.getOrCreate(k.Time)
		if carrier, ok := any(dp).(klineCarrier); ok {
			carrier.SetKline(k)
		}
	}
}

// InsertTrades feeds each trade to its bucket in arrival order.
func (ts *TimeSeries[DP]) InsertTrades(trades []types.Trade) {
	for i := range trades {
		dp := ts.getOrCreate(ts.bucketKey(trades[i].Time))
		dp.AddTrade(&trades[i], ts.TickSize)
	}
}

// ChangeTickSize rebuilds every footprint from the raw trades at the new
// step. Klines are preserved.
func (ts *TimeSeries[DP]) ChangeTickSize(newTickSize types.PriceStep, rawTrades []types.Trade) {
	ts.TickSize = newTickSize
	for _, dp := range ts.points {
		dp.ClearTrades()
	}
	ts.InsertTrades(rawTrades)
}

// BasePrice is the last price of the latest bucket; zero when empty.
func (ts *TimeSeries[DP]) BasePrice() types.Price {
	if len(ts.keys) == 0 {
		return types.Price{}
	}
	return ts.points[ts.keys[len(ts.keys)-1]].LastPrice()
}

// LatestTimestamp is the start time of the latest bucket.
func (ts *TimeSeries[DP]) LatestTimestamp() (uint64, bool) {
	if len(ts.keys) == 0 {
		return 0, false
	}
	return ts.keys[len(ts.keys)-1], true
}

// PriceScale returns the (high, low) extent over the last marginCandles
// buckets, for the renderer's Y axis.
func (ts *TimeSeries[DP]) PriceScale(marginCandles int) (types.Price, types.Price) {
	if len(ts.keys) == 0 || marginCandles <= 0 {
		return types.Price{}, types.Price{}
	}
	start := len(ts.keys) - marginCandles
	if start < 0 {
		start = 0
	}
	high := types.Price{Units: math.MinInt64}
	low := types.Price{Units: math.MaxInt64}
	for _, key := range ts.keys[start:] {
		dp := ts.points[key]
		if h := dp.ValueHigh(); h.Units > high.Units {
			high = h
		}
		if l := dp.ValueLow(); l.Units < low.Units {
			low = l
		}
	}
	return high, low
}

// CheckKlineIntegrity returns the bucket keys in [earliest, latest] whose
// entries are missing or whose close kline has not arrived. Nil when the
// range is fully covered.
func (ts *TimeSeries[DP]) CheckKlineIntegrity(earliest, latest, intervalMS uint64) []uint64 {
	if intervalMS == 0 || earliest > latest {
		return nil
	}
	var missing []uint64
	for key := earliest / intervalMS * intervalMS; key <= latest; key += intervalMS {
		if key < earliest {
			continue
		}
		dp, ok := ts.points[key]
		if !ok {
			missing = append(missing, key)
			continue
		}
		if _, hasKline := dp.Kline(); !hasKline {
			missing = append(missing, key)
		}
	}
	return missing
}

// SuggestTradeFetchRange returns the [from, to) gap of raw trades to backfill
// so footprints can be reconstructed for the visible window. The gap is the
// uncovered prefix of the window; absent when trades already cover it.
func (ts *TimeSeries[DP]) SuggestTradeFetchRange(visibleEarliest, visibleLatest uint64) (uint64, uint64, bool) {
	if visibleEarliest >= visibleLatest {
		return 0, 0, false
	}

	var coveredMin, coveredMax uint64
	found := false
	for _, key := range ts.keys {
		if key < ts.bucketKey(visibleEarliest) || key > visibleLatest {
			continue
		}
		dp := ts.points[key]
		first, okFirst := dp.FirstTradeTime()
		last, okLast := dp.LastTradeTime()
		if !okFirst || !okLast {
			continue
		}
		if !found {
			coveredMin, coveredMax = first, last
			found = true
			continue
		}
		if first < coveredMin {
			coveredMin = first
		}
		if last > coveredMax {
			coveredMax = last
		}
	}

	if !found {
		return visibleEarliest, visibleLatest, true
	}
	if visibleEarliest < coveredMin {
		return visibleEarliest, coveredMin, true
	}
	return 0, 0, false
}

// MaxQtyTsRange is the maximum per-bin cluster projection across buckets in
// [earliest, latest], restricted to the price window.
func (ts *TimeSeries[DP]) MaxQtyTsRange(
	cluster footprint.ClusterKind,
	earliest, latest uint64,
	highest, lowest types.Price,
) float32 {
	projection := cluster.Projection()
	var max float32
	for _, key := range ts.keys {
		if key < ts.bucketKey(earliest) || key > latest {
			continue
		}
		if kdp, ok := any(ts.points[key]).(*KlineDataPoint); ok {
			if v := kdp.Footprint.MaxQtyBy(highest, lowest, projection); v > max {
				max = v
			}
		}
	}
	return max
}

// Range iterates buckets with keys in [earliest, latest] in ascending order.
func (ts *TimeSeries[DP]) Range(earliest, latest uint64, yield func(key uint64, dp DP) bool) {
	for _, key := range ts.keys {
		if key < earliest {
			continue
		}
		if key > latest {
			return
		}
		if !yield(key, ts.points[key]) {
			return
		}
	}
}
