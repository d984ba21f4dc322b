package series

import (
	"marketflow/internal/footprint"
	"marketflow/pkg/types"
)

// TickDataPoint is one fixed-count bucket: a synthetic candle built from its
// trades plus the footprint.
type TickDataPoint struct {
	KlineDataPoint
	// TradeCount is how many trades the bucket holds; the latest bucket may
	// be partial, every other bucket holds exactly the interval.
	TradeCount uint64
}

func (d *TickDataPoint) absorb(t *types.Trade, step types.PriceStep) {
	price := t.Price
	if d.TradeCount == 0 {
		d.Candle = types.Kline{
			Time:  t.Time,
			Open:  price,
			High:  price,
			Low:   price,
			Close: price,
		}
		d.hasKline = true
	} else {
		if price.Units > d.Candle.High.Units {
			d.Candle.High = price
		}
		if price.Units < d.Candle.Low.Units {
			d.Candle.Low = price
		}
		d.Candle.Close = price
	}
	if t.IsSell {
		d.Candle.Volume.Sell += t.Qty
	} else {
		d.Candle.Volume.Buy += t.Qty
	}
	d.Footprint.AddTradeToNearestBin(t, step)
	d.TradeCount++
}

// TickAggr buckets trades by count instead of time: every datapoint holds
// exactly Interval trades except the latest, which fills as trades arrive.
type TickAggr struct {
	Interval types.TickCount
	TickSize types.PriceStep

	datapoints []*TickDataPoint
}

// NewTickAggr builds the aggregation from raw trades.
func NewTickAggr(interval types.TickCount, tickSize types.PriceStep, rawTrades []types.Trade) *TickAggr {
	ta := &TickAggr{Interval: interval, TickSize: tickSize}
	ta.InsertTrades(rawTrades)
	return ta
}

// Len returns the number of buckets.
func (ta *TickAggr) Len() int { return len(ta.datapoints) }

// Datapoints exposes the bucket sequence, oldest first. Callers must not
// mutate.
func (ta *TickAggr) Datapoints() []*TickDataPoint { return ta.datapoints }

// Get returns the bucket at index.
func (ta *TickAggr) Get(i int) (*TickDataPoint, bool) {
	if i < 0 || i >= len(ta.datapoints) {
		return nil, false
	}
	return ta.datapoints[i], true
}

// InsertTrades appends trades, filling the latest bucket up to the interval
// before starting a new one.
func (ta *TickAggr) InsertTrades(trades []types.Trade) {
	for i := range trades {
		last := ta.lastOpen()
		last.absorb(&trades[i], ta.TickSize)
	}
}

func (ta *TickAggr) lastOpen() *TickDataPoint {
	if n := len(ta.datapoints); n > 0 {
		last := ta.datapoints[n-1]
		if last.TradeCount < uint64(ta.Interval) {
			return last
		}
	}
	dp := &TickDataPoint{KlineDataPoint: KlineDataPoint{Footprint: footprint.NewKlineTrades()}}
	ta.datapoints = append(ta.datapoints, dp)
	return dp
}

// ChangeTickSize rebuilds every bucket from the raw trades at the new step.
func (ta *TickAggr) ChangeTickSize(newTickSize types.PriceStep, rawTrades []types.Trade) {
	ta.TickSize = newTickSize
	ta.datapoints = nil
	ta.InsertTrades(rawTrades)
}

// BasePrice is the close of the latest bucket; zero when empty.
func (ta *TickAggr) BasePrice() types.Price {
	if len(ta.datapoints) == 0 {
		return types.Price{}
	}
	return ta.datapoints[len(ta.datapoints)-1].LastPrice()
}

// PriceScale returns the (high, low) extent over the last marginBuckets
// buckets.
func (ta *TickAggr) PriceScale(marginBuckets int) (types.Price, types.Price) {
	n := len(ta.datapoints)
	if n == 0 || marginBuckets <= 0 {
		return types.Price{}, types.Price{}
	}
	start := n - marginBuckets
	if start < 0 {
		start = 0
	}
	high := ta.datapoints[start].ValueHigh()
	low := ta.datapoints[start].ValueLow()
	for _, dp := range ta.datapoints[start:] {
		if h := dp.ValueHigh(); h.Units > high.Units {
			high = h
		}
		if l := dp.ValueLow(); l.Units < low.Units {
			low = l
		}
	}
	return high, low
}

// MaxQtyRange is the maximum per-bin cluster projection across buckets in the
// index range [fromIdx, toIdx], restricted to the price window.
func (ta *TickAggr) MaxQtyRange(
	cluster footprint.ClusterKind,
	fromIdx, toIdx int,
	highest, lowest types.Price,
) float32 {
	if fromIdx < 0 {
		fromIdx = 0
	}
	if toIdx >= len(ta.datapoints) {
		toIdx = len(ta.datapoints) - 1
	}
	projection := cluster.Projection()
	var max float32
	for i := fromIdx; i <= toIdx; i++ {
		if v := ta.datapoints[i].Footprint.MaxQtyBy(highest, lowest, projection); v > max {
			max = v
		}
	}
	return max
}
