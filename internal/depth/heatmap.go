package depth

import (
	"sort"

	"marketflow/pkg/types"
)

// GroupedTrade is one side-aware trade bin of a heatmap datapoint, ordered by
// (side, price).
type GroupedTrade struct {
	IsSell bool
	Price  types.Price
	Qty    float32
}

func (g *GroupedTrade) compareWith(price types.Price, isSell bool) int {
	if g.IsSell == isSell {
		return g.Price.Cmp(price)
	}
	if !g.IsSell {
		return -1
	}
	return 1
}

// HeatmapDataPoint is one time bucket of the heatmap: side-binned trades plus
// running buy/sell totals.
type HeatmapDataPoint struct {
	GroupedTrades []GroupedTrade
	BuySell       types.BuySellVolume
}

// NewHeatmapDataPoint returns an empty bucket.
func NewHeatmapDataPoint() *HeatmapDataPoint {
	return &HeatmapDataPoint{}
}

// AddTrade bins the trade with side-biased rounding and bumps the totals.
func (d *HeatmapDataPoint) AddTrade(t *types.Trade, step types.PriceStep) {
	grouped := t.Price.RoundToSideStep(t.IsSell, step)

	i := sort.Search(len(d.GroupedTrades), func(i int) bool {
		return d.GroupedTrades[i].compareWith(grouped, t.IsSell) >= 0
	})
	if i < len(d.GroupedTrades) &&
		d.GroupedTrades[i].IsSell == t.IsSell &&
		d.GroupedTrades[i].Price == grouped {
		d.GroupedTrades[i].Qty += t.Qty
	} else {
		d.GroupedTrades = append(d.GroupedTrades, GroupedTrade{})
		copy(d.GroupedTrades[i+1:], d.GroupedTrades[i:])
		d.GroupedTrades[i] = GroupedTrade{IsSell: t.IsSell, Price: grouped, Qty: t.Qty}
	}

	if t.IsSell {
		d.BuySell.Sell += t.Qty
	} else {
		d.BuySell.Buy += t.Qty
	}
}

// ClearTrades drops the bucket's state.
func (d *HeatmapDataPoint) ClearTrades() {
	d.GroupedTrades = nil
	d.BuySell = types.BuySellVolume{}
}

// FirstTradeTime is not tracked per heatmap bucket.
func (d *HeatmapDataPoint) FirstTradeTime() (uint64, bool) { return 0, false }

// LastTradeTime is not tracked per heatmap bucket.
func (d *HeatmapDataPoint) LastTradeTime() (uint64, bool) { return 0, false }

// LastPrice is the highest-ordered bin's price; zero when empty.
func (d *HeatmapDataPoint) LastPrice() types.Price {
	if len(d.GroupedTrades) == 0 {
		return types.Price{}
	}
	return d.GroupedTrades[len(d.GroupedTrades)-1].Price
}

// Kline is absent for heatmap buckets.
func (d *HeatmapDataPoint) Kline() (types.Kline, bool) { return types.Kline{}, false }

// ValueHigh is the highest bin price.
func (d *HeatmapDataPoint) ValueHigh() types.Price {
	var high types.Price
	for i, g := range d.GroupedTrades {
		if i == 0 || g.Price.Units > high.Units {
			high = g.Price
		}
	}
	return high
}

// ValueLow is the lowest bin price.
func (d *HeatmapDataPoint) ValueLow() types.Price {
	var low types.Price
	for i, g := range d.GroupedTrades {
		if i == 0 || g.Price.Units < low.Units {
			low = g.Price
		}
	}
	return low
}
