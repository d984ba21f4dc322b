package depth

import (
	"marketflow/pkg/types"
)

// CoalesceMode selects the representative quantity of a merged run group.
type CoalesceMode uint8

const (
	CoalesceFirst CoalesceMode = iota
	CoalesceAverage
	CoalesceMax
)

// CoalesceKind is a merge mode plus its relative-delta threshold.
type CoalesceKind struct {
	Mode      CoalesceMode
	Threshold float32
}

func First(threshold float32) CoalesceKind {
	return CoalesceKind{Mode: CoalesceFirst, Threshold: threshold}
}

func Average(threshold float32) CoalesceKind {
	return CoalesceKind{Mode: CoalesceAverage, Threshold: threshold}
}

func Max(threshold float32) CoalesceKind {
	return CoalesceKind{Mode: CoalesceMax, Threshold: threshold}
}

// WithThreshold keeps the mode, swaps the threshold.
func (c CoalesceKind) WithThreshold(threshold float32) CoalesceKind {
	return CoalesceKind{Mode: c.Mode, Threshold: threshold}
}

// coalescingRun accumulates adjacent similar runs during a merge walk.
type coalescingRun struct {
	startTime uint64
	untilTime uint64
	isBid     bool
	qtySum    float32
	runCount  uint32
	firstQty  float32
	maxQty    float32
}

func newCoalescingRun(run *OrderRun) coalescingRun {
	qty := run.Qty()
	return coalescingRun{
		startTime: run.StartTime,
		untilTime: run.UntilTime,
		isBid:     run.IsBid,
		qtySum:    qty,
		runCount:  1,
		firstQty:  qty,
		maxQty:    qty,
	}
}

func (c *coalescingRun) mergeRun(run *OrderRun) {
	if run.UntilTime > c.untilTime {
		c.untilTime = run.UntilTime
	}
	qty := run.Qty()
	c.qtySum += qty
	c.runCount++
	if qty > c.maxQty {
		c.maxQty = qty
	}
}

func (c *coalescingRun) averageQty() float32 {
	if c.runCount == 0 {
		return 0
	}
	return c.qtySum / float32(c.runCount)
}

// comparisonQty is the base the next run's qty is compared against:
// the running average for Average, the first qty for First and Max.
func (c *coalescingRun) comparisonQty(kind CoalesceKind) float32 {
	if kind.Mode == CoalesceAverage {
		return c.averageQty()
	}
	return c.firstQty
}

func (c *coalescingRun) toOrderRun(kind CoalesceKind) OrderRun {
	var qty float32
	switch kind.Mode {
	case CoalesceAverage:
		qty = c.averageQty()
	case CoalesceMax:
		qty = c.maxQty
	default:
		qty = c.firstQty
	}
	return OrderRun{
		StartTime: c.startTime,
		UntilTime: c.untilTime,
		qty:       qty,
		IsBid:     c.isBid,
	}
}

// CoalescedRun pairs a price level with a merged run.
type CoalescedRun struct {
	Price types.Price
	Run   OrderRun
}

// CoalescedRuns merges consecutive similar runs per price level for display.
// Runs must overlap the visible window and exceed the notional filter; a run
// joins the current group only while it starts before the group ends, stays
// on the same side, and its qty is within the kind's threshold of the
// comparison base.
func (h *HistoricalDepth) CoalescedRuns(
	earliest, latest uint64,
	highest, lowest types.Price,
	market types.MarketKind,
	orderSizeFilter float32,
	kind CoalesceKind,
) []CoalescedRun {
	var result []CoalescedRun
	sizeInQuote := types.SizeInQuoteCurrency()

	h.IterTimeFiltered(earliest, latest, highest, lowest, func(price types.Price, runs []OrderRun) bool {
		var candidates []*OrderRun
		for i := range runs {
			run := &runs[i]
			if !(run.UntilTime >= earliest && run.StartTime <= latest) {
				continue
			}
			orderSize := market.QtyInQuoteValue(run.Qty(), price, sizeInQuote)
			if orderSize > orderSizeFilter {
				candidates = append(candidates, run)
			}
		}
		if len(candidates) == 0 {
			return true
		}

		var acc *coalescingRun
		for _, run := range candidates {
			if acc == nil {
				group := newCoalescingRun(run)
				acc = &group
				continue
			}

			base := acc.comparisonQty(kind)
			var qtyDiffPct float32
			switch {
			case base > fractionalThreshold:
				diff := run.Qty() - base
				if diff < 0 {
					diff = -diff
				}
				qtyDiffPct = diff / base
			case run.Qty() > fractionalThreshold:
				qtyDiffPct = float32(1e30)
			default:
				qtyDiffPct = 0
			}

			if run.StartTime <= acc.untilTime && run.IsBid == acc.isBid && qtyDiffPct <= kind.Threshold {
				acc.mergeRun(run)
			} else {
				result = append(result, CoalescedRun{Price: price, Run: acc.toOrderRun(kind)})
				group := newCoalescingRun(run)
				acc = &group
			}
		}
		if acc != nil {
			result = append(result, CoalescedRun{Price: price, Run: acc.toOrderRun(kind)})
		}
		return true
	})

	return result
}

// GridKey addresses one cell of a heatmap grid query.
type GridKey struct {
	Time  uint64
	Price types.Price
}

// GridQty is the first run found covering a grid cell.
type GridQty struct {
	Qty   float32
	IsBid bool
}

// QueryGridQtys samples run quantities on a rectangular grid around
// (centerTime, centerPrice) with cell size aggrTime x tickSize. The query
// window is widened by a tenth of a tick on each price side and one interval
// at the tail so boundary hits are included.
func (h *HistoricalDepth) QueryGridQtys(
	centerTime uint64,
	centerPrice types.Price,
	timeIntervalOffsets []int64,
	priceTickOffsets []int64,
	market types.MarketKind,
	orderSizeFilter float32,
	kind *CoalesceKind,
) map[GridKey]GridQty {
	if len(timeIntervalOffsets) == 0 || len(priceTickOffsets) == 0 {
		return map[GridKey]GridQty{}
	}

	offsetTime := func(offset int64) uint64 {
		delta := offset * int64(h.aggrTime)
		if delta < 0 && uint64(-delta) > centerTime {
			return 0
		}
		return uint64(int64(centerTime) + delta)
	}

	queryEarliest := offsetTime(timeIntervalOffsets[0])
	queryLatest := queryEarliest
	for _, offset := range timeIntervalOffsets {
		t := offsetTime(offset)
		if t < queryEarliest {
			queryEarliest = t
		}
		if t > queryLatest {
			queryLatest = t
		}
	}
	queryLatest += h.aggrTime

	tenthTick := h.tickSize.Units / 10
	if tenthTick == 0 {
		tenthTick = 1
	}
	lowest := centerPrice.AddSteps(priceTickOffsets[0], h.tickSize)
	highest := lowest
	for _, offset := range priceTickOffsets {
		p := centerPrice.AddSteps(offset, h.tickSize)
		if p.Units < lowest.Units {
			lowest = p
		}
		if p.Units > highest.Units {
			highest = p
		}
	}
	lowest = types.Price{Units: lowest.Units - tenthTick}
	highest = types.Price{Units: highest.Units + tenthTick}

	var vicinity []CoalescedRun
	if kind != nil {
		vicinity = h.CoalescedRuns(queryEarliest, queryLatest, highest, lowest, market, orderSizeFilter, *kind)
	} else {
		h.IterTimeFiltered(queryEarliest, queryLatest, highest, lowest, func(price types.Price, runs []OrderRun) bool {
			for i := range runs {
				vicinity = append(vicinity, CoalescedRun{Price: price, Run: runs[i]})
			}
			return true
		})
	}

	grid := make(map[GridKey]GridQty, len(timeIntervalOffsets)*len(priceTickOffsets))
	for _, priceOffset := range priceTickOffsets {
		targetPrice := centerPrice.AddSteps(priceOffset, h.tickSize)
		for _, timeOffset := range timeIntervalOffsets {
			targetTime := offsetTime(timeOffset)
			key := GridKey{Time: targetTime, Price: targetPrice}

			for i := range vicinity {
				entry := &vicinity[i]
				priceDiff := entry.Price.Units - targetPrice.Units
				if priceDiff < 0 {
					priceDiff = -priceDiff
				}
				if priceDiff < tenthTick &&
					entry.Run.StartTime <= targetTime &&
					entry.Run.UntilTime > targetTime {
					grid[key] = GridQty{Qty: entry.Run.Qty(), IsBid: entry.Run.IsBid}
					break
				}
			}
		}
	}
	return grid
}
