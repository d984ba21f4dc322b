// Package depth maintains the heatmap's historical order book state: per-price
// runs of continuous quote presence, coalescing for display, grid queries and
// periodic cleanup.
package depth

import (
	"fmt"
	"sort"

	"marketflow/pkg/types"
)

// CleanupThreshold is the total run count above which old price levels are
// dropped.
const CleanupThreshold = 4800

// gracePeriodMS allows up to 500ms delay in order updates before starting a
// new order run. Prevents fragmentation (e.g. network latency) when qty and
// side remain unchanged.
const gracePeriodMS = 500

// fractionalThreshold is the numeric epsilon for qty comparisons while
// coalescing.
const fractionalThreshold = 1e-5

// OrderRun models continuous presence of a quote at one price level over
// [StartTime, UntilTime], with a representative qty and a single side.
type OrderRun struct {
	StartTime uint64
	UntilTime uint64
	qty       float32
	IsBid     bool
}

// NewOrderRun opens a run at start covering one aggregation interval.
func NewOrderRun(startTime, aggrTime uint64, qty float32, isBid bool) OrderRun {
	return OrderRun{
		StartTime: startTime,
		UntilTime: startTime + aggrTime,
		qty:       qty,
		IsBid:     isBid,
	}
}

// Qty returns the representative quantity.
func (r *OrderRun) Qty() float32 { return r.qty }

// WithRange returns the run iff it overlaps [earliest, latest].
func (r *OrderRun) WithRange(earliest, latest uint64) (*OrderRun, bool) {
	if r.StartTime <= latest && r.UntilTime >= earliest {
		return r, true
	}
	return nil, false
}

// Config tunes the heatmap's visible filters and coalescing.
type Config struct {
	TradeSizeFilter float32
	OrderSizeFilter float32
	TradeSizeScale  int
	Coalescing      *CoalesceKind
}

// DefaultConfig mirrors the defaults shipped with the heatmap pane.
func DefaultConfig() Config {
	avg := Average(0.15)
	return Config{TradeSizeScale: 100, Coalescing: &avg}
}

// QtyScale carries the maxima a heatmap frame scales against.
type QtyScale struct {
	MaxTradeQty   float32
	MaxAggrVolume float32
	MaxDepthQty   float32
}

// HistoricalDepth stores order runs per price level, keyed and ordered by
// price. Runs within a level are ordered by non-decreasing start time.
type HistoricalDepth struct {
	prices      []types.Price
	priceLevels map[types.Price][]OrderRun

	aggrTime    uint64
	tickSize    types.PriceStep
	minOrderQty float32
}

// NewHistoricalDepth builds the store for a time basis. A tick basis has no
// wall-clock bucket width and is rejected.
func NewHistoricalDepth(minOrderQty float32, tickSize types.PriceStep, basis types.Basis) (*HistoricalDepth, error) {
	if basis.IsTick {
		return nil, fmt.Errorf("historical depth requires a time basis, got %s", basis)
	}
	return &HistoricalDepth{
		priceLevels: make(map[types.Price][]OrderRun),
		aggrTime:    basis.Time.Milliseconds(),
		tickSize:    tickSize,
		minOrderQty: minOrderQty,
	}, nil
}

// AggrTime returns the bucket width in ms.
func (h *HistoricalDepth) AggrTime() uint64 { return h.aggrTime }

// TickSize returns the price step runs are keyed by.
func (h *HistoricalDepth) TickSize() types.PriceStep { return h.tickSize }

// RunCount is the total number of runs across all price levels.
func (h *HistoricalDepth) RunCount() int {
	total := 0
	for _, runs := range h.priceLevels {
		total += len(runs)
	}
	return total
}

// Runs returns the run slice at an exact price key.
func (h *HistoricalDepth) Runs(price types.Price) []OrderRun {
	return h.priceLevels[price]
}

// InsertLatestDepth folds one depth snapshot into the run history.
// Bids round down and asks round up onto the tick grid; neighbours that
// collapse onto the same rounded price are coalesced into a single quantity
// before the level is updated, since side-based rounding can merge them.
func (h *HistoricalDepth) InsertLatestDepth(depth *types.Depth, time uint64) {
	h.processSide(depth.Bids.Levels(), time, true)
	h.processSide(depth.Asks.Levels(), time, false)
}

func (h *HistoricalDepth) processSide(levels []types.PriceLevel, time uint64, isBid bool) {
	havePending := false
	var pendingPrice types.Price
	var pendingQty float32

	for _, lvl := range levels {
		rounded := lvl.Price.RoundToSideStep(isBid, h.tickSize)
		if havePending && rounded == pendingPrice {
			pendingQty += lvl.Qty
			continue
		}
		if havePending {
			h.updatePriceLevel(time, pendingPrice, pendingQty, isBid)
		}
		pendingPrice = rounded
		pendingQty = lvl.Qty
		havePending = true
	}
	if havePending {
		h.updatePriceLevel(time, pendingPrice, pendingQty, isBid)
	}
}

func (h *HistoricalDepth) updatePriceLevel(time uint64, price types.Price, qty float32, isBid bool) {
	runs, exists := h.priceLevels[price]
	if !exists {
		h.insertPriceKey(price)
	}

	push := func() {
		h.priceLevels[price] = append(runs, NewOrderRun(time, h.aggrTime, qty, isBid))
	}

	if len(runs) == 0 {
		push()
		return
	}

	last := &runs[len(runs)-1]
	if last.IsBid != isBid {
		// Side flip always truncates the previous run.
		if last.UntilTime > time {
			last.UntilTime = time
		}
		push()
		return
	}

	if time > last.UntilTime+gracePeriodMS {
		push()
		return
	}

	qtyDiffPct := float32(0)
	if last.qty > 0 {
		diff := qty - last.qty
		if diff < 0 {
			diff = -diff
		}
		qtyDiffPct = diff / last.qty
	} else if qty != last.qty {
		qtyDiffPct = float32(1e30)
	}

	if qtyDiffPct <= h.minOrderQty || last.qty == qty {
		if newUntil := time + h.aggrTime; newUntil > last.UntilTime {
			last.UntilTime = newUntil
		}
		h.priceLevels[price] = runs
		return
	}

	if last.UntilTime > time {
		last.UntilTime = time
	}
	push()
}

func (h *HistoricalDepth) insertPriceKey(price types.Price) {
	i := sort.Search(len(h.prices), func(i int) bool {
		return h.prices[i].Units >= price.Units
	})
	h.prices = append(h.prices, types.Price{})
	copy(h.prices[i+1:], h.prices[i:])
	h.prices[i] = price
}

// RestoreRun appends a persisted run verbatim. Callers must feed runs in
// non-decreasing start-time order per price level, which the store's query
// ordering guarantees.
func (h *HistoricalDepth) RestoreRun(price types.Price, startTime, untilTime uint64, qty float32, isBid bool) {
	if _, exists := h.priceLevels[price]; !exists {
		h.insertPriceKey(price)
	}
	h.priceLevels[price] = append(h.priceLevels[price], OrderRun{
		StartTime: startTime,
		UntilTime: untilTime,
		qty:       qty,
		IsBid:     isBid,
	})
}

// IterTimeFiltered yields price levels in [lowest, highest] whose run
// sequence contains at least one overlap with [earliest, latest], ascending
// by price.
func (h *HistoricalDepth) IterTimeFiltered(
	earliest, latest uint64,
	highest, lowest types.Price,
	yield func(price types.Price, runs []OrderRun) bool,
) {
	for _, price := range h.prices {
		if price.Units < lowest.Units {
			continue
		}
		if price.Units > highest.Units {
			return
		}
		runs := h.priceLevels[price]
		overlaps := false
		for i := range runs {
			if runs[i].UntilTime >= earliest && runs[i].StartTime <= latest {
				overlaps = true
				break
			}
		}
		if !overlaps {
			continue
		}
		if !yield(price, runs) {
			return
		}
	}
}

// LatestOrderRuns yields, for each in-range price, the last run iff it is
// still alive at latestTS.
func (h *HistoricalDepth) LatestOrderRuns(
	highest, lowest types.Price,
	latestTS uint64,
	yield func(price types.Price, run *OrderRun) bool,
) {
	for _, price := range h.prices {
		if price.Units < lowest.Units {
			continue
		}
		if price.Units > highest.Units {
			return
		}
		runs := h.priceLevels[price]
		if len(runs) == 0 {
			continue
		}
		last := &runs[len(runs)-1]
		if last.UntilTime < latestTS {
			continue
		}
		if !yield(price, last) {
			return
		}
	}
}

// MaxDepthQtyInRange is the largest run qty among visible runs whose notional
// exceeds the filter.
func (h *HistoricalDepth) MaxDepthQtyInRange(
	earliest, latest uint64,
	highest, lowest types.Price,
	market types.MarketKind,
	orderSizeFilter float32,
) float32 {
	sizeInQuote := types.SizeInQuoteCurrency()
	var max float32
	h.IterTimeFiltered(earliest, latest, highest, lowest, func(price types.Price, runs []OrderRun) bool {
		for i := range runs {
			run, ok := runs[i].WithRange(earliest, latest)
			if !ok {
				continue
			}
			orderSize := market.QtyInQuoteValue(run.Qty(), price, sizeInQuote)
			if orderSize > orderSizeFilter && run.Qty() > max {
				max = run.Qty()
			}
		}
		return true
	})
	return max
}

// CleanupOldPriceLevels drops runs that ended before oldest, then removes
// empty price levels.
func (h *HistoricalDepth) CleanupOldPriceLevels(oldest uint64) {
	remaining := h.prices[:0]
	for _, price := range h.prices {
		runs := h.priceLevels[price]
		kept := runs[:0]
		for i := range runs {
			if runs[i].UntilTime >= oldest {
				kept = append(kept, runs[i])
			}
		}
		if len(kept) == 0 {
			delete(h.priceLevels, price)
			continue
		}
		h.priceLevels[price] = kept
		remaining = append(remaining, price)
	}
	h.prices = remaining
}
