// Package footprint aggregates trades into per-price bins within one candle
// and derives the point of control from them.
//
// Two insertion policies exist and must not be mixed within one series:
// nearest-bin rounding for OHLC/footprint aggregation, and side-biased
// rounding (floor sells, ceil buys) for ladder display.
package footprint

import (
	"sort"

	"marketflow/pkg/types"
)

// GroupedTrades accumulates the trades that landed in one price bin.
type GroupedTrades struct {
	BuyQty    float32
	SellQty   float32
	FirstTime uint64
	LastTime  uint64
	BuyCount  int
	SellCount int
}

func newGroupedTrades(t *types.Trade) GroupedTrades {
	g := GroupedTrades{FirstTime: t.Time, LastTime: t.Time}
	if t.IsSell {
		g.SellQty = t.Qty
		g.SellCount = 1
	} else {
		g.BuyQty = t.Qty
		g.BuyCount = 1
	}
	return g
}

func (g *GroupedTrades) addTrade(t *types.Trade) {
	if t.IsSell {
		g.SellQty += t.Qty
		g.SellCount++
	} else {
		g.BuyQty += t.Qty
		g.BuyCount++
	}
	g.LastTime = t.Time
}

// TotalQty is buy + sell volume.
func (g *GroupedTrades) TotalQty() float32 { return g.BuyQty + g.SellQty }

// DeltaQty is buy - sell volume.
func (g *GroupedTrades) DeltaQty() float32 { return g.BuyQty - g.SellQty }

// NPocState tracks whether a point of control has been revisited by price.
type NPocState uint8

const (
	NPocNone NPocState = iota
	NPocNaked
	NPocFilled
)

// NPoc is the naked-point-of-control status. Transitions are driven by a
// higher layer once the PoC price trades through.
type NPoc struct {
	State    NPocState
	FilledAt uint64
}

// Filled marks the PoC as traded through at the given time.
func (n *NPoc) Filled(at uint64) { n.State = NPocFilled; n.FilledAt = at }

// Unfilled marks the PoC as still naked.
func (n *NPoc) Unfilled() { n.State = NPocNaked; n.FilledAt = 0 }

// PointOfControl is the price bin with the largest total volume in a candle.
type PointOfControl struct {
	Price  types.Price
	Volume float32
	Status NPoc
}

// KlineTrades is the footprint of one candle: a map from bin price to the
// grouped trades at that bin, plus the derived point of control.
type KlineTrades struct {
	Trades map[types.Price]GroupedTrades
	Poc    *PointOfControl
}

// NewKlineTrades returns an empty footprint.
func NewKlineTrades() KlineTrades {
	return KlineTrades{Trades: make(map[types.Price]GroupedTrades)}
}

// FirstTradeTime is the earliest trade time across bins.
func (k *KlineTrades) FirstTradeTime() (uint64, bool) {
	var min uint64
	found := false
	for _, g := range k.Trades {
		if !found || g.FirstTime < min {
			min = g.FirstTime
			found = true
		}
	}
	return min, found
}

// LastTradeTime is the latest trade time across bins.
func (k *KlineTrades) LastTradeTime() (uint64, bool) {
	var max uint64
	found := false
	for _, g := range k.Trades {
		if !found || g.LastTime > max {
			max = g.LastTime
			found = true
		}
	}
	return max, found
}

// AddTradeToNearestBin bins at the nearest step multiple, side-agnostic.
// Half-tick ties round up. This is the policy for OHLC/footprint aggregation.
func (k *KlineTrades) AddTradeToNearestBin(t *types.Trade, step types.PriceStep) {
	k.insert(t.Price.RoundToStep(step), t)
}

// AddTradeToSideBin bins with side-biased rounding: floor for sells, ceil for
// buys. Used by the ladder; biases volumes at bin edges so it must not feed
// the same series as the nearest policy.
func (k *KlineTrades) AddTradeToSideBin(t *types.Trade, step types.PriceStep) {
	k.insert(t.Price.RoundToSideStep(t.IsSell, step), t)
}

func (k *KlineTrades) insert(price types.Price, t *types.Trade) {
	if k.Trades == nil {
		k.Trades = make(map[types.Price]GroupedTrades)
	}
	if g, ok := k.Trades[price]; ok {
		g.addTrade(t)
		k.Trades[price] = g
	} else {
		k.Trades[price] = newGroupedTrades(t)
	}
}

// MaxQtyBy returns the maximum of f(buy, sell) over bins in [lowest, highest].
// Empty footprints yield 0.
func (k *KlineTrades) MaxQtyBy(highest, lowest types.Price, f func(buy, sell float32) float32) float32 {
	var max float32
	for price, g := range k.Trades {
		if price.Units >= lowest.Units && price.Units <= highest.Units {
			if v := f(g.BuyQty, g.SellQty); v > max {
				max = v
			}
		}
	}
	return max
}

// CalculatePoc scans the bins and records the highest-volume one. Bins are
// visited in ascending price order so ties resolve to the lowest price,
// deterministically across rebuilds. Empty footprints leave Poc unset.
func (k *KlineTrades) CalculatePoc() {
	if len(k.Trades) == 0 {
		return
	}

	prices := make([]types.Price, 0, len(k.Trades))
	for price := range k.Trades {
		prices = append(prices, price)
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].Less(prices[j]) })

	var maxVolume float32
	var pocPrice types.Price
	for _, price := range prices {
		grouped := k.Trades[price]
		if total := grouped.TotalQty(); total > maxVolume {
			maxVolume = total
			pocPrice = price
		}
	}

	k.Poc = &PointOfControl{Price: pocPrice, Volume: maxVolume}
}

// SetPocStatus updates the NPoC status when a PoC exists.
func (k *KlineTrades) SetPocStatus(status NPoc) {
	if k.Poc != nil {
		k.Poc.Status = status
	}
}

// PocPrice returns the PoC price when calculated.
func (k *KlineTrades) PocPrice() (types.Price, bool) {
	if k.Poc == nil {
		return types.Price{}, false
	}
	return k.Poc.Price, true
}

// Clear drops all bins and the PoC.
func (k *KlineTrades) Clear() {
	k.Trades = make(map[types.Price]GroupedTrades)
	k.Poc = nil
}

// ClusterKind selects the scalar projection of a bin used for scaling.
type ClusterKind uint8

const (
	ClusterBidAsk ClusterKind = iota
	ClusterVolumeProfile
	ClusterDeltaProfile
)

var ClusterKindAll = [3]ClusterKind{ClusterBidAsk, ClusterVolumeProfile, ClusterDeltaProfile}

func (c ClusterKind) String() string {
	switch c {
	case ClusterBidAsk:
		return "Bid/Ask"
	case ClusterVolumeProfile:
		return "Volume Profile"
	case ClusterDeltaProfile:
		return "Delta Profile"
	default:
		return "Unknown"
	}
}

// Projection returns the per-bin scalar for the cluster kind.
func (c ClusterKind) Projection() func(buy, sell float32) float32 {
	switch c {
	case ClusterDeltaProfile:
		return func(buy, sell float32) float32 {
			d := buy - sell
			if d < 0 {
				return -d
			}
			return d
		}
	case ClusterVolumeProfile:
		return func(buy, sell float32) float32 { return buy + sell }
	default:
		return func(buy, sell float32) float32 {
			if buy > sell {
				return buy
			}
			return sell
		}
	}
}
