package types

import "sort"

// Trade is a single executed trade. IsSell means the aggressor was the
// seller (a buyer-maker print).
type Trade struct {
	Time   uint64 // ms since epoch
	IsSell bool
	Price  Price
	Qty    float32
}

// Kline is an OHLCV record. Time is the bucket start in ms.
type Kline struct {
	Time   uint64
	Open   Price
	High   Price
	Low    Price
	Close  Price
	Volume BuySellVolume
}

// BuySellVolume splits candle volume by aggressor side.
type BuySellVolume struct {
	Buy  float32
	Sell float32
}

// OpenInterest is a point-in-time open-interest sample.
type OpenInterest struct {
	Time  uint64
	Value float32
}

// TickerStats is the daily summary shown in the tickers table.
type TickerStats struct {
	MarkPrice      float32
	DailyPriceChg  float32
	DailyVolume    float32
}

// Depth is an order book snapshot: price-ordered bid and ask sides.
// The best bid is the last bid entry, the best ask the first ask entry.
type Depth struct {
	Bids PriceLevels
	Asks PriceLevels
}

// PriceLevel is one (price, qty) entry of a book side.
type PriceLevel struct {
	Price Price
	Qty   float32
}

// PriceLevels is a book side kept sorted ascending by price.
type PriceLevels struct {
	levels []PriceLevel
}

// Set inserts or replaces the level at price; qty 0 removes it.
func (p *PriceLevels) Set(price Price, qty float32) {
	i := sort.Search(len(p.levels), func(i int) bool {
		return p.levels[i].Price.Units >= price.Units
	})
	if i < len(p.levels) && p.levels[i].Price == price {
		if qty == 0 {
			p.levels = append(p.levels[:i], p.levels[i+1:]...)
			return
		}
		p.levels[i].Qty = qty
		return
	}
	if qty == 0 {
		return
	}
	p.levels = append(p.levels, PriceLevel{})
	copy(p.levels[i+1:], p.levels[i:])
	p.levels[i] = PriceLevel{Price: price, Qty: qty}
}

// Get returns the qty at price.
func (p *PriceLevels) Get(price Price) (float32, bool) {
	i := sort.Search(len(p.levels), func(i int) bool {
		return p.levels[i].Price.Units >= price.Units
	})
	if i < len(p.levels) && p.levels[i].Price == price {
		return p.levels[i].Qty, true
	}
	return 0, false
}

// First returns the lowest-priced level.
func (p *PriceLevels) First() (PriceLevel, bool) {
	if len(p.levels) == 0 {
		return PriceLevel{}, false
	}
	return p.levels[0], true
}

// Last returns the highest-priced level.
func (p *PriceLevels) Last() (PriceLevel, bool) {
	if len(p.levels) == 0 {
		return PriceLevel{}, false
	}
	return p.levels[len(p.levels)-1], true
}

// Len returns the number of levels.
func (p *PriceLevels) Len() int { return len(p.levels) }

// All iterates levels in ascending price order.
func (p *PriceLevels) All(yield func(PriceLevel) bool) {
	for _, lvl := range p.levels {
		if !yield(lvl) {
			return
		}
	}
}

// Levels exposes the sorted backing slice. Callers must not mutate it.
func (p *PriceLevels) Levels() []PriceLevel { return p.levels }

// Clear empties the side.
func (p *PriceLevels) Clear() { p.levels = p.levels[:0] }

// Clone deep-copies the side so the copy is safe against later mutation.
func (p *PriceLevels) Clone() PriceLevels {
	if len(p.levels) == 0 {
		return PriceLevels{}
	}
	levels := make([]PriceLevel, len(p.levels))
	copy(levels, p.levels)
	return PriceLevels{levels: levels}
}

// Clone deep-copies both sides.
func (d *Depth) Clone() Depth {
	return Depth{Bids: d.Bids.Clone(), Asks: d.Asks.Clone()}
}

// BestBid returns the highest bid.
func (d *Depth) BestBid() (PriceLevel, bool) { return d.Bids.Last() }

// BestAsk returns the lowest ask.
func (d *Depth) BestAsk() (PriceLevel, bool) { return d.Asks.First() }

// MidPrice is (best bid + best ask) / 2; absent while either side is empty.
func (d *Depth) MidPrice() (Price, bool) {
	bid, okBid := d.BestBid()
	ask, okAsk := d.BestAsk()
	if !okBid || !okAsk {
		return Price{}, false
	}
	return Price{Units: (bid.Price.Units + ask.Price.Units) / 2}, true
}
