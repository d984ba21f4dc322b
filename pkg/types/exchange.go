// Package types defines the shared market-data vocabulary used across all
// packages: fixed-precision prices and steps, venue and symbol identity,
// trades, klines, depth snapshots and timeframes. It has no dependencies on
// internal packages, so it can be imported by any layer.
package types

import (
	"fmt"
	"sync/atomic"
)

// MarketKind classifies a venue's contract type.
type MarketKind uint8

const (
	Spot MarketKind = iota
	LinearPerps
	InversePerps
)

var MarketKindAll = [3]MarketKind{Spot, LinearPerps, InversePerps}

func (m MarketKind) String() string {
	switch m {
	case Spot:
		return "Spot"
	case LinearPerps:
		return "Linear"
	case InversePerps:
		return "Inverse"
	default:
		return "Unknown"
	}
}

// QtyInQuoteValue reports a quantity in quote-notional terms. Inverse perp
// quantities are already quoted in contracts of fixed notional; for the rest
// the result depends on the process-wide preferred-currency flag.
func (m MarketKind) QtyInQuoteValue(qty float32, price Price, sizeInQuoteCurrency bool) float32 {
	if m == InversePerps {
		return qty
	}
	if sizeInQuoteCurrency {
		return qty
	}
	return price.ToF32Lossy() * qty
}

// sizeInQuoteCurrency is the process-wide preferred-currency flag.
// 0 = unset, 1 = base, 2 = quote. Write-once at startup.
var sizeInQuoteCurrency atomic.Int32

// PreferredCurrency selects whether sizes are displayed and filtered in the
// quote or the base currency.
type PreferredCurrency uint8

const (
	Base PreferredCurrency = iota
	Quote
)

// SetSizeInQuoteCurrency sets the process-wide flag. It may be called once;
// later calls are ignored so the value stays stable for all consumers.
func SetSizeInQuoteCurrency(preferred PreferredCurrency) {
	v := int32(1)
	if preferred == Quote {
		v = 2
	}
	sizeInQuoteCurrency.CompareAndSwap(0, v)
}

// SizeInQuoteCurrency reads the flag; false when never set.
func SizeInQuoteCurrency() bool {
	return sizeInQuoteCurrency.Load() == 2
}

// resetSizeInQuoteCurrency exists for tests only.
func resetSizeInQuoteCurrency() {
	sizeInQuoteCurrency.Store(0)
}

// Exchange is the closed set of supported venues. Each maps to exactly one
// MarketKind.
type Exchange uint8

const (
	AsterLinear Exchange = iota
	BinanceLinear
	BinanceInverse
	BinanceSpot
	BybitLinear
	BybitInverse
	BybitSpot
	HyperliquidLinear
	HyperliquidSpot
	OkexLinear
	OkexInverse
	OkexSpot
)

var ExchangeAll = [12]Exchange{
	AsterLinear,
	BinanceLinear,
	BinanceInverse,
	BinanceSpot,
	BybitLinear,
	BybitInverse,
	BybitSpot,
	HyperliquidLinear,
	HyperliquidSpot,
	OkexLinear,
	OkexInverse,
	OkexSpot,
}

var exchangeNames = map[Exchange]string{
	AsterLinear:       "AsterLinear",
	BinanceLinear:     "BinanceLinear",
	BinanceInverse:    "BinanceInverse",
	BinanceSpot:       "BinanceSpot",
	BybitLinear:       "BybitLinear",
	BybitInverse:      "BybitInverse",
	BybitSpot:         "BybitSpot",
	HyperliquidLinear: "HyperliquidLinear",
	HyperliquidSpot:   "HyperliquidSpot",
	OkexLinear:        "OkexLinear",
	OkexInverse:       "OkexInverse",
	OkexSpot:          "OkexSpot",
}

func (e Exchange) String() string {
	if name, ok := exchangeNames[e]; ok {
		return name
	}
	return fmt.Sprintf("Exchange(%d)", uint8(e))
}

// ParseExchange parses the canonical name back to the enum.
func ParseExchange(s string) (Exchange, error) {
	for ex, name := range exchangeNames {
		if name == s {
			return ex, nil
		}
	}
	return 0, fmt.Errorf("unknown exchange: %q", s)
}

func (e Exchange) MarketType() MarketKind {
	switch e {
	case AsterLinear, BinanceLinear, BybitLinear, HyperliquidLinear, OkexLinear:
		return LinearPerps
	case BinanceInverse, BybitInverse, OkexInverse:
		return InversePerps
	default:
		return Spot
	}
}

func (e Exchange) IsPerps() bool {
	return e.MarketType() != Spot
}

// IsDepthClientAggr reports whether depth aggregation happens client-side for
// the venue (Hyperliquid aggregates on the server).
func (e Exchange) IsDepthClientAggr() bool {
	switch e {
	case HyperliquidLinear, HyperliquidSpot:
		return false
	default:
		return true
	}
}

// IsCustomPushFreq reports whether the venue supports selecting the depth
// push cadence.
func (e Exchange) IsCustomPushFreq() bool {
	switch e {
	case BybitLinear, BybitInverse, BybitSpot:
		return true
	default:
		return false
	}
}

// AllowedPushFreqs lists the push cadences the venue accepts.
func (e Exchange) AllowedPushFreqs() []PushFrequency {
	switch e {
	case BybitLinear, BybitInverse:
		return []PushFrequency{
			{Custom: true, Interval: TimeframeMS100},
			{Custom: true, Interval: TimeframeMS300},
		}
	case BybitSpot:
		return []PushFrequency{
			{Custom: true, Interval: TimeframeMS200},
			{Custom: true, Interval: TimeframeMS300},
		}
	default:
		return []PushFrequency{{}}
	}
}

// SupportsHeatmapTimeframe reports whether the venue can push depth at the
// given heatmap cadence.
func (e Exchange) SupportsHeatmapTimeframe(tf Timeframe) bool {
	switch e {
	case BybitSpot:
		return tf != TimeframeMS100
	case BybitLinear, BybitInverse:
		return tf != TimeframeMS200
	case HyperliquidLinear, HyperliquidSpot:
		return tf != TimeframeMS100 && tf != TimeframeMS200 && tf != TimeframeMS300
	default:
		return true
	}
}

// ExchangeInclusive groups venue variants under their operator brand.
type ExchangeInclusive uint8

const (
	IncAster ExchangeInclusive = iota
	IncBinance
	IncBybit
	IncHyperliquid
	IncOkex
)

func ExchangeInclusiveOf(e Exchange) ExchangeInclusive {
	switch e {
	case AsterLinear:
		return IncAster
	case BinanceLinear, BinanceInverse, BinanceSpot:
		return IncBinance
	case BybitLinear, BybitInverse, BybitSpot:
		return IncBybit
	case HyperliquidLinear, HyperliquidSpot:
		return IncHyperliquid
	default:
		return IncOkex
	}
}

// PushFrequency controls how often a venue pushes depth updates.
// Zero value means the server default.
type PushFrequency struct {
	Custom   bool
	Interval Timeframe
}

func (p PushFrequency) String() string {
	if !p.Custom {
		return "server default"
	}
	return p.Interval.String()
}
