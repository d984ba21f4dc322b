// Package series holds bucketed datapoint containers: TimeSeries groups
// trades and klines into fixed time intervals, TickAggr groups trades into
// fixed-count buckets. Both feed the chart renderers and are rehydrated from
// the database on startup.
package series

import (
	"marketflow/internal/footprint"
	"marketflow/pkg/types"
)

// DataPoint is the capability a bucketed datapoint must provide.
type DataPoint interface {
	AddTrade(t *types.Trade, step types.PriceStep)
	ClearTrades()
	FirstTradeTime() (uint64, bool)
	LastTradeTime() (uint64, bool)
	LastPrice() types.Price
	// Kline returns the bucket's candle; ok is false for datapoints that have
	// no candle (trade-only buckets, heatmap datapoints).
	Kline() (types.Kline, bool)
	ValueHigh() types.Price
	ValueLow() types.Price
}

// klineCarrier is implemented by datapoints that can absorb a candle.
type klineCarrier interface {
	SetKline(types.Kline)
}

// KlineDataPoint is a candle plus its footprint.
type KlineDataPoint struct {
	Candle    types.Kline
	Footprint footprint.KlineTrades
	hasKline  bool
}

// NewKlineDataPoint builds a datapoint from a candle.
func NewKlineDataPoint(k types.Kline) *KlineDataPoint {
	return &KlineDataPoint{Candle: k, Footprint: footprint.NewKlineTrades(), hasKline: true}
}

// newEmptyKlineDataPoint builds a trade-only bucket awaiting its candle.
func newEmptyKlineDataPoint() *KlineDataPoint {
	return &KlineDataPoint{Footprint: footprint.NewKlineTrades()}
}

// AddTrade feeds the footprint with nearest-bin rounding.
func (d *KlineDataPoint) AddTrade(t *types.Trade, step types.PriceStep) {
	d.Footprint.AddTradeToNearestBin(t, step)
}

func (d *KlineDataPoint) ClearTrades() { d.Footprint.Clear() }

func (d *KlineDataPoint) FirstTradeTime() (uint64, bool) { return d.Footprint.FirstTradeTime() }

func (d *KlineDataPoint) LastTradeTime() (uint64, bool) { return d.Footprint.LastTradeTime() }

func (d *KlineDataPoint) LastPrice() types.Price { return d.Candle.Close }

func (d *KlineDataPoint) Kline() (types.Kline, bool) { return d.Candle, d.hasKline }

// SetKline installs or replaces the candle; the footprint is preserved.
func (d *KlineDataPoint) SetKline(k types.Kline) {
	d.Candle = k
	d.hasKline = true
}

func (d *KlineDataPoint) ValueHigh() types.Price { return d.Candle.High }

func (d *KlineDataPoint) ValueLow() types.Price { return d.Candle.Low }

// MaxClusterQty is the largest per-bin projection of the footprint within the
// price window, per the cluster kind.
func (d *KlineDataPoint) MaxClusterQty(cluster footprint.ClusterKind, highest, lowest types.Price) float32 {
	return d.Footprint.MaxQtyBy(highest, lowest, cluster.Projection())
}

// CalculatePoc recomputes the point of control from the footprint.
func (d *KlineDataPoint) CalculatePoc() { d.Footprint.CalculatePoc() }

// PocPrice returns the PoC price when present.
func (d *KlineDataPoint) PocPrice() (types.Price, bool) { return d.Footprint.PocPrice() }

// SetPocStatus forwards the NPoC status to the footprint.
func (d *KlineDataPoint) SetPocStatus(status footprint.NPoc) { d.Footprint.SetPocStatus(status) }
