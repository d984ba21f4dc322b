package engine

import (
	"io"
	"log/slog"
	"testing"

	"marketflow/internal/adapter"
	"marketflow/internal/depth"
	"marketflow/internal/series"
	"marketflow/internal/stream"
	"marketflow/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testInfo() types.TickerInfo {
	return types.NewTickerInfo(types.NewTicker("BTCUSDT", types.BinanceLinear), 0.01, 0.001, nil)
}

func depthEvent(s stream.StreamKind, t uint64, trades []types.Trade) adapter.Event {
	var d types.Depth
	d.Bids.Set(types.PriceFromF32(50_000), 3)
	d.Asks.Set(types.PriceFromF32(50_001), 2)
	return adapter.Event{
		Kind:     adapter.DepthReceived,
		Exchange: types.BinanceLinear,
		Stream:   s,
		Time:     t,
		Depth:    &d,
		Trades:   trades,
	}
}

func TestDepthFanOutByContent(t *testing.T) {
	t.Parallel()
	e := New(nil, testLogger())
	info := testInfo()
	depthStream := stream.DepthStream(info, stream.DepthAggr{}, types.PushFrequency{})

	step := types.MustPriceStep(1.0)
	hd, err := depth.NewHistoricalDepth(0.02, step, types.TimeBasis(types.TimeframeMS500))
	if err != nil {
		t.Fatal(err)
	}

	heatmap := NewPane(HeatmapPane)
	heatmap.Streams = stream.Ready([]stream.StreamKind{depthStream})
	heatmap.Depth = hd
	heatmap.HeatmapSeries = series.NewTimeSeries(types.TimeframeMS500, step, nil, nil, depth.NewHeatmapDataPoint)

	fp := NewPane(FootprintPane)
	fp.Streams = stream.Ready([]stream.StreamKind{depthStream})
	fp.Timeseries = series.NewKlineTimeSeries(types.TimeframeM1, step, nil, nil)

	tape := NewPane(TimeAndSalesPane)
	tape.Streams = stream.Ready([]stream.StreamKind{depthStream})

	e.AddPane(heatmap)
	e.AddPane(fp)
	e.AddPane(tape)

	trades := []types.Trade{
		{Time: 60_000, Price: types.PriceFromF32(50_000.5), Qty: 1},
		{Time: 60_001, Price: types.PriceFromF32(50_000.4), Qty: 2, IsSell: true},
	}
	e.Handle(depthEvent(depthStream, 60_001, trades))

	if hd.RunCount() == 0 {
		t.Error("heatmap pane should have ingested the depth snapshot")
	}
	if heatmap.HeatmapSeries.Len() == 0 {
		t.Error("heatmap pane should have bucketed the trades")
	}
	if fp.Timeseries.Len() == 0 {
		t.Error("footprint pane should have bucketed the trades")
	}
	if len(tape.Tape) != 2 {
		t.Errorf("tape should hold both trades, got %d", len(tape.Tape))
	}
	if fp.LastPrice != types.PriceFromF32(50_000.4) {
		t.Errorf("last price = %v", fp.LastPrice)
	}
}

func TestUnmatchedStreamTriggersRefresh(t *testing.T) {
	t.Parallel()
	e := New(nil, testLogger())

	var unmatched []stream.StreamKind
	e.OnUnmatchedStream(func(s stream.StreamKind) { unmatched = append(unmatched, s) })

	orphan := stream.DepthStream(testInfo(), stream.DepthAggr{}, types.PushFrequency{})
	e.Handle(depthEvent(orphan, 1000, nil))

	if len(unmatched) != 1 {
		t.Fatalf("expected one refresh trigger, got %d", len(unmatched))
	}
}

func TestKlineRouting(t *testing.T) {
	t.Parallel()
	e := New(nil, testLogger())
	info := testInfo()
	klineStream := stream.KlineStream(info, types.TimeframeM1)

	p := NewPane(CandlestickPane)
	p.Streams = stream.Ready([]stream.StreamKind{klineStream})
	p.Timeseries = series.NewKlineTimeSeries(types.TimeframeM1, types.MustPriceStep(1.0), nil, nil)
	e.AddPane(p)

	k := types.Kline{
		Time:  60_000,
		Open:  types.PriceFromF32(100),
		High:  types.PriceFromF32(101),
		Low:   types.PriceFromF32(99),
		Close: types.PriceFromF32(100.5),
	}
	e.Handle(adapter.Event{Kind: adapter.KlineReceived, Exchange: types.BinanceLinear, Stream: klineStream, Kline: k})

	if p.Timeseries.Len() != 1 {
		t.Fatalf("series should hold one candle, got %d", p.Timeseries.Len())
	}
	if p.LastPrice != types.PriceFromF32(100.5) {
		t.Errorf("last price = %v", p.LastPrice)
	}
}

func TestWaitingPaneDoesNotConsume(t *testing.T) {
	t.Parallel()
	e := New(nil, testLogger())
	info := testInfo()
	klineStream := stream.KlineStream(info, types.TimeframeM1)

	p := NewPane(CandlestickPane)
	p.Streams = stream.Waiting([]stream.PersistStreamKind{stream.Persist(klineStream)})
	p.Timeseries = series.NewKlineTimeSeries(types.TimeframeM1, types.MustPriceStep(1.0), nil, nil)
	e.AddPane(p)

	refreshes := 0
	e.OnUnmatchedStream(func(stream.StreamKind) { refreshes++ })

	e.Handle(adapter.Event{Kind: adapter.KlineReceived, Stream: klineStream, Kline: types.Kline{Time: 60_000}})

	if p.Timeseries.Len() != 0 {
		t.Error("waiting pane must not ingest")
	}
	if refreshes != 1 {
		t.Errorf("unmatched kline should trigger a refresh, got %d", refreshes)
	}
}

func TestResolutionAfterTickerInfoRefresh(t *testing.T) {
	t.Parallel()
	e := New(nil, testLogger())
	info := testInfo()
	klineStream := stream.KlineStream(info, types.TimeframeM1)

	p := NewPane(CandlestickPane)
	p.Streams = stream.Waiting([]stream.PersistStreamKind{stream.Persist(klineStream)})
	e.AddPane(p)

	if p.Streams.IsReady() {
		t.Fatal("pane starts waiting")
	}

	e.UpdateTickersInfo(types.BinanceLinear, map[types.Ticker]*types.TickerInfo{
		info.Ticker: &info,
	})

	if !p.Streams.IsReady() {
		t.Fatal("pane should resolve after the metadata refresh")
	}
	if !p.Streams.MatchesStream(klineStream) {
		t.Error("resolved stream should match")
	}
}

func TestUniqueStreamsAcrossPanes(t *testing.T) {
	t.Parallel()
	e := New(nil, testLogger())
	info := testInfo()
	klineStream := stream.KlineStream(info, types.TimeframeM1)

	// Two panes sharing one stream produce a single subscription.
	for i := 0; i < 2; i++ {
		p := NewPane(CandlestickPane)
		p.Streams = stream.Ready([]stream.StreamKind{klineStream})
		e.AddPane(p)
	}

	specs := e.UniqueStreams().Combined()[types.BinanceLinear]
	if len(specs.Kline) != 1 {
		t.Errorf("shared stream must deduplicate, got %d", len(specs.Kline))
	}
}

func TestRemovePaneCancelsFetch(t *testing.T) {
	t.Parallel()
	e := New(nil, testLogger())

	p := NewPane(CandlestickPane)
	cancelled := false
	p.fetchCancel = func() { cancelled = true }
	e.AddPane(p)

	e.RemovePane(p.ID)
	if !cancelled {
		t.Error("removing a pane must abort its fetch")
	}
	if _, ok := e.Pane(p.ID); ok {
		t.Error("pane should be gone")
	}
}
