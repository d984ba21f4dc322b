package adapter

import (
	"io"
	"log/slog"
	"testing"

	"marketflow/internal/stream"
	"marketflow/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSpecs() stream.StreamSpecs {
	info := types.NewTickerInfo(types.NewTicker("BTCUSDT", types.BinanceLinear), 0.01, 0.001, nil)
	return stream.StreamSpecs{
		Depth: []stream.DepthSpec{{TickerInfo: info}},
		Kline: []stream.KlineSpec{{TickerInfo: info, Timeframe: types.TimeframeM1}},
	}
}

func TestStreamNames(t *testing.T) {
	t.Parallel()
	names := streamNames(testSpecs())

	want := map[string]bool{
		"btcusdt@depth@100ms": true,
		"btcusdt@aggTrade":    true,
		"btcusdt@kline_1m":    true,
	}
	if len(names) != len(want) {
		t.Fatalf("names = %v", names)
	}
	for _, name := range names {
		if !want[name] {
			t.Errorf("unexpected stream name %q", name)
		}
	}
}

func TestHandleDepthAndTrades(t *testing.T) {
	t.Parallel()
	b, err := NewBinance(types.BinanceLinear, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	specs := testSpecs()
	b.books["BTCUSDT"] = &bookState{spec: specs.Depth[0]}

	events := make(chan Event, 4)

	// A trade buffers until the next depth push carries it out.
	aggTrade := []byte(`{"s":"BTCUSDT","p":"50000.5","q":"1.5","T":1700000000100,"m":true}`)
	if err := b.handleAggTrade(aggTrade); err != nil {
		t.Fatal(err)
	}

	depthUpdate := []byte(`{"E":1700000000200,"s":"BTCUSDT","b":[["50000.0","3.0"]],"a":[["50001.0","2.0"]]}`)
	if err := b.handleDepth(depthUpdate, events); err != nil {
		t.Fatal(err)
	}

	evt := <-events
	if evt.Kind != DepthReceived {
		t.Fatalf("kind = %v", evt.Kind)
	}
	if evt.Time != 1_700_000_000_200 {
		t.Errorf("time = %d", evt.Time)
	}
	if len(evt.Trades) != 1 || !evt.Trades[0].IsSell {
		t.Errorf("trades = %+v", evt.Trades)
	}
	bid, ok := evt.Depth.BestBid()
	if !ok || bid.Price != types.PriceFromF32(50_000) {
		t.Errorf("best bid = %+v", bid)
	}

	// The buffer drained; the next push carries no trades.
	if err := b.handleDepth(depthUpdate, events); err != nil {
		t.Fatal(err)
	}
	evt = <-events
	if len(evt.Trades) != 0 {
		t.Errorf("trade buffer should be drained, got %d", len(evt.Trades))
	}

	// Zero qty removes the level.
	remove := []byte(`{"E":1700000000300,"s":"BTCUSDT","b":[["50000.0","0"]],"a":[]}`)
	if err := b.handleDepth(remove, events); err != nil {
		t.Fatal(err)
	}
	evt = <-events
	if _, ok := evt.Depth.BestBid(); ok {
		t.Error("bid level should be removed at zero qty")
	}
}

func TestHandleKline(t *testing.T) {
	t.Parallel()
	b, err := NewBinance(types.BinanceLinear, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	specs := testSpecs()
	events := make(chan Event, 1)

	frame := []byte(`{"s":"BTCUSDT","k":{"t":1700000000000,"i":"1m","o":"50000","h":"50100","l":"49900","c":"50050","v":"10","V":"6"}}`)
	if err := b.handleKline(frame, specs, events); err != nil {
		t.Fatal(err)
	}

	evt := <-events
	if evt.Kind != KlineReceived {
		t.Fatalf("kind = %v", evt.Kind)
	}
	if evt.Kline.Close != types.PriceFromF32(50_050) {
		t.Errorf("close = %v", evt.Kline.Close)
	}
	if evt.Kline.Volume.Buy != 6 || evt.Kline.Volume.Sell != 4 {
		t.Errorf("volume split = %+v", evt.Kline.Volume)
	}

	// A timeframe nobody subscribed to emits nothing.
	other := []byte(`{"s":"BTCUSDT","k":{"t":1700000000000,"i":"5m","o":"1","h":"1","l":"1","c":"1","v":"1","V":"1"}}`)
	if err := b.handleKline(other, specs, events); err != nil {
		t.Fatal(err)
	}
	select {
	case evt := <-events:
		t.Errorf("unexpected event %+v", evt)
	default:
	}
}

func TestIsSupportedSymbol(t *testing.T) {
	t.Parallel()
	for symbol, want := range map[string]bool{
		"BTCUSDT":   true,
		"1000PEPE":  true,
		"BTC_USDT":  true,
		"BTC-USDT":  false,
		"BTC/USDT":  false,
		"":          false,
	} {
		if got := isSupportedSymbol(symbol); got != want {
			t.Errorf("isSupportedSymbol(%q) = %v, want %v", symbol, got, want)
		}
	}
}

func TestEndpointsRejectNonBinance(t *testing.T) {
	t.Parallel()
	if _, err := NewBinance(types.BybitLinear, testLogger()); err == nil {
		t.Fatal("non-Binance venue must be rejected")
	}
}
