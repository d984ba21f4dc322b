package types

import "testing"

func TestSizeInQuoteCurrencyWriteOnce(t *testing.T) {
	resetSizeInQuoteCurrency()
	t.Cleanup(resetSizeInQuoteCurrency)

	if SizeInQuoteCurrency() {
		t.Fatal("unset flag reads as false")
	}

	SetSizeInQuoteCurrency(Quote)
	if !SizeInQuoteCurrency() {
		t.Fatal("flag should read true after set")
	}

	// A second set does not overwrite.
	SetSizeInQuoteCurrency(Base)
	if !SizeInQuoteCurrency() {
		t.Error("write-once flag must ignore later writes")
	}
}

func TestExchangeMarketTypes(t *testing.T) {
	t.Parallel()

	if len(ExchangeAll) != 12 {
		t.Fatalf("venue set = %d, want 12", len(ExchangeAll))
	}

	spot, linear, inverse := 0, 0, 0
	for _, e := range ExchangeAll {
		switch e.MarketType() {
		case Spot:
			spot++
		case LinearPerps:
			linear++
		case InversePerps:
			inverse++
		}
		// Every venue name round-trips.
		parsed, err := ParseExchange(e.String())
		if err != nil || parsed != e {
			t.Errorf("ParseExchange(%q) = %v, %v", e.String(), parsed, err)
		}
	}
	if spot != 4 || linear != 5 || inverse != 3 {
		t.Errorf("market split = %d spot, %d linear, %d inverse", spot, linear, inverse)
	}
}

func TestHeatmapTimeframeSupport(t *testing.T) {
	t.Parallel()

	if BybitSpot.SupportsHeatmapTimeframe(TimeframeMS100) {
		t.Error("Bybit spot cannot push 100ms")
	}
	if !BybitSpot.SupportsHeatmapTimeframe(TimeframeMS200) {
		t.Error("Bybit spot pushes 200ms")
	}
	if HyperliquidLinear.SupportsHeatmapTimeframe(TimeframeMS200) {
		t.Error("Hyperliquid has no sub-500ms push")
	}
	if !BinanceLinear.SupportsHeatmapTimeframe(TimeframeMS100) {
		t.Error("Binance supports all heatmap cadences")
	}
}

func TestAllowedPushFreqs(t *testing.T) {
	t.Parallel()

	freqs := BybitLinear.AllowedPushFreqs()
	if len(freqs) != 2 || !freqs[0].Custom {
		t.Errorf("bybit linear freqs = %+v", freqs)
	}
	freqs = BinanceLinear.AllowedPushFreqs()
	if len(freqs) != 1 || freqs[0].Custom {
		t.Errorf("binance freqs should be server default only: %+v", freqs)
	}
}
