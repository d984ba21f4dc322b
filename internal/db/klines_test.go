package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketflow/internal/footprint"
	"marketflow/pkg/types"
)

func makeKlines(count int, tf types.Timeframe) []types.Kline {
	intervalMS := tf.Milliseconds()
	klines := make([]types.Kline, 0, count)
	for i := 0; i < count; i++ {
		base := 50_000 + float32(i)
		klines = append(klines, types.Kline{
			Time:  1_000_000 + uint64(i)*intervalMS,
			Open:  types.PriceFromF32(base),
			High:  types.PriceFromF32(base + 10),
			Low:   types.PriceFromF32(base - 10),
			Close: types.PriceFromF32(base + 5),
			Volume: types.BuySellVolume{
				Buy:  100,
				Sell: 90,
			},
		})
	}
	return klines
}

func TestKlineUpsertAndLoad(t *testing.T) {
	d := openTestDB(t)
	info := testTickerInfo()

	klines := makeKlines(20, types.TimeframeM5)
	inserted, err := d.InsertKlines(&info, types.TimeframeM5, klines)
	require.NoError(t, err)
	assert.Equal(t, 20, inserted)

	// Reinsert the same candles with mutated closes.
	for i := range klines {
		klines[i].Close = types.PriceFromF32(60_000 + float32(i))
	}
	_, err = d.InsertKlines(&info, types.TimeframeM5, klines)
	require.NoError(t, err)

	queried, err := d.QueryKlines(&info, types.TimeframeM5, 0, ^uint64(0)>>1)
	require.NoError(t, err)
	require.Len(t, queried, 20, "upsert must not change row count")
	for i, k := range queried {
		assert.Equal(t, types.PriceFromF32(60_000+float32(i)), k.Close)
	}
}

func TestQueryLatestKline(t *testing.T) {
	d := openTestDB(t)
	info := testTickerInfo()

	_, found, err := d.QueryLatestKline(&info, types.TimeframeM1)
	require.NoError(t, err)
	assert.False(t, found)

	klines := makeKlines(5, types.TimeframeM1)
	_, err = d.InsertKlines(&info, types.TimeframeM1, klines)
	require.NoError(t, err)

	latest, found, err := d.QueryLatestKline(&info, types.TimeframeM1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, klines[4].Time, latest.Time)
}

func TestMultipleTimeframesIsolated(t *testing.T) {
	d := openTestDB(t)
	info := testTickerInfo()

	_, err := d.InsertKlines(&info, types.TimeframeM1, makeKlines(10, types.TimeframeM1))
	require.NoError(t, err)
	_, err = d.InsertKlines(&info, types.TimeframeM5, makeKlines(4, types.TimeframeM5))
	require.NoError(t, err)

	m1, err := d.QueryKlines(&info, types.TimeframeM1, 0, ^uint64(0)>>1)
	require.NoError(t, err)
	m5, err := d.QueryKlines(&info, types.TimeframeM5, 0, ^uint64(0)>>1)
	require.NoError(t, err)

	assert.Len(t, m1, 10)
	assert.Len(t, m5, 4)
}

func TestFootprintReplaceAndReload(t *testing.T) {
	d := openTestDB(t)
	info := testTickerInfo()
	step := types.MustPriceStep(1.0)
	candleTime := uint64(1_000_000)

	fp := footprint.NewKlineTrades()
	for _, tr := range []types.Trade{
		{Time: candleTime + 1, Price: types.PriceFromF32(99), Qty: 3},
		{Time: candleTime + 2, Price: types.PriceFromF32(99), Qty: 2, IsSell: true},
		{Time: candleTime + 3, Price: types.PriceFromF32(100), Qty: 5},
		{Time: candleTime + 4, Price: types.PriceFromF32(100), Qty: 4, IsSell: true},
	} {
		trade := tr
		fp.AddTradeToNearestBin(&trade, step)
	}

	count, err := d.InsertFootprint(&info, types.TimeframeM5, candleTime, &fp)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Replacing shrinks to the new level set atomically.
	smaller := footprint.NewKlineTrades()
	tr := types.Trade{Time: candleTime + 5, Price: types.PriceFromF32(101), Qty: 7}
	smaller.AddTradeToNearestBin(&tr, step)
	count, err = d.InsertFootprint(&info, types.TimeframeM5, candleTime, &smaller)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	reloaded, err := d.QueryFootprint(&info, types.TimeframeM5, candleTime)
	require.NoError(t, err)
	require.NotNil(t, reloaded)
	require.Len(t, reloaded.Trades, 1)

	grouped, ok := reloaded.Trades[types.PriceFromF32(101)]
	require.True(t, ok)
	assert.InDelta(t, 7, grouped.BuyQty, 1e-3)
	// Reconstructed times collapse to the candle time.
	assert.Equal(t, candleTime, grouped.FirstTime)

	// PoC is recomputed on reload.
	require.NotNil(t, reloaded.Poc)
	assert.Equal(t, types.PriceFromF32(101), reloaded.Poc.Price)
}

func TestLoadTimeSeriesWithFootprints(t *testing.T) {
	d := openTestDB(t)
	info := testTickerInfo()
	step := types.MustPriceStep(1.0)

	klines := makeKlines(3, types.TimeframeM5)
	_, err := d.InsertKlines(&info, types.TimeframeM5, klines)
	require.NoError(t, err)

	fp := footprint.NewKlineTrades()
	tr := types.Trade{Time: klines[1].Time + 10, Price: types.PriceFromF32(50_001), Qty: 2}
	fp.AddTradeToNearestBin(&tr, step)
	_, err = d.InsertFootprint(&info, types.TimeframeM5, klines[1].Time, &fp)
	require.NoError(t, err)

	ts, err := d.LoadTimeSeriesWithFootprints(&info, types.TimeframeM5, 0, ^uint64(0)>>1)
	require.NoError(t, err)
	assert.Equal(t, 3, ts.Len())

	dp, ok := ts.Get(klines[1].Time)
	require.True(t, ok)
	assert.Len(t, dp.Footprint.Trades, 1)

	dp0, ok := ts.Get(klines[0].Time)
	require.True(t, ok)
	assert.Empty(t, dp0.Footprint.Trades)
}

func TestOrderRunsPersistence(t *testing.T) {
	d := openTestDB(t)
	info := testTickerInfo()

	runs := []StoredOrderRun{
		{Price: types.PriceFromF32(100), StartTime: 1000, EndTime: 2000, Qty: 5, IsBid: true},
		{Price: types.PriceFromF32(101), StartTime: 1500, EndTime: 2500, Qty: 3, IsBid: false},
		{Price: types.PriceFromF32(100), StartTime: 3000, EndTime: 4000, Qty: 7, IsBid: true},
	}
	inserted, err := d.InsertOrderRuns(&info, runs)
	require.NoError(t, err)
	assert.Equal(t, 3, inserted)

	count, err := d.CountOrderRuns(&info)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	// Time filter keeps only overlapping runs.
	overlapping, err := d.QueryOrderRuns(&info, 0, 2200)
	require.NoError(t, err)
	assert.Len(t, overlapping, 2)

	deleted, err := d.DeleteOrderRunsOlderThan(2000)
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)
}

func TestLoadHistoricalDepthRestoresRuns(t *testing.T) {
	d := openTestDB(t)
	info := testTickerInfo()

	runs := []StoredOrderRun{
		{Price: types.PriceFromF32(100), StartTime: 1000, EndTime: 2200, Qty: 5, IsBid: true},
		{Price: types.PriceFromF32(100), StartTime: 3000, EndTime: 4000, Qty: 7, IsBid: true},
	}
	_, err := d.InsertOrderRuns(&info, runs)
	require.NoError(t, err)

	h, err := d.LoadHistoricalDepth(&info, 0, 10_000, 0.02, types.TimeBasis(types.TimeframeMS1000))
	require.NoError(t, err)
	assert.Equal(t, 2, h.RunCount())

	restored := h.Runs(types.PriceFromF32(100))
	require.Len(t, restored, 2)
	assert.EqualValues(t, 2200, restored[0].UntilTime, "spans restore verbatim")
	assert.InDelta(t, 7, restored[1].Qty(), 1e-6)

	// A tick basis stays invalid on the load path too.
	_, err = d.LoadHistoricalDepth(&info, 0, 10_000, 0.02, types.TickBasis(100))
	assert.Error(t, err)
}

func TestDepthSnapshotRoundTrip(t *testing.T) {
	d := openTestDB(t)
	info := testTickerInfo()

	var depthSnap types.Depth
	depthSnap.Bids.Set(types.PriceFromF32(99.5), 2)
	depthSnap.Bids.Set(types.PriceFromF32(100), 5)
	depthSnap.Asks.Set(types.PriceFromF32(100.5), 1)

	require.NoError(t, d.InsertDepthSnapshot(&info, 1_000_000, &depthSnap))

	// Upsert replaces the payload for the same timestamp.
	depthSnap.Bids.Set(types.PriceFromF32(100), 9)
	require.NoError(t, d.InsertDepthSnapshot(&info, 1_000_000, &depthSnap))

	loaded, err := d.QueryDepthSnapshot(&info, 1_000_000)
	require.NoError(t, err)
	require.NotNil(t, loaded)

	qty, ok := loaded.Bids.Get(types.PriceFromF32(100))
	require.True(t, ok)
	assert.InDelta(t, 9, qty, 1e-6)

	mid, ok := loaded.MidPrice()
	require.True(t, ok)
	assert.Equal(t, types.PriceFromF32(100.25), mid)

	snapshots, err := d.QueryDepthSnapshotsRange(&info, 0, 2_000_000)
	require.NoError(t, err)
	assert.Len(t, snapshots, 1)

	missing, err := d.QueryDepthSnapshot(&info, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestOpenInterestRoundTrip(t *testing.T) {
	d := openTestDB(t)
	info := testTickerInfo()

	samples := []types.OpenInterest{
		{Time: 1_000_000, Value: 1234.5},
		{Time: 1_300_000, Value: 1250.0},
	}
	inserted, err := d.InsertOpenInterest(&info, types.TimeframeM5, samples)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// Upsert replaces the value for an existing timestamp.
	_, err = d.InsertOpenInterest(&info, types.TimeframeM5, []types.OpenInterest{{Time: 1_000_000, Value: 1300}})
	require.NoError(t, err)

	loaded, err := d.QueryOpenInterest(&info, types.TimeframeM5, 0, 2_000_000)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.InDelta(t, 1300, loaded[0].Value, 1e-3)
}
