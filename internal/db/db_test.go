package db

import (
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketflow/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "test.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func testTickerInfo() types.TickerInfo {
	ticker := types.NewTicker("BTCUSDT", types.BinanceLinear)
	return types.NewTickerInfo(ticker, 0.01, 0.001, nil)
}

func makeTrades(count int) []types.Trade {
	trades := make([]types.Trade, 0, count)
	for i := 0; i < count; i++ {
		trades = append(trades, types.Trade{
			Time:   1_000_000 + uint64(i)*1000,
			Price:  types.PriceFromF32(50_000 + float32(i)),
			Qty:    1.0 + 0.1*float32(i%10),
			IsSell: i%2 == 0,
		})
	}
	return trades
}

func TestDatabaseInitialization(t *testing.T) {
	d := openTestDB(t)

	require.NoError(t, d.HealthCheck())

	version, err := d.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 3, version, "initial schema plus both migrations")

	stats, err := d.GetStats()
	require.NoError(t, err)
	assert.Zero(t, stats.TotalTrades)
	assert.Zero(t, stats.TotalKlines)
	assert.Positive(t, stats.DatabaseSizeBytes)
}

func TestSchemaIdempotency(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	d1, err := Open(path, testLogger())
	require.NoError(t, err)
	v1, err := d1.SchemaVersion()
	require.NoError(t, err)
	require.NoError(t, d1.Close())

	d2, err := Open(path, testLogger())
	require.NoError(t, err)
	defer d2.Close()
	v2, err := d2.SchemaVersion()
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
}

func TestTradeInsertQueryRoundTrip(t *testing.T) {
	d := openTestDB(t)
	info := testTickerInfo()
	trades := makeTrades(100)

	inserted, err := d.InsertTrades(&info, trades)
	require.NoError(t, err)
	assert.Equal(t, 100, inserted)

	count, err := d.QueryTradesCount(&info, 0, 2_000_000)
	require.NoError(t, err)
	assert.EqualValues(t, 100, count)

	queried, err := d.QueryTrades(&info, 1_000_000, 2_000_000)
	require.NoError(t, err)
	require.Len(t, queried, 100)
	assert.Equal(t, trades[0].Time, queried[0].Time)
	assert.InDelta(t, trades[0].Qty, queried[0].Qty, 1e-3)

	// Every distinct price got exactly one trade, so buy+sell count is 1.
	aggregated, err := d.QueryTradesAggregated(&info, 1_000_000, 2_000_000)
	require.NoError(t, err)
	require.Len(t, aggregated, 100)
	for _, level := range aggregated {
		assert.Equal(t, 1, level.BuyCount+level.SellCount, "price %v", level.Price)
	}
}

func TestTradeInsertIdempotency(t *testing.T) {
	d := openTestDB(t)
	info := testTickerInfo()
	trades := makeTrades(50)

	first, err := d.InsertTrades(&info, trades)
	require.NoError(t, err)
	assert.Equal(t, 50, first)

	second, err := d.InsertTrades(&info, trades)
	require.NoError(t, err)
	assert.Zero(t, second, "duplicate batch must insert nothing")

	count, err := d.QueryTradesCount(&info, 0, ^uint64(0)>>1)
	require.NoError(t, err)
	assert.EqualValues(t, 50, count)
}

func TestTradesCoverageAndTTL(t *testing.T) {
	d := openTestDB(t)
	info := testTickerInfo()
	trades := makeTrades(100)

	_, err := d.InsertTrades(&info, trades)
	require.NoError(t, err)

	min, max, ok, err := d.QueryTradesCoverage(&info)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 1_000_000, min)
	assert.EqualValues(t, 1_099_000, max)

	deleted, err := d.DeleteTradesOlderThan(1_050_000)
	require.NoError(t, err)
	assert.EqualValues(t, 50, deleted)

	count, err := d.QueryTradesCount(&info, 0, 2_000_000)
	require.NoError(t, err)
	assert.EqualValues(t, 50, count)
}

func TestEmptyQueriesDoNotFail(t *testing.T) {
	d := openTestDB(t)
	info := testTickerInfo()

	trades, err := d.QueryTrades(&info, 0, 1_000_000)
	require.NoError(t, err)
	assert.Empty(t, trades)

	aggregated, err := d.QueryTradesAggregated(&info, 0, 1_000_000)
	require.NoError(t, err)
	assert.Empty(t, aggregated)

	_, _, ok, err := d.QueryTradesCoverage(&info)
	require.NoError(t, err)
	assert.False(t, ok)

	inserted, err := d.InsertTrades(&info, nil)
	require.NoError(t, err)
	assert.Zero(t, inserted)
}

func TestPricePrecisionRoundTrip(t *testing.T) {
	d := openTestDB(t)
	info := testTickerInfo()

	prices := []float32{12345.678, 0.00000001, 0.12345678, 99999.99}
	for i, priceVal := range prices {
		trades := []types.Trade{{
			Time:  1_000_000 + uint64(i),
			Price: types.PriceFromF32(priceVal),
			Qty:   1.0,
		}}
		_, err := d.InsertTrades(&info, trades)
		require.NoError(t, err)
	}

	queried, err := d.QueryTrades(&info, 1_000_000, 1_000_100)
	require.NoError(t, err)
	require.Len(t, queried, len(prices))
	for i, priceVal := range prices {
		assert.InDelta(t, priceVal, queried[i].Price.ToF32Lossy(), 1e-6*float64(priceVal)+1e-9)
	}
}

func TestTickerIDCache(t *testing.T) {
	d := openTestDB(t)
	info := testTickerInfo()

	var id1, id2, id3 int64
	require.NoError(t, d.withConn(func(conn *sql.DB) error {
		var err error
		id1, err = d.getOrCreateTickerID(conn, &info)
		return err
	}))

	d.clearTickerCache()
	require.NoError(t, d.withConn(func(conn *sql.DB) error {
		var err error
		id2, err = d.getOrCreateTickerID(conn, &info)
		return err
	}))
	require.NoError(t, d.withConn(func(conn *sql.DB) error {
		var err error
		id3, err = d.getOrCreateTickerID(conn, &info)
		return err
	}))

	assert.Equal(t, id1, id2)
	assert.Equal(t, id1, id3)
}

func TestDistinctTickersGetDistinctIDs(t *testing.T) {
	d := openTestDB(t)
	btc := testTickerInfo()
	eth := types.NewTickerInfo(types.NewTicker("ETHUSDT", types.BinanceLinear), 0.01, 0.001, nil)

	_, err := d.InsertTrades(&btc, makeTrades(1))
	require.NoError(t, err)
	_, err = d.InsertTrades(&eth, makeTrades(1))
	require.NoError(t, err)

	btcID, ok, err := d.GetTickerID(&btc)
	require.NoError(t, err)
	require.True(t, ok)
	ethID, ok, err := d.GetTickerID(&eth)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, btcID, ethID)

	// Identical trade payloads on different tickers must not collide.
	btcCount, err := d.QueryTradesCount(&btc, 0, 2_000_000)
	require.NoError(t, err)
	ethCount, err := d.QueryTradesCount(&eth, 0, 2_000_000)
	require.NoError(t, err)
	assert.EqualValues(t, 1, btcCount)
	assert.EqualValues(t, 1, ethCount)
}
