package db

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"

	"marketflow/pkg/types"
)

// maxTickerCacheSize caps the ticker-id cache. On overflow the whole cache is
// cleared; the working set is small enough that true LRU buys nothing.
const maxTickerCacheSize = 10_000

// exchangeID maps the venue enum to its stable database id (1-12).
func exchangeID(e types.Exchange) int64 {
	switch e {
	case types.BinanceLinear:
		return 1
	case types.BinanceInverse:
		return 2
	case types.BinanceSpot:
		return 3
	case types.BybitLinear:
		return 4
	case types.BybitInverse:
		return 5
	case types.BybitSpot:
		return 6
	case types.HyperliquidLinear:
		return 7
	case types.HyperliquidSpot:
		return 8
	case types.OkexLinear:
		return 9
	case types.OkexInverse:
		return 10
	case types.OkexSpot:
		return 11
	default:
		return 12 // AsterLinear
	}
}

// getOrCreateExchangeID ensures the exchange row exists and returns its id.
func getOrCreateExchangeID(conn *sql.DB, exchange types.Exchange) (int64, error) {
	id := exchangeID(exchange)
	var exists int
	err := conn.QueryRow("SELECT COUNT(*) FROM exchanges WHERE exchange_id = ?", id).Scan(&exists)
	if err != nil {
		return 0, &Error{Kind: ErrQuery, Message: fmt.Sprintf("query exchange: %v", err)}
	}
	if exists == 0 {
		if _, err := conn.Exec(
			"INSERT INTO exchanges (exchange_id, name) VALUES (?, ?)",
			id, exchange.String(),
		); err != nil {
			return 0, &Error{Kind: ErrInsert, Message: fmt.Sprintf("insert exchange: %v", err)}
		}
	}
	return id, nil
}

// getOrCreateTickerID resolves the ticker id, checking the in-memory cache
// first to keep the hot ingest path off the database.
func (d *DB) getOrCreateTickerID(conn *sql.DB, info *types.TickerInfo) (int64, error) {
	exchID, err := getOrCreateExchangeID(conn, info.Ticker.Exchange)
	if err != nil {
		return 0, err
	}
	cacheKey := fmt.Sprintf("%d:%s", exchID, info.Ticker.Symbol())

	d.tickerCacheMu.Lock()
	if id, ok := d.tickerCache[cacheKey]; ok {
		d.tickerCacheMu.Unlock()
		return id, nil
	}
	d.tickerCacheMu.Unlock()

	var tickerID int64
	err = conn.QueryRow(
		"SELECT ticker_id FROM tickers WHERE exchange_id = ? AND symbol = ?",
		exchID, info.Ticker.Symbol(),
	).Scan(&tickerID)
	switch {
	case err == sql.ErrNoRows:
		if err := conn.QueryRow("SELECT COALESCE(MAX(ticker_id), 0) + 1 FROM tickers").Scan(&tickerID); err != nil {
			return 0, &Error{Kind: ErrQuery, Message: fmt.Sprintf("next ticker id: %v", err)}
		}
		var contractSize any
		if info.ContractSize != nil {
			contractSize = float64(info.ContractSize.AsF32())
		}
		if _, err := conn.Exec(
			`INSERT INTO tickers (ticker_id, exchange_id, symbol, min_ticksize, min_qty, contract_size, market_type)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			tickerID, exchID, info.Ticker.Symbol(),
			float64(info.MinTicksize.AsF32()), float64(info.MinQty.AsF32()),
			contractSize, info.MarketType().String(),
		); err != nil {
			return 0, &Error{Kind: ErrInsert, Message: fmt.Sprintf("insert ticker: %v", err)}
		}
	case err != nil:
		return 0, &Error{Kind: ErrQuery, Message: fmt.Sprintf("query ticker: %v", err)}
	}

	d.tickerCacheMu.Lock()
	if len(d.tickerCache) >= maxTickerCacheSize {
		d.tickerCache = make(map[string]int64)
	}
	d.tickerCache[cacheKey] = tickerID
	d.tickerCacheMu.Unlock()

	return tickerID, nil
}

// GetTickerID resolves without creating; ok is false when unknown.
func (d *DB) GetTickerID(info *types.TickerInfo) (int64, bool, error) {
	var tickerID int64
	found := false
	err := d.withConn(func(conn *sql.DB) error {
		err := conn.QueryRow(
			"SELECT ticker_id FROM tickers WHERE exchange_id = ? AND symbol = ?",
			exchangeID(info.Ticker.Exchange), info.Ticker.Symbol(),
		).Scan(&tickerID)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return &Error{Kind: ErrQuery, Message: fmt.Sprintf("query ticker: %v", err)}
		}
		found = true
		return nil
	})
	return tickerID, found, err
}

// clearTickerCache resets the id cache; used by tests.
func (d *DB) clearTickerCache() {
	d.tickerCacheMu.Lock()
	d.tickerCache = make(map[string]int64)
	d.tickerCacheMu.Unlock()
}

// priceToDecimal converts Price for REAL storage; round-trips to at least
// six decimal digits.
func priceToDecimal(p types.Price) float64 {
	return float64(p.ToF32Lossy())
}

// decimalToPrice reconstructs Price from storage.
func decimalToPrice(v float64) types.Price {
	return types.PriceFromF32(float32(v))
}

// Deterministic identifiers: every derived id includes the ticker id so the
// same (timestamp, price, qty) on two tickers can never collide. FNV-1a is a
// stable non-cryptographic hash; collisions only cost a dropped duplicate.

func hashID(parts ...uint64) int64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, part := range parts {
		binary.LittleEndian.PutUint64(buf[:], part)
		h.Write(buf[:])
	}
	return int64(h.Sum64())
}

func hashIDString(seed int64, s string, parts ...uint64) int64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(seed))
	h.Write(buf[:])
	h.Write([]byte(s))
	for _, part := range parts {
		binary.LittleEndian.PutUint64(buf[:], part)
		h.Write(buf[:])
	}
	return int64(h.Sum64())
}

// generateTradeID hashes (ticker, timestamp, price units, qty bits).
func generateTradeID(tickerID int64, timestamp uint64, price types.Price, qty float32) int64 {
	return hashID(uint64(tickerID), timestamp, uint64(price.Units), uint64(math.Float32bits(qty)))
}

// generateKlineID hashes (ticker, timeframe, candle time).
func generateKlineID(tickerID int64, timeframe string, candleTime uint64) int64 {
	return hashIDString(tickerID, timeframe, candleTime)
}

// generateSnapshotID hashes (ticker, timestamp).
func generateSnapshotID(tickerID int64, snapshotTime uint64) int64 {
	return hashID(uint64(tickerID), snapshotTime)
}

// generateFootprintID hashes (ticker, timeframe, candle time, price units).
func generateFootprintID(tickerID int64, timeframe string, candleTime uint64, price types.Price) int64 {
	return hashIDString(tickerID, timeframe, candleTime, uint64(price.Units))
}

// generateRunID hashes (ticker, start time, price units).
func generateRunID(tickerID int64, startTime uint64, price types.Price) int64 {
	return hashID(uint64(tickerID), startTime, uint64(price.Units))
}
