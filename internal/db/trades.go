package db

import (
	"database/sql"
	"fmt"

	"marketflow/pkg/types"
)

// AggregatedLevel is the per-price pre-aggregation used for fast footprint
// rehydration.
type AggregatedLevel struct {
	Price     types.Price
	BuyQty    float32
	SellQty   float32
	BuyCount  int
	SellCount int
}

// InsertTrades inserts a batch idempotently: duplicate trade ids are ignored,
// since exchanges may redeliver the same trade. Returns how many rows landed.
func (d *DB) InsertTrades(info *types.TickerInfo, trades []types.Trade) (int, error) {
	if len(trades) == 0 {
		return 0, nil
	}

	timer := d.metric.StartInsert()
	defer timer.Stop()

	inserted := 0
	err := d.withConn(func(conn *sql.DB) error {
		tickerID, err := d.getOrCreateTickerID(conn, info)
		if err != nil {
			return err
		}

		stmt, err := conn.Prepare(
			`INSERT INTO trades (trade_id, ticker_id, timestamp, price, quantity, is_buyer_maker)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (trade_id) DO NOTHING`,
		)
		if err != nil {
			return &Error{Kind: ErrInsert, Message: fmt.Sprintf("prepare trade insert: %v", err)}
		}
		defer stmt.Close()

		for i := range trades {
			t := &trades[i]
			tradeID := generateTradeID(tickerID, t.Time, t.Price, t.Qty)
			res, err := stmt.Exec(
				tradeID, tickerID, int64(t.Time),
				priceToDecimal(t.Price), float64(t.Qty), t.IsSell,
			)
			if err != nil {
				return &Error{Kind: ErrInsert, Message: fmt.Sprintf("insert trade: %v", err)}
			}
			if rows, err := res.RowsAffected(); err == nil {
				inserted += int(rows)
			}
		}
		return nil
	})
	return inserted, err
}

// QueryTrades returns trades in [startTime, endTime], ascending by time.
func (d *DB) QueryTrades(info *types.TickerInfo, startTime, endTime uint64) ([]types.Trade, error) {
	timer := d.metric.StartQuery()
	defer timer.Stop()

	var trades []types.Trade
	err := d.withConn(func(conn *sql.DB) error {
		tickerID, err := d.getOrCreateTickerID(conn, info)
		if err != nil {
			return err
		}

		rows, err := conn.Query(
			`SELECT timestamp, price, quantity, is_buyer_maker
			 FROM trades
			 WHERE ticker_id = ? AND timestamp >= ? AND timestamp <= ?
			 ORDER BY timestamp ASC`,
			tickerID, int64(startTime), int64(endTime),
		)
		if err != nil {
			return &Error{Kind: ErrQuery, Message: fmt.Sprintf("query trades: %v", err)}
		}
		defer rows.Close()

		for rows.Next() {
			var timestamp int64
			var price, quantity float64
			var isBuyerMaker bool
			if err := rows.Scan(&timestamp, &price, &quantity, &isBuyerMaker); err != nil {
				return &Error{Kind: ErrQuery, Message: fmt.Sprintf("scan trade: %v", err)}
			}
			trades = append(trades, types.Trade{
				Time:   uint64(timestamp),
				Price:  decimalToPrice(price),
				Qty:    float32(quantity),
				IsSell: isBuyerMaker,
			})
		}
		return rows.Err()
	})
	return trades, err
}

// QueryTradesCount counts trades in range without materializing them.
func (d *DB) QueryTradesCount(info *types.TickerInfo, startTime, endTime uint64) (int64, error) {
	timer := d.metric.StartQuery()
	defer timer.Stop()

	var count int64
	err := d.withConn(func(conn *sql.DB) error {
		tickerID, err := d.getOrCreateTickerID(conn, info)
		if err != nil {
			return err
		}
		err = conn.QueryRow(
			"SELECT COUNT(*) FROM trades WHERE ticker_id = ? AND timestamp >= ? AND timestamp <= ?",
			tickerID, int64(startTime), int64(endTime),
		).Scan(&count)
		if err != nil {
			return &Error{Kind: ErrQuery, Message: fmt.Sprintf("count trades: %v", err)}
		}
		return nil
	})
	return count, err
}

// QueryTradesAggregated pre-aggregates buy/sell volume and counts per price
// level, which is much faster than loading raw trades and grouping in memory.
func (d *DB) QueryTradesAggregated(info *types.TickerInfo, startTime, endTime uint64) ([]AggregatedLevel, error) {
	timer := d.metric.StartQuery()
	defer timer.Stop()

	var levels []AggregatedLevel
	err := d.withConn(func(conn *sql.DB) error {
		tickerID, err := d.getOrCreateTickerID(conn, info)
		if err != nil {
			return err
		}

		rows, err := conn.Query(
			`SELECT
				price,
				SUM(CASE WHEN is_buyer_maker = 0 THEN quantity ELSE 0 END) AS buy_volume,
				SUM(CASE WHEN is_buyer_maker = 1 THEN quantity ELSE 0 END) AS sell_volume,
				COUNT(CASE WHEN is_buyer_maker = 0 THEN 1 END) AS buy_count,
				COUNT(CASE WHEN is_buyer_maker = 1 THEN 1 END) AS sell_count
			 FROM trades
			 WHERE ticker_id = ? AND timestamp >= ? AND timestamp <= ?
			 GROUP BY price
			 ORDER BY price`,
			tickerID, int64(startTime), int64(endTime),
		)
		if err != nil {
			return &Error{Kind: ErrQuery, Message: fmt.Sprintf("query aggregated trades: %v", err)}
		}
		defer rows.Close()

		for rows.Next() {
			var price, buyVolume, sellVolume float64
			var buyCount, sellCount int
			if err := rows.Scan(&price, &buyVolume, &sellVolume, &buyCount, &sellCount); err != nil {
				return &Error{Kind: ErrQuery, Message: fmt.Sprintf("scan aggregated trade: %v", err)}
			}
			levels = append(levels, AggregatedLevel{
				Price:     decimalToPrice(price),
				BuyQty:    float32(buyVolume),
				SellQty:   float32(sellVolume),
				BuyCount:  buyCount,
				SellCount: sellCount,
			})
		}
		return rows.Err()
	})
	return levels, err
}

// QueryTradesCoverage returns the earliest and latest stored trade times for
// the ticker; ok is false when no trades exist.
func (d *DB) QueryTradesCoverage(info *types.TickerInfo) (uint64, uint64, bool, error) {
	var minTime, maxTime sql.NullInt64
	err := d.withConn(func(conn *sql.DB) error {
		tickerID, err := d.getOrCreateTickerID(conn, info)
		if err != nil {
			return err
		}
		err = conn.QueryRow(
			"SELECT MIN(timestamp), MAX(timestamp) FROM trades WHERE ticker_id = ?",
			tickerID,
		).Scan(&minTime, &maxTime)
		if err != nil {
			return &Error{Kind: ErrQuery, Message: fmt.Sprintf("query trade coverage: %v", err)}
		}
		return nil
	})
	if err != nil || !minTime.Valid || !maxTime.Valid {
		return 0, 0, false, err
	}
	return uint64(minTime.Int64), uint64(maxTime.Int64), true, nil
}

// DeleteTradesOlderThan removes trades before cutoff across all tickers.
func (d *DB) DeleteTradesOlderThan(cutoff uint64) (int64, error) {
	var deleted int64
	err := d.withConn(func(conn *sql.DB) error {
		res, err := conn.Exec("DELETE FROM trades WHERE timestamp < ?", int64(cutoff))
		if err != nil {
			return &Error{Kind: ErrQuery, Message: fmt.Sprintf("delete trades: %v", err)}
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}
