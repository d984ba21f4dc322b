package db

import (
	"database/sql"
	"fmt"
	"sort"

	"marketflow/internal/footprint"
	"marketflow/internal/series"
	"marketflow/pkg/types"
)

// InsertFootprint replaces the stored footprint of one candle: the existing
// rows for (ticker, timeframe, candle time) are deleted and the new price
// levels bulk-inserted in the same transaction.
func (d *DB) InsertFootprint(
	info *types.TickerInfo,
	timeframe types.Timeframe,
	klineTime uint64,
	fp *footprint.KlineTrades,
) (int, error) {
	if len(fp.Trades) == 0 {
		return 0, nil
	}

	timer := d.metric.StartInsert()
	defer timer.Stop()

	count := 0
	err := d.withConn(func(conn *sql.DB) error {
		tickerID, err := d.getOrCreateTickerID(conn, info)
		if err != nil {
			return err
		}
		tf := timeframe.String()

		tx, err := conn.Begin()
		if err != nil {
			return &Error{Kind: ErrTransaction, Message: fmt.Sprintf("start footprint transaction: %v", err)}
		}

		if _, err := tx.Exec(
			"DELETE FROM footprint_data WHERE ticker_id = ? AND candle_time = ? AND timeframe = ?",
			tickerID, int64(klineTime), tf,
		); err != nil {
			tx.Rollback()
			return &Error{Kind: ErrInsert, Message: fmt.Sprintf("delete old footprint: %v", err)}
		}

		stmt, err := tx.Prepare(
			`INSERT INTO footprint_data
				(footprint_id, ticker_id, candle_time, timeframe, price_level, buy_volume, sell_volume, delta, num_trades)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		)
		if err != nil {
			tx.Rollback()
			return &Error{Kind: ErrInsert, Message: fmt.Sprintf("prepare footprint insert: %v", err)}
		}
		defer stmt.Close()

		prices := make([]types.Price, 0, len(fp.Trades))
		for price := range fp.Trades {
			prices = append(prices, price)
		}
		sort.Slice(prices, func(i, j int) bool { return prices[i].Less(prices[j]) })

		for _, price := range prices {
			grouped := fp.Trades[price]
			footprintID := generateFootprintID(tickerID, tf, klineTime, price)
			if _, err := stmt.Exec(
				footprintID, tickerID, int64(klineTime), tf,
				priceToDecimal(price),
				float64(grouped.BuyQty), float64(grouped.SellQty),
				float64(grouped.DeltaQty()),
				grouped.BuyCount+grouped.SellCount,
			); err != nil {
				tx.Rollback()
				return &Error{Kind: ErrInsert, Message: fmt.Sprintf("insert footprint level: %v", err)}
			}
			count++
		}

		if err := tx.Commit(); err != nil {
			return &Error{Kind: ErrTransaction, Message: fmt.Sprintf("commit footprint: %v", err)}
		}
		return nil
	})
	return count, err
}

// QueryFootprint loads the footprint of one candle, or nil when absent.
// Reconstructed first/last trade times are approximated by the candle time
// and the per-side counts split the stored total evenly; the PoC is
// recomputed from the reloaded bins.
func (d *DB) QueryFootprint(
	info *types.TickerInfo,
	timeframe types.Timeframe,
	klineTime uint64,
) (*footprint.KlineTrades, error) {
	footprints, err := d.QueryFootprintsRange(info, timeframe, klineTime, klineTime)
	if err != nil {
		return nil, err
	}
	fp, ok := footprints[klineTime]
	if !ok {
		return nil, nil
	}
	return &fp, nil
}

// QueryFootprintsRange loads per-candle footprints for [startTime, endTime].
func (d *DB) QueryFootprintsRange(
	info *types.TickerInfo,
	timeframe types.Timeframe,
	startTime, endTime uint64,
) (map[uint64]footprint.KlineTrades, error) {
	timer := d.metric.StartQuery()
	defer timer.Stop()

	footprints := make(map[uint64]footprint.KlineTrades)
	err := d.withConn(func(conn *sql.DB) error {
		tickerID, err := d.getOrCreateTickerID(conn, info)
		if err != nil {
			return err
		}

		rows, err := conn.Query(
			`SELECT candle_time, price_level, buy_volume, sell_volume, num_trades
			 FROM footprint_data
			 WHERE ticker_id = ? AND timeframe = ? AND candle_time >= ? AND candle_time <= ?
			 ORDER BY candle_time, price_level`,
			tickerID, timeframe.String(), int64(startTime), int64(endTime),
		)
		if err != nil {
			return &Error{Kind: ErrQuery, Message: fmt.Sprintf("query footprints: %v", err)}
		}
		defer rows.Close()

		for rows.Next() {
			var candleTime int64
			var priceLevel, buyVolume, sellVolume float64
			var numTrades int
			if err := rows.Scan(&candleTime, &priceLevel, &buyVolume, &sellVolume, &numTrades); err != nil {
				return &Error{Kind: ErrQuery, Message: fmt.Sprintf("scan footprint level: %v", err)}
			}

			key := uint64(candleTime)
			fp, ok := footprints[key]
			if !ok {
				fp = footprint.NewKlineTrades()
			}
			fp.Trades[decimalToPrice(priceLevel)] = footprint.GroupedTrades{
				BuyQty:    float32(buyVolume),
				SellQty:   float32(sellVolume),
				FirstTime: key,
				LastTime:  key,
				BuyCount:  numTrades / 2,
				SellCount: numTrades / 2,
			}
			footprints[key] = fp
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	for key, fp := range footprints {
		fp.CalculatePoc()
		footprints[key] = fp
	}
	return footprints, nil
}

// LoadTimeSeriesWithFootprints loads klines and merges the stored per-candle
// footprints into them. The most efficient way to rehydrate a chart.
func (d *DB) LoadTimeSeriesWithFootprints(
	info *types.TickerInfo,
	timeframe types.Timeframe,
	startTime, endTime uint64,
) (*series.TimeSeries[*series.KlineDataPoint], error) {
	ts, err := d.LoadTimeSeries(info, timeframe, startTime, endTime)
	if err != nil {
		return nil, err
	}

	footprints, err := d.QueryFootprintsRange(info, timeframe, startTime, endTime)
	if err != nil {
		return nil, err
	}

	for candleTime, fp := range footprints {
		if dp, ok := ts.Get(candleTime); ok {
			dp.Footprint = fp
		}
	}
	return ts, nil
}

// DeleteFootprintsOlderThan removes footprint rows before cutoff.
func (d *DB) DeleteFootprintsOlderThan(cutoff uint64) (int64, error) {
	var deleted int64
	err := d.withConn(func(conn *sql.DB) error {
		res, err := conn.Exec("DELETE FROM footprint_data WHERE candle_time < ?", int64(cutoff))
		if err != nil {
			return &Error{Kind: ErrQuery, Message: fmt.Sprintf("delete footprints: %v", err)}
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}
