package db

import (
	"database/sql"
	"fmt"

	"marketflow/internal/series"
	"marketflow/pkg/types"
)

// InsertKlines upserts candles: the composite key (ticker, timeframe,
// candle time) is unique and a conflict replaces the OHLCV (last write wins).
func (d *DB) InsertKlines(info *types.TickerInfo, timeframe types.Timeframe, klines []types.Kline) (int, error) {
	if len(klines) == 0 {
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

		stmt, err := conn.Prepare(
			`INSERT INTO klines
				(kline_id, ticker_id, timeframe, candle_time, open_price, high_price, low_price, close_price, buy_volume, sell_volume)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (ticker_id, timeframe, candle_time) DO UPDATE SET
				open_price = excluded.open_price,
				high_price = excluded.high_price,
				low_price = excluded.low_price,
				close_price = excluded.close_price,
				buy_volume = excluded.buy_volume,
				sell_volume = excluded.sell_volume`,
		)
		if err != nil {
			return &Error{Kind: ErrInsert, Message: fmt.Sprintf("prepare kline insert: %v", err)}
		}
		defer stmt.Close()

		for _, k := range klines {
			klineID := generateKlineID(tickerID, tf, k.Time)
			if _, err := stmt.Exec(
				klineID, tickerID, tf, int64(k.Time),
				priceToDecimal(k.Open), priceToDecimal(k.High),
				priceToDecimal(k.Low), priceToDecimal(k.Close),
				float64(k.Volume.Buy), float64(k.Volume.Sell),
			); err != nil {
				return &Error{Kind: ErrInsert, Message: fmt.Sprintf("insert kline: %v", err)}
			}
			count++
		}
		return nil
	})
	return count, err
}

// QueryKlines returns candles in [startTime, endTime], ascending.
func (d *DB) QueryKlines(info *types.TickerInfo, timeframe types.Timeframe, startTime, endTime uint64) ([]types.Kline, error) {
	timer := d.metric.StartQuery()
	defer timer.Stop()

	var klines []types.Kline
	err := d.withConn(func(conn *sql.DB) error {
		tickerID, err := d.getOrCreateTickerID(conn, info)
		if err != nil {
			return err
		}

		rows, err := conn.Query(
			`SELECT candle_time, open_price, high_price, low_price, close_price, buy_volume, sell_volume
			 FROM klines
			 WHERE ticker_id = ? AND timeframe = ? AND candle_time >= ? AND candle_time <= ?
			 ORDER BY candle_time ASC`,
			tickerID, timeframe.String(), int64(startTime), int64(endTime),
		)
		if err != nil {
			return &Error{Kind: ErrQuery, Message: fmt.Sprintf("query klines: %v", err)}
		}
		defer rows.Close()

		for rows.Next() {
			k, err := scanKline(rows)
			if err != nil {
				return err
			}
			klines = append(klines, k)
		}
		return rows.Err()
	})
	return klines, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKline(row rowScanner) (types.Kline, error) {
	var candleTime int64
	var open, high, low, closePrice, buyVol, sellVol float64
	if err := row.Scan(&candleTime, &open, &high, &low, &closePrice, &buyVol, &sellVol); err != nil {
		return types.Kline{}, &Error{Kind: ErrQuery, Message: fmt.Sprintf("scan kline: %v", err)}
	}
	return types.Kline{
		Time:  uint64(candleTime),
		Open:  decimalToPrice(open),
		High:  decimalToPrice(high),
		Low:   decimalToPrice(low),
		Close: decimalToPrice(closePrice),
		Volume: types.BuySellVolume{
			Buy:  float32(buyVol),
			Sell: float32(sellVol),
		},
	}, nil
}

// QueryLatestKline returns the newest candle for the ticker and timeframe.
func (d *DB) QueryLatestKline(info *types.TickerInfo, timeframe types.Timeframe) (types.Kline, bool, error) {
	var kline types.Kline
	found := false
	err := d.withConn(func(conn *sql.DB) error {
		tickerID, err := d.getOrCreateTickerID(conn, info)
		if err != nil {
			return err
		}

		var candleTime int64
		var open, high, low, closePrice, buyVol, sellVol float64
		err = conn.QueryRow(
			`SELECT candle_time, open_price, high_price, low_price, close_price, buy_volume, sell_volume
			 FROM klines
			 WHERE ticker_id = ? AND timeframe = ?
			 ORDER BY candle_time DESC
			 LIMIT 1`,
			tickerID, timeframe.String(),
		).Scan(&candleTime, &open, &high, &low, &closePrice, &buyVol, &sellVol)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return &Error{Kind: ErrQuery, Message: fmt.Sprintf("query latest kline: %v", err)}
		}
		kline = types.Kline{
			Time:  uint64(candleTime),
			Open:  decimalToPrice(open),
			High:  decimalToPrice(high),
			Low:   decimalToPrice(low),
			Close: decimalToPrice(closePrice),
			Volume: types.BuySellVolume{
				Buy:  float32(buyVol),
				Sell: float32(sellVol),
			},
		}
		found = true
		return nil
	})
	return kline, found, err
}

// LoadTimeSeries rehydrates a kline time series from stored candles.
func (d *DB) LoadTimeSeries(
	info *types.TickerInfo,
	timeframe types.Timeframe,
	startTime, endTime uint64,
) (*series.TimeSeries[*series.KlineDataPoint], error) {
	klines, err := d.QueryKlines(info, timeframe, startTime, endTime)
	if err != nil {
		return nil, err
	}
	return series.NewKlineTimeSeries(timeframe, info.MinTicksize.Step(), nil, klines), nil
}

// DeleteKlinesOlderThan removes candles before cutoff across all tickers.
func (d *DB) DeleteKlinesOlderThan(cutoff uint64) (int64, error) {
	var deleted int64
	err := d.withConn(func(conn *sql.DB) error {
		res, err := conn.Exec("DELETE FROM klines WHERE candle_time < ?", int64(cutoff))
		if err != nil {
			return &Error{Kind: ErrQuery, Message: fmt.Sprintf("delete klines: %v", err)}
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}
