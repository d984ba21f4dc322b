package db

import (
	"database/sql"
	"fmt"

	"marketflow/pkg/types"
)

// InsertOpenInterest upserts open-interest samples on their composite key.
func (d *DB) InsertOpenInterest(info *types.TickerInfo, timeframe types.Timeframe, samples []types.OpenInterest) (int, error) {
	if len(samples) == 0 {
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
			`INSERT INTO open_interest (oi_id, ticker_id, timeframe, timestamp, value)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (ticker_id, timeframe, timestamp) DO UPDATE SET value = excluded.value`,
		)
		if err != nil {
			return &Error{Kind: ErrInsert, Message: fmt.Sprintf("prepare open-interest insert: %v", err)}
		}
		defer stmt.Close()

		for _, s := range samples {
			oiID := hashIDString(tickerID, tf, s.Time)
			if _, err := stmt.Exec(oiID, tickerID, tf, int64(s.Time), float64(s.Value)); err != nil {
				return &Error{Kind: ErrInsert, Message: fmt.Sprintf("insert open interest: %v", err)}
			}
			count++
		}
		return nil
	})
	return count, err
}

// QueryOpenInterest loads samples in [startTime, endTime], ascending.
func (d *DB) QueryOpenInterest(info *types.TickerInfo, timeframe types.Timeframe, startTime, endTime uint64) ([]types.OpenInterest, error) {
	timer := d.metric.StartQuery()
	defer timer.Stop()

	var samples []types.OpenInterest
	err := d.withConn(func(conn *sql.DB) error {
		tickerID, err := d.getOrCreateTickerID(conn, info)
		if err != nil {
			return err
		}

		rows, err := conn.Query(
			`SELECT timestamp, value FROM open_interest
			 WHERE ticker_id = ? AND timeframe = ? AND timestamp >= ? AND timestamp <= ?
			 ORDER BY timestamp ASC`,
			tickerID, timeframe.String(), int64(startTime), int64(endTime),
		)
		if err != nil {
			return &Error{Kind: ErrQuery, Message: fmt.Sprintf("query open interest: %v", err)}
		}
		defer rows.Close()

		for rows.Next() {
			var timestamp int64
			var value float64
			if err := rows.Scan(&timestamp, &value); err != nil {
				return &Error{Kind: ErrQuery, Message: fmt.Sprintf("scan open interest: %v", err)}
			}
			samples = append(samples, types.OpenInterest{Time: uint64(timestamp), Value: float32(value)})
		}
		return rows.Err()
	})
	return samples, err
}
