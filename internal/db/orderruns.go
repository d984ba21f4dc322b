package db

import (
	"database/sql"
	"fmt"

	"marketflow/internal/depth"
	"marketflow/pkg/types"
)

// StoredOrderRun is one persisted heatmap run; times are epoch-ms.
type StoredOrderRun struct {
	Price     types.Price
	StartTime uint64
	EndTime   uint64
	Qty       float32
	IsBid     bool
}

// InsertOrderRuns bulk-inserts runs inside one transaction. Duplicate run ids
// (same ticker, start and price) are replaced so re-persisting a level is
// idempotent.
func (d *DB) InsertOrderRuns(info *types.TickerInfo, runs []StoredOrderRun) (int, error) {
	if len(runs) == 0 {
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

		tx, err := conn.Begin()
		if err != nil {
			return &Error{Kind: ErrTransaction, Message: fmt.Sprintf("start order-run transaction: %v", err)}
		}

		stmt, err := tx.Prepare(
			`INSERT INTO order_runs
				(run_id, ticker_id, start_time, end_time, price_level, total_volume, num_orders, is_buy)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (run_id) DO UPDATE SET
				end_time = excluded.end_time,
				total_volume = excluded.total_volume`,
		)
		if err != nil {
			tx.Rollback()
			return &Error{Kind: ErrInsert, Message: fmt.Sprintf("prepare order-run insert: %v", err)}
		}
		defer stmt.Close()

		for _, run := range runs {
			runID := generateRunID(tickerID, run.StartTime, run.Price)
			if _, err := stmt.Exec(
				runID, tickerID, int64(run.StartTime), int64(run.EndTime),
				priceToDecimal(run.Price), float64(run.Qty), 1, run.IsBid,
			); err != nil {
				tx.Rollback()
				return &Error{Kind: ErrInsert, Message: fmt.Sprintf("insert order run: %v", err)}
			}
			count++
		}

		if err := tx.Commit(); err != nil {
			return &Error{Kind: ErrTransaction, Message: fmt.Sprintf("commit order runs: %v", err)}
		}
		return nil
	})
	return count, err
}

// QueryOrderRuns loads runs overlapping [startTime, endTime], ascending by
// price then start time.
func (d *DB) QueryOrderRuns(info *types.TickerInfo, startTime, endTime uint64) ([]StoredOrderRun, error) {
	timer := d.metric.StartQuery()
	defer timer.Stop()

	var runs []StoredOrderRun
	err := d.withConn(func(conn *sql.DB) error {
		tickerID, err := d.getOrCreateTickerID(conn, info)
		if err != nil {
			return err
		}

		rows, err := conn.Query(
			`SELECT price_level, start_time, end_time, total_volume, is_buy
			 FROM order_runs
			 WHERE ticker_id = ? AND end_time >= ? AND start_time <= ?
			 ORDER BY price_level, start_time ASC`,
			tickerID, int64(startTime), int64(endTime),
		)
		if err != nil {
			return &Error{Kind: ErrQuery, Message: fmt.Sprintf("query order runs: %v", err)}
		}
		defer rows.Close()

		for rows.Next() {
			var priceLevel, totalVolume float64
			var start, end int64
			var isBuy bool
			if err := rows.Scan(&priceLevel, &start, &end, &totalVolume, &isBuy); err != nil {
				return &Error{Kind: ErrQuery, Message: fmt.Sprintf("scan order run: %v", err)}
			}
			runs = append(runs, StoredOrderRun{
				Price:     decimalToPrice(priceLevel),
				StartTime: uint64(start),
				EndTime:   uint64(end),
				Qty:       float32(totalVolume),
				IsBid:     isBuy,
			})
		}
		return rows.Err()
	})
	return runs, err
}

// CountOrderRuns counts stored runs for the ticker.
func (d *DB) CountOrderRuns(info *types.TickerInfo) (int64, error) {
	var count int64
	err := d.withConn(func(conn *sql.DB) error {
		tickerID, err := d.getOrCreateTickerID(conn, info)
		if err != nil {
			return err
		}
		err = conn.QueryRow(
			"SELECT COUNT(*) FROM order_runs WHERE ticker_id = ?", tickerID,
		).Scan(&count)
		if err != nil {
			return &Error{Kind: ErrQuery, Message: fmt.Sprintf("count order runs: %v", err)}
		}
		return nil
	})
	return count, err
}

// PersistHistoricalDepth snapshots the engine's runs into order_runs.
func (d *DB) PersistHistoricalDepth(info *types.TickerInfo, h *depth.HistoricalDepth, earliest, latest uint64) (int, error) {
	var runs []StoredOrderRun
	h.IterTimeFiltered(earliest, latest, types.Price{Units: 1<<62 - 1}, types.Price{Units: -(1 << 62)},
		func(price types.Price, levelRuns []depth.OrderRun) bool {
			for i := range levelRuns {
				run := &levelRuns[i]
				runs = append(runs, StoredOrderRun{
					Price:     price,
					StartTime: run.StartTime,
					EndTime:   run.UntilTime,
					Qty:       run.Qty(),
					IsBid:     run.IsBid,
				})
			}
			return true
		})
	return d.InsertOrderRuns(info, runs)
}

// LoadHistoricalDepth rebuilds a depth engine from stored runs. The query
// orders by (price, start_time), matching the engine's per-level ordering
// invariant, so runs restore verbatim with their original spans.
func (d *DB) LoadHistoricalDepth(
	info *types.TickerInfo,
	startTime, endTime uint64,
	minOrderQty float32,
	basis types.Basis,
) (*depth.HistoricalDepth, error) {
	h, err := depth.NewHistoricalDepth(minOrderQty, info.MinTicksize.Step(), basis)
	if err != nil {
		return nil, err
	}

	runs, err := d.QueryOrderRuns(info, startTime, endTime)
	if err != nil {
		return nil, err
	}
	for _, run := range runs {
		h.RestoreRun(run.Price, run.StartTime, run.EndTime, run.Qty, run.IsBid)
	}
	return h, nil
}

// DeleteOrderRunsOlderThan removes runs that started before cutoff.
func (d *DB) DeleteOrderRunsOlderThan(cutoff uint64) (int64, error) {
	var deleted int64
	err := d.withConn(func(conn *sql.DB) error {
		res, err := conn.Exec("DELETE FROM order_runs WHERE start_time < ?", int64(cutoff))
		if err != nil {
			return &Error{Kind: ErrQuery, Message: fmt.Sprintf("delete order runs: %v", err)}
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}
