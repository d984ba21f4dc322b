package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"marketflow/pkg/types"
)

// serializePriceLevels encodes a book side as [[price, qty], ...].
func serializePriceLevels(side *types.PriceLevels) (string, error) {
	pairs := make([][2]float64, 0, side.Len())
	for _, lvl := range side.Levels() {
		pairs = append(pairs, [2]float64{priceToDecimal(lvl.Price), float64(lvl.Qty)})
	}
	raw, err := json.Marshal(pairs)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func deserializePriceLevels(raw string) (types.PriceLevels, error) {
	var pairs [][2]float64
	if err := json.Unmarshal([]byte(raw), &pairs); err != nil {
		return types.PriceLevels{}, err
	}
	var side types.PriceLevels
	for _, pair := range pairs {
		side.Set(decimalToPrice(pair[0]), float32(pair[1]))
	}
	return side, nil
}

// InsertDepthSnapshot upserts the snapshot for (ticker, timestamp): the
// deterministic snapshot id makes re-persisting the same moment replace the
// JSON payload instead of duplicating it.
func (d *DB) InsertDepthSnapshot(info *types.TickerInfo, timestamp uint64, depth *types.Depth) error {
	timer := d.metric.StartInsert()
	defer timer.Stop()

	bidsJSON, err := serializePriceLevels(&depth.Bids)
	if err != nil {
		return &Error{Kind: ErrInsert, Message: fmt.Sprintf("serialize bids: %v", err)}
	}
	asksJSON, err := serializePriceLevels(&depth.Asks)
	if err != nil {
		return &Error{Kind: ErrInsert, Message: fmt.Sprintf("serialize asks: %v", err)}
	}

	return d.withConn(func(conn *sql.DB) error {
		tickerID, err := d.getOrCreateTickerID(conn, info)
		if err != nil {
			return err
		}
		snapshotID := generateSnapshotID(tickerID, timestamp)

		if _, err := conn.Exec(
			`INSERT INTO depth_snapshots (snapshot_id, ticker_id, timestamp, bids, asks)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (snapshot_id) DO UPDATE SET
				bids = excluded.bids,
				asks = excluded.asks`,
			snapshotID, tickerID, int64(timestamp), bidsJSON, asksJSON,
		); err != nil {
			return &Error{Kind: ErrInsert, Message: fmt.Sprintf("insert depth snapshot: %v", err)}
		}
		return nil
	})
}

// QueryDepthSnapshot loads one snapshot by exact timestamp.
func (d *DB) QueryDepthSnapshot(info *types.TickerInfo, timestamp uint64) (*types.Depth, error) {
	timer := d.metric.StartQuery()
	defer timer.Stop()

	var depth *types.Depth
	err := d.withConn(func(conn *sql.DB) error {
		tickerID, err := d.getOrCreateTickerID(conn, info)
		if err != nil {
			return err
		}

		var bidsJSON, asksJSON string
		err = conn.QueryRow(
			"SELECT bids, asks FROM depth_snapshots WHERE ticker_id = ? AND timestamp = ?",
			tickerID, int64(timestamp),
		).Scan(&bidsJSON, &asksJSON)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return &Error{Kind: ErrQuery, Message: fmt.Sprintf("query depth snapshot: %v", err)}
		}

		parsed, err := parseDepth(bidsJSON, asksJSON)
		if err != nil {
			return err
		}
		depth = parsed
		return nil
	})
	return depth, err
}

// DepthSnapshot pairs a timestamp with its decoded book.
type DepthSnapshot struct {
	Timestamp uint64
	Depth     types.Depth
}

// QueryDepthSnapshotsRange loads snapshots in [startTime, endTime], ascending.
func (d *DB) QueryDepthSnapshotsRange(info *types.TickerInfo, startTime, endTime uint64) ([]DepthSnapshot, error) {
	timer := d.metric.StartQuery()
	defer timer.Stop()

	var snapshots []DepthSnapshot
	err := d.withConn(func(conn *sql.DB) error {
		tickerID, err := d.getOrCreateTickerID(conn, info)
		if err != nil {
			return err
		}

		rows, err := conn.Query(
			`SELECT timestamp, bids, asks FROM depth_snapshots
			 WHERE ticker_id = ? AND timestamp >= ? AND timestamp <= ?
			 ORDER BY timestamp ASC`,
			tickerID, int64(startTime), int64(endTime),
		)
		if err != nil {
			return &Error{Kind: ErrQuery, Message: fmt.Sprintf("query depth snapshots: %v", err)}
		}
		defer rows.Close()

		for rows.Next() {
			var timestamp int64
			var bidsJSON, asksJSON string
			if err := rows.Scan(&timestamp, &bidsJSON, &asksJSON); err != nil {
				return &Error{Kind: ErrQuery, Message: fmt.Sprintf("scan depth snapshot: %v", err)}
			}
			parsed, err := parseDepth(bidsJSON, asksJSON)
			if err != nil {
				return err
			}
			snapshots = append(snapshots, DepthSnapshot{Timestamp: uint64(timestamp), Depth: *parsed})
		}
		return rows.Err()
	})
	return snapshots, err
}

func parseDepth(bidsJSON, asksJSON string) (*types.Depth, error) {
	bids, err := deserializePriceLevels(bidsJSON)
	if err != nil {
		return nil, &Error{Kind: ErrQuery, Message: fmt.Sprintf("deserialize bids: %v", err)}
	}
	asks, err := deserializePriceLevels(asksJSON)
	if err != nil {
		return nil, &Error{Kind: ErrQuery, Message: fmt.Sprintf("deserialize asks: %v", err)}
	}
	return &types.Depth{Bids: bids, Asks: asks}, nil
}

// DeleteDepthSnapshotsOlderThan removes snapshots before cutoff.
func (d *DB) DeleteDepthSnapshotsOlderThan(cutoff uint64) (int64, error) {
	var deleted int64
	err := d.withConn(func(conn *sql.DB) error {
		res, err := conn.Exec("DELETE FROM depth_snapshots WHERE timestamp < ?", int64(cutoff))
		if err != nil {
			return &Error{Kind: ErrQuery, Message: fmt.Sprintf("delete depth snapshots: %v", err)}
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}
