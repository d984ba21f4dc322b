package db

import (
	"archive/zip"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"marketflow/pkg/types"
)

// archiveNamePattern matches Binance daily aggTrades archives:
// <SYMBOL>-aggTrades-YYYY-MM-DD.zip
var archiveNamePattern = regexp.MustCompile(`^([A-Z0-9_]+)-aggTrades-(\d{4})-(\d{2})-(\d{2})\.zip$`)

// MigrationConfig tunes the archive migrator.
type MigrationConfig struct {
	// BatchSize is how many trades go into one insert batch.
	BatchSize int
	// DryRun walks and parses without touching the database.
	DryRun bool
	// Exchange assigns archives to a venue; archives carry only the symbol.
	Exchange types.Exchange
	// MinTicksize/MinQty seed ticker metadata for symbols first seen here.
	MinTicksize float32
	MinQty      float32
}

// DefaultMigrationConfig imports to Binance linear with a 1000-trade batch.
func DefaultMigrationConfig() MigrationConfig {
	return MigrationConfig{
		BatchSize:   1000,
		Exchange:    types.BinanceLinear,
		MinTicksize: 0.01,
		MinQty:      0.001,
	}
}

// MigrationStats accumulates the outcome of an archive walk. Errors on one
// archive are recorded and do not abort the walk.
type MigrationStats struct {
	ArchivesProcessed int
	ArchivesFailed    int
	TradesInserted    int
	SkippedRows       int
	Errors            []string
}

// ArchiveMigrator imports historical Binance aggTrades ZIP archives into the
// trades table.
type ArchiveMigrator struct {
	db     *DB
	config MigrationConfig
	logger *slog.Logger
}

// NewArchiveMigrator builds a migrator over the shared database handle.
func NewArchiveMigrator(d *DB, config MigrationConfig, logger *slog.Logger) *ArchiveMigrator {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultMigrationConfig().BatchSize
	}
	return &ArchiveMigrator{db: d, config: config, logger: logger.With("component", "archive-migrator")}
}

// MigrateZipArchives walks root recursively, importing every matching
// archive. Failures are collected per archive; the walk continues.
func (m *ArchiveMigrator) MigrateZipArchives(root string) (MigrationStats, error) {
	var stats MigrationStats

	zipFiles, err := m.findZipFiles(root)
	if err != nil {
		return stats, err
	}
	m.logger.Info("found archives to process", "count", len(zipFiles))

	for i, zipPath := range zipFiles {
		m.logger.Debug("processing archive", "index", i+1, "total", len(zipFiles), "path", zipPath)

		archStats, err := m.MigrateSingleArchive(zipPath)
		stats.TradesInserted += archStats.TradesInserted
		stats.SkippedRows += archStats.SkippedRows
		if err != nil {
			stats.ArchivesFailed++
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", zipPath, err))
			m.logger.Error("archive migration failed", "path", zipPath, "error", err)
			continue
		}
		stats.ArchivesProcessed++
	}
	return stats, nil
}

// MigrateSingleArchive streams the CSV inside one archive into the trades
// table, one transaction per batch.
func (m *ArchiveMigrator) MigrateSingleArchive(zipPath string) (MigrationStats, error) {
	var stats MigrationStats

	symbol, _, err := ParseArchiveName(filepath.Base(zipPath))
	if err != nil {
		return stats, err
	}
	if m.config.DryRun {
		m.logger.Info("dry run, skipping archive", "path", zipPath)
		return stats, nil
	}

	info := types.NewTickerInfo(
		types.NewTicker(symbol, m.config.Exchange),
		m.config.MinTicksize, m.config.MinQty, nil,
	)

	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return stats, fmt.Errorf("open archive: %w", err)
	}
	defer reader.Close()

	for _, file := range reader.File {
		if !strings.HasSuffix(file.Name, ".csv") {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return stats, fmt.Errorf("open %s: %w", file.Name, err)
		}
		inserted, skipped, err := m.streamCSVInsert(rc, &info)
		rc.Close()
		stats.TradesInserted += inserted
		stats.SkippedRows += skipped
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// ParseArchiveName extracts (symbol, date) from an archive file name.
func ParseArchiveName(name string) (string, string, error) {
	groups := archiveNamePattern.FindStringSubmatch(name)
	if groups == nil {
		return "", "", fmt.Errorf("unrecognized archive name: %s", name)
	}
	date := fmt.Sprintf("%s-%s-%s", groups[2], groups[3], groups[4])
	return groups[1], date, nil
}

// streamCSVInsert reads aggTrades rows and inserts them in batches, each
// batch inside one transaction. Columns, in order:
// agg_id, price, quantity, first_trade_id, last_trade_id, timestamp_ms,
// is_buyer_maker. Invalid or short rows are skipped.
func (m *ArchiveMigrator) streamCSVInsert(r io.Reader, info *types.TickerInfo) (int, int, error) {
	csvReader := csv.NewReader(r)
	csvReader.FieldsPerRecord = -1

	inserted, skipped := 0, 0
	batch := make([]types.Trade, 0, m.config.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := m.insertTradeBatch(info, batch)
		inserted += n
		batch = batch[:0]
		return err
	}

	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			skipped++
			continue
		}
		trade, ok := parseAggTradeRow(record)
		if !ok {
			skipped++
			continue
		}
		batch = append(batch, trade)
		if len(batch) >= m.config.BatchSize {
			if err := flush(); err != nil {
				return inserted, skipped, err
			}
		}
	}
	if err := flush(); err != nil {
		return inserted, skipped, err
	}
	return inserted, skipped, nil
}

func parseAggTradeRow(record []string) (types.Trade, bool) {
	if len(record) < 7 {
		return types.Trade{}, false
	}
	price, err := strconv.ParseFloat(record[1], 32)
	if err != nil {
		return types.Trade{}, false
	}
	qty, err := strconv.ParseFloat(record[2], 32)
	if err != nil {
		return types.Trade{}, false
	}
	timestamp, err := strconv.ParseInt(record[5], 10, 64)
	if err != nil || timestamp < 0 {
		return types.Trade{}, false
	}
	isBuyerMaker := strings.EqualFold(strings.TrimSpace(record[6]), "true")

	return types.Trade{
		Time:  uint64(timestamp),
		Price: types.PriceFromF32(float32(price)),
		Qty:   float32(qty),
		// A buyer-maker print means the aggressor was a seller.
		IsSell: isBuyerMaker,
	}, true
}

// insertTradeBatch inserts one batch atomically; either the whole batch
// commits or none of it does.
func (m *ArchiveMigrator) insertTradeBatch(info *types.TickerInfo, batch []types.Trade) (int, error) {
	inserted := 0
	err := m.db.withConn(func(conn *sql.DB) error {
		tickerID, err := m.db.getOrCreateTickerID(conn, info)
		if err != nil {
			return err
		}

		tx, err := conn.Begin()
		if err != nil {
			return &Error{Kind: ErrTransaction, Message: fmt.Sprintf("start batch transaction: %v", err)}
		}
		stmt, err := tx.Prepare(
			`INSERT INTO trades (trade_id, ticker_id, timestamp, price, quantity, is_buyer_maker)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (trade_id) DO NOTHING`,
		)
		if err != nil {
			tx.Rollback()
			return &Error{Kind: ErrInsert, Message: fmt.Sprintf("prepare batch insert: %v", err)}
		}
		defer stmt.Close()

		for i := range batch {
			t := &batch[i]
			tradeID := generateTradeID(tickerID, t.Time, t.Price, t.Qty)
			res, err := stmt.Exec(tradeID, tickerID, int64(t.Time), priceToDecimal(t.Price), float64(t.Qty), t.IsSell)
			if err != nil {
				tx.Rollback()
				return &Error{Kind: ErrInsert, Message: fmt.Sprintf("insert archived trade: %v", err)}
			}
			if rows, err := res.RowsAffected(); err == nil {
				inserted += int(rows)
			}
		}
		if err := tx.Commit(); err != nil {
			return &Error{Kind: ErrTransaction, Message: fmt.Sprintf("commit batch: %v", err)}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (m *ArchiveMigrator) findZipFiles(root string) ([]string, error) {
	var zipFiles []string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		if archiveNamePattern.MatchString(entry.Name()) {
			zipFiles = append(zipFiles, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return zipFiles, nil
}
