package db

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArchiveName(t *testing.T) {
	t.Parallel()

	symbol, date, err := ParseArchiveName("BTCUSDT-aggTrades-2024-01-15.zip")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", symbol)
	assert.Equal(t, "2024-01-15", date)

	for _, bad := range []string{
		"BTCUSDT-trades-2024-01-15.zip",
		"btcusdt-aggTrades-2024-01-15.zip",
		"BTCUSDT-aggTrades-2024-01-15.csv",
		"random.zip",
	} {
		if _, _, err := ParseArchiveName(bad); err == nil {
			t.Errorf("ParseArchiveName(%q) should fail", bad)
		}
	}
}

func TestParseAggTradeRow(t *testing.T) {
	t.Parallel()

	trade, ok := parseAggTradeRow([]string{"12345", "50000.5", "1.25", "100", "105", "1700000000000", "true"})
	require.True(t, ok)
	assert.EqualValues(t, 1_700_000_000_000, trade.Time)
	assert.InDelta(t, 1.25, trade.Qty, 1e-6)
	assert.True(t, trade.IsSell, "buyer-maker means the aggressor sold")

	trade, ok = parseAggTradeRow([]string{"12346", "50000.5", "1.25", "100", "105", "1700000000001", "false"})
	require.True(t, ok)
	assert.False(t, trade.IsSell)

	// Short and invalid rows are skipped.
	if _, ok := parseAggTradeRow([]string{"1", "2", "3"}); ok {
		t.Error("short row must be rejected")
	}
	if _, ok := parseAggTradeRow([]string{"x", "not-a-price", "1", "1", "1", "1", "false"}); ok {
		t.Error("invalid price must be rejected")
	}
}

func writeTestArchive(t *testing.T, dir, name string, rows string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := zip.NewWriter(f)
	csvFile, err := w.Create("trades.csv")
	require.NoError(t, err)
	_, err = csvFile.Write([]byte(rows))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return path
}

func TestMigrateSingleArchive(t *testing.T) {
	d := openTestDB(t)
	dir := t.TempDir()

	rows := "" +
		"1,50000.0,1.0,10,11,1700000000000,true\n" +
		"2,50001.0,2.0,12,13,1700000001000,false\n" +
		"bogus,row\n" +
		"3,50002.0,0.5,14,15,1700000002000,true\n"
	path := writeTestArchive(t, dir, "BTCUSDT-aggTrades-2024-01-15.zip", rows)

	migrator := NewArchiveMigrator(d, DefaultMigrationConfig(), testLogger())
	stats, err := migrator.MigrateSingleArchive(path)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TradesInserted)
	assert.Equal(t, 1, stats.SkippedRows)

	info := testTickerInfo()
	count, err := d.QueryTradesCount(&info, 0, ^uint64(0)>>1)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestMigrateZipArchivesContinuesOnFailure(t *testing.T) {
	d := openTestDB(t)
	dir := t.TempDir()

	writeTestArchive(t, dir, "ETHUSDT-aggTrades-2024-01-15.zip",
		"1,3000.0,1.0,10,11,1700000000000,false\n")

	// A matching name that is not a valid ZIP must be recorded, not fatal.
	bad := filepath.Join(dir, "SOLUSDT-aggTrades-2024-01-16.zip")
	require.NoError(t, os.WriteFile(bad, []byte("not a zip"), 0o644))

	migrator := NewArchiveMigrator(d, DefaultMigrationConfig(), testLogger())
	stats, err := migrator.MigrateZipArchives(dir)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.ArchivesProcessed)
	assert.Equal(t, 1, stats.ArchivesFailed)
	assert.Len(t, stats.Errors, 1)
	assert.Equal(t, 1, stats.TradesInserted)
}

func TestMigrateDryRun(t *testing.T) {
	d := openTestDB(t)
	dir := t.TempDir()
	writeTestArchive(t, dir, "BTCUSDT-aggTrades-2024-01-15.zip",
		"1,50000.0,1.0,10,11,1700000000000,true\n")

	cfg := DefaultMigrationConfig()
	cfg.DryRun = true
	migrator := NewArchiveMigrator(d, cfg, testLogger())

	stats, err := migrator.MigrateZipArchives(dir)
	require.NoError(t, err)
	assert.Zero(t, stats.TradesInserted)

	info := testTickerInfo()
	count, err := d.QueryTradesCount(&info, 0, ^uint64(0)>>1)
	require.NoError(t, err)
	assert.Zero(t, count)
}
