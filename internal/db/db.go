// Package db is the persistence engine: an embedded single-file SQLite store
// for trades, klines, depth snapshots, footprints and order runs.
//
// A single writable connection sits behind a mutex; every operation runs
// inside withConn so the guard is released on every exit path. Reader tasks
// share the same handle through shared ownership. On top of the CRUD layer
// sit a bounded TTL query cache, lock-free performance metrics, a background
// health monitor and the archive migrator.
package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Config holds connection options applied once on open.
type Config struct {
	// CacheSizeMB bounds the page cache; 0 keeps the driver default.
	CacheSizeMB int
	// TempDirectory is where spill-to-disk operations go; "" keeps default.
	TempDirectory string
	// BusyTimeoutMS waits on a locked database before failing.
	BusyTimeoutMS int
}

// DefaultConfig mirrors the limits recommended for multi-ticker trading
// workloads.
func DefaultConfig() Config {
	return Config{CacheSizeMB: 512, BusyTimeoutMS: 5000}
}

// Stats is a point-in-time database summary for monitoring.
type Stats struct {
	TotalTrades       int64
	TotalKlines       int64
	TotalTickers      int64
	DatabaseSizeBytes int64
	SchemaVersion     int
}

// DB is the central handle for all database operations. Cloneable by sharing:
// all fields are reference types, so every holder observes the same
// connection, cache and metrics.
type DB struct {
	mu     *sync.Mutex
	conn   *sql.DB
	path   string
	cache  *QueryCache
	metric *Metrics
	logger *slog.Logger

	tickerCacheMu *sync.Mutex
	tickerCache   map[string]int64
}

// Open opens or creates the database at path with the default configuration.
func Open(path string, logger *slog.Logger) (*DB, error) {
	return OpenWithConfig(path, DefaultConfig(), logger)
}

// OpenWithConfig opens or creates the database, applies connection settings,
// initializes the schema and applies pending migrations.
func OpenWithConfig(path string, cfg Config, logger *slog.Logger) (*DB, error) {
	if parent := filepath.Dir(path); parent != "." {
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return nil, &Error{Kind: ErrConnection, Message: fmt.Sprintf("create database directory %s: %v", parent, err)}
		}
	}

	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, &Error{Kind: ErrConnection, Message: fmt.Sprintf("open database at %s: %v", path, err)}
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, &Error{Kind: ErrConnection, Message: fmt.Sprintf("ping database at %s: %v", path, err)}
	}
	// The mutex is the single-writer guard; extra pooled connections would
	// bypass it.
	conn.SetMaxOpenConns(1)

	d := &DB{
		mu:            &sync.Mutex{},
		conn:          conn,
		path:          path,
		cache:         NewQueryCache(),
		metric:        NewMetrics(),
		logger:        logger.With("component", "db"),
		tickerCacheMu: &sync.Mutex{},
		tickerCache:   make(map[string]int64),
	}

	if err := d.configure(cfg); err != nil {
		conn.Close()
		return nil, err
	}
	if err := d.initializeSchema(); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := NewMigrationManager(Migrations()).ApplyPending(d); err != nil {
		conn.Close()
		return nil, err
	}

	d.logger.Info("database initialized", "path", path, "schema_version", schemaVersion)
	return d, nil
}

// withConn acquires the guard, runs f against the connection, and releases
// the guard on every exit path.
func (d *DB) withConn(f func(conn *sql.DB) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return f(d.conn)
}

func (d *DB) configure(cfg Config) error {
	return d.withConn(func(conn *sql.DB) error {
		if cfg.CacheSizeMB > 0 {
			// Negative cache_size is KiB in SQLite.
			if _, err := conn.Exec(fmt.Sprintf("PRAGMA cache_size=-%d", cfg.CacheSizeMB*1024)); err != nil {
				return &Error{Kind: ErrConfiguration, Message: fmt.Sprintf("set cache size: %v", err)}
			}
		}
		if cfg.TempDirectory != "" {
			if _, err := conn.Exec(fmt.Sprintf("PRAGMA temp_store_directory='%s'", cfg.TempDirectory)); err != nil {
				return &Error{Kind: ErrConfiguration, Message: fmt.Sprintf("set temp directory: %v", err)}
			}
		}
		if cfg.BusyTimeoutMS > 0 {
			if _, err := conn.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeoutMS)); err != nil {
				return &Error{Kind: ErrConfiguration, Message: fmt.Sprintf("set busy timeout: %v", err)}
			}
		}
		return nil
	})
}

// initializeSchema executes the embedded DDL inside a transaction on first
// run. A database that already has schema_version is left untouched.
func (d *DB) initializeSchema() error {
	return d.withConn(func(conn *sql.DB) error {
		var name string
		err := conn.QueryRow(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'",
		).Scan(&name)
		if err == nil {
			return nil
		}
		if err != sql.ErrNoRows {
			return &Error{Kind: ErrSchema, Message: fmt.Sprintf("check schema: %v", err)}
		}

		d.logger.Info("initializing database schema")
		tx, err := conn.Begin()
		if err != nil {
			return &Error{Kind: ErrSchema, Message: fmt.Sprintf("start schema transaction: %v", err)}
		}
		if _, err := tx.Exec(schemaSQL); err != nil {
			tx.Rollback()
			return &Error{Kind: ErrSchema, Message: fmt.Sprintf("initialize schema: %v", err)}
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_version (version, description) VALUES (?, ?)",
			schemaVersion, "initial schema",
		); err != nil {
			tx.Rollback()
			return &Error{Kind: ErrSchema, Message: fmt.Sprintf("record schema version: %v", err)}
		}
		if err := tx.Commit(); err != nil {
			return &Error{Kind: ErrSchema, Message: fmt.Sprintf("commit schema: %v", err)}
		}
		return nil
	})
}

// SchemaVersion returns MAX(version) from schema_version.
func (d *DB) SchemaVersion() (int, error) {
	var version int
	err := d.withConn(func(conn *sql.DB) error {
		return conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	})
	if err != nil {
		return 0, &Error{Kind: ErrQuery, Message: fmt.Sprintf("read schema version: %v", err)}
	}
	return version, nil
}

// HealthCheck verifies the connection with a trivial query.
func (d *DB) HealthCheck() error {
	err := d.withConn(func(conn *sql.DB) error {
		var one int
		return conn.QueryRow("SELECT 1").Scan(&one)
	})
	if err != nil {
		return &Error{Kind: ErrQuery, Message: fmt.Sprintf("health check failed: %v", err)}
	}
	return nil
}

// Vacuum reclaims unused space and refreshes planner statistics. Call after
// bulk deletions.
func (d *DB) Vacuum() error {
	return d.withConn(func(conn *sql.DB) error {
		d.logger.Info("running VACUUM")
		if _, err := conn.Exec("VACUUM; ANALYZE;"); err != nil {
			return &Error{Kind: ErrQuery, Message: fmt.Sprintf("vacuum database: %v", err)}
		}
		return nil
	})
}

// GetStats gathers table counts, file size and schema version.
func (d *DB) GetStats() (Stats, error) {
	var stats Stats
	err := d.withConn(func(conn *sql.DB) error {
		conn.QueryRow("SELECT COUNT(*) FROM trades").Scan(&stats.TotalTrades)
		conn.QueryRow("SELECT COUNT(*) FROM klines").Scan(&stats.TotalKlines)
		conn.QueryRow("SELECT COUNT(*) FROM tickers").Scan(&stats.TotalTickers)
		conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&stats.SchemaVersion)
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	if info, err := os.Stat(d.path); err == nil {
		stats.DatabaseSizeBytes = info.Size()
	}
	return stats, nil
}

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// Cache returns the shared query cache.
func (d *DB) Cache() *QueryCache { return d.cache }

// InvalidateCache drops all cached entries for a ticker.
func (d *DB) InvalidateCache(tickerID int64) { d.cache.InvalidateTicker(tickerID) }

// Metrics returns the shared performance metrics.
func (d *DB) Metrics() *Metrics { return d.metric }

// Close releases the underlying connection.
func (d *DB) Close() error {
	return d.conn.Close()
}
