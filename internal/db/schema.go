package db

// schemaVersion is incremented with each schema change.
const schemaVersion = 1

// schemaSQL is the initial DDL, executed atomically on first open.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
	version     INTEGER PRIMARY KEY,
	description TEXT NOT NULL DEFAULT '',
	applied_at  TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS exchanges (
	exchange_id INTEGER PRIMARY KEY,
	name        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tickers (
	ticker_id     INTEGER PRIMARY KEY,
	exchange_id   INTEGER NOT NULL REFERENCES exchanges(exchange_id),
	symbol        TEXT NOT NULL,
	min_ticksize  REAL NOT NULL,
	min_qty       REAL NOT NULL,
	contract_size REAL,
	market_type   TEXT NOT NULL,
	UNIQUE (exchange_id, symbol)
);

CREATE TABLE IF NOT EXISTS trades (
	trade_id       INTEGER PRIMARY KEY,
	ticker_id      INTEGER NOT NULL REFERENCES tickers(ticker_id),
	timestamp      INTEGER NOT NULL,
	price          REAL NOT NULL,
	quantity       REAL NOT NULL,
	is_buyer_maker INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_ticker_time ON trades(ticker_id, timestamp);

CREATE TABLE IF NOT EXISTS klines (
	kline_id    INTEGER PRIMARY KEY,
	ticker_id   INTEGER NOT NULL REFERENCES tickers(ticker_id),
	timeframe   TEXT NOT NULL,
	candle_time INTEGER NOT NULL,
	open_price  REAL NOT NULL,
	high_price  REAL NOT NULL,
	low_price   REAL NOT NULL,
	close_price REAL NOT NULL,
	buy_volume  REAL NOT NULL,
	sell_volume REAL NOT NULL,
	num_trades  INTEGER NOT NULL DEFAULT 0,
	UNIQUE (ticker_id, timeframe, candle_time)
);

CREATE TABLE IF NOT EXISTS depth_snapshots (
	snapshot_id INTEGER PRIMARY KEY,
	ticker_id   INTEGER NOT NULL REFERENCES tickers(ticker_id),
	timestamp   INTEGER NOT NULL,
	bids        TEXT NOT NULL,
	asks        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_depth_ticker_time ON depth_snapshots(ticker_id, timestamp);

CREATE TABLE IF NOT EXISTS open_interest (
	oi_id     INTEGER PRIMARY KEY,
	ticker_id INTEGER NOT NULL REFERENCES tickers(ticker_id),
	timeframe TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	value     REAL NOT NULL,
	UNIQUE (ticker_id, timeframe, timestamp)
);

CREATE TABLE IF NOT EXISTS footprint_data (
	footprint_id INTEGER PRIMARY KEY,
	ticker_id    INTEGER NOT NULL REFERENCES tickers(ticker_id),
	candle_time  INTEGER NOT NULL,
	timeframe    TEXT NOT NULL,
	price_level  REAL NOT NULL,
	buy_volume   REAL NOT NULL,
	sell_volume  REAL NOT NULL,
	delta        REAL NOT NULL,
	num_trades   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_footprint_candle ON footprint_data(ticker_id, timeframe, candle_time);

CREATE TABLE IF NOT EXISTS order_runs (
	run_id       INTEGER PRIMARY KEY,
	ticker_id    INTEGER NOT NULL REFERENCES tickers(ticker_id),
	start_time   INTEGER NOT NULL,
	end_time     INTEGER NOT NULL,
	price_level  REAL NOT NULL,
	total_volume REAL NOT NULL,
	num_orders   INTEGER NOT NULL DEFAULT 1,
	is_buy       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_runs_ticker_time ON order_runs(ticker_id, start_time);
`
