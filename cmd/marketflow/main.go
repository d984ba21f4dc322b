// marketflow ingests live market data from crypto venues, aggregates it into
// heatmap and footprint series, and persists the stream to an embedded store
// so consumers can reload history and continue live without gap.
//
// Startup order: env + config, logger, database (unless disabled), ticker
// metadata fetch, stream resolution from the persisted layout, adapters,
// dispatcher. SIGINT drains gracefully.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"marketflow/internal/adapter"
	"marketflow/internal/config"
	"marketflow/internal/db"
	"marketflow/internal/depth"
	"marketflow/internal/engine"
	"marketflow/internal/layout"
	"marketflow/internal/series"
	"marketflow/internal/stream"
	"marketflow/pkg/types"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "path to config file")
	statePath := flag.String("state", "data/layout.json", "path to persisted layout state")
	archiveDir := flag.String("import-archives", "", "import aggTrades archives from this directory, then exit")
	flag.Parse()

	// .env is optional; real env always wins.
	_ = godotenv.Load()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid config:", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	if cfg.Currency.SizeInQuote {
		types.SetSizeInQuoteCurrency(types.Quote)
	} else {
		types.SetSizeInQuoteCurrency(types.Base)
	}

	if err := run(cfg, logger, *statePath, *archiveDir); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func run(cfg *config.Config, logger *slog.Logger, statePath, archiveDir string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store *db.DB
	if !cfg.Database.Disabled {
		dbCfg := db.Config{
			CacheSizeMB:   cfg.Database.CacheSizeMB,
			TempDirectory: cfg.Database.TempDirectory,
			BusyTimeoutMS: int(cfg.Database.BusyTimeout.Milliseconds()),
		}
		var err error
		store, err = db.OpenWithConfig(cfg.Database.Path, dbCfg, logger)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer store.Close()
	} else {
		logger.Info("persistence disabled, running in memory only")
	}

	if archiveDir != "" {
		if store == nil {
			return fmt.Errorf("archive import requires persistence")
		}
		migrator := db.NewArchiveMigrator(store, db.MigrationConfig{
			BatchSize:   cfg.Archive.BatchSize,
			Exchange:    types.BinanceLinear,
			MinTicksize: 0.01,
			MinQty:      0.001,
		}, logger)
		stats, err := migrator.MigrateZipArchives(archiveDir)
		if err != nil {
			return fmt.Errorf("archive import: %w", err)
		}
		logger.Info("archive import finished",
			"processed", stats.ArchivesProcessed,
			"failed", stats.ArchivesFailed,
			"trades", stats.TradesInserted,
			"skipped_rows", stats.SkippedRows,
		)
		return nil
	}

	state, err := layout.Load(statePath)
	if err != nil {
		return fmt.Errorf("load layout state: %w", err)
	}

	eng := engine.New(store, logger)
	eng.OnUnmatchedStream(func(s stream.StreamKind) {
		logger.Debug("no consumer for stream, refresh pending", "stream", s.String())
	})

	// Venue adapters. Only Binance venues are wired in this binary; the
	// Adapter interface is where the remaining venues plug in.
	var adapters []adapter.Adapter
	for _, exchange := range []types.Exchange{types.BinanceLinear, types.BinanceSpot} {
		a, err := adapter.NewBinance(exchange, logger)
		if err != nil {
			return err
		}
		adapters = append(adapters, a)
	}

	// Resolve metadata so persisted and configured streams can go live.
	infoCtx, cancelInfo := context.WithTimeout(ctx, 30*time.Second)
	defer cancelInfo()
	for _, a := range adapters {
		infos, err := a.FetchTickerInfo(infoCtx)
		if err != nil {
			logger.Error("ticker info fetch failed", "exchange", a.Exchange(), "error", err)
			continue
		}
		eng.UpdateTickersInfo(a.Exchange(), infos)
	}

	if err := buildPanes(eng, cfg, &state, logger); err != nil {
		return err
	}

	events := make(chan adapter.Event, 256)
	combined := eng.UniqueStreams().Combined()
	for _, a := range adapters {
		specs, ok := combined[a.Exchange()]
		if !ok {
			continue
		}
		a := a
		go func() {
			if err := a.Run(ctx, specs, events); err != nil && ctx.Err() == nil {
				logger.Error("adapter stopped", "exchange", a.Exchange(), "error", err)
			}
		}()
	}

	if store != nil {
		monitor := db.NewHealthMonitor(store, logger)
		go monitor.Run(ctx)
		go runRetention(ctx, store, cfg.Database.RetentionDays, logger)
	}

	logger.Info("ingest running", "layouts", len(state.Layouts))
	eng.Run(ctx, events)
	eng.Wait()

	if err := layout.Save(statePath, &state); err != nil {
		logger.Error("failed to save layout state", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// buildPanes restores persisted panes and seeds configured streams.
func buildPanes(eng *engine.Engine, cfg *config.Config, state *layout.State, logger *slog.Logger) error {
	tf, err := types.ParseTimeframe(cfg.Streams.Timeframe)
	if err != nil {
		return fmt.Errorf("streams.timeframe: %w", err)
	}
	aggrTF, err := types.ParseTimeframe(cfg.Heatmap.AggrTime)
	if err != nil {
		return fmt.Errorf("heatmap.aggr_time: %w", err)
	}
	resolver := eng.Resolver()

	addTicker := func(serialized string) error {
		ticker, err := types.ParseTicker(serialized)
		if err != nil {
			return err
		}
		info, ok := resolver(ticker)
		if !ok {
			logger.Warn("ticker metadata unavailable, stream stays waiting", "ticker", serialized)
			persisted := []stream.PersistStreamKind{
				stream.Persist(stream.KlineStream(types.TickerInfo{Ticker: ticker}, tf)),
			}
			pane := engine.NewPane(engine.CandlestickPane)
			pane.Streams = stream.Waiting(persisted)
			eng.AddPane(pane)
			return nil
		}

		step := info.MinTicksize.Step()

		candles := engine.NewPane(engine.CandlestickPane)
		candles.Streams = stream.Ready([]stream.StreamKind{stream.KlineStream(info, tf)})
		candles.Timeseries = series.NewKlineTimeSeries(tf, step, nil, nil)
		eng.AddPane(candles)

		depthStream := stream.DepthStream(info, stream.DepthAggr{}, types.PushFrequency{})

		fp := engine.NewPane(engine.FootprintPane)
		fp.Streams = stream.Ready([]stream.StreamKind{depthStream})
		fp.Timeseries = series.NewKlineTimeSeries(tf, step, nil, nil)
		eng.AddPane(fp)

		heatmap := engine.NewPane(engine.HeatmapPane)
		heatmap.Streams = stream.Ready([]stream.StreamKind{depthStream})
		hd, err := depth.NewHistoricalDepth(info.MinQty.AsF32(), step, types.TimeBasis(aggrTF))
		if err != nil {
			return err
		}
		heatmap.Depth = hd
		heatmap.HeatmapSeries = series.NewTimeSeries(aggrTF, step, nil, nil, depth.NewHeatmapDataPoint)
		eng.AddPane(heatmap)
		return nil
	}

	for _, serialized := range cfg.Streams.Tickers {
		if err := addTicker(serialized); err != nil {
			return fmt.Errorf("stream %q: %w", serialized, err)
		}
	}

	// Persisted panes come back in Waiting form and resolve now or on the
	// next metadata refresh.
	if active, ok := state.Active(); ok {
		for _, ps := range active.Panes {
			pane := engine.NewPane(engine.CandlestickPane)
			pane.ID = ps.ID
			pane.Streams = stream.Waiting(ps.Streams)
			if err := pane.Streams.TryResolve(resolver); err != nil {
				logger.Debug("persisted pane awaiting resolution", "pane", ps.ID, "error", err)
			}
			eng.AddPane(pane)
		}
	}
	return nil
}

// runRetention deletes raw data past the retention window once an hour.
func runRetention(ctx context.Context, store *db.DB, retentionDays int, logger *slog.Logger) {
	if retentionDays <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := uint64(time.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour).UnixMilli())
			if n, err := store.DeleteTradesOlderThan(cutoff); err != nil {
				logger.Error("trade retention failed", "error", err)
			} else if n > 0 {
				logger.Info("trade retention", "deleted", n)
			}
			if _, err := store.DeleteDepthSnapshotsOlderThan(cutoff); err != nil {
				logger.Error("depth retention failed", "error", err)
			}
			if _, err := store.DeleteFootprintsOlderThan(cutoff); err != nil {
				logger.Error("footprint retention failed", "error", err)
			}
			if _, err := store.DeleteOrderRunsOlderThan(cutoff); err != nil {
				logger.Error("order-run retention failed", "error", err)
			}
		}
	}
}
