// Package engine routes adapter events into per-pane aggregation state and
// dual-writes them to the persistence layer.
//
// One logical producer exists per (exchange, subscription); the dispatcher
// looks up every pane whose resolved streams match the event's stream and
// fans the payload out by pane content. Persistence failures log and drop;
// they never stall the live pipeline.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketflow/internal/adapter"
	"marketflow/internal/db"
	"marketflow/internal/depth"
	"marketflow/internal/stream"
	"marketflow/pkg/types"
)

// depthRetention is how much run history a heatmap pane keeps once the
// cleanup threshold trips.
const depthRetention = 10 * time.Minute

// Engine owns the pane registry and the ingest fan-out.
type Engine struct {
	store  *db.DB // nil when persistence is disabled
	logger *slog.Logger

	panesMu sync.RWMutex
	panes   map[uuid.UUID]*Pane

	// tickersInfo is read-heavy and rarely written; updates replace a whole
	// exchange's map atomically under the mutex.
	tickersMu   sync.RWMutex
	tickersInfo map[types.Exchange]map[string]types.TickerInfo

	// onUnmatchedStream fires when an event arrives that no pane consumes,
	// so the caller can rebuild subscriptions and drop the dead stream.
	onUnmatchedStream func(stream.StreamKind)

	wg sync.WaitGroup
}

// New builds an engine. store may be nil to run in memory only.
func New(store *db.DB, logger *slog.Logger) *Engine {
	return &Engine{
		store:       store,
		logger:      logger.With("component", "engine"),
		panes:       make(map[uuid.UUID]*Pane),
		tickersInfo: make(map[types.Exchange]map[string]types.TickerInfo),
	}
}

// OnUnmatchedStream registers the subscription-refresh trigger.
func (e *Engine) OnUnmatchedStream(f func(stream.StreamKind)) {
	e.onUnmatchedStream = f
}

// AddPane registers a pane.
func (e *Engine) AddPane(p *Pane) {
	e.panesMu.Lock()
	e.panes[p.ID] = p
	e.panesMu.Unlock()
}

// RemovePane drops a pane, aborting its in-flight fetch.
func (e *Engine) RemovePane(id uuid.UUID) {
	e.panesMu.Lock()
	if p, ok := e.panes[id]; ok {
		p.CancelFetch()
		delete(e.panes, id)
	}
	e.panesMu.Unlock()
}

// Pane returns the registered pane by id.
func (e *Engine) Pane(id uuid.UUID) (*Pane, bool) {
	e.panesMu.RLock()
	defer e.panesMu.RUnlock()
	p, ok := e.panes[id]
	return p, ok
}

// UniqueStreams folds every pane's ready streams into the deduplicated
// subscription index handed to the adapters.
func (e *Engine) UniqueStreams() *stream.UniqueStreams {
	e.panesMu.RLock()
	defer e.panesMu.RUnlock()

	u := stream.NewUniqueStreams()
	for _, p := range e.panes {
		u.Extend(p.Streams.ReadyStreams())
	}
	return u
}

// UpdateTickersInfo atomically replaces one exchange's metadata map and
// retries resolution for panes still waiting on it.
func (e *Engine) UpdateTickersInfo(exchange types.Exchange, infos map[types.Ticker]*types.TickerInfo) {
	byKey := make(map[string]types.TickerInfo, len(infos))
	for ticker, info := range infos {
		if info != nil {
			byKey[ticker.Key()] = *info
		}
	}
	e.tickersMu.Lock()
	e.tickersInfo[exchange] = byKey
	e.tickersMu.Unlock()

	resolver := e.Resolver()
	e.panesMu.Lock()
	for _, p := range e.panes {
		if p.Streams.IsReady() {
			continue
		}
		if err := p.Streams.TryResolve(resolver); err != nil {
			// Still unresolvable; the next refresh retries.
			e.logger.Debug("stream still waiting", "pane", p.ID, "error", err)
		}
	}
	e.panesMu.Unlock()
}

// Resolver returns the ticker metadata lookup used to resolve persisted
// streams.
func (e *Engine) Resolver() stream.Resolver {
	return func(ticker types.Ticker) (types.TickerInfo, bool) {
		e.tickersMu.RLock()
		defer e.tickersMu.RUnlock()
		byKey, ok := e.tickersInfo[ticker.Exchange]
		if !ok {
			return types.TickerInfo{}, false
		}
		info, ok := byKey[ticker.Key()]
		return info, ok
	}
}

// Run consumes adapter events until the channel closes or the context ends.
func (e *Engine) Run(ctx context.Context, events <-chan adapter.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			e.Handle(evt)
		}
	}
}

// Handle dispatches one event.
func (e *Engine) Handle(evt adapter.Event) {
	switch evt.Kind {
	case adapter.Connected:
		e.logger.Info("exchange connected", "exchange", evt.Exchange)
	case adapter.Disconnected:
		e.logger.Warn("exchange disconnected", "exchange", evt.Exchange, "reason", evt.Reason)
	case adapter.DepthReceived:
		e.handleDepth(evt)
	case adapter.KlineReceived:
		e.handleKline(evt)
	}
}

func (e *Engine) handleDepth(evt adapter.Event) {
	matched := 0

	e.panesMu.RLock()
	for _, p := range e.panes {
		if !p.Streams.MatchesStream(evt.Stream) {
			continue
		}
		matched++
		e.routeDepthToPane(p, evt)
	}
	e.panesMu.RUnlock()

	if matched == 0 {
		if e.onUnmatchedStream != nil {
			e.onUnmatchedStream(evt.Stream)
		}
		return
	}

	e.persistDepth(evt)
}

func (e *Engine) routeDepthToPane(p *Pane, evt adapter.Event) {
	switch p.Content {
	case HeatmapPane:
		if p.Depth != nil && evt.Depth != nil {
			p.Depth.InsertLatestDepth(evt.Depth, evt.Time)
			if p.Depth.RunCount() > depth.CleanupThreshold {
				retention := uint64(depthRetention.Milliseconds())
				if evt.Time > retention {
					p.Depth.CleanupOldPriceLevels(evt.Time - retention)
				}
			}
		}
		if p.HeatmapSeries != nil {
			p.HeatmapSeries.InsertTrades(evt.Trades)
		}
	case FootprintPane:
		if p.Timeseries != nil {
			p.Timeseries.InsertTrades(evt.Trades)
		}
		if p.TickAggr != nil {
			p.TickAggr.InsertTrades(evt.Trades)
		}
	case TimeAndSalesPane:
		p.pushTape(evt.Trades)
	}

	if n := len(evt.Trades); n > 0 {
		p.LastPrice = evt.Trades[n-1].Price
	}
}

// persistDepth dual-writes the snapshot and its trades. Write failures are
// logged and dropped so the live pipeline keeps flowing.
func (e *Engine) persistDepth(evt adapter.Event) {
	if e.store == nil {
		return
	}
	info := evt.Stream.TickerInfo

	if evt.Depth != nil {
		if err := e.store.InsertDepthSnapshot(&info, evt.Time, evt.Depth); err != nil {
			e.logger.Error("persist depth snapshot failed", "ticker", info.Ticker.Symbol(), "error", err)
		}
	}
	if len(evt.Trades) > 0 {
		if _, err := e.store.InsertTrades(&info, evt.Trades); err != nil {
			e.logger.Error("persist trades failed", "ticker", info.Ticker.Symbol(), "error", err)
		}
	}
}

func (e *Engine) handleKline(evt adapter.Event) {
	matched := 0

	e.panesMu.RLock()
	for _, p := range e.panes {
		if !p.Streams.MatchesStream(evt.Stream) {
			continue
		}
		matched++
		if p.Timeseries != nil {
			p.Timeseries.InsertKlines([]types.Kline{evt.Kline})
		}
		p.LastPrice = evt.Kline.Close
	}
	e.panesMu.RUnlock()

	if matched == 0 {
		if e.onUnmatchedStream != nil {
			e.onUnmatchedStream(evt.Stream)
		}
		return
	}

	if e.store != nil {
		info := evt.Stream.TickerInfo
		if _, tf, ok := evt.Stream.AsKlineStream(); ok {
			if _, err := e.store.InsertKlines(&info, tf, []types.Kline{evt.Kline}); err != nil {
				e.logger.Error("persist kline failed", "ticker", info.Ticker.Symbol(), "error", err)
			}
		}
	}
}

// MergeHistoricalKlines lands fetched candles: persisted first so later
// readers see them, then merged into the pane's series under the registry's
// write lock so the merge never overlaps the dispatcher's fan-out.
func (e *Engine) MergeHistoricalKlines(paneID uuid.UUID, s stream.StreamKind, klines []types.Kline) {
	if e.store != nil {
		if info, tf, ok := s.AsKlineStream(); ok {
			if _, err := e.store.InsertKlines(&info, tf, klines); err != nil {
				e.logger.Error("persist historical klines failed", "ticker", info.Ticker.Symbol(), "error", err)
			}
		}
	}

	e.panesMu.Lock()
	defer e.panesMu.Unlock()
	p, ok := e.panes[paneID]
	if !ok || p.Timeseries == nil {
		return
	}
	p.Timeseries.InsertKlines(klines)
}

// StartKlineFetch launches a cancellable history fetch for the pane. A prior
// in-flight fetch for the pane is aborted and its result discarded.
func (e *Engine) StartKlineFetch(
	ctx context.Context,
	p *Pane,
	source adapter.Adapter,
	s stream.StreamKind,
	start, end uint64,
) {
	info, tf, ok := s.AsKlineStream()
	if !ok {
		return
	}

	p.CancelFetch()
	fetchCtx, cancel := context.WithCancel(ctx)
	p.fetchCancel = cancel
	paneID := p.ID

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		klines, err := source.FetchKlines(fetchCtx, info, tf, start, end)
		if err != nil {
			if fetchCtx.Err() == nil {
				e.logger.Error("kline fetch failed", "ticker", info.Ticker.Symbol(), "error", err)
			}
			return
		}
		if fetchCtx.Err() != nil {
			return
		}
		e.MergeHistoricalKlines(paneID, s, klines)
	}()
}

// Wait blocks until background fetches finish; used on shutdown.
func (e *Engine) Wait() {
	e.wg.Wait()
}
